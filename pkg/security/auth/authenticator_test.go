package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSecrets map[string]string

func (s staticSecrets) GetSecret(ctx context.Context, ref string) (string, error) {
	return s[ref], nil
}

func TestAPIKeyAuthentication(t *testing.T) {
	a := NewAuthenticator(Config{
		Keys: []KeyEntry{{
			Key:       "sk-aegis-alpha",
			Principal: Principal{Tenant: "t1", Actor: "u1", WalletID: "w1", Kind: ActorUser},
		}},
	})
	ctx := context.Background()

	// Bare key and Bearer-wrapped key both resolve.
	for _, cred := range []string{"sk-aegis-alpha", "Bearer sk-aegis-alpha"} {
		p, err := a.Authenticate(ctx, cred)
		require.NoError(t, err, cred)
		assert.Equal(t, "t1", p.Tenant)
		assert.Equal(t, "u1", p.Actor)
	}

	_, err := a.Authenticate(ctx, "sk-aegis-wrong")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = a.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTAuthentication(t *testing.T) {
	secrets := staticSecrets{"jwt-secret": "super-secret-value"}
	a := NewAuthenticator(Config{
		JWTSecretRef: "jwt-secret",
		JWTIssuer:    "aegis-control",
		Secrets:      secrets,
	})
	ctx := context.Background()

	valid := signToken(t, "super-secret-value", jwt.MapClaims{
		"iss":       "aegis-control",
		"sub":       "svc-batch",
		"tenant":    "t1",
		"wallet_id": "w-batch",
		"kind":      "service_account",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	p, err := a.Authenticate(ctx, "Bearer "+valid)
	require.NoError(t, err)
	assert.Equal(t, "t1", p.Tenant)
	assert.Equal(t, "svc-batch", p.Actor)
	assert.Equal(t, ActorServiceAccount, p.Kind)

	// Wrong signing key is rejected.
	forged := signToken(t, "other-secret", jwt.MapClaims{
		"iss": "aegis-control", "sub": "x", "tenant": "t1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = a.Authenticate(ctx, "Bearer "+forged)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	// Wrong issuer is rejected.
	wrongIss := signToken(t, "super-secret-value", jwt.MapClaims{
		"iss": "someone-else", "sub": "x", "tenant": "t1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = a.Authenticate(ctx, "Bearer "+wrongIss)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	// Expired tokens are rejected.
	expired := signToken(t, "super-secret-value", jwt.MapClaims{
		"iss": "aegis-control", "sub": "x", "tenant": "t1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	_, err = a.Authenticate(ctx, "Bearer "+expired)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestJWTRequiresTenantAndSubject(t *testing.T) {
	secrets := staticSecrets{"jwt-secret": "super-secret-value"}
	a := NewAuthenticator(Config{JWTSecretRef: "jwt-secret", Secrets: secrets})

	missing := signToken(t, "super-secret-value", jwt.MapClaims{
		"sub": "x",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err := a.Authenticate(context.Background(), "Bearer "+missing)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
