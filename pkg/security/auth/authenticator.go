package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// SecretResolver resolves the JWT signing secret by reference.
// The secret store manager satisfies this.
type SecretResolver interface {
	GetSecret(ctx context.Context, ref string) (string, error)
}

// KeyEntry binds one API key to its principal.
type KeyEntry struct {
	Key       string
	Principal Principal
}

// Config configures the authenticator.
type Config struct {
	// Keys is the API key table.
	Keys []KeyEntry

	// JWTSecretRef enables bearer-token authentication when set.
	JWTSecretRef string

	// JWTIssuer, when set, must match the token's iss claim.
	JWTIssuer string

	Secrets SecretResolver
}

// Authenticator resolves credentials to principals.
type Authenticator struct {
	// byDigest maps SHA-256 key digests to principals. Hashing first
	// gives constant-length comparison inputs and keeps raw keys out of
	// the map.
	byDigest map[[32]byte]Principal

	jwtSecretRef string
	jwtIssuer    string
	secrets      SecretResolver
}

// NewAuthenticator builds an authenticator from configuration.
func NewAuthenticator(cfg Config) *Authenticator {
	a := &Authenticator{
		byDigest:     make(map[[32]byte]Principal, len(cfg.Keys)),
		jwtSecretRef: cfg.JWTSecretRef,
		jwtIssuer:    cfg.JWTIssuer,
		secrets:      cfg.Secrets,
	}
	for _, entry := range cfg.Keys {
		a.byDigest[sha256.Sum256([]byte(entry.Key))] = entry.Principal
	}
	return a
}

// Authenticate resolves the Authorization header value (or API key
// header value) to a principal. Accepts "Bearer <jwt>", "Bearer <key>"
// and bare API keys.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (*Principal, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrUnauthenticated
	}

	token := strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))

	// JWTs are structurally distinct from API keys.
	if strings.Count(token, ".") == 2 && a.jwtSecretRef != "" {
		principal, err := a.verifyJWT(ctx, token)
		if err == nil {
			return principal, nil
		}
		// Fall through: some API key formats contain dots.
	}

	if principal, ok := a.lookupKey(token); ok {
		return principal, nil
	}

	return nil, ErrUnauthenticated
}

func (a *Authenticator) lookupKey(key string) (*Principal, bool) {
	digest := sha256.Sum256([]byte(key))
	for known, principal := range a.byDigest {
		if subtle.ConstantTimeCompare(known[:], digest[:]) == 1 {
			p := principal
			return &p, true
		}
	}
	return nil, false
}

func (a *Authenticator) verifyJWT(ctx context.Context, tokenString string) (*Principal, error) {
	secret, err := a.secrets.GetSecret(ctx, a.jwtSecretRef)
	if err != nil {
		return nil, fmt.Errorf("resolving jwt secret: %w", err)
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil || !token.Valid {
		return nil, ErrUnauthenticated
	}

	if a.jwtIssuer != "" {
		issuer, _ := claims.GetIssuer()
		if issuer != a.jwtIssuer {
			return nil, ErrUnauthenticated
		}
	}

	principal := &Principal{
		Tenant:   claimString(claims, "tenant"),
		Team:     claimString(claims, "team"),
		WalletID: claimString(claims, "wallet_id"),
		Kind:     ActorKind(claimString(claims, "kind")),
	}
	if sub, err := claims.GetSubject(); err == nil {
		principal.Actor = sub
	}
	if principal.Kind == "" {
		principal.Kind = ActorUser
	}
	if principal.Tenant == "" || principal.Actor == "" {
		return nil, ErrUnauthenticated
	}

	return principal, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
