package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  listen_address: "127.0.0.1:9090"
auth:
  api_keys:
    - key: sk-test
      tenant: t1
      actor: u1
      wallet_id: w1
      kind: user
tenants:
  - id: t1
    plan_tier: enterprise
    residency_regions: [eu-west]
    cache:
      enabled: true
providers:
  - name: openai-main
    kind: openai
    base_url: https://api.openai.com/v1
    api_key_ref: OPENAI_API_KEY
    models:
      - name: gpt-4o
        input_price_per_1m: 2.5
        output_price_per_1m: 10
        context_window: 128000
        capabilities: [streaming, tools]
wallet:
  wallets:
    - id: w1
      tenant: t1
      kind: user
      hard_limit: 10000
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aegis.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.ListenAddress != "127.0.0.1:9090" {
		t.Errorf("listen = %s", cfg.Server.ListenAddress)
	}
	if cfg.Server.MaxRequestTimeout != 5*time.Minute {
		t.Errorf("max request timeout default = %s", cfg.Server.MaxRequestTimeout)
	}
	if cfg.Cache.SimilarityThreshold != 0.97 {
		t.Errorf("similarity default = %f", cfg.Cache.SimilarityThreshold)
	}
	if cfg.Providers[0].Timeout == 0 || cfg.Providers[0].MaxRetries == 0 {
		t.Error("provider defaults not applied")
	}

	// Tenant cache settings inherit unset values from the global block.
	if cfg.Tenants[0].Cache.SimilarityThreshold != 0.97 {
		t.Errorf("tenant similarity = %f", cfg.Tenants[0].Cache.SimilarityThreshold)
	}
}

func TestValidateRejectsLiteralProviderKeys(t *testing.T) {
	bad := strings.Replace(validYAML, "api_key_ref: OPENAI_API_KEY", "api_key_ref: \"\"", 1)
	_, err := Load(writeConfig(t, bad))
	if err == nil {
		t.Fatal("a provider without a key reference must not validate")
	}
}

func TestValidateRejectsUnknownProviderKind(t *testing.T) {
	bad := strings.Replace(validYAML, "kind: openai", "kind: telegraph", 1)
	_, err := Load(writeConfig(t, bad))
	if err == nil {
		t.Fatal("unknown provider kind must not validate")
	}
	if !strings.Contains(err.Error(), "telegraph") {
		t.Errorf("error should name the bad kind: %v", err)
	}
}

func TestValidateRejectsUnknownWalletParent(t *testing.T) {
	bad := validYAML + `
      parent: nonexistent
`
	_, err := Load(writeConfig(t, bad))
	if err == nil {
		t.Fatal("unknown wallet parent must not validate")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AEGIS_SERVER_LISTEN_ADDRESS", "0.0.0.0:7777")

	cfg, err := LoadWithEnvOverrides(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ListenAddress != "0.0.0.0:7777" {
		t.Errorf("env override not applied: %s", cfg.Server.ListenAddress)
	}
}

func TestValidationCollectsAllErrors(t *testing.T) {
	bad := `
providers:
  - name: ""
    kind: nope
    base_url: "::"
wallet:
  backend: carrier-pigeon
`
	_, err := Load(writeConfig(t, bad))
	if err == nil {
		t.Fatal("expected validation failure")
	}
	msg := err.Error()
	if !strings.Contains(msg, "kind") || !strings.Contains(msg, "backend") {
		t.Errorf("all errors should be reported together: %v", msg)
	}
}
