package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/refsync/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestRemoteConfig_Validation(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Remote.LibraryType = "team"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown library type should fail")
	}

	cfg = NewDefaultConfig()
	cfg.Remote.PageSize = 500
	if err := cfg.Validate(); err == nil {
		t.Error("page size above 100 should fail")
	}

	cfg = NewDefaultConfig()
	cfg.Remote.LibraryType = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty library type should default: %v", err)
	}
	if cfg.Remote.LibraryType != "user" {
		t.Errorf("library type = %q", cfg.Remote.LibraryType)
	}
}

func TestSyncConfig_Policy(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sync.FirstSyncPolicy = "remote-wins"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("remote-wins should pass: %v", err)
	}
	cfg.Sync.FirstSyncPolicy = "coin-flip"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown policy should fail")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestLoadYAMLWithEnv(t *testing.T) {
	t.Setenv("REFSYNC_TEST_API_KEY", "k-123")
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
app:
  log_level: debug
  http:
    port: 9090
vault:
  path: /tmp/vault
  folder: papers
remote:
  library_id: "4242"
  api_key: ${REFSYNC_TEST_API_KEY}
  sync_tag: reading
  timeout: 10s
sync:
  interval: 5m
  first_sync_policy: intersection
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Remote.APIKey != "k-123" {
		t.Errorf("api key = %q", cfg.Remote.APIKey)
	}
	if cfg.Remote.Timeout != 10*time.Second || cfg.Sync.Interval != 5*time.Minute {
		t.Errorf("durations = %v, %v", cfg.Remote.Timeout, cfg.Sync.Interval)
	}
	if cfg.Vault.Folder != "papers" || cfg.App.HTTP.Port != 9090 {
		t.Errorf("vault/http = %q, %d", cfg.Vault.Folder, cfg.App.HTTP.Port)
	}
	if cfg.Remote.PageSize != 100 {
		t.Errorf("defaults should survive partial yaml, page size = %d", cfg.Remote.PageSize)
	}
}
