package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/quill/internal/models"
	pkgconfig "github.com/starford/quill/pkg/config"
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

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
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
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
	if cfg.Relay.BaseURL != cfg.Relay.Upstream {
		t.Errorf("base url = %q, want upstream %q", cfg.Relay.BaseURL, cfg.Relay.Upstream)
	}
	if cfg.Vault.UploadDir() != "attachments" {
		t.Errorf("upload dir = %q", cfg.Vault.UploadDir())
	}
	if cfg.Polish.Enabled() {
		t.Error("polish should be disabled without endpoint")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("QUILL_TEST_SECRET", "from-env")
	file := filepath.Join(t.TempDir(), "config.yaml")
	data := `
app:
  log_level: debug
  http:
    port: 9090
vault:
  path: /srv/vault
  attachment_folder: assets/
render:
  remove_tags: true
  max_content_bytes: 2048
relay:
  base_url: http://localhost:9090
  timeout: 15s
preview:
  debounce: 500ms
default_author: Team
accounts:
  - name: main
    app_id: wx1
    app_secret: ${QUILL_TEST_SECRET}
    enabled: true
`
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(file, cfg); err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.App.HTTP.Address() != ":9090" || cfg.App.LogLevel.String() != "DEBUG" {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Vault.UploadDir() != "assets" {
		t.Errorf("upload dir = %q", cfg.Vault.UploadDir())
	}
	if cfg.Relay.Timeout != 15*time.Second || cfg.Preview.Debounce != 500*time.Millisecond {
		t.Errorf("durations = %v %v", cfg.Relay.Timeout, cfg.Preview.Debounce)
	}
	want := []models.Account{{Name: "main", AppID: "wx1", AppSecret: "from-env", Enabled: true}}
	if diff := cmp.Diff(want, cfg.Accounts); diff != "" {
		t.Errorf("accounts (-want +got):\n%s", diff)
	}

	sc := cfg.ServiceConfig()
	if !sc.Rewrite.RemoveTags || sc.MaxContentBytes != 2048 || sc.AttachmentFolder.Mode != models.FolderFixed {
		t.Errorf("service config = %+v", sc)
	}
}

func TestConfigValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.App.HTTP.Port = 70000 }, "port"},
		{"no vault", func(c *Config) { c.Vault.Path = "" }, "path"},
		{"parent attachment folder", func(c *Config) { c.Vault.AttachmentFolder = "../up" }, "attachmentfolder"},
		{"relative relay", func(c *Config) { c.Relay.BaseURL = "/cgi" }, "absolute"},
		{"account without secret", func(c *Config) {
			c.Accounts = []models.Account{{Name: "a", AppID: "wx"}}
		}, "accounts[0]"},
		{"duplicate accounts", func(c *Config) {
			c.Accounts = []models.Account{{Name: "a", AppID: "wx1", AppSecret: "s"}, {Name: "A", AppID: "wx2", AppSecret: "s"}}
		}, "duplicate"},
		{"bad import mode", func(c *Config) { c.Importer.Mode = "magic" }, "mode"},
		{"polish without model", func(c *Config) { c.Polish.Endpoint = "https://llm.example.com/v1/chat/completions" }, "model"},
		{"debounce too long", func(c *Config) { c.Preview.Debounce = time.Minute }, "debounce"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(strings.ToLower(err.Error()), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestStorageToken(t *testing.T) {
	a := AuthConfig{Mode: AuthModeDisabled, Token: "x"}
	if a.StorageToken() != "" {
		t.Error("disabled auth should not lock storage")
	}
	a.Mode = AuthModeToken
	if a.StorageToken() != "x" {
		t.Error("token auth should lock storage")
	}
}
