package internal

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/quill/internal/api"
	"github.com/starford/quill/internal/imagesub"
	"github.com/starford/quill/internal/importer"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/noteservice"
	"github.com/starford/quill/internal/preview"
	"github.com/starford/quill/internal/render"
	"github.com/starford/quill/internal/rewriter"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Vault    VaultConfig       `yaml:"vault"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	Render   RenderConfig      `yaml:"render"`
	Relay    RelayConfig       `yaml:"relay"`
	Accounts []models.Account  `yaml:"accounts"`
	// DefaultAuthor is used when neither frontmatter nor the account names one.
	DefaultAuthor string         `yaml:"default_author"`
	Auth          AuthConfig     `yaml:"auth"`
	Preview       PreviewConfig  `yaml:"preview"`
	Importer      ImporterConfig `yaml:"importer"`
	Polish        PolishConfig   `yaml:"polish"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []interface{ Validate() error }{
		&c.App, &c.Vault, &c.SQLite, &c.Render, &c.Relay, &c.Auth, &c.Preview, &c.Importer, &c.Polish,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return validateAccounts(c.Accounts)
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig holds the path to the Markdown vault directory.
//
// AttachmentFolder follows the editor setting: empty means the vault root,
// "./" or "./sub" is relative to the linking note, anything else is a
// fixed vault folder.
type VaultConfig struct {
	Path             string `yaml:"path"`
	AttachmentFolder string `yaml:"attachment_folder"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.AttachmentFolder, validation.By(noParentSegments)),
	)
}

// Attachments parses AttachmentFolder.
func (c *VaultConfig) Attachments() models.AttachmentFolderConfig {
	return models.ParseAttachmentFolder(c.AttachmentFolder)
}

// UploadDir is the vault folder new images are written to.
func (c *VaultConfig) UploadDir() string {
	if a := c.Attachments(); a.Mode == models.FolderFixed {
		return a.Value
	}
	return "attachments"
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// RenderConfig controls rewriting and HTML output.
type RenderConfig struct {
	RemoveTags      bool   `yaml:"remove_tags"`
	InlineImages    bool   `yaml:"inline_images"`
	HighlightStyle  string `yaml:"highlight_style"`
	LineNumbers     bool   `yaml:"line_numbers"`
	HardWraps       bool   `yaml:"hard_wraps"`
	MaxContentBytes int    `yaml:"max_content_bytes"`
}

// Validate validates the render configuration.
func (c *RenderConfig) Validate() error {
	if c.MaxContentBytes == 0 {
		c.MaxContentBytes = noteservice.DefaultMaxContentBytes
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxContentBytes, validation.Min(1)),
	)
}

// ServiceConfig maps the render settings onto the note service.
func (c *Config) ServiceConfig() noteservice.Config {
	return noteservice.Config{
		AttachmentFolder: c.Vault.Attachments(),
		Rewrite: rewriter.Options{
			RemoveTags:   c.Render.RemoveTags,
			InlineImages: c.Render.InlineImages,
		},
		Render: render.Options{
			HighlightStyle: c.Render.HighlightStyle,
			LineNumbers:    c.Render.LineNumbers,
			HardWraps:      c.Render.HardWraps,
		},
		MaxContentBytes: c.Render.MaxContentBytes,
	}
}

// RelayConfig describes how the platform API is reached.
//
// BaseURL is used by the publishing client; it defaults to Upstream. The
// /cgi-bin relay forwards to Upstream.
type RelayConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Upstream  string        `yaml:"upstream"`
	CDNMarker string        `yaml:"cdn_marker"`
	Timeout   time.Duration `yaml:"timeout"`
	Enabled   bool          `yaml:"enabled"`
}

// Validate validates the relay configuration.
func (c *RelayConfig) Validate() error {
	if c.Upstream == "" {
		c.Upstream = api.DefaultUpstream
	}
	if c.BaseURL == "" {
		c.BaseURL = c.Upstream
	}
	if c.CDNMarker == "" {
		c.CDNMarker = imagesub.DefaultCDNMarker
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, validation.By(absoluteURL)),
		validation.Field(&c.Upstream, validation.Required, validation.By(absoluteURL)),
		validation.Field(&c.Timeout, validation.Min(time.Second)),
	)
}

func validateAccounts(accounts []models.Account) error {
	seen := make(map[string]bool, len(accounts))
	for i := range accounts {
		a := &accounts[i]
		if err := validation.ValidateStruct(a,
			validation.Field(&a.AppID, validation.Required),
			validation.Field(&a.AppSecret, validation.Required),
		); err != nil {
			return fmt.Errorf("accounts[%d]: %w", i, err)
		}
		key := strings.ToLower(a.DisplayName())
		if seen[key] {
			return fmt.Errorf("accounts[%d]: duplicate account %q", i, a.DisplayName())
		}
		seen[key] = true
	}
	return nil
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
//
// RenderAPIKey guards POST /api/render independently of Mode.
type AuthConfig struct {
	Mode         string `yaml:"mode"`
	Token        string `yaml:"token"`
	RenderAPIKey string `yaml:"render_api_key"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// StorageToken is the bearer token the /storage endpoints require; empty
// accepts any bearer.
func (c *AuthConfig) StorageToken() string {
	if c.AuthEnabled() {
		return c.Token
	}
	return ""
}

// PreviewConfig tunes the live preview.
type PreviewConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the preview configuration.
func (c *PreviewConfig) Validate() error {
	if c.Debounce == 0 {
		c.Debounce = preview.DefaultDebounce
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(10*time.Millisecond), validation.Max(10*time.Second)),
	)
}

// ImporterConfig configures URL import.
type ImporterConfig struct {
	Mode      string        `yaml:"mode"`
	ReaderURL string        `yaml:"reader_url"`
	ReaderKey string        `yaml:"reader_key"`
	Engine    string        `yaml:"engine"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Validate validates the importer configuration.
func (c *ImporterConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = importer.ModeAuto
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.In(importer.ModeAuto, importer.ModeReader, importer.ModeLocal)),
		validation.Field(&c.ReaderURL, validation.By(absoluteURL)),
	)
}

// Options maps the section onto importer options.
func (c *ImporterConfig) Options() importer.Options {
	return importer.Options{
		Mode:      c.Mode,
		ReaderURL: c.ReaderURL,
		ReaderKey: c.ReaderKey,
		Engine:    c.Engine,
		Timeout:   c.Timeout,
	}
}

// PolishConfig configures the AI polish endpoint. Polish is disabled when
// Endpoint is empty.
type PolishConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Prompt      string        `yaml:"prompt"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Enabled reports whether a polish endpoint is configured.
func (c *PolishConfig) Enabled() bool {
	return c.Endpoint != ""
}

// Validate validates the polish configuration.
func (c *PolishConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Endpoint, validation.By(absoluteURL)),
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.Temperature, validation.Min(0.0), validation.Max(2.0)),
		validation.Field(&c.MaxTokens, validation.Min(0)),
	)
}

func absoluteURL(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}

func noParentSegments(value interface{}) error {
	s, _ := value.(string)
	for _, seg := range strings.Split(s, "/") {
		if seg == ".." {
			return fmt.Errorf("must not contain '..'")
		}
	}
	return nil
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
		SQLite: SQLiteConfig{
			Path: "./quill.db",
		},
		Render: RenderConfig{
			HighlightStyle:  "github",
			MaxContentBytes: noteservice.DefaultMaxContentBytes,
		},
		Relay: RelayConfig{
			Upstream:  api.DefaultUpstream,
			CDNMarker: imagesub.DefaultCDNMarker,
			Timeout:   60 * time.Second,
			Enabled:   true,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Preview: PreviewConfig{
			Debounce: preview.DefaultDebounce,
		},
		Importer: ImporterConfig{
			Mode: importer.ModeAuto,
		},
		Polish: PolishConfig{
			Temperature: 0.3,
		},
	}
}
