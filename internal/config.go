package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/refsync/internal/remote"
	"github.com/starford/refsync/internal/tagmerge"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Vault  VaultConfig       `yaml:"vault"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Remote RemoteConfig      `yaml:"remote"`
	Sync   SyncConfig        `yaml:"sync"`
	Render RenderConfig      `yaml:"render"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Remote.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level    `yaml:"log_level"`
	LogFile  LogFileConfig `yaml:"log_file"`
	HTTP     HTTPConfig    `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := c.LogFile.Validate(); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// LogFileConfig routes logs to a rotating file when Path is set.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Validate validates the log file configuration.
func (c *LogFileConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxSizeMB, validation.Min(0)),
		validation.Field(&c.MaxBackups, validation.Min(0)),
		validation.Field(&c.MaxAgeDays, validation.Min(0)),
	)
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

// VaultConfig describes where documents and attachments are written.
type VaultConfig struct {
	Path           string `yaml:"path"`
	Folder         string `yaml:"folder"`
	AttachmentsDir string `yaml:"attachments_dir"`
	WatchPattern   string `yaml:"watch_pattern"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds the sync state database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// RemoteConfig identifies the remote library. LibraryID, APIKey and SyncTag
// are checked when a cycle starts, not at load time, so the server can come
// up unconfigured.
type RemoteConfig struct {
	BaseURL     string        `yaml:"base_url"`
	LibraryType string        `yaml:"library_type"`
	LibraryID   string        `yaml:"library_id"`
	APIKey      string        `yaml:"api_key"`
	SyncTag     string        `yaml:"sync_tag"`
	PageSize    int           `yaml:"page_size"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

// Validate validates the remote configuration.
func (c *RemoteConfig) Validate() error {
	if c.LibraryType == "" {
		c.LibraryType = remote.LibraryUser
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.LibraryType, validation.In(remote.LibraryUser, remote.LibraryGroup)),
		validation.Field(&c.PageSize, validation.Min(1), validation.Max(100)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxRetries, validation.Min(0), validation.Max(10)),
	)
}

// SyncConfig controls when and how cycles run.
type SyncConfig struct {
	// Interval between scheduled cycles; zero disables the scheduler.
	Interval        time.Duration `yaml:"interval"`
	RunOnStart      bool          `yaml:"run_on_start"`
	FirstSyncPolicy string        `yaml:"first_sync_policy"`
	WatchLocalEdits bool          `yaml:"watch_local_edits"`
	WatchDebounce   time.Duration `yaml:"watch_debounce"`
	// AssetSourceDir holds attachment files as <dir>/<attachmentKey>/<filename>.
	AssetSourceDir string `yaml:"asset_source_dir"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.Min(time.Duration(0))),
		validation.Field(&c.WatchDebounce, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	if _, err := tagmerge.ParsePolicy(c.FirstSyncPolicy); err != nil {
		return err
	}
	return nil
}

// RenderConfig selects the document template.
type RenderConfig struct {
	TemplatePath string `yaml:"template_path"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
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

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			LogFile: LogFileConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path:           "./vault",
			Folder:         "references",
			AttachmentsDir: "attachments",
			WatchPattern:   "**/*.md",
		},
		SQLite: SQLiteConfig{
			Path: "./refsync.db",
		},
		Remote: RemoteConfig{
			BaseURL:     "https://api.zotero.org",
			LibraryType: remote.LibraryUser,
			SyncTag:     "to-sync",
			PageSize:    100,
			Timeout:     30 * time.Second,
			MaxRetries:  3,
		},
		Sync: SyncConfig{
			Interval:        15 * time.Minute,
			FirstSyncPolicy: string(tagmerge.PolicyAdditive),
			WatchLocalEdits: true,
			WatchDebounce:   2 * time.Second,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
