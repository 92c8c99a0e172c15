// Package config provides configuration loading and validation for the
// reconciler service and CLI.
//
// Values are layered: built-in defaults, then an optional JSON, YAML or TOML
// file, then environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/jonathan/dian-reconciler/internal/portal"
)

// Default values applied before any file or environment override.
const (
	DefaultDatabaseDriver = "postgres"
	DefaultSessionDir     = "sessions"
	DefaultTolerance      = "0.10"
	DefaultPort           = 8080
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultJWTExpiryHours = 24
	DefaultAppEnv         = "development"
)

// Duration is a time.Duration that reads "30s" style strings from config files.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DatabaseConfig selects the ledger backend.
type DatabaseConfig struct {
	Driver string `json:"driver" yaml:"driver" toml:"driver"` // postgres or sqlite
	URL    string `json:"url" yaml:"url" toml:"url"`
}

// PortalConfig holds the DIAN portal endpoints and timeouts.
type PortalConfig struct {
	AuthURL        string   `json:"auth_url" yaml:"auth_url" toml:"auth_url"`
	DownloadURL    string   `json:"download_url" yaml:"download_url" toml:"download_url"`
	ConnectTimeout Duration `json:"connect_timeout" yaml:"connect_timeout" toml:"connect_timeout"`
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
	AuthTimeout    Duration `json:"auth_timeout" yaml:"auth_timeout" toml:"auth_timeout"`
}

// MatchConfig holds the amount comparison settings.
type MatchConfig struct {
	Tolerance string `json:"tolerance" yaml:"tolerance" toml:"tolerance"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port               int      `json:"port" yaml:"port" toml:"port"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`
}

// LogConfig selects the log level and output format (json or console).
type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

// AppConfig describes the running environment.
type AppConfig struct {
	Env   string `json:"env" yaml:"env" toml:"env"`
	Debug bool   `json:"debug" yaml:"debug" toml:"debug"`
}

// Config is the full reconciler configuration.
type Config struct {
	Database   DatabaseConfig `json:"database" yaml:"database" toml:"database"`
	Portal     PortalConfig   `json:"portal" yaml:"portal" toml:"portal"`
	SessionDir string         `json:"session_dir" yaml:"session_dir" toml:"session_dir"`
	Match      MatchConfig    `json:"match" yaml:"match" toml:"match"`
	Server     ServerConfig   `json:"server" yaml:"server" toml:"server"`
	JWT        JWTConfig      `json:"jwt" yaml:"jwt" toml:"jwt"`
	Log        LogConfig      `json:"log" yaml:"log" toml:"log"`
	App        AppConfig      `json:"app" yaml:"app" toml:"app"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: DefaultDatabaseDriver},
		Portal: PortalConfig{
			AuthURL:        portal.DefaultAuthURL,
			DownloadURL:    portal.DefaultDownloadURL,
			ConnectTimeout: Duration{portal.DefaultConnectTimeout},
			RequestTimeout: Duration{portal.DefaultRequestTimeout},
			AuthTimeout:    Duration{portal.DefaultAuthTimeout},
		},
		SessionDir: DefaultSessionDir,
		Match:      MatchConfig{Tolerance: DefaultTolerance},
		Server:     ServerConfig{Port: DefaultPort},
		JWT:        JWTConfig{ExpirationHours: DefaultJWTExpiryHours},
		Log:        LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
		App:        AppConfig{Env: DefaultAppEnv},
	}
}

// Load builds the configuration from defaults, the optional file at path and
// the environment. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config YAML: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("failed to parse config TOML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q", ext)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Database.Driver, "DATABASE_DRIVER")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Portal.AuthURL, "DIAN_AUTH_URL")
	setString(&c.Portal.DownloadURL, "DIAN_DOWNLOAD_URL")
	setString(&c.SessionDir, "SESSION_DIR")
	setString(&c.Match.Tolerance, "MATCH_TOLERANCE")
	setString(&c.JWT.Secret, "JWT_SECRET")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.App.Env, "APP_ENV")

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.CORSAllowedOrigins = splitList(v)
	}

	for name, dst := range map[string]*Duration{
		"PORTAL_CONNECT_TIMEOUT": &c.Portal.ConnectTimeout,
		"PORTAL_REQUEST_TIMEOUT": &c.Portal.RequestTimeout,
		"PORTAL_AUTH_TIMEOUT":    &c.Portal.AuthTimeout,
	} {
		if v := os.Getenv(name); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("invalid %s: %w", name, err)
			}
		}
	}

	for name, dst := range map[string]*int{
		"PORT":                 &c.Server.Port,
		"JWT_EXPIRATION_HOURS": &c.JWT.ExpirationHours,
	} {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", name, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv("APP_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid APP_DEBUG: %w", err)
		}
		c.App.Debug = b
	}
	return nil
}

func setString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks that the configuration has usable values.
// DATABASE_URL is not required here since only commands that touch the
// ledger need it; see RequireDatabase.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config error: database driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Portal.AuthURL == "" || c.Portal.DownloadURL == "" {
		return fmt.Errorf("config error: portal auth and download URLs are required")
	}
	if c.Portal.ConnectTimeout.Duration <= 0 || c.Portal.RequestTimeout.Duration <= 0 || c.Portal.AuthTimeout.Duration <= 0 {
		return fmt.Errorf("config error: portal timeouts must be positive")
	}
	if c.SessionDir == "" {
		return fmt.Errorf("config error: session directory is required")
	}
	if _, err := c.Tolerance(); err != nil {
		return err
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config error: port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config error: log format must be json or console, got %q", c.Log.Format)
	}
	if c.JWT.Enabled() {
		if err := c.JWT.normalize(); err != nil {
			return fmt.Errorf("config error: %w", err)
		}
	}
	return nil
}

// RequireDatabase reports an error when no ledger URL is configured.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return fmt.Errorf("config error: DATABASE_URL is required")
	}
	return nil
}

// Tolerance parses the configured match tolerance.
func (c *Config) Tolerance() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(c.Match.Tolerance))
	if err != nil {
		return decimal.Zero, fmt.Errorf("config error: invalid match tolerance %q: %w", c.Match.Tolerance, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("config error: match tolerance must be positive, got %s", d)
	}
	return d, nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Env, "production")
}

// PortalOptions converts the portal section into client options.
func (c *Config) PortalOptions() *portal.Options {
	opts := portal.DefaultOptions()
	opts.AuthURL = c.Portal.AuthURL
	opts.DownloadURL = c.Portal.DownloadURL
	opts.ConnectTimeout = c.Portal.ConnectTimeout.Duration
	opts.RequestTimeout = c.Portal.RequestTimeout.Duration
	opts.AuthTimeout = c.Portal.AuthTimeout.Duration
	return opts
}
