// Package config handles loading and managing mailroom configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the mailroom configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Admin     AdminConfig     `toml:"admin"`
	Gmail     GmailConfig     `toml:"gmail"`
	Data      DataConfig      `toml:"data"`
	Client    ClientConfig    `toml:"client"`
	Analytics AnalyticsConfig `toml:"analytics"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	BindAddr        string        `toml:"bind_addr"`
	APIPort         int           `toml:"api_port"`
	APIKey          string        `toml:"api_key"` // optional machine key, accepted alongside admin tokens
	CORSOrigins     []string      `toml:"cors_origins"`
	CORSCredentials bool          `toml:"cors_credentials"`
	TokenTTL        time.Duration `toml:"token_ttl"`
	RateLimitRPS    float64       `toml:"rate_limit_rps"`
}

// AdminConfig holds the single admin login and the token signing key.
type AdminConfig struct {
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	SecretKey string `toml:"secret_key"`
}

// GmailConfig holds Gmail access settings.
type GmailConfig struct {
	ServiceAccountFile string  `toml:"service_account_file"`
	RateLimitQPS       float64 `toml:"rate_limit_qps"`
	PageSize           int     `toml:"page_size"`
	MaxPageSize        int     `toml:"max_page_size"`
	Concurrency        int     `toml:"concurrency"`
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir string `toml:"data_dir"`
}

// ClientConfig configures the terminal client's connection to a server.
type ClientConfig struct {
	URL           string        `toml:"url"`
	AllowInsecure bool          `toml:"allow_insecure"`
	Timeout       time.Duration `toml:"timeout"`
	PageSize      int           `toml:"page_size"`
}

// AnalyticsConfig points at the Notion database backing the dashboard.
type AnalyticsConfig struct {
	NotionSecret string          `toml:"notion_secret"`
	DatabaseID   string          `toml:"database_id"`
	APIVersion   string          `toml:"api_version"`
	Schedule     string          `toml:"schedule"` // cron expression for cache refresh
	Schema       AnalyticsSchema `toml:"schema"`
}

// AnalyticsSchema maps dashboard fields to Notion property names.
type AnalyticsSchema struct {
	Date         string `toml:"date"`
	Campaign     string `toml:"campaign"`
	Sent         string `toml:"sent"`
	Delivered    string `toml:"delivered"`
	Opened       string `toml:"opened"`
	Clicked      string `toml:"clicked"`
	Bounced      string `toml:"bounced"`
	Unsubscribed string `toml:"unsubscribed"`
	Spam         string `toml:"spam"`
	Device       string `toml:"device"`
}

// Built-in admin credentials. Deployments are expected to override them.
const (
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "admin"
	DefaultSecretKey     = "change-me"
)

// DefaultHome returns the default mailroom home directory.
// Respects MAILROOM_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("MAILROOM_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailroom"
	}
	return filepath.Join(home, ".mailroom")
}

// Default returns the configuration used when no file is present.
func Default(homeDir string) *Config {
	return &Config{
		HomeDir: homeDir,
		Server: ServerConfig{
			BindAddr:     "127.0.0.1",
			APIPort:      5001,
			TokenTTL:     12 * time.Hour,
			RateLimitRPS: 10,
		},
		Admin: AdminConfig{
			Username:  DefaultAdminUsername,
			Password:  DefaultAdminPassword,
			SecretKey: DefaultSecretKey,
		},
		Gmail: GmailConfig{
			ServiceAccountFile: filepath.Join(homeDir, "workspace_service_account.json"),
			RateLimitQPS:       5,
			PageSize:           25,
			MaxPageSize:        100,
			Concurrency:        10,
		},
		Data: DataConfig{
			DataDir: homeDir,
		},
		Client: ClientConfig{
			URL:      "http://127.0.0.1:5001",
			Timeout:  30 * time.Second,
			PageSize: 25,
		},
		Analytics: AnalyticsConfig{
			APIVersion: "2022-06-28",
			Schedule:   "*/30 * * * *",
			Schema: AnalyticsSchema{
				Date:         "Send Date",
				Campaign:     "Email Subject",
				Sent:         "Recipient List",
				Delivered:    "Recipient List",
				Opened:       "Open Rate",
				Clicked:      "Click Rate",
				Bounced:      "Bounce Rate",
				Unsubscribed: "Unsubscribe Rate",
				Spam:         "Conversion Rate",
				Device:       "Email Type",
			},
		},
	}
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.mailroom/config.toml).
// A .env file in the working directory or the home directory is loaded
// first; environment variables then override file values.
func Load(path string) (*Config, error) {
	homeDir := DefaultHome()
	if err := loadDotEnv(".env", filepath.Join(homeDir, ".env")); err != nil {
		return nil, err
	}

	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := Default(homeDir)

	// Config file is optional - use defaults if not present
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat config: %w", err)
	}

	cfg.applyEnv()

	// Expand ~ in paths
	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)
	cfg.Gmail.ServiceAccountFile = expandPath(cfg.Gmail.ServiceAccountFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads each existing file. Variables already in the
// environment win, and earlier files win over later ones.
func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// envOverrides lists the environment variables that replace file values.
var envOverrides = []struct {
	name  string
	field func(*Config) *string
}{
	{"ADMIN_USERNAME", func(c *Config) *string { return &c.Admin.Username }},
	{"ADMIN_PASSWORD", func(c *Config) *string { return &c.Admin.Password }},
	{"SECRET_KEY", func(c *Config) *string { return &c.Admin.SecretKey }},
	{"MAILROOM_API_KEY", func(c *Config) *string { return &c.Server.APIKey }},
	{"MAILROOM_URL", func(c *Config) *string { return &c.Client.URL }},
	{"GMAIL_SERVICE_ACCOUNT_FILE", func(c *Config) *string { return &c.Gmail.ServiceAccountFile }},
	{"NOTION_API_SECRET", func(c *Config) *string { return &c.Analytics.NotionSecret }},
	{"NOTION_DATABASE_ID", func(c *Config) *string { return &c.Analytics.DatabaseID }},
	{"NOTION_API_VERSION", func(c *Config) *string { return &c.Analytics.APIVersion }},
	{"NOTION_PROP_DATE", func(c *Config) *string { return &c.Analytics.Schema.Date }},
	{"NOTION_PROP_CAMPAIGN", func(c *Config) *string { return &c.Analytics.Schema.Campaign }},
	{"NOTION_PROP_SENT", func(c *Config) *string { return &c.Analytics.Schema.Sent }},
	{"NOTION_PROP_DELIVERED", func(c *Config) *string { return &c.Analytics.Schema.Delivered }},
	{"NOTION_PROP_OPENED", func(c *Config) *string { return &c.Analytics.Schema.Opened }},
	{"NOTION_PROP_CLICKED", func(c *Config) *string { return &c.Analytics.Schema.Clicked }},
	{"NOTION_PROP_BOUNCED", func(c *Config) *string { return &c.Analytics.Schema.Bounced }},
	{"NOTION_PROP_UNSUBSCRIBED", func(c *Config) *string { return &c.Analytics.Schema.Unsubscribed }},
	{"NOTION_PROP_SPAM", func(c *Config) *string { return &c.Analytics.Schema.Spam }},
	{"NOTION_PROP_DEVICE", func(c *Config) *string { return &c.Analytics.Schema.Device }},
}

func (c *Config) applyEnv() {
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.name); ok && strings.TrimSpace(v) != "" {
			*o.field(c) = strings.TrimSpace(v)
		}
	}
}

// Validate rejects settings the server or client cannot run with.
func (c *Config) Validate() error {
	if c.Server.APIPort <= 0 || c.Server.APIPort > 65535 {
		return fmt.Errorf("server.api_port %d out of range", c.Server.APIPort)
	}
	if c.Gmail.PageSize <= 0 || c.Gmail.MaxPageSize <= 0 {
		return fmt.Errorf("gmail page sizes must be positive")
	}
	if c.Gmail.PageSize > c.Gmail.MaxPageSize {
		return fmt.Errorf("gmail.page_size %d exceeds max_page_size %d", c.Gmail.PageSize, c.Gmail.MaxPageSize)
	}
	if c.Gmail.RateLimitQPS <= 0 {
		return fmt.Errorf("gmail.rate_limit_qps must be positive")
	}
	if c.Server.TokenTTL <= 0 {
		return fmt.Errorf("server.token_ttl must be positive")
	}
	return nil
}

// ListenAddr returns host:port for the API server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddr, c.Server.APIPort)
}

// DatabasePath returns the path to the SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.DataDir, "mailroom.db")
}

// ClientDatabasePath returns the path to the terminal client's local
// preferences database.
func (c *Config) ClientDatabasePath() string {
	return filepath.Join(c.HomeDir, "client.db")
}

// InsecureAdmin reports whether the built-in admin password or signing
// key is still in use.
func (c *Config) InsecureAdmin() bool {
	return c.Admin.Password == DefaultAdminPassword || c.Admin.SecretKey == DefaultSecretKey
}

// Enabled reports whether a Notion database is configured.
func (a AnalyticsConfig) Enabled() bool {
	return a.NotionSecret != "" && a.DatabaseID != ""
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
