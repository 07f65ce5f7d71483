package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported values for email.provider
const (
	ProviderGraph  = "graph"
	ProviderGmail  = "gmail"
	ProviderSMTP   = "smtp"
	ProviderResend = "resend"
	ProviderSES    = "ses"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Log          LogConfig          `mapstructure:"log"`
	Dispatch     DispatchConfig     `mapstructure:"dispatch"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Email        EmailConfig        `mapstructure:"email"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	Cookie       CookieConfig       `mapstructure:"cookie"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// MaxUploadBytes caps the recipient spreadsheet accepted by the API
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
	TLS            struct {
		Enabled  bool   `mapstructure:"enabled"`
		CertFile string `mapstructure:"cert_file"`
		KeyFile  string `mapstructure:"key_file"`
	} `mapstructure:"tls"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	// Enabled turns on run history. The CLI works without a database.
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
	// HistoryRetention is how long finished runs are kept. Zero keeps them forever.
	HistoryRetention time.Duration `mapstructure:"history_retention"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL returns the PostgreSQL connection URL used by migrations
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DispatchConfig holds batch pacing configuration
type DispatchConfig struct {
	BatchSize   int           `mapstructure:"batch_size"`
	Delay       time.Duration `mapstructure:"delay"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	// RunRetention is how long run snapshots stay readable in Redis
	RunRetention time.Duration `mapstructure:"run_retention"`
}

// AuthConfig holds sign-in configuration
type AuthConfig struct {
	// Flow is one of "auth_code", "device_code", "app_password", "static_token"
	Flow         string `mapstructure:"flow"`
	// Provider is the identity provider: "microsoft" or "google"
	Provider     string `mapstructure:"provider"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Tenant       string `mapstructure:"tenant"`
	RedirectURL  string `mapstructure:"redirect_url"`
	// Username and Password are used by the app_password flow
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// AccessToken is used by the static_token flow
	AccessToken string `mapstructure:"access_token"`
	// SessionTTL bounds server sessions when the token has no expiry
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// EmailConfig holds email sending configuration
type EmailConfig struct {
	// Provider is the transport to use: "graph", "gmail", "smtp", "resend" or "ses"
	Provider string `mapstructure:"provider"`
	// From overrides the sending account. For graph it selects a shared mailbox.
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
	// BodyFile is the HTML draft used by providers without a mailbox
	BodyFile string            `mapstructure:"body_file"`
	Graph    GraphEmailConfig  `mapstructure:"graph"`
	Gmail    GmailEmailConfig  `mapstructure:"gmail"`
	SMTP     SMTPEmailConfig   `mapstructure:"smtp"`
	Resend   ResendEmailConfig `mapstructure:"resend"`
	SES      SESEmailConfig    `mapstructure:"ses"`
}

// GraphEmailConfig holds Microsoft Graph configuration
type GraphEmailConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	SaveToSentItems bool   `mapstructure:"save_to_sent_items"`
}

// GmailEmailConfig holds Gmail API configuration
type GmailEmailConfig struct {
	// CredentialsJSON is the service account credentials JSON content
	CredentialsJSON string `mapstructure:"credentials_json"`
	// ClientID for OAuth2 token-based auth (alternative to service account)
	ClientID string `mapstructure:"client_id"`
	// ClientSecret for OAuth2 token-based auth
	ClientSecret string `mapstructure:"client_secret"`
	// RefreshToken for OAuth2 token-based auth
	RefreshToken string `mapstructure:"refresh_token"`
	// SenderAddress is the "From" email address
	SenderAddress string `mapstructure:"sender_address"`
}

// SMTPEmailConfig holds SMTP submission configuration
type SMTPEmailConfig struct {
	Host    string        `mapstructure:"host"`
	Port    int           `mapstructure:"port"`
	TLS     string        `mapstructure:"tls"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ResendEmailConfig holds Resend configuration
type ResendEmailConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// SESEmailConfig holds Amazon SES configuration
type SESEmailConfig struct {
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	DefaultLimit  int    `mapstructure:"default_limit"`
	DefaultWindow string `mapstructure:"default_window"`
	// RunLimit caps run creation per client within DefaultWindow
	RunLimit int `mapstructure:"run_limit"`
}

// CookieConfig holds cookie configuration
type CookieConfig struct {
	Domain string `mapstructure:"domain"`
	// Secure sets the Secure flag on cookies (should be true in production with HTTPS)
	Secure bool `mapstructure:"secure"`
	// SameSite controls the SameSite attribute: "lax", "strict", or "none"
	SameSite string `mapstructure:"same_site"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set config file name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/draftsend")

	return load(v)
}

// LoadFile reads configuration from an explicit file plus environment variables
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	// Bind environment variables
	v.SetEnvPrefix("DRAFTSEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the dispatcher cannot run with
func (c *Config) Validate() error {
	if c.Dispatch.BatchSize < 1 {
		return fmt.Errorf("invalid config: dispatch.batch_size must be at least 1, got %d", c.Dispatch.BatchSize)
	}
	if c.Dispatch.Delay < 0 {
		return fmt.Errorf("invalid config: dispatch.delay must not be negative, got %s", c.Dispatch.Delay)
	}
	if c.Dispatch.SendTimeout <= 0 {
		return fmt.Errorf("invalid config: dispatch.send_timeout must be positive, got %s", c.Dispatch.SendTimeout)
	}
	switch c.Email.Provider {
	case ProviderGraph, ProviderGmail, ProviderSMTP, ProviderResend, ProviderSES:
	default:
		return fmt.Errorf("invalid config: unknown email.provider %q", c.Email.Provider)
	}
	switch c.Auth.Flow {
	case "auth_code", "device_code", "app_password", "static_token":
	default:
		return fmt.Errorf("invalid config: unknown auth.flow %q", c.Auth.Flow)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_bytes", 10<<20)
	v.SetDefault("server.tls.enabled", false)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "draftsend")
	v.SetDefault("database.user", "draftsend")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.history_retention", "720h")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Dispatch defaults
	v.SetDefault("dispatch.batch_size", 50)
	v.SetDefault("dispatch.delay", "5s")
	v.SetDefault("dispatch.send_timeout", "30s")
	v.SetDefault("dispatch.run_retention", "24h")

	// Auth defaults
	v.SetDefault("auth.flow", "device_code")
	v.SetDefault("auth.provider", "microsoft")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("auth.tenant", "common")
	v.SetDefault("auth.redirect_url", "http://localhost:8080/auth/callback")
	v.SetDefault("auth.username", "")
	v.SetDefault("auth.password", "")
	v.SetDefault("auth.access_token", "")
	v.SetDefault("auth.session_ttl", "1h")

	// Email defaults
	v.SetDefault("email.provider", "graph")
	v.SetDefault("email.from", "")
	v.SetDefault("email.from_name", "")
	v.SetDefault("email.body_file", "")
	v.SetDefault("email.graph.base_url", "https://graph.microsoft.com/v1.0")
	v.SetDefault("email.graph.save_to_sent_items", true)
	v.SetDefault("email.gmail.credentials_json", "")
	v.SetDefault("email.gmail.sender_address", "")
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.tls", "mandatory")
	v.SetDefault("email.smtp.timeout", "30s")
	v.SetDefault("email.resend.api_key", "")
	v.SetDefault("email.ses.region", "us-east-1")
	v.SetDefault("email.ses.access_key", "")
	v.SetDefault("email.ses.secret_key", "")

	// Rate limiting defaults
	v.SetDefault("rate_limiting.enabled", true)
	v.SetDefault("rate_limiting.default_limit", 100)
	v.SetDefault("rate_limiting.default_window", "1m")
	v.SetDefault("rate_limiting.run_limit", 5)

	// Cookie defaults
	v.SetDefault("cookie.domain", "")
	v.SetDefault("cookie.secure", false)
	v.SetDefault("cookie.same_site", "lax")
}
