package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	X        XConfig        `mapstructure:"x"`
	Session  SessionConfig  `mapstructure:"session"`
	Deletion DeletionConfig `mapstructure:"deletion"`
	Database DatabaseConfig `mapstructure:"database"`
}

type ServerConfig struct {
	Port    int        `mapstructure:"port"`
	Mode    string     `mapstructure:"mode"`
	BaseURL string     `mapstructure:"base_url"`
	CORS    CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// XConfig holds the OAuth2 client registration and API endpoints.
type XConfig struct {
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	RedirectURI  string        `mapstructure:"redirect_uri"`
	Scopes       []string      `mapstructure:"scopes"`
	AuthURL      string        `mapstructure:"auth_url"`
	TokenURL     string        `mapstructure:"token_url"`
	APIBaseURL   string        `mapstructure:"api_base_url"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
}

type SessionConfig struct {
	CookieName string        `mapstructure:"cookie_name"`
	TTL        time.Duration `mapstructure:"ttl"`
	Secure     bool          `mapstructure:"secure"`
}

// DeletionConfig tunes enumeration bounds, pacing and recovery of bulk deletion jobs.
type DeletionConfig struct {
	MaxPages          int           `mapstructure:"max_pages"`
	PageSize          int           `mapstructure:"page_size"`
	PacingInterval    time.Duration `mapstructure:"pacing_interval"`
	RateLimitCooldown time.Duration `mapstructure:"rate_limit_cooldown"`
	TransientPause    time.Duration `mapstructure:"transient_pause"`
	MaxItemRetries    int           `mapstructure:"max_item_retries"`
	Retention         time.Duration `mapstructure:"retention"`
	ReapInterval      time.Duration `mapstructure:"reap_interval"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

// DatabaseConfig configures the run history database.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the connection string for the configured driver.
// Postgres prefers the full URL when set.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		if c.URL != "" {
			return c.URL
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	return c.Path
}

var ErrMissingClientID = errors.New("missing x.client_id (X_CLIENT_ID)")

// Validate checks settings the HTTP server cannot run without.
func (c *Config) Validate() error {
	if c.X.ClientID == "" {
		return ErrMissingClientID
	}
	if c.Deletion.MaxPages <= 0 {
		return fmt.Errorf("deletion.max_pages must be positive, got %d", c.Deletion.MaxPages)
	}
	if c.Deletion.PageSize <= 0 || c.Deletion.PageSize > 100 {
		return fmt.Errorf("deletion.page_size must be within 1..100, got %d", c.Deletion.PageSize)
	}
	if c.Deletion.RateLimitCooldown <= 0 {
		return fmt.Errorf("deletion.rate_limit_cooldown must be positive, got %s", c.Deletion.RateLimitCooldown)
	}
	if c.Deletion.PacingInterval < 0 {
		return fmt.Errorf("deletion.pacing_interval must not be negative, got %s", c.Deletion.PacingInterval)
	}
	if c.Deletion.TransientPause < 0 {
		return fmt.Errorf("deletion.transient_pause must not be negative, got %s", c.Deletion.TransientPause)
	}
	// finished jobs must outlive at least one status poll
	if c.Deletion.Retention <= 0 || c.Deletion.Retention < c.Deletion.PollInterval {
		return fmt.Errorf("deletion.retention must be positive and at least deletion.poll_interval (%s), got %s",
			c.Deletion.PollInterval, c.Deletion.Retention)
	}
	return nil
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Names used by the original deployment's .env
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.base_url", "BASE_URL")
	v.BindEnv("x.client_id", "X_CLIENT_ID")
	v.BindEnv("x.client_secret", "X_CLIENT_SECRET")
	v.BindEnv("x.redirect_uri", "X_REDIRECT_URI")
	v.BindEnv("x.scopes", "X_SCOPES")
	v.BindEnv("session.secure", "SESSION_SECURE")
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("deletion.rate_limit_cooldown", "RATE_LIMIT_COOLDOWN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// X_SCOPES is space separated like the authorize parameter
	if len(cfg.X.Scopes) == 1 && strings.Contains(cfg.X.Scopes[0], " ") {
		cfg.X.Scopes = strings.Fields(cfg.X.Scopes[0])
	}
	if cfg.X.RedirectURI == "" {
		cfg.X.RedirectURI = strings.TrimRight(cfg.Server.BaseURL, "/") + "/callback"
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.base_url", "http://localhost:3000")
	v.SetDefault("server.cors.allow_all_origins", false)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("x.scopes", []string{"tweet.read", "tweet.write", "users.read", "offline.access"})
	v.SetDefault("x.auth_url", "https://twitter.com/i/oauth2/authorize")
	v.SetDefault("x.token_url", "https://api.x.com/2/oauth2/token")
	v.SetDefault("x.api_base_url", "https://api.x.com/2")
	v.SetDefault("x.call_timeout", 15*time.Second)

	v.SetDefault("session.cookie_name", "xlogin.sid")
	v.SetDefault("session.ttl", 15*time.Minute)
	v.SetDefault("session.secure", true)

	v.SetDefault("deletion.max_pages", 10)
	v.SetDefault("deletion.page_size", 100)
	v.SetDefault("deletion.pacing_interval", 1500*time.Millisecond)
	v.SetDefault("deletion.rate_limit_cooldown", 2*time.Minute)
	v.SetDefault("deletion.transient_pause", time.Second)
	v.SetDefault("deletion.max_item_retries", 2)
	v.SetDefault("deletion.retention", time.Hour)
	v.SetDefault("deletion.reap_interval", time.Minute)
	v.SetDefault("deletion.poll_interval", time.Second)

	v.SetDefault("database.enabled", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/history.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
}
