package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const devSessionSecret = "pagat-dev-session-secret-do-not-use-in-production"

// Config is the complete server configuration.
type Config struct {
	App      AppConfig      `yaml:"app" toml:"app"`
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Session  SessionConfig  `yaml:"session" toml:"session"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	WebAuthn WebAuthnConfig `yaml:"webauthn" toml:"webauthn"`
	Google   GoogleConfig   `yaml:"google" toml:"google"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

type AppConfig struct {
	// DevMode unlocks development-only behaviour such as header-derived
	// WebAuthn relying parties and a built-in session secret.
	DevMode bool `yaml:"dev_mode" toml:"dev_mode"`
	// Debug exposes internal error text in 500 responses.
	Debug bool `yaml:"debug" toml:"debug"`
}

type ServerConfig struct {
	Addr            string     `yaml:"addr" toml:"addr"`
	CORSOrigins     []string   `yaml:"cors_origins" toml:"cors_origins"`
	MaxBodyBytes    int64      `yaml:"max_body_bytes" toml:"max_body_bytes"`
	RequestRate     RateConfig `yaml:"request_rate" toml:"request_rate"`
	ShutdownTimeout Duration   `yaml:"shutdown_timeout" toml:"shutdown_timeout"`

	// TrustedProxies are the reverse proxies whose X-Forwarded-For header is
	// believed. Empty means the socket peer is always the client.
	TrustedProxies []string `yaml:"trusted_proxies" toml:"trusted_proxies"`
}

// RateConfig drives the general per-IP token bucket in front of every route.
type RateConfig struct {
	PerSecond float64 `yaml:"per_second" toml:"per_second"`
	Burst     int     `yaml:"burst" toml:"burst"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver" toml:"driver"`
	DSN          string `yaml:"dsn" toml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns" toml:"max_open_conns"`
}

type SessionConfig struct {
	CookieName      string   `yaml:"cookie_name" toml:"cookie_name"`
	Secret          string   `yaml:"secret" toml:"secret"`
	RememberFor     Duration `yaml:"remember_for" toml:"remember_for"`
	EphemeralTTL    Duration `yaml:"ephemeral_ttl" toml:"ephemeral_ttl"`
	CleanupInterval Duration `yaml:"cleanup_interval" toml:"cleanup_interval"`
	Secure          bool     `yaml:"secure" toml:"secure"`
}

type AuthConfig struct {
	BootstrapAdmin BootstrapAdminConfig `yaml:"bootstrap_admin" toml:"bootstrap_admin"`
	LoginWindow    Duration             `yaml:"login_window" toml:"login_window"`
	LoginAttempts  int                  `yaml:"login_attempts" toml:"login_attempts"`
	SweepInterval  Duration             `yaml:"sweep_interval" toml:"sweep_interval"`
	BcryptCost     int                  `yaml:"bcrypt_cost" toml:"bcrypt_cost"`
}

type BootstrapAdminConfig struct {
	Username        string `yaml:"username" toml:"username"`
	Password        string `yaml:"password" toml:"password"`
	RecreateOnLogin bool   `yaml:"recreate_on_login" toml:"recreate_on_login"`
}

type WebAuthnConfig struct {
	RPID          string `yaml:"rp_id" toml:"rp_id"`
	RPOrigin      string `yaml:"rp_origin" toml:"rp_origin"`
	RPDisplayName string `yaml:"rp_display_name" toml:"rp_display_name"`
	// DynamicRP derives the relying party from the request Origin header.
	// Only honoured together with app.dev_mode.
	DynamicRP bool `yaml:"dynamic_rp" toml:"dynamic_rp"`
}

type GoogleConfig struct {
	ClientID        string `yaml:"client_id" toml:"client_id"`
	ClientSecret    string `yaml:"client_secret" toml:"client_secret"`
	RedirectURL     string `yaml:"redirect_url" toml:"redirect_url"`
	IssuerURL       string `yaml:"issuer_url" toml:"issuer_url"`
	SuccessRedirect string `yaml:"success_redirect" toml:"success_redirect"`
	PendingRedirect string `yaml:"pending_redirect" toml:"pending_redirect"`
}

// Enabled reports whether Google login is configured.
func (g GoogleConfig) Enabled() bool {
	return strings.TrimSpace(g.ClientID) != ""
}

type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
}

// Default returns a configuration suitable for local development against Postgres.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":4000",
			MaxBodyBytes:    1 << 20,
			RequestRate:     RateConfig{PerSecond: 20, Burst: 40},
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			MaxOpenConns: 10,
		},
		Session: SessionConfig{
			CookieName:      "pagat_sid",
			RememberFor:     Duration(30 * 24 * time.Hour),
			EphemeralTTL:    Duration(12 * time.Hour),
			CleanupInterval: Duration(10 * time.Minute),
		},
		Auth: AuthConfig{
			BootstrapAdmin: BootstrapAdminConfig{
				Username:        "admin",
				Password:        "admin",
				RecreateOnLogin: true,
			},
			LoginWindow:   Duration(15 * time.Minute),
			LoginAttempts: 100,
			SweepInterval: Duration(10 * time.Minute),
			BcryptCost:    10,
		},
		WebAuthn: WebAuthnConfig{
			RPID:          "localhost",
			RPOrigin:      "http://localhost:3000",
			RPDisplayName: "Pagat",
		},
		Google: GoogleConfig{
			IssuerURL:       "https://accounts.google.com",
			RedirectURL:     "http://localhost:4000/api/auth/google/callback",
			SuccessRedirect: "http://localhost:3000?google=1",
			PendingRedirect: "http://localhost:3000?pending=1",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, the optional file at path
// (.yaml/.yml or .toml, with ${VAR} expansion) and environment overrides,
// then validates it.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Read is Load without validation, for tools that only need part of the
// configuration.
func Read(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		expanded := expandEnvVars(string(data))
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			if _, err := toml.Decode(expanded, &cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		default:
			if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}
	cfg.applyEnv(os.Getenv)
	if cfg.App.DevMode && cfg.Session.Secret == "" {
		cfg.Session.Secret = devSessionSecret
	}
	return &cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the environment value; unset variables become empty.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Database.DSN, "DATABASE_URL")
	set(&c.Session.Secret, "SESSION_SECRET")
	set(&c.Google.ClientID, "GOOGLE_CLIENT_ID")
	set(&c.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")
	set(&c.Google.RedirectURL, "GOOGLE_REDIRECT_URI")
	set(&c.WebAuthn.RPID, "RP_ID")
	set(&c.WebAuthn.RPOrigin, "RP_ORIGIN")
	if v := getenv("CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = splitList(v)
	}
	if v := getenv("TRUSTED_PROXIES"); v != "" {
		c.Server.TrustedProxies = splitList(v)
	}
	if getenv("PAGAT_DEV") == "1" {
		c.App.DevMode = true
	}
	if getenv("ALLOW_DYNAMIC_RP") == "1" {
		c.WebAuthn.DynamicRP = true
	}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn is required (or set DATABASE_URL)")
	}
	if len(c.Session.Secret) < 32 {
		return errors.New("session.secret must be at least 32 bytes (or set SESSION_SECRET)")
	}
	if c.Session.RememberFor <= 0 || c.Session.EphemeralTTL <= 0 {
		return errors.New("session.remember_for and session.ephemeral_ttl must be positive")
	}
	if c.Auth.LoginAttempts <= 0 || c.Auth.LoginWindow <= 0 {
		return errors.New("auth.login_attempts and auth.login_window must be positive")
	}
	if strings.TrimSpace(c.Auth.BootstrapAdmin.Username) == "" {
		return errors.New("auth.bootstrap_admin.username is required")
	}
	if c.WebAuthn.RPID == "" || c.WebAuthn.RPOrigin == "" {
		return errors.New("webauthn.rp_id and webauthn.rp_origin are required")
	}
	if c.WebAuthn.DynamicRP && !c.App.DevMode {
		return errors.New("webauthn.dynamic_rp requires app.dev_mode")
	}
	for _, p := range c.Server.TrustedProxies {
		var err error
		if strings.Contains(p, "/") {
			_, err = netip.ParsePrefix(p)
		} else {
			_, err = netip.ParseAddr(p)
		}
		if err != nil {
			return fmt.Errorf("server.trusted_proxies: %q is not an address or CIDR prefix", p)
		}
	}
	if c.Google.Enabled() && (c.Google.ClientSecret == "" || c.Google.RedirectURL == "") {
		return errors.New("google.client_secret and google.redirect_url are required when google.client_id is set")
	}
	return nil
}
