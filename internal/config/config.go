package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config is ~/.wppadmin/config.toml. The server reads every section; the CLI
// only reads default_profile and [profiles].
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Bot      BotConfig      `toml:"bot"`
	Log      LogConfig      `toml:"log"`

	DefaultProfile string             `toml:"default_profile,omitempty"`
	Profiles       map[string]Profile `toml:"profiles,omitempty"`
}

type ServerConfig struct {
	Addr string `toml:"addr,omitempty" env:"HTTP_ADDR"`
	Env  string `toml:"env,omitempty" env:"APP_ENV"`

	// Shared access password. AccessPasswordHash (argon2id, PHC string) wins
	// when both are set.
	AccessPassword     string `toml:"access_password,omitempty" env:"ACCESS_PASSWORD"`
	AccessPasswordHash string `toml:"access_password_hash,omitempty" env:"ACCESS_PASSWORD_HASH"`
	JWTSecret          string `toml:"jwt_secret,omitempty" env:"JWT_SECRET"`

	SessionTTL       Duration `toml:"session_ttl,omitempty" env:"SESSION_TTL"`
	WebhookSecret    string   `toml:"webhook_secret,omitempty" env:"WEBHOOK_SECRET"`
	MetricsNamespace string   `toml:"metrics_namespace,omitempty" env:"METRICS_NAMESPACE"`
}

type DatabaseConfig struct {
	// URL selects Postgres. Empty means the local SQLite file.
	URL        string `toml:"url,omitempty" env:"DATABASE_URL"`
	Schema     string `toml:"schema,omitempty" env:"DATABASE_SCHEMA"`
	SQLitePath string `toml:"sqlite_path,omitempty" env:"SQLITE_PATH"`
}

type RedisConfig struct {
	// Empty Addr keeps token revocation in memory.
	Addr     string `toml:"addr,omitempty" env:"REDIS_ADDR"`
	Password string `toml:"password,omitempty" env:"REDIS_PASSWORD"`
	DB       int    `toml:"db,omitempty" env:"REDIS_DB"`
	TLS      bool   `toml:"tls,omitempty" env:"REDIS_TLS"`
}

type BotConfig struct {
	APIURL string `toml:"api_url,omitempty" env:"WHATSAPP_BOT_API_URL"`
	// Zero disables the timeout on outbound bot calls.
	Timeout Duration `toml:"timeout,omitempty" env:"BOT_TIMEOUT"`
}

type LogConfig struct {
	Level string `toml:"level,omitempty" env:"LOG_LEVEL"`
	Path  string `toml:"path,omitempty" env:"LOG_PATH"`
}

// Profile is a CLI target server.
type Profile struct {
	ServerURL string `toml:"server_url"`
}

// Default returns the built-in defaults. Paths are left empty and filled by
// the caller from the paths package.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             ":8080",
			Env:              "development",
			SessionTTL:       Duration(8 * time.Hour),
			MetricsNamespace: "wppadmin",
		},
		Database: DatabaseConfig{Schema: "public"},
		Log:      LogConfig{Level: "info"},
	}
}

// Production reports whether cookies must be marked Secure.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Server.Env, "production")
}

// UsesPostgres reports whether the store should connect to DATABASE_URL.
func (c *Config) UsesPostgres() bool {
	return c.Database.URL != ""
}

// ProfileURL returns the server URL configured for a CLI profile.
func (c *Config) ProfileURL(name string) (string, bool) {
	p, ok := c.Profiles[name]
	if !ok || p.ServerURL == "" {
		return "", false
	}
	return p.ServerURL, true
}

// LoadFile reads config from path. Returns an error if the file is missing.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load layers defaults, the TOML file (optional), a .env file in the working
// directory (optional) and process environment, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	cfg.Bot.APIURL = strings.TrimRight(strings.TrimSpace(cfg.Bot.APIURL), "/")
	return cfg, nil
}

// Save writes config to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
