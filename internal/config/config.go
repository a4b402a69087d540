// Package config defines the top-level configuration for the auction service
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"bidhall.org/internal/oracle"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BIDHALL_* environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Store    StoreConfig    `toml:"store"`
	Oracle   OracleConfig   `toml:"oracle"`
	Rails    RailsConfig    `toml:"rails"`
	Registry RegistryConfig `toml:"registry"`
	Demo     DemoConfig     `toml:"demo"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Addr            string   `toml:"addr"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
	MaxBodyBytes    int64    `toml:"max_body_bytes"`
	RateLimitRPS    float64  `toml:"rate_limit_rps"`
	RateLimitBurst  int      `toml:"rate_limit_burst"`
	CORSOrigins     []string `toml:"cors_origins"`
}

// AuthConfig holds token issuance parameters. The signing secret itself is
// only ever read from the environment, never from the TOML file.
type AuthConfig struct {
	AdminParty string   `toml:"admin_party"`
	TokenTTL   duration `toml:"token_ttl"`
	DevTokens  bool     `toml:"dev_tokens"`
}

// StoreConfig holds PostgreSQL archive parameters. When Enabled is false the
// engine runs purely in memory.
type StoreConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	RunMigrations bool   `toml:"run_migrations"`
}

// OracleConfig holds the fixed reference-currency rate table, keyed by rail id.
type OracleConfig struct {
	Rates map[string]oracle.Rate `toml:"rates"`
}

// RailsConfig names the payment rails the service instantiates.
type RailsConfig struct {
	Native string   `toml:"native"`
	Tokens []string `toml:"tokens"`
}

// RegistryConfig names the asset registry.
type RegistryConfig struct {
	Name string `toml:"name"`
}

// DemoConfig controls demo fixtures minted at start-up so the API is usable
// without an external funding step.
type DemoConfig struct {
	Enabled  bool             `toml:"enabled"`
	Assets   []DemoAsset      `toml:"assets"`
	Balances map[string]int64 `toml:"balances"`
}

// DemoAsset seeds one registry entry.
type DemoAsset struct {
	ID    uint64 `toml:"id"`
	Owner string `toml:"owner"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     duration{15 * time.Second},
			WriteTimeout:    duration{30 * time.Second},
			ShutdownTimeout: duration{10 * time.Second},
			MaxBodyBytes:    1 << 20,
			RateLimitRPS:    50,
			RateLimitBurst:  100,
			CORSOrigins:     []string{"*"},
		},
		Auth: AuthConfig{
			AdminParty: "admin",
			TokenTTL:   duration{time.Hour},
			DevTokens:  false,
		},
		Store: StoreConfig{
			Enabled:       false,
			DSN:           "",
			RunMigrations: true,
		},
		Oracle: OracleConfig{
			Rates: map[string]oracle.Rate{
				"native":    {Num: 2289, Den: 1},
				"usd-token": {Num: 1, Den: 1},
			},
		},
		Rails: RailsConfig{
			Native: "native",
			Tokens: []string{"usd-token"},
		},
		Registry: RegistryConfig{Name: "assets"},
		Demo:     DemoConfig{Enabled: false},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, "server: addr must not be empty")
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, "server: max_body_bytes must be > 0")
	}
	if c.Server.RateLimitRPS <= 0 {
		errs = append(errs, "server: rate_limit_rps must be > 0")
	}
	if c.Server.RateLimitBurst < 1 {
		errs = append(errs, "server: rate_limit_burst must be >= 1")
	}

	if strings.TrimSpace(c.Auth.AdminParty) == "" {
		errs = append(errs, "auth: admin_party must not be empty")
	}
	if c.Auth.TokenTTL.Duration <= 0 {
		errs = append(errs, "auth: token_ttl must be > 0")
	}

	if c.Store.Enabled && strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, "store: dsn is required when the archive is enabled")
	}

	if strings.TrimSpace(c.Rails.Native) == "" {
		errs = append(errs, "rails: native must not be empty")
	}
	seen := map[string]bool{c.Rails.Native: true}
	for _, name := range c.Rails.Tokens {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, "rails: token rail names must not be empty")
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Sprintf("rails: duplicate rail %q", name))
		}
		seen[name] = true
	}

	if _, ok := c.Oracle.Rates[c.Rails.Native]; !ok {
		errs = append(errs, fmt.Sprintf("oracle: missing rate for native rail %q", c.Rails.Native))
	}
	for _, name := range c.Rails.Tokens {
		if _, ok := c.Oracle.Rates[name]; !ok {
			errs = append(errs, fmt.Sprintf("oracle: missing rate for token rail %q", name))
		}
	}
	for rail, rate := range c.Oracle.Rates {
		if rate.Num <= 0 || rate.Den <= 0 {
			errs = append(errs, fmt.Sprintf("oracle: rate for %q must have positive num and den", rail))
		}
	}

	if strings.TrimSpace(c.Registry.Name) == "" {
		errs = append(errs, "registry: name must not be empty")
	}

	for _, a := range c.Demo.Assets {
		if strings.TrimSpace(a.Owner) == "" {
			errs = append(errs, fmt.Sprintf("demo: asset %d has no owner", a.ID))
		}
	}
	for party, amount := range c.Demo.Balances {
		if amount < 0 {
			errs = append(errs, fmt.Sprintf("demo: balance for %q must not be negative", party))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
