package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BIDHALL_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment only. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BIDHALL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject deployment parameters without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Server.Addr, "BIDHALL_SERVER_ADDR")
	setDuration(&cfg.Server.ReadTimeout, "BIDHALL_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "BIDHALL_SERVER_WRITE_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "BIDHALL_SERVER_SHUTDOWN_TIMEOUT")
	setInt64(&cfg.Server.MaxBodyBytes, "BIDHALL_SERVER_MAX_BODY_BYTES")
	setFloat64(&cfg.Server.RateLimitRPS, "BIDHALL_SERVER_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateLimitBurst, "BIDHALL_SERVER_RATE_LIMIT_BURST")
	setStringSlice(&cfg.Server.CORSOrigins, "BIDHALL_SERVER_CORS_ORIGINS")

	setStr(&cfg.Auth.AdminParty, "BIDHALL_AUTH_ADMIN_PARTY")
	setDuration(&cfg.Auth.TokenTTL, "BIDHALL_AUTH_TOKEN_TTL")
	setBool(&cfg.Auth.DevTokens, "BIDHALL_AUTH_DEV_TOKENS")

	setBool(&cfg.Store.Enabled, "BIDHALL_STORE_ENABLED")
	setStr(&cfg.Store.DSN, "BIDHALL_STORE_DSN")
	setStr(&cfg.Store.DSN, "DATABASE_URL") // deployment alias
	setBool(&cfg.Store.RunMigrations, "BIDHALL_STORE_RUN_MIGRATIONS")

	setStr(&cfg.Rails.Native, "BIDHALL_RAILS_NATIVE")
	setStringSlice(&cfg.Rails.Tokens, "BIDHALL_RAILS_TOKENS")

	setStr(&cfg.Registry.Name, "BIDHALL_REGISTRY_NAME")

	setBool(&cfg.Demo.Enabled, "BIDHALL_DEMO_ENABLED")

	setStr(&cfg.LogLevel, "BIDHALL_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
