package config

import (
	"os"
	"strconv"
	"time"
)

// Load creates a configuration from environment variables
// Validation is deferred so callers can apply overrides first
func Load() *Config {
	cfg := Default()
	applyEnvironmentOverrides(cfg)
	return cfg
}

// applyEnvironmentOverrides applies configuration from environment variables
func applyEnvironmentOverrides(cfg *Config) {
	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}
	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.DatabaseURL = url
	}
	if key := os.Getenv("TB_ENCRYPTION_KEY"); key != "" {
		cfg.EncryptionKey = key
	}
	if secret := os.Getenv("JWT_HS256_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	}
	if devMode := os.Getenv("DEV_MODE"); devMode == "true" || devMode == "1" {
		cfg.DevMode = true
	}

	applyOAuthOverrides(&cfg.Airtable, "AIRTABLE")
	applyOAuthOverrides(&cfg.Google, "GOOGLE")

	if d := envDuration("SCHEDULER_INTERVAL"); d > 0 {
		cfg.SchedulerInterval = d
	}
	if n := envInt("MAX_RETRIES"); n > 0 {
		cfg.MaxRetries = n
	}
	if d := envDuration("CALL_TIMEOUT"); d > 0 {
		cfg.CallTimeout = d
	}
	if d := envDuration("RUN_DEADLINE"); d > 0 {
		cfg.RunDeadline = d
	}
	if v := os.Getenv("ID_COLUMN_INDEX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.IDColumnIndex = n
		}
	}
}

// applyOAuthOverrides reads <PREFIX>_CLIENT_ID etc. into one OAuth client config
func applyOAuthOverrides(client *OAuthClient, prefix string) {
	if id := os.Getenv(prefix + "_CLIENT_ID"); id != "" {
		client.ClientID = id
	}
	if secret := os.Getenv(prefix + "_CLIENT_SECRET"); secret != "" {
		client.ClientSecret = secret
	}
	if uri := os.Getenv(prefix + "_REDIRECT_URI"); uri != "" {
		client.RedirectURI = uri
	}
	if url := os.Getenv(prefix + "_TOKEN_URL"); url != "" {
		client.TokenURL = url
	}
}

// envDuration parses a duration env var, returning 0 if unset or invalid
func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

// envInt parses an integer env var, returning 0 if unset or invalid
func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
