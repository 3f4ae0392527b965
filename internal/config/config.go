package config

import (
	"encoding/hex"
	"time"
)

// Config holds all configuration for the sync engine server
type Config struct {
	Env         string // "dev" or "prod"
	HTTPAddr    string
	DatabaseURL string

	// EncryptionKey is the hex-encoded 32-byte key used to seal OAuth
	// tokens at rest. Generate one with cmd/keygen.
	EncryptionKey string

	JWTSecret string
	DevMode   bool // enables X-Debug-Sub header fallback

	Airtable OAuthClient
	Google   OAuthClient

	SchedulerInterval time.Duration
	MaxRetries        int
	CallTimeout       time.Duration
	RunDeadline       time.Duration

	// IDColumnIndex is the zero-based spreadsheet column that carries
	// record ids (26 = column AA, clear of the user's A..Z range).
	IDColumnIndex int
}

// OAuthClient describes one upstream OAuth application
type OAuthClient struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	TokenURL     string
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}

	if c.EncryptionKey == "" {
		return ErrMissingEncryptionKey
	}
	if _, err := c.KeyBytes(); err != nil {
		return err
	}

	if c.SchedulerInterval <= 0 {
		return ErrInvalidSchedulerInterval
	}

	if c.IDColumnIndex < 0 {
		return ErrInvalidIDColumnIndex
	}

	return nil
}

// KeyBytes decodes the hex encryption key and verifies it is 32 bytes
func (c *Config) KeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, ErrInvalidEncryptionKey
	}
	if len(key) != 32 {
		return nil, ErrInvalidEncryptionKey
	}
	return key, nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Env:      "dev",
		HTTPAddr: ":8081",
		Airtable: OAuthClient{
			TokenURL: "https://airtable.com/oauth2/v1/token",
		},
		Google: OAuthClient{
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		SchedulerInterval: 5 * time.Minute,
		MaxRetries:        3,
		CallTimeout:       30 * time.Second,
		RunDeadline:       10 * time.Minute,
		IDColumnIndex:     26,
	}
}
