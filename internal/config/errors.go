package config

import "errors"

var (
	// ErrMissingDatabaseURL indicates that DATABASE_URL is not configured
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")

	// ErrMissingEncryptionKey indicates that the token encryption key is not configured
	ErrMissingEncryptionKey = errors.New("TB_ENCRYPTION_KEY is required (32 random bytes, hex-encoded; see cmd/keygen)")

	// ErrInvalidEncryptionKey indicates that the key is not valid hex or not 32 bytes
	ErrInvalidEncryptionKey = errors.New("TB_ENCRYPTION_KEY must be 64 hex characters (32 bytes)")

	// ErrInvalidSchedulerInterval indicates a non-positive scheduler interval
	ErrInvalidSchedulerInterval = errors.New("SCHEDULER_INTERVAL must be positive")

	// ErrInvalidIDColumnIndex indicates a negative id column index
	ErrInvalidIDColumnIndex = errors.New("ID_COLUMN_INDEX must be non-negative")
)
