package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	LockModeRow     = "row"
	LockModeProcess = "process"
)

type LedgerConfig struct {
	Store          string
	LockMode       string
	TreasuryOwner  string
	MaxRetries     int
	RetryBaseDelay time.Duration
	LockTimeout    time.Duration
	IdempotencyTTL time.Duration
	SeedAssetTypes bool
}

// DefaultLedgerConfig is the configuration used when no environment is set.
func DefaultLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		Store:          StorePostgres,
		LockMode:       LockModeRow,
		TreasuryOwner:  "SYSTEM_TREASURY",
		MaxRetries:     3,
		RetryBaseDelay: 100 * time.Millisecond,
		LockTimeout:    5 * time.Second,
		IdempotencyTTL: 24 * time.Hour,
		SeedAssetTypes: true,
	}
}

func LoadLedgerConfig() *LedgerConfig {
	def := DefaultLedgerConfig()
	cfg := &LedgerConfig{
		Store:          strings.ToLower(getEnv("LEDGER_STORE", def.Store)),
		LockMode:       strings.ToLower(getEnv("LEDGER_LOCK_MODE", def.LockMode)),
		TreasuryOwner:  getEnv("LEDGER_TREASURY_OWNER", def.TreasuryOwner),
		MaxRetries:     getEnvAsInt("LEDGER_MAX_RETRIES", def.MaxRetries),
		RetryBaseDelay: getEnvAsDuration("LEDGER_RETRY_BASE_DELAY", def.RetryBaseDelay),
		LockTimeout:    getEnvAsDuration("LEDGER_LOCK_TIMEOUT", def.LockTimeout),
		IdempotencyTTL: getEnvAsDuration("LEDGER_IDEMPOTENCY_TTL", def.IdempotencyTTL),
		SeedAssetTypes: getEnvAsBool("LEDGER_SEED_ASSETS", def.SeedAssetTypes),
	}

	// The memory store has no row locks to take.
	if cfg.Store == StoreMemory {
		cfg.LockMode = LockModeProcess
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
