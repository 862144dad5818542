// Package config loads parsec-server's process configuration from
// environment variables, in the manner of Docker-Sentinel's internal/config
// (PARSEC_-prefixed env vars, envStr/envBool/envDuration helpers, a Validate
// pass collecting every error before returning).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// StorageKind selects the backend.Store implementation.
type StorageKind string

const (
	StorageMemory StorageKind = "memory"
	StorageSQL    StorageKind = "sql"
)

// BlockstoreKind selects the blockstore.Store implementation.
type BlockstoreKind string

const (
	BlockstoreMemory BlockstoreKind = "memory"
	BlockstoreRAID5  BlockstoreKind = "raid5"
)

// Config holds all parsec-server configuration.
type Config struct {
	ListenAddr string

	Storage   StorageKind
	SQLiteDSN string

	Blockstore    BlockstoreKind
	RAID5DataNode int // number of data nodes; one parity node is added to this

	MetricsEnabled bool
	LogJSON        bool

	BallparkEarly time.Duration
	BallparkLate  time.Duration
}

// Load reads configuration from environment variables with defaults
// matching spec §4.3 (ballpark 300s early / 320s late).
func Load() *Config {
	return &Config{
		ListenAddr:     envStr("PARSEC_LISTEN_ADDR", ":6777"),
		Storage:        StorageKind(envStr("PARSEC_STORAGE", string(StorageMemory))),
		SQLiteDSN:      envStr("PARSEC_SQLITE_DSN", "parsec.db"),
		Blockstore:     BlockstoreKind(envStr("PARSEC_BLOCKSTORE", string(BlockstoreMemory))),
		RAID5DataNode:  envInt("PARSEC_RAID5_DATA_NODES", 2),
		MetricsEnabled: envBool("PARSEC_METRICS", true),
		LogJSON:        envBool("PARSEC_LOG_JSON", false),
		BallparkEarly:  envDuration("PARSEC_BALLPARK_EARLY", 300*time.Second),
		BallparkLate:   envDuration("PARSEC_BALLPARK_LATE", 320*time.Second),
	}
}

// Validate checks the configuration for invalid combinations, collecting
// every error before returning (Docker-Sentinel's internal/config.Validate
// idiom).
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage {
	case StorageMemory, StorageSQL:
	default:
		errs = append(errs, fmt.Errorf("PARSEC_STORAGE must be %q or %q, got %q", StorageMemory, StorageSQL, c.Storage))
	}
	switch c.Blockstore {
	case BlockstoreMemory, BlockstoreRAID5:
	default:
		errs = append(errs, fmt.Errorf("PARSEC_BLOCKSTORE must be %q or %q, got %q", BlockstoreMemory, BlockstoreRAID5, c.Blockstore))
	}
	if c.Blockstore == BlockstoreRAID5 && c.RAID5DataNode < 2 {
		errs = append(errs, fmt.Errorf("PARSEC_RAID5_DATA_NODES must be >= 2, got %d", c.RAID5DataNode))
	}
	if c.BallparkEarly <= 0 || c.BallparkLate <= 0 {
		errs = append(errs, fmt.Errorf("PARSEC_BALLPARK_EARLY and PARSEC_BALLPARK_LATE must be > 0"))
	}
	return errors.Join(errs...)
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
