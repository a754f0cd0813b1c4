// Package config assembles ledgerd's configuration from the environment.
// A .env file in the working directory is loaded first when present;
// variables already set in the environment win over it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"ledger/pkg/allocator"
	"ledger/pkg/autotransfer"
	"ledger/pkg/directory"
	"ledger/pkg/ledger"
	"ledger/pkg/lock/redis"
	"ledger/pkg/logging"
	"ledger/pkg/resilience"
	"ledger/pkg/storage/postgres"

	"github.com/joho/godotenv"
)

// DefaultTimeZone anchors auto-transfer calendars when none is configured
const DefaultTimeZone = "Asia/Seoul"

// Config is the full process configuration
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration

	// DatabaseURL selects the PostgreSQL store. Empty runs in memory.
	DatabaseURL string
	Postgres    postgres.Config

	// RedisAddr enables the distributed executor lock. Empty disables it.
	RedisAddr string
	Redis     redis.Config

	// Owners seeds the in-memory owner directory, as "id:name" pairs
	Owners []directory.Owner

	Log          logging.Config
	Ledger       ledger.Config
	Allocator    allocator.Config
	Resilience   resilience.ResilientConfig
	OwnerCache   directory.CacheConfig
	AutoTransfer AutoTransferConfig
}

// AutoTransferConfig configures the scheduled transfer subsystem
type AutoTransferConfig struct {
	Enabled  bool
	TimeZone string
	Location *time.Location
	Executor autotransfer.Config
}

// Default returns the configuration used when no variables are set
func Default() Config {
	return Config{
		HTTPAddr:        ":8080",
		ShutdownTimeout: 15 * time.Second,
		Postgres:        postgres.DefaultConfig(),
		Redis:           redis.DefaultConfig(),
		Log:             logging.DefaultConfig(),
		Ledger:          ledger.DefaultConfig(),
		Allocator:       allocator.DefaultConfig(),
		Resilience:      resilience.DefaultResilientConfig(),
		OwnerCache:      directory.DefaultCacheConfig(),
		AutoTransfer: AutoTransferConfig{
			Enabled:  true,
			TimeZone: DefaultTimeZone,
			Executor: autotransfer.DefaultConfig(),
		},
	}
}

// Load reads .env (if any) and the environment on top of Default
func Load() (Config, error) {
	// A missing .env is normal outside development
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv applies environment variables on top of Default
func FromEnv() (Config, error) {
	cfg := Default()
	p := &parser{}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.ShutdownTimeout = p.duration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	cfg.DatabaseURL = getEnv("DATABASE_URL", "")
	cfg.Postgres.DSN = cfg.DatabaseURL
	cfg.Postgres.MaxOpenConns = p.int("DB_MAX_OPEN_CONNS", cfg.Postgres.MaxOpenConns)
	cfg.Postgres.MaxIdleConns = p.int("DB_MAX_IDLE_CONNS", cfg.Postgres.MaxIdleConns)

	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	if cfg.RedisAddr != "" {
		cfg.Redis.Addr = cfg.RedisAddr
	}
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = p.int("REDIS_DB", cfg.Redis.DB)

	cfg.Owners = p.owners("OWNERS")

	cfg.Log = logging.ConfigFromEnv()

	cfg.Ledger.InsertRetries = p.int("LEDGER_INSERT_RETRIES", cfg.Ledger.InsertRetries)
	cfg.Ledger.ConflictRetries = p.int("LEDGER_CONFLICT_RETRIES", cfg.Ledger.ConflictRetries)
	cfg.Allocator.MaxAttempts = p.int("ALLOCATOR_MAX_ATTEMPTS", cfg.Allocator.MaxAttempts)
	cfg.Allocator.FilterCapacity = uint(p.int("ALLOCATOR_FILTER_CAPACITY", int(cfg.Allocator.FilterCapacity)))

	cfg.Resilience.Timeout = p.duration("STORE_TIMEOUT", cfg.Resilience.Timeout)
	cfg.OwnerCache.TTL = p.duration("OWNER_CACHE_TTL", cfg.OwnerCache.TTL)
	cfg.OwnerCache.NegativeTTL = p.duration("OWNER_CACHE_NEGATIVE_TTL", cfg.OwnerCache.NegativeTTL)

	at := &cfg.AutoTransfer
	at.Enabled = p.bool("AUTOTRANSFER_ENABLED", at.Enabled)
	at.TimeZone = getEnv("AUTOTRANSFER_TIMEZONE", at.TimeZone)
	at.Executor.Interval = p.duration("AUTOTRANSFER_INTERVAL", at.Executor.Interval)
	at.Executor.BatchSize = p.int("AUTOTRANSFER_BATCH_SIZE", at.Executor.BatchSize)
	at.Executor.Concurrency = p.int("AUTOTRANSFER_CONCURRENCY", at.Executor.Concurrency)
	at.Executor.ItemTimeout = p.duration("AUTOTRANSFER_ITEM_TIMEOUT", at.Executor.ItemTimeout)
	at.Executor.LockTTL = p.duration("AUTOTRANSFER_LOCK_TTL", at.Executor.LockTTL)
	at.Executor.Policy.DeactivateAfterMaxRetries = p.bool(
		"AUTOTRANSFER_DEACTIVATE_AFTER_MAX_RETRIES", at.Executor.Policy.DeactivateAfterMaxRetries)

	loc, err := time.LoadLocation(at.TimeZone)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("AUTOTRANSFER_TIMEZONE: %w", err))
	}
	at.Location = loc

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// parser collects every malformed variable so they are reported together
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid non-negative integer %q", key, raw))
		return fallback
	}
	return v
}

func (p *parser) bool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, raw))
		return fallback
	}
	return v
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v < 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, raw))
		return fallback
	}
	return v
}

// owners parses "1:Kim,2:Lee"
func (p *parser) owners(key string) []directory.Owner {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var owners []directory.Owner
	for _, pair := range strings.Split(raw, ",") {
		idPart, name, ok := strings.Cut(strings.TrimSpace(pair), ":")
		id, err := strconv.ParseInt(idPart, 10, 64)
		if !ok || err != nil || name == "" {
			p.errs = append(p.errs, fmt.Errorf("%s: invalid owner %q", key, pair))
			continue
		}
		owners = append(owners, directory.Owner{ID: id, Name: name})
	}
	return owners
}
