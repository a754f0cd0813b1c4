// Package redis provides a Redis-backed mutual exclusion lock so that only one
// ledger instance runs the auto-transfer executor at a time.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"
	"go.uber.org/zap"

	"ledger/pkg/logging"
)

// ErrNotHeld is returned by a release func when the lock expired or was
// taken over before release
var ErrNotHeld = errors.New("redis lock: not held")

// releaseScript deletes the key only if it still carries our token
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Config holds connection settings
type Config struct {
	// Addr is the server address for single node or sentinel mode
	Addr string
	// ClusterAddrs enables cluster mode when set
	ClusterAddrs []string
	Username     string
	Password     string
	DB           int
	// KeyPrefix is prepended to every lock key
	KeyPrefix         string
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	SentinelMasterSet string
	SentinelAddrs     []string
	SentinelUsername  string
	SentinelPassword  string
}

// DefaultConfig targets a local single node
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		KeyPrefix:    "ledger:lock:",
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Locker acquires short-lived exclusive locks with SET NX PX
type Locker struct {
	client  rueidis.Client
	prefix  string
	release *rueidis.Lua
	logger  *logging.Logger
}

// NewLocker connects to Redis and verifies the connection with PING
func NewLocker(config Config) (*Locker, error) {
	var initAddress []string
	switch {
	case len(config.ClusterAddrs) > 0:
		initAddress = config.ClusterAddrs
	case len(config.SentinelAddrs) > 0:
		initAddress = config.SentinelAddrs
	case config.Addr != "":
		initAddress = []string{config.Addr}
	default:
		return nil, fmt.Errorf("redis lock: no addresses configured (set Addr, ClusterAddrs, or SentinelAddrs)")
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultConfig().DialTimeout
	}

	clientOpts := rueidis.ClientOption{
		InitAddress:      initAddress,
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
		DisableCache:     true,
	}
	if len(config.SentinelAddrs) > 0 {
		clientOpts.Sentinel = rueidis.SentinelOption{
			MasterSet: config.SentinelMasterSet,
			Username:  config.SentinelUsername,
			Password:  config.SentinelPassword,
		}
	}

	client, err := rueidis.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("redis lock: failed to create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis lock: failed to ping server: %w", err)
	}

	return NewLockerWithClient(client, config.KeyPrefix), nil
}

// NewLockerWithClient wraps an existing client
func NewLockerWithClient(client rueidis.Client, keyPrefix string) *Locker {
	return &Locker{
		client:  client,
		prefix:  keyPrefix,
		release: rueidis.NewLuaScript(releaseScript),
		logger:  logging.L().Named("redis-lock"),
	}
}

// TryLock attempts to take key for ttl without waiting. When another holder
// has the key it returns ok=false and a nil error. The returned release func
// only deletes the key while this caller still owns it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	cmd := l.client.B().Set().Key(fullKey).Value(token).Nx().PxMilliseconds(ttl.Milliseconds()).Build()
	if err := l.client.Do(ctx, cmd).Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis lock: acquire %s: %w", key, err)
	}

	l.logger.Debug("lock acquired", zap.String("key", fullKey), zap.Duration("ttl", ttl))

	release = func(ctx context.Context) error {
		deleted, err := l.release.Exec(ctx, l.client, []string{fullKey}, []string{token}).AsInt64()
		if err != nil {
			return fmt.Errorf("redis lock: release %s: %w", key, err)
		}
		if deleted == 0 {
			return ErrNotHeld
		}
		return nil
	}
	return release, true, nil
}

// Ping checks connectivity
func (l *Locker) Ping(ctx context.Context) error {
	return l.client.Do(ctx, l.client.B().Ping().Build()).Error()
}

// Close closes the underlying client
func (l *Locker) Close() error {
	l.client.Close()
	return nil
}
