package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/JonahGroendal/asn1-decode/internal/config"
)

// ErrLockHeld is returned when another run holds the lock.
var ErrLockHeld = errors.New("database: lock held by another run")

// DefaultLockTTL bounds how long a crashed run keeps an environment locked.
const DefaultLockTTL = 30 * time.Minute

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis wraps a Redis client.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a new Redis client.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Verify connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{client: client}, nil
}

// Client returns the underlying Redis client.
func (r *Redis) Client() *redis.Client {
	return r.client
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// LockKey returns the lock key of an environment.
func LockKey(environment string) string {
	return "asn1-deployer:lock:" + environment
}

// Lock is a held Redis lock.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// Key returns the locked key.
func (l *Lock) Key() string {
	return l.key
}

// AcquireLock takes key for ttl. It returns ErrLockHeld without waiting
// when the key is already taken.
func (r *Redis) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		holder, _ := r.client.Get(ctx, key).Result()
		return nil, fmt.Errorf("%w: %s (holder %s)", ErrLockHeld, key, holder)
	}

	return &Lock{client: r.client, key: key, token: token}, nil
}

// Release frees the lock if it is still ours. Releasing an expired or
// stolen lock is a no-op.
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}
