package adapter

import (
	"context"
	stdErrors "errors"
	"sort"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	lserrors "github.com/mirkobrombin/go-lockstep/v1/errors"
)

const (
	defaultRedisOpTimeout = 5 * time.Second
	// DefaultKeyPrefix namespaces balance keys in Redis.
	DefaultKeyPrefix = "lockstep:balance:"
)

// RedisStore implements Store using a Redis backend. Balances are stored as
// decimal strings under prefix+account.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
	prefix  string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTimeout sets the operation timeout for Redis calls.
func WithTimeout(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.timeout = d
	}
}

// WithKeyPrefix replaces DefaultKeyPrefix.
func WithKeyPrefix(p string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = p
	}
}

// NewRedisStore returns a new RedisStore using the provided Redis client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, timeout: defaultRedisOpTimeout, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func mapRedisErr(err error) error {
	switch {
	case err == nil:
		return nil
	case stdErrors.Is(err, context.DeadlineExceeded):
		return lserrors.ErrTimeout
	case stdErrors.Is(err, redis.ErrClosed):
		return lserrors.ErrConnectionClosed
	}
	return err
}

// Balance implements Store.Balance.
func (s *RedisStore) Balance(ctx context.Context, account string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, mapRedisErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	v, err := s.client.Get(cctx, s.prefix+account).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, mapRedisErr(err)
}

// Apply implements Store.Apply using a MULTI/EXEC pipeline.
func (s *RedisStore) Apply(ctx context.Context, balances map[string]int64) error {
	if err := ctx.Err(); err != nil {
		return mapRedisErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	pipe := s.client.TxPipeline()
	for k, v := range balances {
		pipe.Set(cctx, s.prefix+k, strconv.FormatInt(v, 10), 0)
	}
	_, err := pipe.Exec(cctx)
	return mapRedisErr(err)
}

// Accounts implements Store.Accounts using SCAN over the key prefix.
func (s *RedisStore) Accounts(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapRedisErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var cursor uint64
	var accounts []string
	for {
		batch, next, err := s.client.Scan(cctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, mapRedisErr(err)
		}
		for _, k := range batch {
			accounts = append(accounts, strings.TrimPrefix(k, s.prefix))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Strings(accounts)
	return accounts, nil
}
