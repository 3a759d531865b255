package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const defaultRecordTTL = 30 * 24 * time.Hour

// releaseScript deletes a lock only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps records and locks in Redis so every API replica shares them.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	recordTTL time.Duration
	logger    *slog.Logger
}

// NewRedisStore connects to Redis using a redis:// URL.
func NewRedisStore(ctx context.Context, logger *slog.Logger, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", opts.Addr, "db", opts.DB)

	return NewRedisStoreWithClient(client, logger), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client:    client,
		prefix:    "sellflow:idempotency:",
		recordTTL: defaultRecordTTL,
		logger:    logger.With("module", "idempotency_redis"),
	}
}

func (s *RedisStore) recordKey(key string) string {
	return s.prefix + "record:" + key
}

func (s *RedisStore) lockKey(key string) string {
	return s.prefix + "lock:" + key
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := s.client.Get(ctx, s.recordKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to read idempotency record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency record: %w", err)
	}

	return &rec, nil
}

func (s *RedisStore) Put(ctx context.Context, rec Record) (*Record, error) {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode idempotency record: %w", err)
	}

	stored, err := s.client.SetNX(ctx, s.recordKey(rec.Key), payload, s.recordTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to write idempotency record: %w", err)
	}

	if !stored {
		s.logger.InfoContext(ctx, "Idempotency record already present", "key", rec.Key, "run_id", rec.RunID)

		return s.Get(ctx, rec.Key)
	}

	return &rec, nil
}

func (s *RedisStore) Lock(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	token := uuid.NewString()

	acquired, err := s.client.SetNX(ctx, s.lockKey(key), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire idempotency lock: %w", err)
	}

	if !acquired {
		return nil, ErrLocked
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, s.client, []string{s.lockKey(key)}, token).Err(); err != nil {
			return fmt.Errorf("failed to release idempotency lock: %w", err)
		}

		return nil
	}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
