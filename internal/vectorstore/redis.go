package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dshills/docpipe/internal/storage"
)

// Redis hash fields
const (
	fieldContent     = "content"
	fieldVector      = "vector"
	fieldDimension   = "dimension"
	fieldFingerprint = "fingerprint"
	fieldMetadata    = "metadata"
	fieldCreatedAt   = "created_at"
)

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore keeps each record in a hash under KeyPrefix+id and tracks ids in a set
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "docpipe:emb:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "ids"
}

// Upsert writes all records in one pipeline
func (s *RedisStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	now := time.Now().Unix()
	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", r.ID, err)
		}
		pipe.HSet(ctx, s.prefix+r.ID,
			fieldContent, r.Content,
			fieldVector, storage.SerializeVector(r.Vector),
			fieldDimension, len(r.Vector),
			fieldFingerprint, r.Fingerprint,
			fieldMetadata, meta,
			fieldCreatedAt, now,
		)
		pipe.SAdd(ctx, s.indexKey(), r.ID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to upsert embeddings: %w", err)
	}
	return nil
}

// Get loads one record
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, s.prefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, storage.ErrNotFound
	}

	rec := &Record{
		ID:          id,
		Vector:      storage.DeserializeVector([]byte(fields[fieldVector])),
		Fingerprint: fields[fieldFingerprint],
		Content:     fields[fieldContent],
	}
	if raw := fields[fieldMetadata]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", id, err)
		}
	}
	return rec, nil
}

// Count returns the number of stored records
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return int(n), nil
}

// Close closes the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
