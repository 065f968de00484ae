package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeu5/stair-rl/core"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces the model keys
	Prefix string
	// TTL expires checkpoints, 0 keeps them forever
	TTL         time.Duration
	DialTimeout time.Duration
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		Prefix:      "stair-rl:model:",
		DialTimeout: 2 * time.Second,
	}
}

// RedisStore keeps each checkpoint as one JSON string value
type RedisStore struct {
	client *redis.Client
	config RedisConfig
}

var _ core.ModelStore = &RedisStore{}

func NewRedisStore(config RedisConfig) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:        config.Addr,
			Password:    config.Password,
			DB:          config.DB,
			DialTimeout: config.DialTimeout,
		}),
		config: config,
	}
}

func (r *RedisStore) key(id string) string {
	return r.config.Prefix + id
}

// Ping checks that the server is reachable
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Save(ctx context.Context, id string, params map[string][]float64, meta core.ModelMetadata) error {
	if err := validateID(id); err != nil {
		return err
	}
	cp := newCheckpoint(params, meta)
	if err := cp.validate(); err != nil {
		return err
	}
	bs, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(id), bs, r.config.TTL).Err(); err != nil {
		return fmt.Errorf("error saving model %s: %w", id, err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, id string) (map[string][]float64, core.ModelMetadata, error) {
	if err := validateID(id); err != nil {
		return nil, core.ModelMetadata{}, err
	}
	bs, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ModelMetadata{}, fmt.Errorf("%w: %s", core.ErrModelNotFound, id)
		}
		return nil, core.ModelMetadata{}, fmt.Errorf("error loading model %s: %w", id, err)
	}
	var cp checkpoint
	if err := json.Unmarshal(bs, &cp); err != nil {
		return nil, core.ModelMetadata{}, fmt.Errorf("error decoding model %s: %w", id, err)
	}
	if err := cp.validate(); err != nil {
		return nil, core.ModelMetadata{}, err
	}
	return cp.Parameters, cp.Metadata, nil
}
