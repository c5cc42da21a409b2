package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string `split_words:"true" default:"localhost:6379"`
	Password string `split_words:"true"`
	DB       int    `envconfig:"DB" default:"0"`
}

// RedisStore persists contexts in Redis as JSON strings.
type RedisStore struct {
	client    *backend.Client
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
}

var _ Store = (*RedisStore)(nil)

func NewRedisClient(cfg RedisConfig) *backend.Client {
	return backend.NewClient(&backend.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewRedisStore(client *backend.Client, opts ...StoreOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &RedisStore{
		client:    client,
		keyPrefix: o.keyPrefix,
		ttl:       o.ttl,
		now:       time.Now,
	}, nil
}

func (s *RedisStore) Load(ctx context.Context, conversationID string) (*ConversationContext, error) {
	key, err := storeKey(s.keyPrefix, conversationID)
	if err != nil {
		return nil, err
	}

	payload, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	return decodeContext(payload)
}

func (s *RedisStore) Save(ctx context.Context, cc *ConversationContext) error {
	payload, err := encodeContext(cc, s.now())
	if err != nil {
		return err
	}
	key, err := storeKey(s.keyPrefix, cc.ConversationID)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, conversationID string) error {
	key, err := storeKey(s.keyPrefix, conversationID)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
