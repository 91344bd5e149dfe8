package flagstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var redisFlagKey string = "scope-enabled"

// Switches kept as fields of a single redis hash, "1" or "0".
type RedisFlagStore struct {
	Client         *redis.Client
	DefaultEnabled bool
}

var _ FlagStore = (*RedisFlagStore)(nil)

func NewRedisFlagStore(redisURL string, defaultEnabled bool) (*RedisFlagStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	return &RedisFlagStore{
		Client:         rdb,
		DefaultEnabled: defaultEnabled,
	}, nil
}

func (s *RedisFlagStore) Enabled(ctx context.Context, scope string) (bool, error) {
	v, err := s.Client.HGet(ctx, redisFlagKey, scope).Result()
	if err == redis.Nil {
		return s.DefaultEnabled, nil
	} else if err != nil {
		return false, err
	}
	return v == "1", nil
}

func (s *RedisFlagStore) SetEnabled(ctx context.Context, scope string, enabled bool) error {
	v := "0"
	if enabled {
		v = "1"
	}
	if err := s.Client.HSet(ctx, redisFlagKey, scope, v).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}
