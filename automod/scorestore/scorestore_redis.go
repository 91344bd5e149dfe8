package scorestore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var redisScorePrefix string = "score/"

// Score ledger in redis: one hash per scope, with subjects as fields. HINCRBY makes each
// Add atomic on the server.
type RedisScoreStore struct {
	Client *redis.Client
}

var _ ScoreStore = (*RedisScoreStore)(nil)

func NewRedisScoreStore(redisURL string) (*RedisScoreStore, error) {
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
	return &RedisScoreStore{
		Client: rdb,
	}, nil
}

func redisScoreKey(scope string) string {
	return redisScorePrefix + scope
}

func (s *RedisScoreStore) Get(ctx context.Context, k Key) (int, error) {
	v, err := s.Client.HGet(ctx, redisScoreKey(k.Scope), k.Subject).Int()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return v, nil
}

func (s *RedisScoreStore) Add(ctx context.Context, k Key, delta int) (int, error) {
	if delta < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeDelta, delta)
	}
	v, err := s.Client.HIncrBy(ctx, redisScoreKey(k.Scope), k.Subject, int64(delta)).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing score: %w", err)
	}
	return int(v), nil
}

func (s *RedisScoreStore) Reset(ctx context.Context, k Key) error {
	if err := s.Client.HDel(ctx, redisScoreKey(k.Scope), k.Subject).Err(); err != nil {
		return fmt.Errorf("resetting score: %w", err)
	}
	return nil
}
