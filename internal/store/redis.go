package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"visadesk/internal/domain"
)

// RedisStore keeps the credential in one hash so several operator processes
// on the same desk share a session.
type RedisStore struct {
	client *redis.Client
	key    string
}

var _ domain.TokenStore = (*RedisStore)(nil)

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisStoreWithClient(client, key), nil
}

func newRedisStoreWithClient(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = "visadesk:credential"
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) LoadCredential(ctx context.Context) (domain.Credential, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return domain.Credential{}, fmt.Errorf("load credential: %w", err)
	}
	return domain.Credential{
		AccessToken:  fields["access_token"],
		RefreshToken: fields["refresh_token"],
		Operator:     fields["operator"],
	}, nil
}

// SaveCredential writes every field with a single HSET.
func (s *RedisStore) SaveCredential(ctx context.Context, cred domain.Credential) error {
	err := s.client.HSet(ctx, s.key,
		"access_token", cred.AccessToken,
		"refresh_token", cred.RefreshToken,
		"operator", cred.Operator,
	).Err()
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *RedisStore) ClearCredential(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
