package progress

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
)

// RedisConfig 描述 Redis 进度缓存。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// RedisStore 以 JSON 形式缓存进度，键为 prefix:venue:wallet。
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore 连接 Redis 并校验可用性。
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return NewRedisStoreWithClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisStoreWithClient 复用已有客户端。
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "openclaw:progress"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(venue, userWallet string) string {
	return s.prefix + ":" + cacheKey(venue, userWallet)
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, venue, userWallet string) (Progress, bool, error) {
	raw, err := s.client.Get(ctx, s.key(venue, userWallet)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Progress{}, false, nil
		}
		return Progress{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取进度缓存失败")
	}
	var p Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return Progress{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析进度缓存失败")
	}
	return p, true, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, venue, userWallet string, p Progress) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化进度失败")
	}
	if err := s.client.Set(ctx, s.key(venue, userWallet), raw, s.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入进度缓存失败")
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, venue, userWallet string) error {
	if err := s.client.Del(ctx, s.key(venue, userWallet)).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除进度缓存失败")
	}
	return nil
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
