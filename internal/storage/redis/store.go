package redis

import (
	"context"
	stdErrors "errors"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	xerrors "OpenBoBS/internal/errors"
	"OpenBoBS/internal/storage"
)

// Config 描述 Redis 连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// Store 把每个键保存为一个 Redis string。
type Store struct {
	client *goredis.Client
	prefix string
}

// Open 连接 Redis 并验证连通性。
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient 复用已有客户端。
func NewWithClient(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "openbobs:"
	}
	return &Store{client: client, prefix: prefix}
}

// Get 实现 storage.Store。
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if stdErrors.Is(err, goredis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 失败")
	}
	return value, nil
}

// Set 实现 storage.Store。值不设置过期时间。
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "存储键不能为空")
	}
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 Redis 失败")
	}
	return nil
}

// Close 关闭 Redis 连接。
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ storage.Store = (*Store)(nil)
