// Package sqlstore implements storage.Store on top of database/sql. The MySQL
// and SQLite drivers share it and differ only in their Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"time"

	xerrors "OpenBoBS/internal/errors"
	"OpenBoBS/internal/storage"
)

// Dialect carries the driver specific statements. Migrations names the
// directory under migrations/ holding the versioned schema files.
type Dialect struct {
	Name            string
	Migrations      string
	MigrationsTable string
	Upsert          string
}

// MySQL targets github.com/go-sql-driver/mysql.
var MySQL = Dialect{
	Name:       "mysql",
	Migrations: "mysql",
	MigrationsTable: `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`,
	Upsert: `INSERT INTO kv_store (store_key, payload, updated_at) VALUES (?, ?, ?)
        ON DUPLICATE KEY UPDATE payload = VALUES(payload), updated_at = VALUES(updated_at)`,
}

// SQLite targets modernc.org/sqlite.
var SQLite = Dialect{
	Name:       "sqlite",
	Migrations: "sqlite",
	MigrationsTable: `CREATE TABLE IF NOT EXISTS schema_migrations (
        version TEXT NOT NULL PRIMARY KEY,
        applied_at INTEGER NOT NULL
)`,
	Upsert: `INSERT INTO kv_store (store_key, payload, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(store_key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
}

// Store 使用单表保存键值数据。
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// New 执行尚未应用的迁移并返回 Store。db 的所有权转移给 Store。
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "数据库连接未初始化")
	}
	s := &Store{db: db, dialect: dialect, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 kv_store 表失败",
			xerrors.WithMetadata("driver", dialect.Name))
	}
	return s, nil
}

// Get 实现 storage.Store。
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM kv_store WHERE store_key = ?`, key).Scan(&payload)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 kv_store 失败",
			xerrors.WithMetadata("driver", s.dialect.Name))
	}
	return []byte(payload), nil
}

// Set 实现 storage.Store。
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "存储键不能为空")
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.Upsert, key, string(value), s.now().Unix()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 kv_store 失败",
			xerrors.WithMetadata("driver", s.dialect.Name))
	}
	return nil
}

// Close 关闭底层连接池。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ storage.Store = (*Store)(nil)
