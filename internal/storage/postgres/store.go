// Package postgres хранит потоки событий, outbox и журнал хуков в PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const pingTimeout = 5 * time.Second

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// Store: пул подключений database/sql поверх драйвера pgx.
type Store struct {
	db *sql.DB
}

type poolConfig struct {
	maxConns    int
	maxLifetime time.Duration
	maxIdleTime time.Duration
}

// Option настраивает пул подключений.
type Option func(*poolConfig)

// WithMaxConns ограничивает число открытых соединений; столько же держится в простое.
func WithMaxConns(n int) Option {
	return func(c *poolConfig) {
		if n > 0 {
			c.maxConns = n
		}
	}
}

func WithConnLifetime(maxLifetime, maxIdle time.Duration) Option {
	return func(c *poolConfig) {
		if maxLifetime > 0 {
			c.maxLifetime = maxLifetime
		}
		if maxIdle > 0 {
			c.maxIdleTime = maxIdle
		}
	}
}

// Open подключается по dsn и проверяет доступность базы.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg := poolConfig{maxConns: 25, maxLifetime: 30 * time.Minute, maxIdleTime: 5 * time.Minute}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.maxConns)
	db.SetMaxIdleConns(cfg.maxConns)
	db.SetConnMaxLifetime(cfg.maxLifetime)
	db.SetConnMaxIdleTime(cfg.maxIdleTime)

	s := &Store{db: db}
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return s, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping используется health-проверкой хранилища.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// EnsureSchema накатывает все недостающие миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
