package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const opTimeout = 5 * time.Second

// Store оборачивает файл SQLite с потоками событий.
type Store struct {
	db *sqlx.DB
}

// Open открывает базу, включает WAL и применяет миграции.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// Единственное соединение сериализует запись и исключает SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// DB возвращает sqlx-подключение.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// SchemaVersion возвращает применённую версию схемы.
func (s *Store) SchemaVersion(ctx context.Context) (string, error) {
	v, err := currentVersion(ctx, s.db)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// Ping проверяет доступность базы.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlite store is not initialized")
	}
	return s.db.PingContext(ctx)
}

// Close закрывает базу.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	// Оба драйвера возвращают текст ошибки SQLite без изменений.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nowNanos() int64 {
	return time.Now().UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
