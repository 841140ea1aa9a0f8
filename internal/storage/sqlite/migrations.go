package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/jmoiron/sqlx"
)

// CurrentSchemaVersion: версия схемы после применения всех миграций.
const CurrentSchemaVersion = "1.1.0"

// Migration: шаг схемы с семантической версией.
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations: миграции в порядке применения.
var AllMigrations = []Migration{
	{Version: "1.0.0", Up: migrationEventStreamsUp, Down: migrationEventStreamsDown},
	{Version: "1.1.0", Up: migrationOutboxUp, Down: migrationOutboxDown},
}

const schemaVersionDDL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
);`

const migrationEventStreamsUp = `
CREATE TABLE IF NOT EXISTS event_streams (
    stream_id   TEXT    NOT NULL,
    version     INTEGER NOT NULL CHECK (version >= 0),
    event_id    TEXT    NOT NULL UNIQUE,
    event_type  TEXT    NOT NULL,
    event_data  BLOB    NOT NULL,
    recorded_at INTEGER NOT NULL,
    PRIMARY KEY (stream_id, version)
);

CREATE INDEX IF NOT EXISTS idx_event_streams_event_type ON event_streams(event_type);
`

const migrationEventStreamsDown = `DROP TABLE IF EXISTS event_streams;`

const migrationOutboxUp = `
CREATE TABLE IF NOT EXISTS outbox_messages (
    seq            INTEGER PRIMARY KEY AUTOINCREMENT,
    id             TEXT    NOT NULL UNIQUE,
    aggregate_type TEXT    NOT NULL,
    aggregate_id   TEXT    NOT NULL,
    event_type     TEXT    NOT NULL,
    stream_version INTEGER NOT NULL DEFAULT 0,
    payload        BLOB    NOT NULL,
    status         TEXT    NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'sent', 'failed')),
    attempt_count  INTEGER NOT NULL DEFAULT 0,
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outbox_messages_status ON outbox_messages(status, seq);
`

const migrationOutboxDown = `DROP TABLE IF EXISTS outbox_messages;`

// ApplyMigrations применяет миграции, версия которых выше текущей.
func ApplyMigrations(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schemaVersionDDL); err != nil {
		return fmt.Errorf("ensure schema_version table: %w", err)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range AllMigrations {
		target, err := semver.NewVersion(m.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", m.Version, err)
		}
		if !current.LessThan(target) {
			continue
		}

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.Up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			m.Version, nowNanos(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.Version, err)
		}

		current = target
	}

	return nil
}

// RollbackMigration откатывает последнюю применённую миграцию.
func RollbackMigration(ctx context.Context, db *sqlx.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return nil
	}

	for i := len(AllMigrations) - 1; i >= 0; i-- {
		m := AllMigrations[i]
		if !semver.MustParse(m.Version).Equal(current) {
			continue
		}

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin rollback %s: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.Down); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("rollback migration %s: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", m.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("unrecord migration %s: %w", m.Version, err)
		}
		return tx.Commit()
	}

	return fmt.Errorf("migration %s is not known", current)
}

// SchemaVersionOf возвращает применённую версию схемы; для пустой базы: 0.0.0.
func SchemaVersionOf(ctx context.Context, db *sqlx.DB) (string, error) {
	if _, err := db.ExecContext(ctx, schemaVersionDDL); err != nil {
		return "", fmt.Errorf("ensure schema_version table: %w", err)
	}
	v, err := currentVersion(ctx, db)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

func currentVersion(ctx context.Context, db *sqlx.DB) (*semver.Version, error) {
	var versions []string
	if err := db.SelectContext(ctx, &versions, "SELECT version FROM schema_version"); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return semver.MustParse("0.0.0"), nil
		}
		return nil, fmt.Errorf("read schema_version: %w", err)
	}

	// Сравниваем семантически: строковая сортировка ставит 1.10.0 перед 1.9.0.
	current := semver.MustParse("0.0.0")
	for _, raw := range versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", raw, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, nil
}
