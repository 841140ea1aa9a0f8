package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/urfave/cli/v2"

	"github.com/vladislavdragonenkov/esoms/internal/storage/postgres"
	"github.com/vladislavdragonenkov/esoms/internal/storage/sqlite"
)

const (
	defaultTimeout = 30 * time.Second
)

// migrator: общий интерфейс миграций для поддерживаемых хранилищ.
type migrator interface {
	Up(ctx context.Context, steps int) error
	Down(ctx context.Context, steps int) error
	Status(ctx context.Context) (string, error)
	Close() error
}

type postgresMigrator struct {
	store *postgres.Store
}

func (m postgresMigrator) Up(ctx context.Context, steps int) error {
	return m.store.MigrateUp(ctx, steps)
}

func (m postgresMigrator) Down(ctx context.Context, steps int) error {
	return m.store.MigrateDown(ctx, steps)
}

func (m postgresMigrator) Status(ctx context.Context) (string, error) {
	version, count, err := m.store.MigrationStatus(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("version=%d applied=%d", version, count), nil
}

func (m postgresMigrator) Close() error { return m.store.Close() }

// sqliteMigrator применяет миграции пошагово по семантическим версиям.
// Для up параметр steps не поддерживается: применяются все недостающие миграции.
type sqliteMigrator struct {
	db *sqlx.DB
}

func (m sqliteMigrator) Up(ctx context.Context, _ int) error {
	return sqlite.ApplyMigrations(ctx, m.db)
}

func (m sqliteMigrator) Down(ctx context.Context, steps int) error {
	for i := 0; i < steps; i++ {
		if err := sqlite.RollbackMigration(ctx, m.db); err != nil {
			return err
		}
	}
	return nil
}

func (m sqliteMigrator) Status(ctx context.Context) (string, error) {
	v, err := sqlite.SchemaVersionOf(ctx, m.db)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("version=%s latest=%s driver=%s", v, sqlite.CurrentSchemaVersion, sqlite.BuildMode), nil
}

func (m sqliteMigrator) Close() error { return m.db.Close() }

type options struct {
	driver     string
	dsn        string
	sqlitePath string
	steps      int
	timeout    time.Duration
}

type openFunc func(ctx context.Context, opts options) (migrator, error)

func openMigrator(ctx context.Context, opts options) (migrator, error) {
	switch opts.driver {
	case "postgres":
		store, err := postgres.Open(ctx, opts.dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return postgresMigrator{store: store}, nil
	case "sqlite":
		db, err := sqlx.Open(sqlite.DriverName, opts.sqlitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		db.SetMaxOpenConns(1)
		return sqliteMigrator{db: db}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s (use postgres|sqlite)", opts.driver)
	}
}

func main() {
	if err := newApp(openMigrator, os.Stdout).Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(open openFunc, out io.Writer) *cli.App {
	run := func(apply func(ctx context.Context, m migrator, opts options) error, label string) cli.ActionFunc {
		return func(c *cli.Context) error {
			opts, err := optionsFromCLI(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context, opts.timeout)
			defer cancel()

			m, err := open(ctx, opts)
			if err != nil {
				return err
			}
			defer m.Close()

			if err := apply(ctx, m, opts); err != nil {
				return fmt.Errorf("%s failed: %w", label, err)
			}
			status, err := m.Status(ctx)
			if err != nil {
				return fmt.Errorf("migration status failed: %w", err)
			}
			_, _ = fmt.Fprintf(out, "%s ok: %s\n", label, status)
			return nil
		}
	}

	return &cli.App{
		Name:  "migrate",
		Usage: "apply or roll back event store schema migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "driver", Value: "postgres", EnvVars: []string{"OMS_STORAGE_DRIVER"}, Usage: "storage driver: postgres|sqlite"},
			&cli.StringFlag{Name: "dsn", EnvVars: []string{"OMS_POSTGRES_DSN"}, Usage: "PostgreSQL DSN"},
			&cli.StringFlag{Name: "sqlite-path", EnvVars: []string{"OMS_SQLITE_PATH"}, Usage: "SQLite database file"},
			&cli.IntFlag{Name: "steps", Usage: "number of migrations to apply/rollback (0=all for up, 1 for down)"},
			&cli.DurationFlag{Name: "timeout", Value: defaultTimeout, Usage: "overall timeout"},
		},
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply pending migrations",
				Action: run(func(ctx context.Context, m migrator, opts options) error {
					return m.Up(ctx, opts.steps)
				}, "migrate up"),
			},
			{
				Name:  "down",
				Usage: "roll back applied migrations",
				Action: run(func(ctx context.Context, m migrator, opts options) error {
					steps := opts.steps
					if steps <= 0 {
						steps = 1
					}
					return m.Down(ctx, steps)
				}, "migrate down"),
			},
			{
				Name:  "status",
				Usage: "print the applied schema version",
				Action: run(func(context.Context, migrator, options) error {
					return nil
				}, "migration status"),
			},
		},
	}
}

func optionsFromCLI(c *cli.Context) (options, error) {
	opts := options{
		driver:     strings.ToLower(strings.TrimSpace(c.String("driver"))),
		dsn:        strings.TrimSpace(c.String("dsn")),
		sqlitePath: strings.TrimSpace(c.String("sqlite-path")),
		steps:      c.Int("steps"),
		timeout:    c.Duration("timeout"),
	}

	switch opts.driver {
	case "postgres":
		if opts.dsn == "" {
			return options{}, fmt.Errorf("OMS_POSTGRES_DSN (or --dsn) is required")
		}
	case "sqlite":
		if opts.sqlitePath == "" {
			return options{}, fmt.Errorf("OMS_SQLITE_PATH (or --sqlite-path) is required")
		}
	default:
		return options{}, fmt.Errorf("unsupported driver: %s (use postgres|sqlite)", opts.driver)
	}
	if opts.steps < 0 {
		return options{}, fmt.Errorf("steps must be >= 0")
	}
	if opts.timeout <= 0 {
		return options{}, fmt.Errorf("timeout must be > 0")
	}
	return opts, nil
}
