package app

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/esoms/internal/health"
	"github.com/vladislavdragonenkov/esoms/internal/storage/memory"
	"github.com/vladislavdragonenkov/esoms/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/esoms/internal/storage/redis"
	"github.com/vladislavdragonenkov/esoms/internal/storage/sqlite"
)

// runtimeDependencies: инфраструктура, выбранная конфигурацией: потоки событий,
// outbox, журнал хуков и проверки здоровья для них.
type runtimeDependencies struct {
	events  domain.EventStore
	outbox  domain.OutboxRepository
	ledger  domain.HookLedger
	checks  map[string]healthcheck.Checker
	closeFn func()
}

func (d *runtimeDependencies) close() {
	if d != nil && d.closeFn != nil {
		d.closeFn()
	}
}

func (d *runtimeDependencies) addCloser(fn func()) {
	prev := d.closeFn
	d.closeFn = func() {
		fn()
		if prev != nil {
			prev()
		}
	}
}

// initRuntimeDependencies открывает хранилище и журнал хуков согласно cfg.
// При ошибке всё, что успели открыть, закрывается.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (_ *runtimeDependencies, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps := &runtimeDependencies{checks: make(map[string]healthcheck.Checker)}
	defer func() {
		if err != nil {
			deps.close()
		}
	}()

	var pgStore *postgres.Store
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		outboxRepo := memory.NewOutboxRepository()
		deps.events = memory.NewEventStore(memory.WithOutbox(outboxRepo))
		deps.outbox = outboxRepo
		logger.Info("using in-memory event store")

	case StorageDriverPostgres:
		pgStore, err = postgres.Open(ctx, cfg.PostgresDSN, postgres.WithMaxConns(cfg.PostgresMaxConns))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		deps.addCloser(func() {
			if closeErr := pgStore.Close(); closeErr != nil {
				logger.WithError(closeErr).Warn("failed to close postgres store")
			}
		})
		if cfg.PostgresAutoMigrate {
			if err = pgStore.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}
		deps.events = postgres.NewEventStore(pgStore, postgres.WithTransactionalOutbox())
		deps.outbox = postgres.NewOutboxRepository(pgStore)
		deps.checks["storage"] = healthcheck.NewSimpleChecker("storage", pgStore.Ping)
		logger.Info("using postgres event store")

	case StorageDriverSQLite:
		sqliteStore, openErr := sqlite.Open(ctx, cfg.SQLitePath)
		if openErr != nil {
			return nil, fmt.Errorf("open sqlite: %w", openErr)
		}
		deps.addCloser(func() {
			if closeErr := sqliteStore.Close(); closeErr != nil {
				logger.WithError(closeErr).Warn("failed to close sqlite store")
			}
		})
		deps.events = sqlite.NewEventStore(sqliteStore, sqlite.WithTransactionalOutbox())
		deps.outbox = sqlite.NewOutboxRepository(sqliteStore)
		deps.checks["storage"] = healthcheck.NewSimpleChecker("storage", sqliteStore.Ping)
		logger.WithField("path", cfg.SQLitePath).Info("using sqlite event store")

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	switch cfg.HookLedgerDriver {
	case LedgerDriverMemory:
		deps.ledger = memory.NewHookLedger()

	case LedgerDriverPostgres:
		if pgStore == nil {
			return nil, errors.New("postgres hook ledger requires postgres storage")
		}
		deps.ledger = postgres.NewHookLedger(pgStore)

	case LedgerDriverRedis:
		client := goredis.NewUniversalClient(&goredis.UniversalOptions{Addrs: []string{cfg.RedisAddr}})
		deps.addCloser(func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.WithError(closeErr).Warn("failed to close redis client")
			}
		})
		if err = client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		deps.ledger = redisstore.NewHookLedger(client)
		deps.checks["hook_ledger"] = healthcheck.NewSimpleChecker("hook_ledger", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})

	default:
		return nil, fmt.Errorf("unsupported hook ledger driver %q", cfg.HookLedgerDriver)
	}

	logger.WithFields(log.Fields{
		"storage":     cfg.StorageDriver,
		"hook_ledger": cfg.HookLedgerDriver,
	}).Info("runtime dependencies initialized")
	return deps, nil
}
