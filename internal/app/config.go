package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Драйверы хранилища потоков событий.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
	StorageDriverSQLite   = "sqlite"
)

// Драйверы журнала выполнения хуков.
const (
	LedgerDriverMemory   = "memory"
	LedgerDriverRedis    = "redis"
	LedgerDriverPostgres = "postgres"
)

// EnvPrefix: префикс переменных окружения (OMS_STORAGE_DRIVER и т.д.).
const EnvPrefix = "OMS"

// Config описывает настройки запуска приложения.
type Config struct {
	GRPCAddr    string `envconfig:"GRPC_ADDR"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`

	StorageDriver       string `envconfig:"STORAGE_DRIVER"`
	PostgresDSN         string `envconfig:"POSTGRES_DSN"`
	PostgresAutoMigrate bool   `envconfig:"POSTGRES_AUTO_MIGRATE"`
	PostgresMaxConns    int    `envconfig:"POSTGRES_MAX_CONNS"`
	SQLitePath          string `envconfig:"SQLITE_PATH"`

	KafkaBrokers       []string `envconfig:"KAFKA_BROKERS"`
	KafkaGroupID       string   `envconfig:"KAFKA_GROUP_ID"`
	KafkaKitchenTopic  string   `envconfig:"KAFKA_KITCHEN_TOPIC"`
	KafkaConsumerRetry int      `envconfig:"KAFKA_CONSUMER_RETRIES"`

	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE"`
	OutboxMaxAttempts  int           `envconfig:"OUTBOX_MAX_ATTEMPTS"`
	OutboxRetryDelay   time.Duration `envconfig:"OUTBOX_RETRY_DELAY"`
	// OutboxMaxPending: порог backlog, после которого /healthz отвечает degraded.
	OutboxMaxPending int `envconfig:"OUTBOX_MAX_PENDING"`

	HookLedgerDriver           string        `envconfig:"HOOK_LEDGER_DRIVER"`
	RedisAddr                  string        `envconfig:"REDIS_ADDR"`
	HookLedgerTTL              time.Duration `envconfig:"HOOK_LEDGER_TTL"`
	HookLedgerCleanupInterval  time.Duration `envconfig:"HOOK_LEDGER_CLEANUP_INTERVAL"`
	HookLedgerCleanupBatchSize int           `envconfig:"HOOK_LEDGER_CLEANUP_BATCH_SIZE"`

	AsyncHooks          bool          `envconfig:"ASYNC_HOOKS"`
	CircuitMaxFailures  int           `envconfig:"CIRCUIT_MAX_FAILURES"`
	CircuitResetTimeout time.Duration `envconfig:"CIRCUIT_RESET_TIMEOUT"`

	LogLevel  string `envconfig:"LOG_LEVEL"`
	LogFormat string `envconfig:"LOG_FORMAT"`
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:                   ":50051",
		MetricsAddr:                ":9090",
		StorageDriver:              StorageDriverMemory,
		PostgresAutoMigrate:        true,
		PostgresMaxConns:           25,
		SQLitePath:                 "esoms.db",
		KafkaGroupID:               "esoms-order-service",
		KafkaKitchenTopic:          "oms.kitchen.updates",
		KafkaConsumerRetry:         3,
		OutboxPollInterval:         time.Second,
		OutboxBatchSize:            100,
		OutboxMaxAttempts:          3,
		OutboxRetryDelay:           100 * time.Millisecond,
		OutboxMaxPending:           1000,
		HookLedgerDriver:           LedgerDriverMemory,
		RedisAddr:                  "localhost:6379",
		HookLedgerTTL:              24 * time.Hour,
		HookLedgerCleanupInterval:  10 * time.Minute,
		HookLedgerCleanupBatchSize: 500,
		CircuitMaxFailures:         5,
		CircuitResetTimeout:        30 * time.Second,
		LogLevel:                   "info",
		LogFormat:                  "text",
	}
}

// LoadConfig читает переменные окружения OMS_* поверх значений по умолчанию.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.KafkaBrokers = normalizeBrokers(cfg.KafkaBrokers)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("OMS_POSTGRES_DSN is required for %s storage", StorageDriverPostgres)
		}
	case StorageDriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("OMS_SQLITE_PATH is required for %s storage", StorageDriverSQLite)
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}

	switch c.HookLedgerDriver {
	case LedgerDriverMemory:
	case LedgerDriverRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("OMS_REDIS_ADDR is required for %s hook ledger", LedgerDriverRedis)
		}
	case LedgerDriverPostgres:
		if c.StorageDriver != StorageDriverPostgres {
			return fmt.Errorf("%s hook ledger requires %s storage", LedgerDriverPostgres, StorageDriverPostgres)
		}
	default:
		return fmt.Errorf("unsupported hook ledger driver %q", c.HookLedgerDriver)
	}

	if c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 || c.OutboxPollInterval <= 0 {
		return fmt.Errorf("outbox batch size, max attempts and poll interval must be positive")
	}
	return nil
}

// KafkaEnabled возвращает true, если заданы брокеры.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func normalizeBrokers(raw []string) []string {
	brokers := make([]string, 0, len(raw))
	for _, b := range raw {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
