// Command order-service поднимает сервис заказов: хранилище событий, outbox,
// консьюмер кухни и служебные HTTP/gRPC-эндпоинты.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/esoms/internal/app"
	"github.com/vladislavdragonenkov/esoms/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.WithError(err).Fatal("order-service stopped with error")
	}
	log.Info("order-service stopped")
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	build := version.Current()
	entry := log.WithFields(startupFields(cfg, build))
	if _, ok := build.Semver(); !ok {
		entry.Warn("версия сборки не semver, запуск dev-сборки")
	}
	entry.Info("order-service starting")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadConfig читает OMS_* и сразу применяет настройки логирования.
func loadConfig() (app.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return app.Config{}, err
	}
	if err := app.ConfigureLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		return app.Config{}, err
	}
	return cfg, nil
}

func startupFields(cfg app.Config, build version.Build) log.Fields {
	return log.Fields{
		"version":     build.Version,
		"commit":      build.Commit,
		"storage":     cfg.StorageDriver,
		"hook_ledger": cfg.HookLedgerDriver,
		"kafka":       cfg.KafkaEnabled(),
		"grpc_addr":   cfg.GRPCAddr,
		"ops_addr":    cfg.MetricsAddr,
	}
}
