package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/esoms/internal/health"
	"github.com/vladislavdragonenkov/esoms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/esoms/internal/metrics"
	"github.com/vladislavdragonenkov/esoms/internal/service/hookledger"
	"github.com/vladislavdragonenkov/esoms/internal/service/outbox"
	"github.com/vladislavdragonenkov/esoms/internal/version"
)

const (
	grpcStopTimeout  = 5 * time.Second
	hookDrainTimeout = 10 * time.Second
)

// Run поднимает сервис заказов и блокируется до отмены ctx или фатальной ошибки
// одного из компонентов. При отмене ctx возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	wm := metrics.NewWorkflowMetrics()
	svc, err := newRuntimeServices(cfg, deps, wm, logger)
	if err != nil {
		return err
	}

	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		producer = nil
	}
	defer closeKafka(producer, logger)

	healthHandler := newHealthHandler(cfg, deps)

	grpcServer, healthServer := newGRPCServer(logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	httpSrv, httpErrCh, _, err := startHTTPServer(cfg.MetricsAddr, newHTTPRouter(healthHandler, newOrderAPI(svc, logger)), logger)
	if err != nil {
		_ = lis.Close()
		return fmt.Errorf("listen http: %w", err)
	}

	outboxWorker := newOutboxWorker(cfg, deps, producer, logger)
	cleanupWorker := hookledger.NewCleanupWorker(deps.ledger,
		hookledger.WithLogger(logger.WithField("component", "hook-ledger-cleanup")),
		hookledger.WithInterval(cfg.HookLedgerCleanupInterval),
		hookledger.WithBatchSize(cfg.HookLedgerCleanupBatchSize),
	)

	var consumer *kafka.Consumer
	if producer != nil {
		consumer, err = startKitchenConsumer(ctx, cfg, producer, svc.orchestration, logger.WithField("component", "kitchen-consumer"))
		if err != nil {
			logger.WithError(err).Warn("failed to start kitchen consumer, continuing without it")
			consumer = nil
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		if serveErr := grpcServer.Serve(lis); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", serveErr)
		}
		return nil
	})
	g.Go(func() error {
		if serveErr, ok := <-httpErrCh; ok {
			return fmt.Errorf("http server: %w", serveErr)
		}
		return nil
	})
	g.Go(func() error {
		outboxWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		cleanupWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем сервисы")

		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		shutdownHTTP(httpSrv, logger)
		if consumer != nil {
			if stopErr := consumer.Stop(); stopErr != nil {
				logger.WithError(stopErr).Warn("failed to stop kitchen consumer")
			}
		}

		drainCtx, cancel := context.WithTimeout(context.Background(), hookDrainTimeout)
		defer cancel()
		if closeErr := svc.engine.Close(drainCtx); closeErr != nil {
			logger.WithError(closeErr).Warn("async hooks did not finish in time")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// newHealthHandler регистрирует проверки хранилища, журнала хуков и backlog outbox.
func newHealthHandler(cfg Config, deps *runtimeDependencies) *healthcheck.Handler {
	h := healthcheck.NewHandler(version.Current().Version)
	for name, checker := range deps.checks {
		h.RegisterChecker(name, checker)
	}
	h.RegisterChecker("outbox", healthcheck.NewThresholdChecker("outbox", float64(cfg.OutboxMaxPending), func(ctx context.Context) (float64, error) {
		stats, err := deps.outbox.Stats(ctx)
		if err != nil {
			return 0, err
		}
		return float64(stats.PendingCount), nil
	}))
	return h
}

func newOutboxWorker(cfg Config, deps *runtimeDependencies, producer *kafka.Producer, logger *log.Entry) *outbox.Worker {
	workerLogger := logger.WithField("component", "outbox-worker")
	opts := []outbox.Option{
		outbox.WithLogger(workerLogger),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if dlq := dlqPublisher(producer); dlq != nil {
		opts = append(opts, outbox.WithDLQPublisher(dlq))
	}
	return outbox.NewWorker(deps.outbox, outboxPublisher(producer, workerLogger), opts...)
}

// newGRPCServer создаёт gRPC сервер с health, reflection и prometheus-интерсепторами.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// reflection нужен grpcurl и инструментам нагрузочного тестирования
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

// stopGRPC выполняет GracefulStop, а по таймауту: принудительный Stop.
func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(grpcStopTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}
