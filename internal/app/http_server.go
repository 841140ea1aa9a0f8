package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/esoms/internal/health"
)

const httpShutdownTimeout = 5 * time.Second

// newHTTPRouter собирает служебные маршруты и, если api не nil, командный API заказов.
func newHTTPRouter(healthHandler *healthcheck.Handler, api *orderAPI) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/healthz", healthHandler)
	r.Get("/livez", healthcheck.LivenessHandler)
	r.Get("/readyz", healthHandler.ReadinessHandler)

	if api != nil {
		r.Route("/api/v1/orders", api.routes)
	}
	return r
}

// startHTTPServer слушает addr и обслуживает handler до вызова shutdownHTTP.
// Адрес :0 допустим: фактический адрес возвращается вторым значением.
func startHTTPServer(addr string, handler http.Handler, logger *log.Entry) (*http.Server, <-chan error, string, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, "", err
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", lis.Addr())
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", lis.Addr(), lis.Addr(), lis.Addr())
		if serveErr := srv.Serve(lis); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
		close(errCh)
	}()
	return srv, errCh, lis.Addr().String(), nil
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
