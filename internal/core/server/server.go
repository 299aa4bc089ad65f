package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/heatstress-map/internal/core/health"
	middleware "github.com/mohammed-shakir/heatstress-map/internal/core/middleware"
	"github.com/mohammed-shakir/heatstress-map/internal/core/router"
)

// Handler builds the full route tree: probes, metrics and the session API.
func Handler(logger *slog.Logger, api *router.API, ready health.ReadinessReporter, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS(http.MethodGet, http.MethodPost, http.MethodPut))

	r.Get("/healthz", health.Liveness())
	if ready != nil {
		r.Get("/readyz", health.Readiness(ready))
	}
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	api.Mount(r)
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, addr string, logger *slog.Logger, h http.Handler) error {
	// no WriteTimeout: the event stream stays open for the session lifetime
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
