package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"obsdemo/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the demonstration routes behind the request instrumentation.
func NewRouter(reg *metrics.Registry, rm *RequestMetrics, demo DemoConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	// Instrumentation wraps Recoverer so recovered panics are counted as 500s.
	r.Use(rm.Middleware)
	r.Use(middleware.Recoverer)

	r.Get("/", Root(demo.Version))
	r.Get("/health", Health)
	r.Get("/metrics", Metrics(reg))
	r.Get("/random", Random(demo.ErrorRate, nil))
	r.Get("/load", Load(demo.LoadDuration))

	return r
}

// RunHTTPServer starts an HTTP server and returns a channel that will receive
// an error when the server exits (gracefully or not).
func RunHTTPServer(ctx context.Context, handler http.Handler, cfg HTTPServerConfig) <-chan error {
	errCh := make(chan error, 2)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		// wait for context cancellation then shutdown
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errCh <- err
			return
		}
		errCh <- ctx.Err()
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	return errCh
}
