package platform

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"obsdemo/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RequestMetrics holds the instruments updated for every HTTP request.
type RequestMetrics struct {
	Requests *metrics.Counter
	Duration *metrics.Histogram
}

// NewRequestMetrics registers the request counter and duration histogram.
func NewRequestMetrics(reg *metrics.Registry) (*RequestMetrics, error) {
	requests, err := reg.NewCounter("http_requests_total", "Total HTTP requests",
		[]string{"method", "route", "status_code"})
	if err != nil {
		return nil, err
	}
	// status_code is left out to bound the number of histogram series.
	duration, err := reg.NewHistogram("http_request_duration_seconds", "HTTP request duration in seconds",
		[]string{"method", "route"}, nil)
	if err != nil {
		return nil, err
	}
	return &RequestMetrics{Requests: requests, Duration: duration}, nil
}

// Middleware measures every request once it has completed, including requests
// whose handler panicked. Recording failures are logged and never reach the
// client.
func (m *RequestMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t0 := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			rec := recover()
			status := ww.Status()
			switch {
			case rec != nil:
				status = http.StatusInternalServerError
			case status == 0:
				status = http.StatusOK
			}
			m.record(r, status, time.Since(t0))
			if rec != nil {
				panic(rec)
			}
		}()

		next.ServeHTTP(ww, r)
	})
}

func (m *RequestMetrics) record(r *http.Request, status int, duration time.Duration) {
	route := routeLabel(r)
	if err := m.Requests.Inc(metrics.Labels{
		"method":      r.Method,
		"route":       route,
		"status_code": strconv.Itoa(status),
	}); err != nil {
		slog.Warn("record request count", "route", route, "err", err)
	}
	if err := m.Duration.Observe(metrics.Labels{
		"method": r.Method,
		"route":  route,
	}, duration.Seconds()); err != nil {
		slog.Warn("record request duration", "route", route, "err", err)
	}
	slog.Info("http", "method", r.Method, "path", r.URL.Path, "route", route, "status", status, "duration", duration)
}

// routeLabel prefers the matched route pattern and falls back to the raw path
// for requests that matched no route.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
