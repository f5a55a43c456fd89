package platform

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"obsdemo/internal/metrics"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

func timestamp() string {
	return time.Now().UTC().Format(timestampLayout)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "err", err)
	}
}

// Root returns a greeting with the service version.
func Root(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message":   "Hello from Go observability demo!",
			"timestamp": timestamp(),
			"version":   version,
		})
	}
}

// Health reports process uptime and memory usage.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"uptime":   metrics.Uptime().Seconds(),
		"memory":   ReadMemoryUsage(),
		"instance": InstanceID(),
	})
}

// Metrics serves the registry's text exposition.
func Metrics(reg *metrics.Registry) http.HandlerFunc {
	return reg.Handler().ServeHTTP
}

// Random fails with a 500 whenever draw returns a value below errorRate.
// A nil draw uses math/rand.
func Random(errorRate float64, draw func() float64) http.HandlerFunc {
	if draw == nil {
		draw = rand.Float64
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if draw() < errorRate {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Random error occurred"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"random":    draw(),
			"timestamp": timestamp(),
		})
	}
}

// Load spins on the handling goroutine for at least d before answering,
// simulating a CPU-bound handler. The reported duration is in milliseconds.
func Load(d time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		for time.Since(start) < d {
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message":  "Load test completed",
			"duration": time.Since(start).Milliseconds(),
		})
	}
}
