package platform

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"obsdemo/internal/metrics"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDemoCfg = DemoConfig{
	Version:      "1.0.0",
	ErrorRate:    0.1,
	LoadDuration: 100 * time.Millisecond,
}

type testApp struct {
	reg     *metrics.Registry
	handler http.Handler
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	reg := metrics.NewRegistry()
	rm, err := NewRequestMetrics(reg)
	require.NoError(t, err)
	require.NoError(t, reg.CollectDefaults(ctx, 5*time.Second))
	return &testApp{reg: reg, handler: NewRouter(reg, rm, testDemoCfg)}
}

func (a *testApp) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func (a *testApp) render(t *testing.T) string {
	t.Helper()
	body, err := a.reg.Render()
	require.NoError(t, err)
	return string(body)
}

// sampleValue returns the value of the exposition line for series, or -1 if
// the series is absent.
func sampleValue(t *testing.T, exposition, series string) float64 {
	t.Helper()
	sc := bufio.NewScanner(strings.NewReader(exposition))
	for sc.Scan() {
		if rest, ok := strings.CutPrefix(sc.Text(), series+" "); ok {
			v, err := strconv.ParseFloat(rest, 64)
			require.NoError(t, err)
			return v
		}
	}
	return -1
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var v map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func validate(t *testing.T, schema string, body []byte) {
	t.Helper()
	sch := jsonschema.MustCompileString("schema.json", schema)
	var v any
	require.NoError(t, json.Unmarshal(body, &v))
	assert.NoError(t, sch.Validate(v))
}

func TestRoot(t *testing.T) {
	app := newTestApp(t)
	rec := app.get(t, "/")

	require.Equal(t, http.StatusOK, rec.Code)
	validate(t, `{
		"type": "object",
		"required": ["message", "timestamp", "version"],
		"properties": {
			"message": {"type": "string", "minLength": 1},
			"timestamp": {"type": "string"},
			"version": {"const": "1.0.0"}
		}
	}`, rec.Body.Bytes())

	body := decodeJSON(t, rec)
	_, err := time.Parse(time.RFC3339, body["timestamp"].(string))
	assert.NoError(t, err)
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)
	rec := app.get(t, "/health")

	require.Equal(t, http.StatusOK, rec.Code)
	validate(t, `{
		"type": "object",
		"required": ["status", "uptime", "memory"],
		"properties": {
			"status": {"const": "healthy"},
			"uptime": {"type": "number", "minimum": 0},
			"memory": {
				"type": "object",
				"required": ["rss", "heapTotal", "heapUsed", "external"],
				"properties": {
					"rss": {"type": "number", "exclusiveMinimum": 0},
					"heapTotal": {"type": "number", "minimum": 0},
					"heapUsed": {"type": "number", "minimum": 0},
					"external": {"type": "number", "minimum": 0}
				}
			},
			"instance": {"type": "string", "minLength": 1}
		}
	}`, rec.Body.Bytes())
}

func TestMetrics_BeforeAnyRequest(t *testing.T) {
	app := newTestApp(t)
	rec := app.get(t, "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, metrics.ContentType(), rec.Header().Get("Content-Type"))

	out := rec.Body.String()
	assert.Contains(t, out, "# TYPE http_requests_total counter\n")
	assert.Contains(t, out, "# TYPE http_request_duration_seconds histogram\n")
	assert.Contains(t, out, "# TYPE process_uptime_seconds gauge\n")
	assert.Contains(t, out, "# TYPE go_goroutines gauge\n")
	assert.NotContains(t, out, "http_requests_total{")
	assert.NotContains(t, out, "http_request_duration_seconds_count{")

	// The scrape itself is recorded once it has completed.
	assert.Equal(t, 1.0, sampleValue(t, app.render(t), `http_requests_total{method="GET",route="/metrics",status_code="200"}`))
}

func TestRandom_ErrorRate(t *testing.T) {
	const calls = 10000

	app := newTestApp(t)
	failures := 0
	for i := 0; i < calls; i++ {
		rec := app.get(t, "/random")
		switch rec.Code {
		case http.StatusOK:
		case http.StatusInternalServerError:
			failures++
		default:
			t.Fatalf("unexpected status %d", rec.Code)
		}
	}

	// p = 0.1 gives a standard deviation of 30 failures; allow about 6.5 of them.
	assert.InDelta(t, calls/10, failures, 200)

	out := app.render(t)
	assert.Equal(t, float64(failures), sampleValue(t, out, `http_requests_total{method="GET",route="/random",status_code="500"}`))
	assert.Equal(t, float64(calls-failures), sampleValue(t, out, `http_requests_total{method="GET",route="/random",status_code="200"}`))
	assert.Equal(t, float64(calls), sampleValue(t, out, `http_request_duration_seconds_count{method="GET",route="/random"}`))
}

func TestRandom_Outcomes(t *testing.T) {
	t.Run("draw below rate fails", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Random(0.1, func() float64 { return 0.05 })(rec, httptest.NewRequest(http.MethodGet, "/random", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, map[string]any{"error": "Random error occurred"}, decodeJSON(t, rec))
	})

	t.Run("draw at rate succeeds", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Random(0.1, func() float64 { return 0.1 })(rec, httptest.NewRequest(http.MethodGet, "/random", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeJSON(t, rec)
		assert.Equal(t, 0.1, body["random"])
		assert.NotEmpty(t, body["timestamp"])
	})
}

func TestLoad(t *testing.T) {
	app := newTestApp(t)

	start := time.Now()
	rec := app.get(t, "/load")
	elapsed := time.Since(start)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, "Load test completed", body["message"])
	assert.GreaterOrEqual(t, body["duration"].(float64), 100.0)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)

	assert.GreaterOrEqual(t, sampleValue(t, app.render(t), `http_request_duration_seconds_sum{method="GET",route="/load"}`), 0.1)
}
