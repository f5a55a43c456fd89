package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

var processStart = time.Now()

// Uptime reports how long the process has been running.
func Uptime() time.Duration {
	return time.Since(processStart)
}

// defaultGauges are refreshed by the background sampler.
type defaultGauges struct {
	uptime    prometheus.Gauge
	heapUsed  prometheus.Gauge
	heapTotal prometheus.Gauge
	lag       prometheus.Gauge

	registered []prometheus.Collector
	entries    []entry
}

// CollectDefaults registers the default process metrics and refreshes the
// sampled ones every interval until ctx is done. Go runtime and process
// collectors are read on every Render. A second call returns
// ErrAlreadyCollecting.
//
// A failed call leaves the registry as it found it, so it may be retried
// once the conflicting metric is gone.
func (r *Registry) CollectDefaults(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("collect defaults: interval %s must be positive", interval)
	}
	if !r.collecting.CompareAndSwap(false, true) {
		return ErrAlreadyCollecting
	}

	g, err := r.registerDefaultGauges()
	if err != nil {
		r.collecting.Store(false)
		return err
	}
	if err := r.registerCollectors(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	); err != nil {
		g.unregister(r)
		r.collecting.Store(false)
		return err
	}

	g.sample(0)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case tick := <-ticker.C:
				g.sample(time.Since(tick))
			case <-ctx.Done():
				slog.Debug("default metrics collection stopped")
				return
			}
		}
	}()
	return nil
}

func (r *Registry) registerDefaultGauges() (*defaultGauges, error) {
	g := &defaultGauges{}
	specs := []struct {
		dst  *prometheus.Gauge
		name string
		help string
	}{
		{&g.uptime, "process_uptime_seconds", "Time since the process started in seconds."},
		{&g.heapUsed, "runtime_heap_used_bytes", "Bytes of allocated heap objects."},
		{&g.heapTotal, "runtime_heap_total_bytes", "Bytes of heap memory obtained from the OS."},
		{&g.lag, "runtime_scheduler_lag_seconds", "Delay between a scheduled sample and the sampler running, in seconds."},
	}
	for _, s := range specs {
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: s.name, Help: s.help})
		e := entry{
			names:  []string{s.name},
			help:   s.help,
			typ:    "gauge",
			header: true,
		}
		if err := r.register(gauge, e); err != nil {
			g.unregister(r)
			return nil, err
		}
		*s.dst = gauge
		g.registered = append(g.registered, gauge)
		g.entries = append(g.entries, e)
	}
	return g, nil
}

func (g *defaultGauges) unregister(r *Registry) {
	for i, c := range g.registered {
		r.unregister(c, g.entries[i])
	}
	g.registered, g.entries = nil, nil
}

// registerCollectors adds collectors whose metric names are only known after
// a first gather. Their families are rendered in name order. Either every
// collector is added or none is.
func (r *Registry) registerCollectors(cs ...prometheus.Collector) error {
	scratch := prometheus.NewRegistry()
	for _, c := range cs {
		if err := scratch.Register(c); err != nil {
			return fmt.Errorf("register default collector: %w", err)
		}
	}
	fams, err := scratch.Gather()
	if err != nil {
		return fmt.Errorf("gather default collectors: %w", err)
	}
	var names, claimed []string
	for _, f := range fams {
		names = append(names, f.GetName())
		claimed = append(claimed, sampleNames(f.GetName(), familyType(f))...)
	}
	slices.Sort(names)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range claimed {
		if _, ok := r.names[name]; ok {
			return fmt.Errorf("default collector: %s is taken: %w", name, ErrDuplicateMetricName)
		}
	}
	for i, c := range cs {
		if err := r.reg.Register(c); err != nil {
			for _, done := range cs[:i] {
				r.reg.Unregister(done)
			}
			return fmt.Errorf("default collector: %w: %v", ErrDuplicateMetricName, err)
		}
	}
	for _, name := range claimed {
		r.names[name] = struct{}{}
	}
	r.entries = append(r.entries, entry{names: names, claimed: claimed})
	return nil
}

func familyType(f *dto.MetricFamily) string {
	switch f.GetType() {
	case dto.MetricType_HISTOGRAM, dto.MetricType_GAUGE_HISTOGRAM:
		return "histogram"
	case dto.MetricType_SUMMARY:
		return "summary"
	}
	return ""
}

func (g *defaultGauges) sample(lag time.Duration) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	g.uptime.Set(Uptime().Seconds())
	g.heapUsed.Set(float64(ms.HeapAlloc))
	g.heapTotal.Set(float64(ms.HeapSys))
	g.lag.Set(max(lag, 0).Seconds())
}
