// Package metrics holds the process-wide metric instruments and renders them
// in the Prometheus text exposition format.
//
// Instruments are stored in prometheus collectors on a private registry. The
// package adds strict label checking and a deterministic exposition order:
// metrics appear in registration order and the series of a metric appear in
// the order they were first observed.
package metrics

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrDuplicateMetricName = errors.New("duplicate metric name")
	ErrLabelMismatch       = errors.New("label set does not match declared label names")
	ErrInvalidObservation  = errors.New("invalid observation")
	ErrInvalidBuckets      = errors.New("histogram buckets must be strictly increasing")
	ErrAlreadyCollecting   = errors.New("default metrics are already being collected")
)

// DefaultBuckets is the ladder used by histograms created without explicit
// bucket boundaries, in seconds.
var DefaultBuckets = prometheus.DefBuckets

// Labels maps declared label names to the values of a single observation.
type Labels map[string]string

// Option configures a Registry.
type Option func(*Registry)

// WithNamespace prefixes every instrument name created through the registry
// with namespace and an underscore. Default metrics are never prefixed.
func WithNamespace(namespace string) Option {
	return func(r *Registry) {
		r.namespace = namespace
	}
}

// Registry owns every instrument of the process.
type Registry struct {
	namespace string
	reg       *prometheus.Registry

	mu      sync.Mutex
	names   map[string]struct{}
	entries []entry

	collecting atomic.Bool
}

// entry is one registration, in the order it happened.
type entry struct {
	names []string
	help  string
	typ   string
	// header reports whether HELP/TYPE lines are written even when the
	// metric has no series yet.
	header bool
	order  *series
	// claimed overrides the sample names derived from names and typ.
	claimed []string
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		reg:   prometheus.NewRegistry(),
		names: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Counter is a monotonically increasing metric partitioned by labels.
type Counter struct {
	*series
	name string
	vec  *prometheus.CounterVec
}

// NewCounter registers a counter. It fails with ErrDuplicateMetricName when
// the name is already taken.
func (r *Registry) NewCounter(name, help string, labelNames []string) (*Counter, error) {
	c := &Counter{
		series: newSeries(labelNames),
		name:   prometheus.BuildFQName(r.namespace, "", name),
		vec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: r.namespace,
			Name:      name,
			Help:      help,
		}, labelNames),
	}
	if err := r.register(c.vec, entry{
		names:  []string{c.name},
		help:   help,
		typ:    "counter",
		header: true,
		order:  c.series,
	}); err != nil {
		return nil, err
	}
	return c, nil
}

// MustNewCounter is like NewCounter but panics on error.
func (r *Registry) MustNewCounter(name, help string, labelNames []string) *Counter {
	c, err := r.NewCounter(name, help, labelNames)
	if err != nil {
		panic(err)
	}
	return c
}

// Name returns the fully-qualified metric name.
func (c *Counter) Name() string { return c.name }

// Inc adds one to the series identified by labels.
func (c *Counter) Inc(labels Labels) error {
	return c.Add(labels, 1)
}

// Add adds amount to the series identified by labels. Amount must be finite
// and non-negative.
func (c *Counter) Add(labels Labels, amount float64) error {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Errorf("%s: increment by %v: %w", c.name, amount, ErrInvalidObservation)
	}
	values, err := c.resolve(labels)
	if err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	m, err := c.vec.GetMetricWithLabelValues(values...)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", c.name, ErrLabelMismatch, err)
	}
	c.seen(values)
	m.Add(amount)
	return nil
}

// Histogram records the distribution of observed values, partitioned by labels.
type Histogram struct {
	*series
	name    string
	buckets []float64
	vec     *prometheus.HistogramVec
}

// NewHistogram registers a histogram. A nil or empty buckets slice selects
// DefaultBuckets.
func (r *Registry) NewHistogram(name, help string, labelNames []string, buckets []float64) (*Histogram, error) {
	fqName := prometheus.BuildFQName(r.namespace, "", name)
	if len(buckets) == 0 {
		buckets = DefaultBuckets
	}
	for i := 1; i < len(buckets); i++ {
		if !(buckets[i] > buckets[i-1]) {
			return nil, fmt.Errorf("%s: %w", fqName, ErrInvalidBuckets)
		}
	}
	if slices.Contains(labelNames, "le") {
		return nil, fmt.Errorf("%s: label name \"le\" is reserved for buckets", fqName)
	}
	h := &Histogram{
		series:  newSeries(labelNames),
		name:    fqName,
		buckets: append([]float64(nil), buckets...),
	}
	h.vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Name:      name,
		Help:      help,
		Buckets:   h.buckets,
	}, labelNames)
	if err := r.register(h.vec, entry{
		names:  []string{fqName},
		help:   help,
		typ:    "histogram",
		header: true,
		order:  h.series,
	}); err != nil {
		return nil, err
	}
	return h, nil
}

// MustNewHistogram is like NewHistogram but panics on error.
func (r *Registry) MustNewHistogram(name, help string, labelNames []string, buckets []float64) *Histogram {
	h, err := r.NewHistogram(name, help, labelNames, buckets)
	if err != nil {
		panic(err)
	}
	return h
}

// Name returns the fully-qualified metric name.
func (h *Histogram) Name() string { return h.name }

// Buckets returns the upper bounds of the histogram buckets.
func (h *Histogram) Buckets() []float64 {
	return append([]float64(nil), h.buckets...)
}

// Observe records value, a duration in seconds, in the series identified by labels.
func (h *Histogram) Observe(labels Labels, value float64) error {
	if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%s: observe %v: %w", h.name, value, ErrInvalidObservation)
	}
	values, err := h.resolve(labels)
	if err != nil {
		return fmt.Errorf("%s: %w", h.name, err)
	}
	o, err := h.vec.GetMetricWithLabelValues(values...)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", h.name, ErrLabelMismatch, err)
	}
	h.seen(values)
	o.Observe(value)
	return nil
}

// sampleNames lists every name a metric of type typ writes to the exposition.
// Histogram and summary series carry suffixed names that must not be taken
// by another metric, or gathering fails.
func sampleNames(name, typ string) []string {
	switch typ {
	case "histogram":
		return []string{name, name + "_bucket", name + "_sum", name + "_count"}
	case "summary":
		return []string{name, name + "_sum", name + "_count"}
	}
	return []string{name}
}

// claims returns the sample names e reserves.
func (e entry) claims() []string {
	if e.claimed != nil {
		return e.claimed
	}
	var out []string
	for _, name := range e.names {
		out = append(out, sampleNames(name, e.typ)...)
	}
	return out
}

// register adds c to the underlying registry and records e for exposition.
func (r *Registry) register(c prometheus.Collector, e entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	claims := e.claims()
	for _, name := range claims {
		if _, ok := r.names[name]; ok {
			return fmt.Errorf("%s: %s is taken: %w", strings.Join(e.names, ","), name, ErrDuplicateMetricName)
		}
	}
	if err := r.reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return fmt.Errorf("%s: %w", strings.Join(e.names, ","), ErrDuplicateMetricName)
		}
		return fmt.Errorf("register %s: %w", strings.Join(e.names, ","), err)
	}
	for _, name := range claims {
		r.names[name] = struct{}{}
	}
	r.entries = append(r.entries, e)
	return nil
}

// unregister reverses a successful register call.
func (r *Registry) unregister(c prometheus.Collector, e entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reg.Unregister(c)
	for _, name := range e.claims() {
		delete(r.names, name)
	}
	r.entries = slices.DeleteFunc(r.entries, func(x entry) bool {
		return slices.Equal(x.names, e.names)
	})
}
