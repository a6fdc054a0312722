package telemetry

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus is the optional backend wired behind the façade when a
// caller opts in. Counter/histogram vectors are created lazily per metric
// name the first time a label set of a given shape is seen, since the
// façade interface does not fix label names up front.
type Prometheus struct {
	reg *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheus builds a Prometheus facade registered against reg. A nil
// reg creates a private registry (safe for tests that don't care about
// scrape wiring).
func NewPrometheus(reg *prometheus.Registry) *Prometheus {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Prometheus{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry exposes the underlying registry so a caller embedding this
// package can mount an HTTP /metrics exposition handler; the core never
// wires that transport itself.
func (p *Prometheus) Registry() *prometheus.Registry { return p.reg }

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func sanitize(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, ".", "_"), "-", "_")
}

func (p *Prometheus) counterVec(name string, names []string) *prometheus.CounterVec {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := name + "|" + strings.Join(names, ",")
	if v, ok := p.counters[key]; ok {
		return v
	}
	v := prometheus.NewCounterVec(prometheus.CounterOpts{Name: sanitize(name)}, names)
	p.reg.MustRegister(v)
	p.counters[key] = v
	return v
}

func (p *Prometheus) histogramVec(name string, names []string) *prometheus.HistogramVec {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := name + "|" + strings.Join(names, ",")
	if v, ok := p.histograms[key]; ok {
		return v
	}
	v := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: sanitize(name)}, names)
	p.reg.MustRegister(v)
	p.histograms[key] = v
	return v
}

// Counter implements Facade.
func (p *Prometheus) Counter(name string, labels map[string]string, delta float64) {
	names := labelNames(labels)
	p.counterVec(name, names).With(prometheus.Labels(labels)).Add(delta)
}

// Histogram implements Facade.
func (p *Prometheus) Histogram(name string, labels map[string]string, value float64) {
	names := labelNames(labels)
	p.histogramVec(name, names).With(prometheus.Labels(labels)).Observe(value)
}

// Timer implements Facade.
func (p *Prometheus) Timer(name string, labels map[string]string) func() {
	return StartTimer(func(seconds float64) {
		p.Histogram(name, labels, seconds)
	})
}

var _ Facade = (*Prometheus)(nil)
