// Package metrics provides Prometheus metrics for the catalog layer.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace is the Prometheus namespace for all metrics.
	Namespace = "ranger"

	// SubsystemCatalog groups catalog metrics.
	SubsystemCatalog = "catalog"
)

// Label constants for consistent labeling across metrics.
const (
	LabelBackend = "backend"
	LabelOutcome = "outcome"
	LabelResult  = "result"
)

// Commit outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeFailed    = "failed"
)

// Resolve results.
const (
	ResultOK          = "ok"
	ResultNotFound    = "not_found"
	ResultCorrupt     = "corrupt"
	ResultUnavailable = "unavailable"
	ResultError       = "error"
)

// Metrics holds the collectors of one registry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	CommitsTotal        *prometheus.CounterVec
	CommitConflicts     *prometheus.CounterVec
	CommitAttempts      *prometheus.CounterVec
	CommitDuration      *prometheus.HistogramVec
	ResolvesTotal       *prometheus.CounterVec
	ResolveDuration     *prometheus.HistogramVec
	ClientConstructions *prometheus.CounterVec
	CachedClients       prometheus.Gauge
}

// New creates the collectors and registers them with reg when it is not nil
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: SubsystemCatalog,
				Name:      "commits_total",
				Help:      "Total number of finished commits by outcome",
			},
			[]string{LabelBackend, LabelOutcome},
		),
		CommitConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: SubsystemCatalog,
				Name:      "commit_conflicts_total",
				Help:      "Total number of conditional updates rejected by a concurrent writer",
			},
			[]string{LabelBackend},
		),
		CommitAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: SubsystemCatalog,
				Name:      "commit_attempts_total",
				Help:      "Total number of submitted conditional updates",
			},
			[]string{LabelBackend},
		),
		CommitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: SubsystemCatalog,
				Name:      "commit_duration_seconds",
				Help:      "Duration of commits including retries",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{LabelBackend},
		),
		ResolvesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: SubsystemCatalog,
				Name:      "resolves_total",
				Help:      "Total number of table metadata loads by result",
			},
			[]string{LabelBackend, LabelResult},
		),
		ResolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: SubsystemCatalog,
				Name:      "resolve_duration_seconds",
				Help:      "Duration of table metadata loads",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{LabelBackend},
		),
		ClientConstructions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: SubsystemCatalog,
				Name:      "client_constructions_total",
				Help:      "Total number of backend client constructions by result",
			},
			[]string{LabelBackend, LabelResult},
		),
		CachedClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: SubsystemCatalog,
				Name:      "cached_clients",
				Help:      "Number of backend clients currently cached",
			},
		),
	}
	if reg != nil {
		for _, c := range m.collectors() {
			reg.MustRegister(c)
		}
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.CommitsTotal,
		m.CommitConflicts,
		m.CommitAttempts,
		m.CommitDuration,
		m.ResolvesTotal,
		m.ResolveDuration,
		m.ClientConstructions,
		m.CachedClients,
	}
}

var (
	defaultOnce sync.Once
	defaultSet  *Metrics
)

// Default returns the process wide metrics registered with the default registry
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultSet = New(prometheus.DefaultRegisterer)
	})
	return defaultSet
}

// NewRegistry creates a registry with the standard Go collectors and a fresh
// metrics set registered on it.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()

	// Register standard collectors
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return reg, New(reg)
}

// ObserveCommit records a finished commit
func (m *Metrics) ObserveCommit(backend, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.CommitsTotal.WithLabelValues(backend, outcome).Inc()
	m.CommitDuration.WithLabelValues(backend).Observe(seconds)
}

// ObserveAttempt records one submitted conditional update
func (m *Metrics) ObserveAttempt(backend string) {
	if m == nil {
		return
	}
	m.CommitAttempts.WithLabelValues(backend).Inc()
}

// ObserveConflict records one rejected conditional update
func (m *Metrics) ObserveConflict(backend string) {
	if m == nil {
		return
	}
	m.CommitConflicts.WithLabelValues(backend).Inc()
}

// ObserveResolve records one metadata load
func (m *Metrics) ObserveResolve(backend, result string, seconds float64) {
	if m == nil {
		return
	}
	m.ResolvesTotal.WithLabelValues(backend, result).Inc()
	m.ResolveDuration.WithLabelValues(backend).Observe(seconds)
}

// ObserveConstruction records one client construction
func (m *Metrics) ObserveConstruction(backend, result string) {
	if m == nil {
		return
	}
	m.ClientConstructions.WithLabelValues(backend, result).Inc()
}

// SetCachedClients sets the cached client gauge
func (m *Metrics) SetCachedClients(n int) {
	if m == nil {
		return
	}
	m.CachedClients.Set(float64(n))
}
