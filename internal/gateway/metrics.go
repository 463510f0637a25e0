package gateway

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tokenwindow/twm/internal/diag"
	"github.com/tokenwindow/twm/pkg/message"
)

// Metrics exposes pipeline counters in Prometheus format. A private registry
// keeps the scrape surface to twm's own series.
type Metrics struct {
	registry *prometheus.Registry

	turns               prometheus.Counter
	errors              prometheus.Counter
	cacheCreationTokens prometheus.Counter
	cacheReadTokens     prometheus.Counter
	jitInjections       prometheus.Counter
	jitCleanings        prometheus.Counter
	offloads            prometheus.Counter
	commandEvents       prometheus.Counter

	turnCount  atomic.Int64
	errorCount atomic.Int64
}

// NewMetrics creates and registers the counter set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "twm",
			Name:      name,
			Help:      help,
		})
		reg.MustRegister(c)
		return c
	}

	return &Metrics{
		registry:            reg,
		turns:               counter("turns_total", "Turns processed."),
		errors:              counter("turn_errors_total", "Turns that returned an error."),
		cacheCreationTokens: counter("cache_creation_tokens_total", "Tokens written to the prefix cache."),
		cacheReadTokens:     counter("cache_read_tokens_total", "Tokens read from the prefix cache."),
		jitInjections:       counter("jit_injections_total", "JIT instruction blocks injected."),
		jitCleanings:        counter("jit_cleanings_total", "Prior JIT blocks cleaned."),
		offloads:            counter("oversize_offloads_total", "Registers offloaded to disk."),
		commandEvents:       counter("command_events_total", "Recache commands applied or rejected."),
	}
}

// RecordTurn records a processed turn and its cache split.
func (m *Metrics) RecordTurn(stats message.CacheStats) {
	m.turns.Inc()
	m.turnCount.Add(1)
	m.cacheCreationTokens.Add(float64(stats.CacheCreationInputTokens))
	m.cacheReadTokens.Add(float64(stats.CacheReadInputTokens))
}

// RecordError records a failed turn.
func (m *Metrics) RecordError() {
	m.errors.Inc()
	m.errorCount.Add(1)
}

// RecordEvent maps a diagnostic event kind onto its counter.
func (m *Metrics) RecordEvent(kind string) {
	switch kind {
	case diag.KindJITInject:
		m.jitInjections.Inc()
	case diag.KindJITClean:
		m.jitCleanings.Inc()
	case diag.KindOffload:
		m.offloads.Inc()
	case diag.KindCommand:
		m.commandEvents.Inc()
	}
}

// Turns returns the processed-turn count for the status page.
func (m *Metrics) Turns() int64 { return m.turnCount.Load() }

// Errors returns the failed-turn count for the status page.
func (m *Metrics) Errors() int64 { return m.errorCount.Load() }

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
