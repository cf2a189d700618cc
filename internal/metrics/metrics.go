// Package metrics counts translations, instantiations, invocations and traps with prometheus collectors.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wasmslot/wasmslot/api"
)

const namespace = "wasmslot"

// Metrics is the set of collectors of one runtime. It is itself a prometheus.Collector.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	functionsTranslated prometheus.Counter
	instructionsEmitted prometheus.Counter
	translationSeconds  prometheus.Histogram
	instantiations      *prometheus.CounterVec
	invocations         prometheus.Counter
	traps               *prometheus.CounterVec

	mu         sync.Mutex
	collectors []prometheus.Collector
}

// New returns the collectors, registered with reg unless it is nil.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{}
	m.functionsTranslated = m.newCounter("functions_translated_total", "The number of function bodies translated")
	m.instructionsEmitted = m.newCounter("instructions_emitted_total", "The number of instructions emitted by the translator")
	m.translationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "translation_seconds",
		Help:      "The number of seconds it takes to translate every function of a module",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
	m.add(m.translationSeconds)
	m.instantiations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "instantiations_total",
		Help:      "The number of module instantiations by result",
	}, []string{"result"})
	m.add(m.instantiations)
	m.invocations = m.newCounter("invocations_total", "The number of calls into the engine from the embedder")
	m.traps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "traps_total",
		Help:      "The number of call chains unwound by a trap, by trap code",
	}, []string{"code"})
	m.add(m.traps)

	if reg != nil {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) newCounter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	m.add(c)
	return c
}

func (m *Metrics) add(c prometheus.Collector) {
	m.mu.Lock()
	m.collectors = append(m.collectors, c)
	m.mu.Unlock()
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// ModuleTranslated records the translation of a module of functions into instructions, which took d.
func (m *Metrics) ModuleTranslated(functions, instructions int, d time.Duration) {
	if m == nil {
		return
	}
	m.functionsTranslated.Add(float64(functions))
	m.instructionsEmitted.Add(float64(instructions))
	m.translationSeconds.Observe(d.Seconds())
}

// Instantiated records the result of an instantiation.
func (m *Metrics) Instantiated(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.instantiations.WithLabelValues(result).Inc()
}

// Invoked records a call into the engine from the embedder.
func (m *Metrics) Invoked() {
	if m == nil {
		return
	}
	m.invocations.Inc()
}

// Trapped records a call chain unwound with the code.
func (m *Metrics) Trapped(code api.TrapCode) {
	if m == nil {
		return
	}
	m.traps.WithLabelValues(code.String()).Inc()
}
