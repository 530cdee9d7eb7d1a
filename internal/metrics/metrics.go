package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "comment_moderation"

// Metrics holds the prometheus collectors for the moderation service.
// Callers treat a nil *Metrics as "metrics disabled".
type Metrics struct {
	commentsTotal      *prometheus.CounterVec
	ruleMatches        prometheus.Counter
	outcomesTotal      *prometheus.CounterVec
	decodeErrors       *prometheus.CounterVec
	rulesActive        prometheus.Gauge
	brokerConnected    prometheus.Gauge
	brokerReconnects   prometheus.Counter
	evaluationDuration prometheus.Histogram
	goroutines         prometheus.Gauge
}

// NewMetrics creates and registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		commentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comments_total",
			Help:      "Comments seen by the processor, by status",
		}, []string{"status"}),
		ruleMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_matches_total",
			Help:      "Comments matched by at least one rule",
		}),
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Moderation outcomes applied, by outcome",
		}, []string{"outcome"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Condition trees that failed to decode, by error kind",
		}, []string{"kind"}),
		rulesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules_active",
			Help:      "Enabled rules currently loaded",
		}),
		brokerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_connected",
			Help:      "1 when the intake broker connection is up",
		}),
		brokerReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_reconnects_total",
			Help:      "Intake broker reconnect attempts",
		}),
		evaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Time spent evaluating one comment against all rules",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines",
			Help:      "Goroutines at the last collector tick",
		}),
	}

	collectors := []prometheus.Collector{
		m.commentsTotal,
		m.ruleMatches,
		m.outcomesTotal,
		m.decodeErrors,
		m.rulesActive,
		m.brokerConnected,
		m.brokerReconnects,
		m.evaluationDuration,
		m.goroutines,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) IncCommentsTotal(status string) {
	m.commentsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) IncRuleMatches() {
	m.ruleMatches.Inc()
}

func (m *Metrics) IncOutcomesTotal(outcome string) {
	m.outcomesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncDecodeErrors(kind string) {
	m.decodeErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetRulesActive(count float64) {
	m.rulesActive.Set(count)
}

func (m *Metrics) SetBrokerConnectionStatus(connected bool) {
	if connected {
		m.brokerConnected.Set(1)
		return
	}
	m.brokerConnected.Set(0)
}

func (m *Metrics) IncBrokerReconnects() {
	m.brokerReconnects.Inc()
}

func (m *Metrics) ObserveEvaluation(d time.Duration) {
	m.evaluationDuration.Observe(d.Seconds())
}

// MetricsCollector refreshes gauges that are sampled rather than counted.
type MetricsCollector struct {
	metrics  *Metrics
	interval time.Duration
	sources  []func(*Metrics)
	stop     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewMetricsCollector creates a collector that calls every source on each tick.
func NewMetricsCollector(m *Metrics, interval time.Duration, sources ...func(*Metrics)) *MetricsCollector {
	return &MetricsCollector{
		metrics:  m,
		interval: interval,
		sources:  sources,
		stop:     make(chan struct{}),
	}
}

func (c *MetricsCollector) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stop:
				return
			}
		}
	}()
}

func (c *MetricsCollector) Stop() {
	c.once.Do(func() { close(c.stop) })
	c.wg.Wait()
}

func (c *MetricsCollector) collect() {
	c.metrics.goroutines.Set(float64(runtime.NumGoroutine()))
	for _, source := range c.sources {
		source(c.metrics)
	}
}
