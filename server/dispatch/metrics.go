package dispatch

import (
	"io"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var metricsLogger = logger.GetLogger("metrics")

// Metrics collects connection statistics of one dispatcher.
//
// Counters, the active gauge and the duration histogram live in a VictoriaMetrics set
// and are exported in Prometheus text format. The same events feed a go-metrics
// registry whose meter and timer provide rates and percentiles for the periodic log.
type Metrics struct {
	set          *metrics.Set
	accepted     *metrics.Counter
	closed       *metrics.Counter
	acceptErrors *metrics.Counter
	duration     *metrics.Histogram

	registry     gometrics.Registry
	acceptMeter  gometrics.Meter
	serviceTimer gometrics.Timer

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewMetrics creates the metrics of a dispatcher, active reports the number of open sessions
func NewMetrics(active func() int) *Metrics {
	set := metrics.NewSet()
	m := &Metrics{
		set:          set,
		accepted:     set.NewCounter("dnio_connections_accepted_total"),
		closed:       set.NewCounter("dnio_connections_closed_total"),
		acceptErrors: set.NewCounter("dnio_accept_errors_total"),
		duration:     set.NewHistogram("dnio_connection_duration_seconds"),
		registry:     gometrics.NewRegistry(),
		acceptMeter:  gometrics.NewMeter(),
		serviceTimer: gometrics.NewTimer(),
		stopCh:       make(chan struct{}),
	}
	set.NewGauge("dnio_connections_active", func() float64 { return float64(active()) })

	_ = m.registry.Register("connections.accepted", m.acceptMeter)
	_ = m.registry.Register("connections.service", m.serviceTimer)
	_ = m.registry.Register("connections.active", gometrics.NewFunctionalGauge(func() int64 { return int64(active()) }))
	return m
}

func (m *Metrics) onAccept() {
	m.accepted.Inc()
	m.acceptMeter.Mark(1)
}

func (m *Metrics) onAcceptError() {
	m.acceptErrors.Inc()
}

func (m *Metrics) onClose(accepted time.Time) {
	m.closed.Inc()
	m.duration.UpdateDuration(accepted)
	m.serviceTimer.UpdateSince(accepted)
}

// Accepted returns the number of accepted connections
func (m *Metrics) Accepted() uint64 { return m.accepted.Get() }

// Closed returns the number of finished connections
func (m *Metrics) Closed() uint64 { return m.closed.Get() }

// AcceptErrors returns the number of failed accept calls
func (m *Metrics) AcceptErrors() uint64 { return m.acceptErrors.Get() }

// WritePrometheus writes all metrics in Prometheus text exposition format
func (m *Metrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

// LogPeriodically logs a summary every interval until Stop is called. It blocks.
func (m *Metrics) LogPeriodically(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.logSnapshot()
		}
	}
}

// Stop ends the periodic log and releases the go-metrics meter
func (m *Metrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.registry.UnregisterAll()
	})
}

// logSnapshot writes one line per registered go-metrics metric
func (m *Metrics) logSnapshot() {
	m.registry.Each(func(name string, i interface{}) {
		switch metric := i.(type) {
		case gometrics.Meter:
			s := metric.Snapshot()
			metricsLogger.Infof("%s: count=%d rate1=%.2f/s mean=%.2f/s", name, s.Count(), s.Rate1(), s.RateMean())
		case gometrics.Timer:
			s := metric.Snapshot()
			metricsLogger.Infof("%s: count=%d mean=%s p99=%s max=%s", name, s.Count(),
				time.Duration(s.Mean()), time.Duration(s.Percentile(0.99)), time.Duration(s.Max()))
		case gometrics.Gauge:
			metricsLogger.Infof("%s: %d", name, metric.Value())
		}
	})
}
