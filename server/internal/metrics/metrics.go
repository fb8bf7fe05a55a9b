package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/appars/gpc-digitaltwin/pkg/twin"
)

// Ingestion outcome labels.
const (
	ResultAccepted = "accepted"
	ResultEmpty    = "empty"
	ResultInvalid  = "invalid"
	ResultBusy     = "busy"
)

// Metrics groups every instrument the server records.
type Metrics struct {
	ingestions       *prometheus.CounterVec
	fieldsApplied    prometheus.Counter
	fieldsRejected   prometheus.Counter
	ingestLatency    prometheus.Histogram
	commands         *prometheus.CounterVec
	subscribers      prometheus.Gauge
	broadcastDropped prometheus.Counter
	historyRows      prometheus.Gauge
	activeAlarms     *prometheus.GaugeVec
	sinkErrors       prometheus.Counter
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twin_ingestions_total",
			Help: "Ingestion calls by outcome.",
		}, []string{"result"}),
		fieldsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twin_fields_applied_total",
			Help: "Snapshot fields written by accepted ingestions.",
		}),
		fieldsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twin_fields_rejected_total",
			Help: "Payload fields dropped because they could not be coerced to a number.",
		}),
		ingestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "twin_ingest_duration_seconds",
			Help:    "Time spent inside the serialized merge, recompute and append path.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twin_commands_total",
			Help: "Operator commands by action and outcome.",
		}, []string{"action", "ok"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "twin_subscribers",
			Help: "Currently connected broadcast subscribers.",
		}),
		broadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twin_broadcast_dropped_total",
			Help: "Queued messages discarded because a subscriber fell behind.",
		}),
		historyRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "twin_history_rows",
			Help: "Rows currently held by the history ring.",
		}),
		activeAlarms: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "twin_active_alarms",
			Help: "Active alarms in the latest KPI block, by type and severity.",
		}, []string{"type", "severity"}),
		sinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twin_sink_errors_total",
			Help: "History rows the external time-series sink failed to store.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.ingestions, m.fieldsApplied, m.fieldsRejected, m.ingestLatency, m.commands,
		m.subscribers, m.broadcastDropped, m.historyRows, m.activeAlarms, m.sinkErrors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}
	return m, nil
}

// Ingestion records the outcome of one ingestion call.
func (m *Metrics) Ingestion(result string, applied, rejected int) {
	if m == nil {
		return
	}
	m.ingestions.WithLabelValues(result).Inc()
	m.fieldsApplied.Add(float64(applied))
	m.fieldsRejected.Add(float64(rejected))
}

// ObserveIngest records the duration of the serialized section.
func (m *Metrics) ObserveIngest(d time.Duration) {
	if m == nil {
		return
	}
	m.ingestLatency.Observe(d.Seconds())
}

// Command records one operator command.
func (m *Metrics) Command(action string, ok bool) {
	if m == nil {
		return
	}
	okLabel := "false"
	if ok {
		okLabel = "true"
	}
	m.commands.WithLabelValues(action, okLabel).Inc()
}

// SetSubscribers sets the subscriber gauge.
func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

// BroadcastDropped counts one message discarded from a subscriber queue.
func (m *Metrics) BroadcastDropped() {
	if m == nil {
		return
	}
	m.broadcastDropped.Inc()
}

// SetHistoryRows sets the history ring gauge.
func (m *Metrics) SetHistoryRows(n int) {
	if m == nil {
		return
	}
	m.historyRows.Set(float64(n))
}

// SetAlarms replaces the active alarm gauges with alarms.
func (m *Metrics) SetAlarms(alarms []twin.Alarm) {
	if m == nil {
		return
	}
	m.activeAlarms.Reset()
	for _, a := range alarms {
		m.activeAlarms.WithLabelValues(a.Type, string(a.Severity)).Inc()
	}
}

// SinkError counts one failed sink write.
func (m *Metrics) SinkError() {
	if m == nil {
		return
	}
	m.sinkErrors.Inc()
}

// WriteText gathers g and writes every family in the Prometheus text format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return fmt.Errorf("metrics: gather: %w", err)
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
