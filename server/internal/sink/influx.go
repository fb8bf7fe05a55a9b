package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/appars/gpc-digitaltwin/server/internal/config"
	"github.com/appars/gpc-digitaltwin/server/internal/history"
	"github.com/appars/gpc-digitaltwin/server/internal/metrics"
)

const (
	writeTimeout = 5 * time.Second

	// flushTimeout bounds the final drain after Run's context is cancelled.
	flushTimeout = 3 * time.Second
)

// PointWriter is the part of the InfluxDB blocking write API the sink uses.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Options configures a Sink.
type Options struct {
	Measurement string
	Buffer      int
	Tags        map[string]string
	Metrics     *metrics.Metrics
}

// entry is a queued row with the full-precision update time. Row
// timestamps are truncated to seconds, which would merge points in the same
// series.
type entry struct {
	row history.Row
	at  time.Time
}

// Sink queues history rows and writes them to InfluxDB.
type Sink struct {
	w           PointWriter
	queue       chan entry
	measurement string
	tags        map[string]string
	metrics     *metrics.Metrics

	written atomic.Uint64
	dropped atomic.Uint64
	closeFn func()
}

// New creates a Sink writing through w.
func New(w PointWriter, opts Options) *Sink {
	if opts.Measurement == "" {
		opts.Measurement = config.DefaultMeasurement
	}
	if opts.Buffer <= 0 {
		opts.Buffer = config.DefaultInfluxBuffer
	}
	return &Sink{
		w:           w,
		queue:       make(chan entry, opts.Buffer),
		measurement: opts.Measurement,
		tags:        opts.Tags,
		metrics:     opts.Metrics,
	}
}

// Dial creates a Sink backed by a new InfluxDB client built from cfg.
// Close releases the client.
func Dial(cfg config.InfluxConfig, m *metrics.Metrics) *Sink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token())
	s := New(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), Options{
		Measurement: cfg.Measurement,
		Buffer:      cfg.Buffer,
		Metrics:     m,
	})
	s.closeFn = client.Close
	return s
}

// Health reports whether the InfluxDB server behind url answers.
func Health(ctx context.Context, cfg config.InfluxConfig) error {
	client := influxdb2.NewClient(cfg.URL, cfg.Token())
	defer client.Close()
	if _, err := client.Health(ctx); err != nil {
		return fmt.Errorf("sink: influx health: %w", err)
	}
	return nil
}

// Enqueue adds row, stamped at, to the queue. When the queue is full the
// oldest row is evicted to make room.
func (s *Sink) Enqueue(row history.Row, at time.Time) {
	e := entry{row: row, at: at}
	for {
		select {
		case s.queue <- e:
			return
		default:
		}
		select {
		case <-s.queue:
			n := s.dropped.Add(1)
			slog.Warn("sink: queue full, evicted oldest row", "buffer_cap", cap(s.queue), "dropped", n)
		default:
		}
	}
}

// Run writes queued rows until ctx is cancelled, then flushes what is left
// within a short grace period.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return
		case e := <-s.queue:
			s.write(ctx, e)
		}
	}
}

func (s *Sink) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case e := <-s.queue:
			s.write(ctx, e)
		default:
			return
		}
		if ctx.Err() != nil {
			slog.Warn("sink: flush timed out", "remaining", len(s.queue))
			return
		}
	}
}

func (s *Sink) write(ctx context.Context, e entry) {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.w.WritePoint(wctx, Point(s.measurement, s.tags, e.row, e.at)); err != nil {
		s.metrics.SinkError()
		slog.Error("sink: write failed", "ts", e.at, "err", err)
		return
	}
	s.written.Add(1)
}

// Written returns the number of rows written successfully.
func (s *Sink) Written() uint64 { return s.written.Load() }

// Dropped returns the number of rows evicted from a full queue.
func (s *Sink) Dropped() uint64 { return s.dropped.Load() }

// Close releases the client created by Dial. It is a no-op otherwise.
func (s *Sink) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

// Point converts row into an InfluxDB point stamped at. Field keys match the
// history CSV columns. A zero at falls back to the row's own timestamp.
func Point(measurement string, tags map[string]string, row history.Row, at time.Time) *write.Point {
	fields := map[string]interface{}{
		"flow":              row.Flow,
		"P1":                row.P1,
		"P2":                row.P2,
		"T1":                row.T1,
		"T2":                row.T2,
		"speed":             row.Speed,
		"valve":             row.Valve,
		"vib_axial":         row.VibAxial,
		"vib_vert":          row.VibVert,
		"vib_horz":          row.VibHorz,
		"lube_oil_pressure": row.LubeOilPressure,
		"bearing_temp":      row.BearingTemp,
		"oil_temp":          row.OilTemp,
		"seal_leakage":      row.SealLeakage,
		"compression_ratio": row.CompressionRatio,
		"surge_margin_pct":  row.SurgeMarginPct,
		"head_index_norm":   row.HeadIndexNorm,
		"efficiency_index":  row.EfficiencyIndex,
	}
	ts := at
	if ts.IsZero() {
		ts = row.Timestamp
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	return influxdb2.NewPoint(measurement, tags, fields, ts)
}
