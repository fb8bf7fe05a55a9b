package sink

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appars/gpc-digitaltwin/server/internal/history"
	"github.com/appars/gpc-digitaltwin/server/internal/metrics"
)

type fakeWriter struct {
	mu     sync.Mutex
	points []*write.Point
	fail   error
}

func (f *fakeWriter) WritePoint(_ context.Context, p ...*write.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.points = append(f.points, p...)
	return nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

func row(flow float64) history.Row {
	return history.Row{
		Timestamp:        time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Flow:             flow,
		P1:               3,
		P2:               9,
		CompressionRatio: 3,
	}
}

func TestPoint(t *testing.T) {
	p := Point("wgc_history", map[string]string{"machine": "k-101"}, row(25.5), time.Time{})

	assert.Equal(t, "wgc_history", p.Name())
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), p.Time())
	assert.Len(t, p.FieldList(), len(history.CSVHeader)-1)

	line := write.PointToLineProtocol(p, time.Second)
	assert.Contains(t, line, "wgc_history,machine=k-101 ")
	assert.Contains(t, line, "flow=25.5")
	assert.Contains(t, line, "compression_ratio=3")
}

func TestPoint_KeepsSubSecondTime(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	first := Point("wgc_history", nil, row(1), base.Add(100*time.Millisecond))
	second := Point("wgc_history", nil, row(2), base.Add(600*time.Millisecond))

	// Both rows carry the same whole-second timestamp; the points must not.
	assert.NotEqual(t, first.Time(), second.Time())
	assert.Equal(t, base.Add(600*time.Millisecond), second.Time())
}

func TestEnqueue_DropsOldestWhenFull(t *testing.T) {
	s := New(&fakeWriter{}, Options{Buffer: 2})

	s.Enqueue(row(1), time.Time{})
	s.Enqueue(row(2), time.Time{})
	s.Enqueue(row(3), time.Time{})

	require.Equal(t, uint64(1), s.Dropped())
	require.Len(t, s.queue, 2)
	assert.Equal(t, 2.0, (<-s.queue).row.Flow)
	assert.Equal(t, 3.0, (<-s.queue).row.Flow)
}

func TestRun_WritesAndFlushesOnCancel(t *testing.T) {
	w := &fakeWriter{}
	s := New(w, Options{Buffer: 8})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	s.Enqueue(row(1), time.Time{})
	require.Eventually(t, func() bool { return w.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	// Rows queued after Run returns are not written.
	s.Enqueue(row(2), time.Time{})
	assert.Equal(t, 1, w.count())
	assert.Equal(t, uint64(1), s.Written())
}

func TestFlush_DrainsQueue(t *testing.T) {
	w := &fakeWriter{}
	s := New(w, Options{Buffer: 8})
	for i := 0; i < 5; i++ {
		s.Enqueue(row(float64(i)), time.Time{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Run(ctx)

	assert.Equal(t, 5, w.count())
	assert.Empty(t, s.queue)
}

func TestWriteError_CountedNotRetried(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	w := &fakeWriter{fail: errors.New("unauthorized")}
	s := New(w, Options{Metrics: m})
	s.write(context.Background(), entry{row: row(1)})

	assert.Equal(t, uint64(0), s.Written())
	assert.Empty(t, s.queue)

	var buf bytes.Buffer
	require.NoError(t, metrics.WriteText(&buf, reg))
	assert.Contains(t, buf.String(), "twin_sink_errors_total 1")
}

func TestNew_Defaults(t *testing.T) {
	s := New(&fakeWriter{}, Options{})
	assert.Equal(t, "wgc_history", s.measurement)
	assert.Equal(t, 256, cap(s.queue))
	s.Close()
}
