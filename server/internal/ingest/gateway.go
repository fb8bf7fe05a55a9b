package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/appars/gpc-digitaltwin/pkg/twin"
	"github.com/appars/gpc-digitaltwin/server/internal/history"
	"github.com/appars/gpc-digitaltwin/server/internal/metrics"
	"github.com/appars/gpc-digitaltwin/server/internal/store"
)

// DefaultLockTimeout bounds how long a caller waits for the serialization
// boundary before getting ErrBusy.
const DefaultLockTimeout = 2 * time.Second

// Publisher fans state changes out to subscribers.
type Publisher interface {
	Publish(v twin.View)
	RelayCommand(ev twin.CommandEvent)
}

// Observer is notified of every accepted state change, after the boundary is
// released. The alert engine is one.
type Observer interface {
	Observe(v twin.View)
}

// RowSink receives every appended history row together with the
// full-precision update time. It must not block.
type RowSink interface {
	Enqueue(row history.Row, at time.Time)
}

// Options configures a Gateway. Every collaborator is optional.
type Options struct {
	LockTimeout time.Duration
	Publisher   Publisher
	Observers   []Observer
	Sink        RowSink
	Metrics     *metrics.Metrics
}

// Result answers one ingestion call.
type Result struct {
	Accepted       bool                  `json:"accepted"`
	FieldsApplied  int                   `json:"fields_applied"`
	FieldsRejected int                   `json:"fields_rejected"`
	FieldsIgnored  int                   `json:"fields_ignored"`
	Seq            uint64                `json:"seq"`
	Errors         []*FieldCoercionError `json:"errors,omitempty"`
}

// Gateway serializes every mutation of the twin.
type Gateway struct {
	store   *store.Store
	ring    *history.Ring
	sem     *semaphore.Weighted
	timeout time.Duration

	pub       Publisher
	observers []Observer
	sink      RowSink
	metrics   *metrics.Metrics
}

// New creates a Gateway over st and ring.
func New(st *store.Store, ring *history.Ring, opts Options) *Gateway {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	return &Gateway{
		store:     st,
		ring:      ring,
		sem:       semaphore.NewWeighted(1),
		timeout:   opts.LockTimeout,
		pub:       opts.Publisher,
		observers: opts.Observers,
		sink:      opts.Sink,
		metrics:   opts.Metrics,
	}
}

// SetPublisher attaches the fan-out target. It must be called before the
// gateway starts serving.
func (g *Gateway) SetPublisher(p Publisher) {
	g.pub = p
}

// Ingest decodes raw, merges it into the twin, recomputes KPIs and appends a
// history row, all inside the serialization boundary. Subscribers, observers
// and the sink are notified afterwards.
//
// A payload that decodes to zero applicable fields is answered with
// Accepted=false and changes nothing.
func (g *Gateway) Ingest(ctx context.Context, raw []byte) (Result, error) {
	u, rep, err := Decode(raw)
	if err != nil {
		g.metrics.Ingestion(metrics.ResultInvalid, 0, 0)
		return Result{}, err
	}
	res := Result{
		FieldsRejected: rep.Rejected,
		FieldsIgnored:  rep.Ignored,
		Errors:         rep.Errors,
	}
	if rep.Applied == 0 {
		g.metrics.Ingestion(metrics.ResultEmpty, 0, rep.Rejected)
		slog.Debug("ingest: nothing to apply", "rejected", rep.Rejected, "ignored", rep.Ignored)
		return res, nil
	}

	if err := g.acquire(ctx); err != nil {
		g.metrics.Ingestion(metrics.ResultBusy, 0, rep.Rejected)
		return res, err
	}
	start := time.Now()
	applied := g.store.ApplySensorUpdate(u)
	var (
		view twin.View
		row  history.Row
	)
	if applied > 0 {
		view = g.store.View()
		row = g.ring.Append(view.Snapshot(), view.KPI, view.UpdatedAt)
		// Gauges are set inside the boundary so they follow seq order.
		g.metrics.SetHistoryRows(g.ring.Len())
		g.metrics.SetAlarms(view.KPI.Alarms)
	}
	g.sem.Release(1)
	g.metrics.ObserveIngest(time.Since(start))

	if applied == 0 {
		g.metrics.Ingestion(metrics.ResultEmpty, 0, rep.Rejected)
		return res, nil
	}

	res.Accepted = true
	res.FieldsApplied = applied
	res.Seq = view.Seq
	g.metrics.Ingestion(metrics.ResultAccepted, applied, rep.Rejected)

	slog.Debug("ingest: applied",
		"seq", view.Seq,
		"fields", applied,
		"rejected", rep.Rejected,
		"alarms", len(view.KPI.Alarms),
	)

	g.fanOut(view)
	if g.sink != nil {
		g.sink.Enqueue(row, view.UpdatedAt)
	}
	return res, nil
}

// Command applies an operator command inside the boundary, then relays the
// resulting event and publishes the new view. KPIs are not recomputed.
func (g *Gateway) Command(ctx context.Context, cmd twin.Command) (twin.Ack, error) {
	if err := g.acquire(ctx); err != nil {
		return twin.Ack{Action: cmd.Action, Running: g.store.Running(), Error: ErrBusy.Error()}, err
	}
	ack, ev, err := g.store.ApplyCommand(cmd)
	view := g.store.View()
	g.sem.Release(1)

	g.metrics.Command(ack.Action, ack.OK)
	if err != nil {
		slog.Warn("ingest: command rejected", "action", cmd.Action, "error", err)
		return ack, err
	}

	slog.Info("ingest: command applied", "action", ack.Action, "running", ack.Running, "seq", view.Seq)
	if g.pub != nil {
		g.pub.RelayCommand(ev)
	}
	g.fanOut(view)
	return ack, nil
}

// History returns the history rows, oldest first.
func (g *Gateway) History(ctx context.Context) ([]history.Row, error) {
	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)
	return g.ring.Export(), nil
}

// ClearHistory empties the history ring and returns how many rows it held.
func (g *Gateway) ClearHistory(ctx context.Context) (int, error) {
	if err := g.acquire(ctx); err != nil {
		return 0, err
	}
	n := g.ring.Clear()
	g.sem.Release(1)

	g.metrics.SetHistoryRows(0)
	slog.Info("ingest: history cleared", "removed", n)
	return n, nil
}

// View returns the current composite view. It does not take the boundary;
// the store hands out consistent copies on its own.
func (g *Gateway) View() twin.View {
	return g.store.View()
}

// HistoryLen returns the number of rows currently held.
func (g *Gateway) HistoryLen() int {
	return g.ring.Len()
}

func (g *Gateway) fanOut(v twin.View) {
	if g.pub != nil {
		g.pub.Publish(v)
	}
	for _, o := range g.observers {
		o.Observe(v)
	}
}

// acquire waits for the boundary for at most the lock timeout. A cancelled
// caller context is reported as-is; a timeout becomes ErrBusy.
func (g *Gateway) acquire(ctx context.Context) error {
	wctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := g.sem.Acquire(wctx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ingest: acquire: %w", ctxErr)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("ingest: lock timeout", "timeout", g.timeout)
		}
		return fmt.Errorf("ingest: waited %s: %w", g.timeout, ErrBusy)
	}
	return nil
}
