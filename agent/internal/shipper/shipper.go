package shipper

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/appars/gpc-digitaltwin/agent/internal/sim"
)

const (
	backoffInitial    = 500 * time.Millisecond
	backoffMax        = 30 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 5 * time.Second
)

// Sender delivers one encoded sample to twin-server.
type Sender interface {
	Send(ctx context.Context, body []byte) error
	Name() string
}

// PermanentError marks a send failure that retrying cannot fix, such as a
// rejected payload or a bad API key. The sample is discarded.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Shipper buffers samples and ships them to twin-server.
// Ship() is non-blocking; when the buffer is full the oldest sample is evicted.
// Run() must be called in a goroutine to drain the buffer and retry failures.
type Shipper struct {
	sender Sender
	buf    chan sim.Payload

	sent    atomic.Uint64
	dropped atomic.Uint64

	// wait is injectable so tests do not sleep through backoff.
	wait func(time.Duration) <-chan time.Time
}

// New creates a Shipper holding at most bufferSize samples.
func New(sender Sender, bufferSize int) *Shipper {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Shipper{
		sender: sender,
		buf:    make(chan sim.Payload, bufferSize),
		wait:   time.After,
	}
}

// Ship enqueues p. If the buffer is full the oldest entry is evicted to make
// room.
func (s *Shipper) Ship(p sim.Payload) {
	for {
		select {
		case s.buf <- p:
			return
		default:
		}
		// Buffer full: drop the oldest sample, keep the newest.
		select {
		case <-s.buf:
			n := s.dropped.Add(1)
			slog.Warn("shipper: buffer full, evicted oldest sample", "buffer_cap", cap(s.buf), "dropped", n)
		default:
		}
	}
}

// Run drains the buffer, sending samples in order. A sample that fails with
// a transient error is retried with exponential backoff; newer samples queue
// behind it. Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		var p sim.Payload
		select {
		case <-ctx.Done():
			return
		case p = <-s.buf:
		}

		body, err := encode(p)
		if err != nil {
			slog.Error("shipper: encode sample, discarding", "err", err)
			continue
		}

		for {
			err := s.send(ctx, body)
			if err == nil {
				s.sent.Add(1)
				bo.reset()
				break
			}
			if ctx.Err() != nil {
				return
			}

			var perm *PermanentError
			if errors.As(err, &perm) {
				slog.Error("shipper: permanent send error, discarding sample",
					"transport", s.sender.Name(), "err", err)
				break
			}

			wait := bo.next()
			slog.Warn("shipper: send failed, will retry",
				"transport", s.sender.Name(),
				"err", err,
				"retry_in", wait,
				"queued", len(s.buf),
			)
			select {
			case <-ctx.Done():
				return
			case <-s.wait(wait):
			}
		}
	}
}

func (s *Shipper) send(ctx context.Context, body []byte) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := s.sender.Send(sendCtx, body); err != nil {
		return err
	}
	slog.Debug("shipper: sample delivered", "transport", s.sender.Name())
	return nil
}

// Sent returns the number of samples delivered.
func (s *Shipper) Sent() uint64 { return s.sent.Load() }

// Dropped returns the number of samples evicted from a full buffer.
func (s *Shipper) Dropped() uint64 { return s.dropped.Load() }

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
