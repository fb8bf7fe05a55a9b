package sim

import (
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/appars/gpc-digitaltwin/pkg/twin"
)

// Operating point the coupling terms are measured from.
const (
	baseSpeed = 7800.0

	// jitterPct is the relative noise applied to speed and valve, in %.
	jitterPct = 1.0
)

// Payload is one telemetry sample in the ingestion wire format.
type Payload struct {
	Oper   twin.Oper   `json:"oper"`
	Health twin.Health `json:"health"`
}

// Simulator produces compressor readings that follow the current setpoints.
// Relayed commands start, stop and retarget it.
//
// All exported methods are safe for concurrent use.
type Simulator struct {
	mu        sync.Mutex
	rng       *rand.Rand
	running   bool
	setpoints twin.Setpoints
	tick      int
}

// New returns a running Simulator. A zero seed picks one from the clock.
func New(seed int64, sp twin.Setpoints) *Simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		rng:       rand.New(rand.NewSource(seed)), //nolint:gosec // simulation noise
		running:   true,
		setpoints: sp,
	}
}

// Apply updates the simulator from a relayed command event. Unknown actions
// are ignored.
func (s *Simulator) Apply(ev twin.CommandEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Action {
	case twin.ActionStart:
		s.running = true
	case twin.ActionStop:
		s.running = false
	case twin.ActionSet, twin.ActionSetpoints:
		if ev.Speed != nil {
			s.setpoints.Speed = *ev.Speed
		}
		if ev.Valve != nil {
			s.setpoints.Valve = *ev.Valve
		}
	default:
		slog.Debug("sim: ignoring command", "action", ev.Action)
		return
	}
	slog.Info("sim: command applied",
		"action", ev.Action,
		"running", s.running,
		"speed", s.setpoints.Speed,
		"valve", s.setpoints.Valve,
	)
}

// Running reports whether samples are being produced.
func (s *Simulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Setpoints returns the current targets.
func (s *Simulator) Setpoints() twin.Setpoints {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setpoints
}

// Next advances the simulation by one step. It returns false while stopped;
// the step still advances so the periodic terms keep their phase.
func (s *Simulator) Next() (Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := float64(s.tick)
	s.tick++
	if !s.running {
		return Payload{}, false
	}
	return s.sample(t), true
}

func (s *Simulator) sample(t float64) Payload {
	speed := s.jitter(s.setpoints.Speed, jitterPct)
	valve := clamp(s.jitter(s.setpoints.Valve, jitterPct), 0, 100)
	dSpeed := speed - baseSpeed

	baseVib := 2.2 + 0.0003*dSpeed
	return Payload{
		Oper: twin.Oper{
			T1:    303.0 + s.uniform(0.5),
			T2:    352.0 + 0.004*dSpeed + s.uniform(0.6),
			P1:    3.0 + s.uniform(0.05),
			P2:    8.8 + 0.0015*dSpeed + s.uniform(0.05),
			Flow:  math.Max(10.0, 18.0+0.12*valve+s.uniform(0.5)),
			Speed: speed,
			Valve: valve,
		},
		Health: twin.Health{
			VibAxial:        math.Max(1.5, baseVib+0.3*math.Sin(t/7.0)+s.uniform(0.3)),
			VibVert:         math.Max(1.5, baseVib+0.4*math.Cos(t/9.0)+s.uniform(0.3)),
			VibHorz:         math.Max(1.5, baseVib+0.2*math.Sin(t/5.0)+s.uniform(0.3)),
			BearingTemp:     344.0 + 0.003*dSpeed + s.uniform(0.5),
			OilTemp:         325.0 + s.uniform(0.4),
			LubeOilPressure: 3.1 + s.uniform(0.1),
			SealLeakage:     math.Max(0.05, 0.10+s.between(-0.03, 0.05)),
		},
	}
}

// jitter returns v moved by up to ±pct percent.
func (s *Simulator) jitter(v, pct float64) float64 {
	return v * (1.0 + s.uniform(pct)/100.0)
}

// uniform returns a value in [-span, span).
func (s *Simulator) uniform(span float64) float64 {
	return s.between(-span, span)
}

func (s *Simulator) between(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
