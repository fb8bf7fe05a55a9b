package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/appars/gpc-digitaltwin/pkg/twin"
)

// ErrUnknownCommand is returned by ApplyCommand for actions other than
// start, stop and set.
var ErrUnknownCommand = errors.New("unknown command")

// SetpointPolicy decides what a set command writes.
type SetpointPolicy string

const (
	// PolicyTarget writes only the Setpoints; producers approach them.
	PolicyTarget SetpointPolicy = "target"

	// PolicyOverride also overwrites oper.speed and oper.valve immediately.
	// The KPI block is not recomputed until the next ingestion.
	PolicyOverride SetpointPolicy = "override"
)

// ParsePolicy validates a policy name. The empty string selects PolicyTarget.
func ParsePolicy(s string) (SetpointPolicy, error) {
	switch SetpointPolicy(s) {
	case "", PolicyTarget:
		return PolicyTarget, nil
	case PolicyOverride:
		return PolicyOverride, nil
	default:
		return "", fmt.Errorf("unknown setpoint policy %q: want target|override", s)
	}
}

// KPIFunc computes the KPI block for a snapshot.
type KPIFunc func(twin.Snapshot) twin.KPIs

// Store is a thread-safe holder of the current snapshot and setpoints.
type Store struct {
	mu        sync.RWMutex
	snap      twin.Snapshot
	setpoints twin.Setpoints
	seq       uint64
	updatedAt time.Time

	calc   KPIFunc
	policy SetpointPolicy
	now    func() time.Time // injectable for deterministic tests
}

// New creates a Store seeded with initial. The KPI block of initial is
// recomputed with calc so the cached block is consistent from the start.
// Setpoints start at the initial speed and valve.
func New(calc KPIFunc, policy SetpointPolicy, initial twin.Snapshot) *Store {
	if policy == "" {
		policy = PolicyTarget
	}
	snap := initial.Clone()
	snap.KPI = calc(snap)
	s := &Store{
		snap: snap,
		setpoints: twin.Setpoints{
			Speed: snap.Oper.Speed,
			Valve: snap.Oper.Valve,
		},
		calc:   calc,
		policy: policy,
		now:    time.Now,
	}
	s.updatedAt = s.now()
	return s
}

// SetKPIFunc swaps the KPI calculator, e.g. after a threshold reload.
// The cached KPI block is refreshed on the next ingestion.
func (s *Store) SetKPIFunc(calc KPIFunc) {
	s.mu.Lock()
	s.calc = calc
	s.mu.Unlock()
}

// Policy returns the configured setpoint policy.
func (s *Store) Policy() SetpointPolicy {
	return s.policy
}

// ApplySensorUpdate merges u into the snapshot, recomputes the KPI block and
// returns the number of fields written. An update that writes nothing leaves
// the store untouched, including its sequence number.
func (s *Store) ApplySensorUpdate(u twin.Update) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snap.Clone()
	n := next.Apply(u)
	if n == 0 {
		return 0
	}
	next.KPI = s.calc(next)
	s.snap = next
	s.touch()
	return n
}

// ApplyCommand applies an operator command. It returns the ack for the
// sender and the event to relay to everyone else.
func (s *Store) ApplyCommand(cmd twin.Command) (twin.Ack, twin.CommandEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd.Action {
	case twin.ActionStart, twin.ActionStop:
		s.snap.Running = cmd.Action == twin.ActionStart
		s.touch()
		slog.Info("store: running changed", "action", cmd.Action, "running", s.snap.Running)
		ev := twin.CommandEvent{Action: cmd.Action, Running: s.snap.Running}
		return s.ack(cmd.Action), ev, nil

	case twin.ActionSet, twin.ActionSetpoints:
		ev := twin.CommandEvent{Action: twin.ActionSet}
		if cmd.Speed != nil {
			s.setpoints.Speed = *cmd.Speed
			ev.Speed = twin.Float(*cmd.Speed)
			if s.policy == PolicyOverride {
				s.snap.Oper.Speed = *cmd.Speed
			}
		}
		if cmd.Valve != nil {
			s.setpoints.Valve = *cmd.Valve
			ev.Valve = twin.Float(*cmd.Valve)
			if s.policy == PolicyOverride {
				s.snap.Oper.Valve = *cmd.Valve
			}
		}
		if ev.Speed != nil || ev.Valve != nil {
			s.touch()
			slog.Info("store: setpoints changed",
				"speed", s.setpoints.Speed,
				"valve", s.setpoints.Valve,
				"policy", s.policy,
			)
		}
		ev.Running = s.snap.Running
		return s.ack(twin.ActionSet), ev, nil

	default:
		a := s.ack(cmd.Action)
		a.OK = false
		a.Error = ErrUnknownCommand.Error()
		return a, twin.CommandEvent{}, fmt.Errorf("store: action %q: %w", cmd.Action, ErrUnknownCommand)
	}
}

// Current returns a deep copy of the snapshot.
func (s *Store) Current() twin.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// Setpoints returns the current setpoints.
func (s *Store) Setpoints() twin.Setpoints {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.setpoints
}

// Running reports whether the machine is considered active.
func (s *Store) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Running
}

// View returns a deep copy of the composite view.
func (s *Store) View() twin.View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap.Clone()
	return twin.View{
		Seq:       s.seq,
		Gas:       snap.Gas,
		Oper:      snap.Oper,
		Health:    snap.Health,
		KPI:       snap.KPI,
		Running:   snap.Running,
		Setpoints: s.setpoints,
		UpdatedAt: s.updatedAt,
	}
}

// touch advances the sequence number. Callers must hold s.mu.
func (s *Store) touch() {
	s.seq++
	s.updatedAt = s.now()
}

func (s *Store) ack(action string) twin.Ack {
	return twin.Ack{OK: true, Action: action, Running: s.snap.Running}
}
