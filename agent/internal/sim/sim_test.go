package sim

import (
	"math"
	"testing"

	"github.com/appars/gpc-digitaltwin/pkg/twin"
)

var defaultSetpoints = twin.Setpoints{Speed: 7800, Valve: 65}

// almostEqual returns true if a and b are within epsilon of each other.
func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

func TestNext_FollowsSetpoints(t *testing.T) {
	s := New(1, defaultSetpoints)

	for i := 0; i < 200; i++ {
		p, ok := s.Next()
		if !ok {
			t.Fatal("Next returned false while running")
		}
		if !almostEqual(p.Oper.Speed, 7800, 78.01) {
			t.Fatalf("speed %v outside ±1%% of 7800", p.Oper.Speed)
		}
		if p.Oper.Valve < 0 || p.Oper.Valve > 100 || !almostEqual(p.Oper.Valve, 65, 0.66) {
			t.Fatalf("valve %v outside ±1%% of 65", p.Oper.Valve)
		}
		if p.Oper.Flow < 10 {
			t.Fatalf("flow %v below floor", p.Oper.Flow)
		}
		if p.Health.VibAxial < 1.5 || p.Health.VibVert < 1.5 || p.Health.VibHorz < 1.5 {
			t.Fatalf("vibration below floor: %+v", p.Health)
		}
		if p.Health.SealLeakage < 0.05 || p.Health.SealLeakage > 0.15 {
			t.Fatalf("seal leakage %v out of range", p.Health.SealLeakage)
		}
	}
}

func TestNext_SpeedCoupling(t *testing.T) {
	low := New(7, twin.Setpoints{Speed: 7000, Valve: 65})
	high := New(7, twin.Setpoints{Speed: 9000, Valve: 65})

	var pLow, pHigh Payload
	for i := 0; i < 50; i++ {
		a, _ := low.Next()
		b, _ := high.Next()
		pLow.Oper.P2 += a.Oper.P2 / 50
		pHigh.Oper.P2 += b.Oper.P2 / 50
		pLow.Oper.T2 += a.Oper.T2 / 50
		pHigh.Oper.T2 += b.Oper.T2 / 50
		pLow.Health.BearingTemp += a.Health.BearingTemp / 50
		pHigh.Health.BearingTemp += b.Health.BearingTemp / 50
	}

	// 2000 rpm apart: P2 +3 bar, T2 +8 K, bearing +6 K.
	if !almostEqual(pHigh.Oper.P2-pLow.Oper.P2, 3.0, 0.2) {
		t.Errorf("P2 delta: got %.3f, want ~3.0", pHigh.Oper.P2-pLow.Oper.P2)
	}
	if !almostEqual(pHigh.Oper.T2-pLow.Oper.T2, 8.0, 0.6) {
		t.Errorf("T2 delta: got %.3f, want ~8.0", pHigh.Oper.T2-pLow.Oper.T2)
	}
	if !almostEqual(pHigh.Health.BearingTemp-pLow.Health.BearingTemp, 6.0, 0.6) {
		t.Errorf("bearing delta: got %.3f, want ~6.0", pHigh.Health.BearingTemp-pLow.Health.BearingTemp)
	}
}

func TestNext_Reproducible(t *testing.T) {
	a := New(99, defaultSetpoints)
	b := New(99, defaultSetpoints)
	for i := 0; i < 10; i++ {
		pa, _ := a.Next()
		pb, _ := b.Next()
		if pa != pb {
			t.Fatalf("step %d differs:\n%+v\n%+v", i, pa, pb)
		}
	}
}

func TestApply_StopStartSet(t *testing.T) {
	s := New(3, defaultSetpoints)

	s.Apply(twin.CommandEvent{Action: twin.ActionStop})
	if s.Running() {
		t.Fatal("Running after stop")
	}
	if _, ok := s.Next(); ok {
		t.Error("Next produced a sample while stopped")
	}

	s.Apply(twin.CommandEvent{Action: twin.ActionStart, Running: true})
	if !s.Running() {
		t.Fatal("not Running after start")
	}

	s.Apply(twin.CommandEvent{Action: twin.ActionSet, Speed: twin.Float(8500)})
	sp := s.Setpoints()
	if sp.Speed != 8500 || sp.Valve != 65 {
		t.Errorf("after set speed: got %+v", sp)
	}

	s.Apply(twin.CommandEvent{Action: twin.ActionSetpoints, Valve: twin.Float(40)})
	if sp := s.Setpoints(); sp.Speed != 8500 || sp.Valve != 40 {
		t.Errorf("after setpoints valve: got %+v", sp)
	}

	s.Apply(twin.CommandEvent{Action: "launch"})
	if !s.Running() {
		t.Error("unknown action changed running")
	}

	p, ok := s.Next()
	if !ok || !almostEqual(p.Oper.Speed, 8500, 85.01) {
		t.Errorf("sample after set: ok=%v speed=%v", ok, p.Oper.Speed)
	}
}

func TestClamp(t *testing.T) {
	if clamp(101, 0, 100) != 100 || clamp(-1, 0, 100) != 0 || clamp(50, 0, 100) != 50 {
		t.Error("clamp bounds")
	}
}
