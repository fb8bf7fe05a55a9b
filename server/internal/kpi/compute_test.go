package kpi

import (
	"math"
	"reflect"
	"testing"

	"github.com/appars/gpc-digitaltwin/pkg/twin"
)

// almostEqual returns true if a and b are within epsilon of each other.
func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

// reference returns the snapshot used in the worked examples:
// P1=3, P2=9, T1=300, T2=360, mw=18, speed=7800, flow=25.
func reference() twin.Snapshot {
	return twin.DefaultSnapshot()
}

func TestCompute_ReferenceValues(t *testing.T) {
	k := Compute(reference(), DefaultThresholds())

	if k.CompressionRatio != 3.0 {
		t.Errorf("compression_ratio: got %v, want exactly 3", k.CompressionRatio)
	}
	if !almostEqual(k.HeadIndexNorm, 3.46535834, 1e-6) {
		t.Errorf("head_index_norm: got %v, want ~3.465358", k.HeadIndexNorm)
	}
	if !almostEqual(k.SurgeMarginPct, 116.262976, 1e-4) {
		t.Errorf("surge_margin_pct: got %v, want ~116.263", k.SurgeMarginPct)
	}
	// 80 - 0.15*60 + 5/3
	if !almostEqual(k.EfficiencyIndex, 72.666667, 1e-5) {
		t.Errorf("efficiency_index: got %v, want ~72.667", k.EfficiencyIndex)
	}
	if len(k.Alarms) != 0 {
		t.Errorf("alarms: got %v, want none", k.Alarms)
	}
	if k.Alarms == nil {
		t.Error("alarms: want empty slice, got nil")
	}
}

func TestCompute_Deterministic(t *testing.T) {
	s := reference()
	s.Health.VibAxial = 5
	s.Health.LubeOilPressure = 1.2
	th := DefaultThresholds()

	a := Compute(s, th)
	b := Compute(s, th)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Compute not deterministic:\n a=%+v\n b=%+v", a, b)
	}
}

func TestCompute_IgnoresCachedKPIAndRunning(t *testing.T) {
	s := reference()
	want := Compute(s, DefaultThresholds())

	s.Running = false
	s.KPI = twin.KPIs{CompressionRatio: 99, Alarms: []twin.Alarm{{Type: "stale"}}}
	got := Compute(s, DefaultThresholds())

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Compute depends on cached state: got %+v, want %+v", got, want)
	}
}

func TestBand_Boundaries(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		v    float64
		want twin.Band
	}{
		{0, twin.BandOK},
		{3.49999, twin.BandOK},
		{3.5, twin.BandWarning},
		{7.09999, twin.BandWarning},
		{7.1, twin.BandTrip},
		{12, twin.BandTrip},
	}
	for _, tc := range tests {
		if got := th.Band(tc.v); got != tc.want {
			t.Errorf("Band(%v): got %s, want %s", tc.v, got, tc.want)
		}
	}
}

func TestCompute_Alarms(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*twin.Snapshot)
		th     func(*Thresholds)
		want   []twin.Alarm
	}{
		{
			name:   "surge warn - margin between 0 and 10",
			mutate: func(s *twin.Snapshot) { s.Oper.Flow = 12.0 }, // (12-11.56)/11.56 ≈ 3.8%
			want:   []twin.Alarm{{Type: twin.AlarmSurge, Message: msgSurge, Severity: twin.SeverityWarn}},
		},
		{
			name:   "surge trip - negative margin",
			mutate: func(s *twin.Snapshot) { s.Oper.Flow = 10.0 },
			want:   []twin.Alarm{{Type: twin.AlarmSurge, Message: msgSurge, Severity: twin.SeverityTrip}},
		},
		{
			name:   "surge warn - margin exactly zero",
			mutate: func(s *twin.Snapshot) { s.Oper.Speed = 0; s.Oper.Flow = 10 },
			want:   []twin.Alarm{{Type: twin.AlarmSurge, Message: msgSurge, Severity: twin.SeverityWarn}},
		},
		{
			name:   "vibration warn on one axis",
			mutate: func(s *twin.Snapshot) { s.Health.VibVert = 3.5 },
			want:   []twin.Alarm{{Type: twin.AlarmVibration, Message: msgVibrationWarn, Severity: twin.SeverityWarn}},
		},
		{
			name: "vibration trip wins over warn",
			mutate: func(s *twin.Snapshot) {
				s.Health.VibAxial = 4.0
				s.Health.VibHorz = 7.1
			},
			want: []twin.Alarm{{Type: twin.AlarmVibration, Message: msgVibrationTrip, Severity: twin.SeverityTrip}},
		},
		{
			name:   "lube oil warn",
			mutate: func(s *twin.Snapshot) { s.Health.LubeOilPressure = 1.8 },
			want:   []twin.Alarm{{Type: twin.AlarmLubeOil, Message: msgLubeOil, Severity: twin.SeverityWarn}},
		},
		{
			name:   "lube oil trip",
			mutate: func(s *twin.Snapshot) { s.Health.LubeOilPressure = 1.4 },
			want:   []twin.Alarm{{Type: twin.AlarmLubeOil, Message: msgLubeOil, Severity: twin.SeverityTrip}},
		},
		{
			name:   "lube oil trip tier disabled",
			mutate: func(s *twin.Snapshot) { s.Health.LubeOilPressure = 1.0 },
			th:     func(th *Thresholds) { th.LubeOilTrip = 0 },
			want:   []twin.Alarm{{Type: twin.AlarmLubeOil, Message: msgLubeOil, Severity: twin.SeverityWarn}},
		},
		{
			name:   "bearing temperature",
			mutate: func(s *twin.Snapshot) { s.Health.BearingTemp = 370.5 },
			want:   []twin.Alarm{{Type: twin.AlarmBearing, Message: msgBearing, Severity: twin.SeverityWarn}},
		},
		{
			name:   "bearing exactly at threshold does not fire",
			mutate: func(s *twin.Snapshot) { s.Health.BearingTemp = 370 },
			want:   []twin.Alarm{},
		},
		{
			name:   "seal leakage",
			mutate: func(s *twin.Snapshot) { s.Health.SealLeakage = 0.6 },
			want:   []twin.Alarm{{Type: twin.AlarmSeal, Message: msgSeal, Severity: twin.SeverityWarn}},
		},
		{
			name: "all alarms in fixed order",
			mutate: func(s *twin.Snapshot) {
				s.Oper.Flow = 5
				s.Health.VibAxial = 8
				s.Health.LubeOilPressure = 1.9
				s.Health.BearingTemp = 380
				s.Health.SealLeakage = 0.7
			},
			want: []twin.Alarm{
				{Type: twin.AlarmSurge, Message: msgSurge, Severity: twin.SeverityTrip},
				{Type: twin.AlarmVibration, Message: msgVibrationTrip, Severity: twin.SeverityTrip},
				{Type: twin.AlarmLubeOil, Message: msgLubeOil, Severity: twin.SeverityWarn},
				{Type: twin.AlarmBearing, Message: msgBearing, Severity: twin.SeverityWarn},
				{Type: twin.AlarmSeal, Message: msgSeal, Severity: twin.SeverityWarn},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := reference()
			tc.mutate(&s)
			th := DefaultThresholds()
			if tc.th != nil {
				tc.th(&th)
			}
			got := Compute(s, th).Alarms
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("alarms:\n got  %+v\n want %+v", got, tc.want)
			}
		})
	}
}

func TestCompute_DivisionSafe(t *testing.T) {
	s := reference()
	s.Oper.P1 = 0
	s.Oper.P2 = 0
	s.Gas.MW = 0
	s.Oper.T1 = 0
	s.Oper.Speed = -1e9

	k := Compute(s, DefaultThresholds())
	for name, v := range map[string]float64{
		"compression_ratio": k.CompressionRatio,
		"head_index_norm":   k.HeadIndexNorm,
		"surge_margin_pct":  k.SurgeMarginPct,
		"efficiency_index":  k.EfficiencyIndex,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("%s: got %v, want finite", name, v)
		}
	}
	if k.EfficiencyIndex != 100 {
		t.Errorf("efficiency_index with cr=0: got %v, want clamped 100", k.EfficiencyIndex)
	}
}

func TestEfficiencyIndex_Clamped(t *testing.T) {
	if got := EfficiencyIndex(300, 1000, 3); got != 0 {
		t.Errorf("large temperature rise: got %v, want 0", got)
	}
	// T2 < T1 floors the rise at 1e-3.
	want := 80.0 - 0.15*1e-3 + 5.0/3.0
	if got := EfficiencyIndex(300, 250, 3); !almostEqual(got, want, 1e-9) {
		t.Errorf("negative rise: got %v, want %v", got, want)
	}
}

func TestThresholds_Validate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Fatalf("defaults: unexpected error %v", err)
	}

	bad := DefaultThresholds()
	bad.VibrationTrip = 3.0
	if err := bad.Validate(); err == nil {
		t.Error("trip below warn: expected error")
	}

	bad = DefaultThresholds()
	bad.LubeOilTrip = 2.5
	if err := bad.Validate(); err == nil {
		t.Error("lube trip above warn: expected error")
	}

	off := DefaultThresholds()
	off.LubeOilTrip = 0
	if err := off.Validate(); err != nil {
		t.Errorf("trip tier disabled: unexpected error %v", err)
	}
}
