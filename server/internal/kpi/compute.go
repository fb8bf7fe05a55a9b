package kpi

import (
	"math"

	"github.com/appars/gpc-digitaltwin/pkg/twin"
)

// Model constants.
const (
	// epsilon keeps divisions finite when inputs are zero.
	epsilon = 1e-6

	// polytropicN is the fixed polytropic index.
	polytropicN = 1.3

	// universalR is the universal gas constant, J/(mol·K).
	universalR = 8.314

	// headScale normalises the head index into a dimensionless figure.
	headScale = 50000.0

	// minTempRise floors T2-T1 in the efficiency index.
	minTempRise = 1e-3

	// Substitutes for non-positive inputs.
	defaultMW = 18.0
	defaultT1 = 300.0
)

// Alarm messages.
const (
	msgSurge         = "Low surge margin"
	msgVibrationTrip = "High vibration level"
	msgVibrationWarn = "Vibration caution"
	msgLubeOil       = "Low lube oil pressure"
	msgBearing       = "High bearing temperature"
	msgSeal          = "Excessive seal leakage"
)

// With returns Compute with th bound.
func With(th Thresholds) func(twin.Snapshot) twin.KPIs {
	return func(s twin.Snapshot) twin.KPIs { return Compute(s, th) }
}

// Compute derives the KPI block from the gas, oper and health sections of s.
// The Running flag and any previously cached KPI block in s are ignored.
func Compute(s twin.Snapshot, th Thresholds) twin.KPIs {
	o, h := s.Oper, s.Health

	cr := CompressionRatio(o.P1, o.P2)
	headNorm := HeadIndex(s.Gas.MW, o.T1, cr) / headScale
	margin := SurgeMarginPct(o.Speed, o.Flow)
	eff := EfficiencyIndex(o.T1, o.T2, cr)

	vib := twin.Vibration{
		Axial:      twin.VibrationStatus{Value: h.VibAxial, Band: th.Band(h.VibAxial)},
		Vertical:   twin.VibrationStatus{Value: h.VibVert, Band: th.Band(h.VibVert)},
		Horizontal: twin.VibrationStatus{Value: h.VibHorz, Band: th.Band(h.VibHorz)},
	}

	return twin.KPIs{
		CompressionRatio: cr,
		HeadIndexNorm:    headNorm,
		SurgeMarginPct:   margin,
		EfficiencyIndex:  eff,
		Vibration:        vib,
		Alarms:           alarms(margin, vib, h, th),
	}
}

// CompressionRatio returns P2/P1 with P1 floored at epsilon.
func CompressionRatio(p1, p2 float64) float64 {
	return p2 / math.Max(p1, epsilon)
}

// HeadIndex returns the polytropic head, J/kg, for the given molecular
// weight (g/mol), inlet temperature (K) and compression ratio.
func HeadIndex(mw, t1, cr float64) float64 {
	if mw <= 0 {
		mw = defaultMW
	}
	if t1 <= 0 {
		t1 = defaultT1
	}
	rSpec := universalR / (mw / 1000.0)
	exp := (polytropicN - 1) / polytropicN
	return (polytropicN / (polytropicN - 1)) * rSpec * t1 * (math.Pow(math.Max(cr, 0), exp) - 1)
}

// SurgeFlow estimates the minimum stable flow at the given speed (rpm).
func SurgeFlow(speed float64) float64 {
	return math.Max(0.2*speed/1000.0+10.0, epsilon)
}

// SurgeMarginPct returns the percentage distance between flow and the
// surge line at speed.
func SurgeMarginPct(speed, flow float64) float64 {
	sf := SurgeFlow(speed)
	return (flow - sf) / sf * 100.0
}

// EfficiencyIndex returns the 0–100 efficiency indicator.
func EfficiencyIndex(t1, t2, cr float64) float64 {
	dT := math.Max(t2-t1, minTempRise)
	return clamp(80.0-0.15*dT+5.0/cr, 0, 100)
}

// alarms derives the active alarm list. Order is fixed: Surge, Vibration,
// LubeOil, Bearing, Seal.
func alarms(margin float64, vib twin.Vibration, h twin.Health, th Thresholds) []twin.Alarm {
	out := make([]twin.Alarm, 0, 5)

	if margin < th.SurgeMarginWarnPct {
		sev := twin.SeverityWarn
		if margin < 0 {
			sev = twin.SeverityTrip
		}
		out = append(out, twin.Alarm{Type: twin.AlarmSurge, Message: msgSurge, Severity: sev})
	}

	switch worstBand(vib) {
	case twin.BandTrip:
		out = append(out, twin.Alarm{Type: twin.AlarmVibration, Message: msgVibrationTrip, Severity: twin.SeverityTrip})
	case twin.BandWarning:
		out = append(out, twin.Alarm{Type: twin.AlarmVibration, Message: msgVibrationWarn, Severity: twin.SeverityWarn})
	}

	if h.LubeOilPressure < th.LubeOilWarn {
		sev := twin.SeverityWarn
		if th.LubeOilTrip > 0 && h.LubeOilPressure < th.LubeOilTrip {
			sev = twin.SeverityTrip
		}
		out = append(out, twin.Alarm{Type: twin.AlarmLubeOil, Message: msgLubeOil, Severity: sev})
	}

	if h.BearingTemp > th.BearingTempWarn {
		out = append(out, twin.Alarm{Type: twin.AlarmBearing, Message: msgBearing, Severity: twin.SeverityWarn})
	}

	if h.SealLeakage > th.SealLeakageWarn {
		out = append(out, twin.Alarm{Type: twin.AlarmSeal, Message: msgSeal, Severity: twin.SeverityWarn})
	}

	return out
}

func worstBand(v twin.Vibration) twin.Band {
	worst := twin.BandOK
	for _, b := range []twin.Band{v.Axial.Band, v.Vertical.Band, v.Horizontal.Band} {
		switch {
		case b == twin.BandTrip:
			return twin.BandTrip
		case b == twin.BandWarning:
			worst = twin.BandWarning
		}
	}
	return worst
}

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
