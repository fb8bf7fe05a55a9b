package api

import (
	"fmt"
	"math"
	"sort"

	"github.com/appars/gpc-digitaltwin/pkg/twin"
)

// setpointTolerancePct is how far oper may sit from a setpoint before the
// twin reports that the machine is still moving towards it.
const setpointTolerancePct = 2.0

// lowEfficiencyIndex marks an efficiency index worth pointing out.
const lowEfficiencyIndex = 60.0

// DiagnosticHint is one human-readable insight about the compressor.
// The UI displays these as chips; clicking one shows Detail.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier (used for dedup/ordering).
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label shown on the chip.
	Title string `json:"title"`
	// Detail is the full explanation shown on click/hover.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

// computeDiagnostics derives hints from a view.
// Diagnostics are ordered: critical first, then warnings, then info.
func computeDiagnostics(v twin.View) []DiagnosticHint {
	var hints []DiagnosticHint

	if !v.Running {
		hints = append(hints, DiagnosticHint{
			Key:   "stopped",
			Level: "info",
			Title: "Machine stopped",
			Detail: "An operator stop is in effect. Producers keep reporting, " +
				"but the readings describe a machine that is not being driven. Send start to resume.",
		})
	}

	for _, a := range v.KPI.Alarms {
		hints = append(hints, alarmHint(a, v))
	}

	if eff := v.KPI.EfficiencyIndex; eff < lowEfficiencyIndex {
		val := eff
		hints = append(hints, DiagnosticHint{
			Key:   "efficiency",
			Level: "info",
			Title: fmt.Sprintf("Efficiency index %.0f", eff),
			Detail: fmt.Sprintf(
				"The efficiency index is %.1f. The discharge runs %.0f K hotter than suction "+
					"at a compression ratio of %.2f. A rising temperature lift at the same ratio "+
					"usually points at fouling or recirculation.",
				eff, v.Oper.T2-v.Oper.T1, v.KPI.CompressionRatio,
			),
			Value: &val,
		})
	}

	if dev := deviationPct(v.Oper.Speed, v.Setpoints.Speed); dev > setpointTolerancePct {
		val := v.Setpoints.Speed
		hints = append(hints, DiagnosticHint{
			Key:   "speed_tracking",
			Level: "info",
			Title: "Approaching speed setpoint",
			Detail: fmt.Sprintf(
				"Shaft speed is %.0f rpm against a setpoint of %.0f rpm (%.1f%% away). "+
					"Producers move towards the setpoint gradually.",
				v.Oper.Speed, v.Setpoints.Speed, dev,
			),
			Value: &val,
		})
	}
	if dev := deviationPct(v.Oper.Valve, v.Setpoints.Valve); dev > setpointTolerancePct {
		val := v.Setpoints.Valve
		hints = append(hints, DiagnosticHint{
			Key:   "valve_tracking",
			Level: "info",
			Title: "Approaching valve setpoint",
			Detail: fmt.Sprintf(
				"The valve is %.1f%% open against a setpoint of %.1f%%.",
				v.Oper.Valve, v.Setpoints.Valve,
			),
			Value: &val,
		})
	}

	if len(hints) == 0 {
		val := v.KPI.SurgeMarginPct
		hints = append(hints, DiagnosticHint{
			Key:   "all_clear",
			Level: "ok",
			Title: "Operating normally",
			Detail: fmt.Sprintf(
				"No alarms are active. Surge margin is %.0f%% and every vibration axis is in the OK band.",
				v.KPI.SurgeMarginPct,
			),
			Value: &val,
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank(hints[i].Level) < levelRank(hints[j].Level)
	})
	return hints
}

func alarmHint(a twin.Alarm, v twin.View) DiagnosticHint {
	level := "warning"
	if a.Severity == twin.SeverityTrip {
		level = "critical"
	}
	h := DiagnosticHint{Key: "alarm_" + a.Type, Level: level, Title: a.Message}

	switch a.Type {
	case twin.AlarmSurge:
		val := v.KPI.SurgeMarginPct
		h.Value = &val
		h.Detail = fmt.Sprintf(
			"Flow of %.1f kg/s is only %.1f%% above the surge line at %.0f rpm. "+
				"Opening the valve or lowering speed moves the operating point away from surge.",
			v.Oper.Flow, v.KPI.SurgeMarginPct, v.Oper.Speed,
		)
		if v.KPI.SurgeMarginPct < 0 {
			h.Detail = fmt.Sprintf(
				"Flow of %.1f kg/s is below the surge line at %.0f rpm (margin %.1f%%). "+
					"The machine is operating in the surge region.",
				v.Oper.Flow, v.Oper.Speed, v.KPI.SurgeMarginPct,
			)
		}
	case twin.AlarmVibration:
		vib := v.KPI.Vibration
		worst := math.Max(vib.Axial.Value, math.Max(vib.Vertical.Value, vib.Horizontal.Value))
		h.Value = &worst
		h.Detail = fmt.Sprintf(
			"Vibration readings are axial %.2f (%s), vertical %.2f (%s), horizontal %.2f (%s) mm/s.",
			vib.Axial.Value, vib.Axial.Band,
			vib.Vertical.Value, vib.Vertical.Band,
			vib.Horizontal.Value, vib.Horizontal.Band,
		)
	case twin.AlarmLubeOil:
		val := v.Health.LubeOilPressure
		h.Value = &val
		h.Detail = fmt.Sprintf("Lube oil pressure is %.2f bar. Check the oil pump and filters.", val)
	case twin.AlarmBearing:
		val := v.Health.BearingTemp
		h.Value = &val
		h.Detail = fmt.Sprintf(
			"Bearing temperature is %.0f K with oil at %.0f K. Check lube oil flow and cooling.",
			val, v.Health.OilTemp,
		)
	case twin.AlarmSeal:
		val := v.Health.SealLeakage
		h.Value = &val
		h.Detail = fmt.Sprintf("Seal leakage is %.2f L/min. Inspect the dry gas seal.", val)
	default:
		h.Detail = a.Message
	}
	return h
}

func deviationPct(actual, target float64) float64 {
	if target == 0 {
		return 0
	}
	return math.Abs(actual-target) / math.Abs(target) * 100
}

func levelRank(level string) int {
	switch level {
	case "critical":
		return 0
	case "warning":
		return 1
	case "info":
		return 2
	default:
		return 3
	}
}
