package alerts

import (
	"strconv"
	"strings"

	"github.com/appars/gpc-digitaltwin/pkg/twin"
)

// evalCondition evaluates a rule condition string against a view.
//
// Supported expressions (field operator value):
//
//	surge_margin_pct < 20
//	efficiency_index < 60
//	compression_ratio > 4
//	vib_axial >= 5
//	bearing_temp > 360
//	flow < 15
//	running == false
//	alarm == Surge
//
// Numeric fields are the KPI block, every oper, health and scalar gas field
// by its JSON name, and speed_setpoint / valve_setpoint.
//
// Returns (fires bool, triggering value float64).
// Returns (false, 0) if the expression cannot be parsed or the field is unknown.
func evalCondition(cond string, v twin.View) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	switch field {
	case "running":
		want, err := strconv.ParseBool(rhs)
		if err != nil {
			return false, 0
		}
		switch op {
		case "==":
			return v.Running == want, 0
		case "!=":
			return v.Running != want, 0
		}
		return false, 0

	case "alarm":
		if op != "==" {
			return false, 0
		}
		for _, a := range v.KPI.Alarms {
			if strings.EqualFold(a.Type, rhs) {
				return true, severityValue(a.Severity)
			}
		}
		return false, 0

	default:
		val, ok := numericField(field, v)
		if !ok {
			return false, 0
		}
		threshold, err := strconv.ParseFloat(rhs, 64)
		if err != nil {
			return false, 0
		}
		return compareFloat(val, op, threshold), val
	}
}

// numericField maps a field name to its value in the view.
func numericField(field string, v twin.View) (float64, bool) {
	switch field {
	case "compression_ratio":
		return v.KPI.CompressionRatio, true
	case "head_index_norm":
		return v.KPI.HeadIndexNorm, true
	case "surge_margin_pct":
		return v.KPI.SurgeMarginPct, true
	case "efficiency_index":
		return v.KPI.EfficiencyIndex, true
	case "speed_setpoint":
		return v.Setpoints.Speed, true
	case "valve_setpoint":
		return v.Setpoints.Valve, true

	case "T1":
		return v.Oper.T1, true
	case "T2":
		return v.Oper.T2, true
	case "P1":
		return v.Oper.P1, true
	case "P2":
		return v.Oper.P2, true
	case "flow":
		return v.Oper.Flow, true
	case "speed":
		return v.Oper.Speed, true
	case "valve":
		return v.Oper.Valve, true

	case "vib_axial":
		return v.Health.VibAxial, true
	case "vib_vert":
		return v.Health.VibVert, true
	case "vib_horz":
		return v.Health.VibHorz, true
	case "bearing_temp":
		return v.Health.BearingTemp, true
	case "oil_temp":
		return v.Health.OilTemp, true
	case "lube_oil_pressure":
		return v.Health.LubeOilPressure, true
	case "seal_leakage":
		return v.Health.SealLeakage, true

	case "mw":
		return v.Gas.MW, true
	case "glr":
		return v.Gas.GLR, true
	case "water_ppm":
		return v.Gas.WaterPPM, true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}

func severityValue(s twin.Severity) float64 {
	if s == twin.SeverityTrip {
		return 2
	}
	return 1
}
