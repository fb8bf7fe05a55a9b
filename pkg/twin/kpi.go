package twin

// Band is the discretised severity of one vibration reading.
type Band string

const (
	BandOK      Band = "OK"
	BandWarning Band = "Warning"
	BandTrip    Band = "Trip"
)

// Severity of an advisory alarm.
type Severity string

const (
	SeverityWarn Severity = "Warn"
	SeverityTrip Severity = "Trip"
)

// Alarm types emitted by the KPI engine.
const (
	AlarmSurge     = "Surge"
	AlarmVibration = "Vibration"
	AlarmLubeOil   = "LubeOil"
	AlarmBearing   = "Bearing"
	AlarmSeal      = "Seal"
)

// Alarm is one active advisory condition.
type Alarm struct {
	Type     string   `json:"type"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// VibrationStatus pairs a reading with its band.
type VibrationStatus struct {
	Value float64 `json:"value"`
	Band  Band    `json:"band"`
}

// Vibration holds the banded status of each axis.
type Vibration struct {
	Axial      VibrationStatus `json:"axial"`
	Vertical   VibrationStatus `json:"vertical"`
	Horizontal VibrationStatus `json:"horizontal"`
}

// KPIs is the derived-metrics block. It is always a pure function of the
// gas, oper and health sections it was computed from.
type KPIs struct {
	CompressionRatio float64   `json:"compression_ratio"`
	HeadIndexNorm    float64   `json:"head_index_norm"`
	SurgeMarginPct   float64   `json:"surge_margin_pct"`
	EfficiencyIndex  float64   `json:"efficiency_index"`
	Vibration        Vibration `json:"vibration"`
	Alarms           []Alarm   `json:"alarms"`
}

// Clone returns a copy of k with its own alarm slice.
func (k KPIs) Clone() KPIs {
	out := k
	if k.Alarms != nil {
		out.Alarms = make([]Alarm, len(k.Alarms))
		copy(out.Alarms, k.Alarms)
	}
	return out
}
