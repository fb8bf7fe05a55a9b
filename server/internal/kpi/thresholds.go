package kpi

import (
	"fmt"

	"github.com/appars/gpc-digitaltwin/pkg/twin"
)

// Default alarm thresholds.
const (
	DefaultSurgeMarginWarnPct = 10.0
	DefaultVibrationWarn      = 3.5
	DefaultVibrationTrip      = 7.1
	DefaultLubeOilWarn        = 2.0
	DefaultLubeOilTrip        = 1.5
	DefaultBearingTempWarn    = 370.0
	DefaultSealLeakageWarn    = 0.5
)

// Thresholds is the alarm threshold table used by Compute.
type Thresholds struct {
	// SurgeMarginWarnPct raises a Surge alarm when the margin drops below it.
	// The alarm is Trip once the margin is negative.
	SurgeMarginWarnPct float64 `yaml:"surge_margin_warn_pct" json:"surge_margin_warn_pct"`

	// VibrationWarn and VibrationTrip are the lower bounds (inclusive) of the
	// Warning and Trip bands, in mm/s RMS.
	VibrationWarn float64 `yaml:"vibration_warn" json:"vibration_warn"`
	VibrationTrip float64 `yaml:"vibration_trip" json:"vibration_trip"`

	// LubeOilWarn raises a LubeOil Warn below this pressure (bar).
	// LubeOilTrip escalates to Trip below it; 0 disables the Trip tier.
	LubeOilWarn float64 `yaml:"lube_oil_warn" json:"lube_oil_warn"`
	LubeOilTrip float64 `yaml:"lube_oil_trip" json:"lube_oil_trip"`

	// BearingTempWarn raises a Bearing alarm above this temperature (K).
	BearingTempWarn float64 `yaml:"bearing_temp_warn" json:"bearing_temp_warn"`

	// SealLeakageWarn raises a Seal alarm above this leak rate (L/min).
	SealLeakageWarn float64 `yaml:"seal_leakage_warn" json:"seal_leakage_warn"`
}

// DefaultThresholds returns the stock threshold table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SurgeMarginWarnPct: DefaultSurgeMarginWarnPct,
		VibrationWarn:      DefaultVibrationWarn,
		VibrationTrip:      DefaultVibrationTrip,
		LubeOilWarn:        DefaultLubeOilWarn,
		LubeOilTrip:        DefaultLubeOilTrip,
		BearingTempWarn:    DefaultBearingTempWarn,
		SealLeakageWarn:    DefaultSealLeakageWarn,
	}
}

// Validate checks that the table is internally consistent.
func (th Thresholds) Validate() error {
	if th.VibrationWarn <= 0 || th.VibrationTrip <= th.VibrationWarn {
		return fmt.Errorf("vibration thresholds: want 0 < warn (%v) < trip (%v)", th.VibrationWarn, th.VibrationTrip)
	}
	if th.LubeOilTrip < 0 || (th.LubeOilTrip > 0 && th.LubeOilTrip >= th.LubeOilWarn) {
		return fmt.Errorf("lube oil thresholds: want 0 <= trip (%v) < warn (%v)", th.LubeOilTrip, th.LubeOilWarn)
	}
	return nil
}

// Band maps a vibration reading to its band.
func (th Thresholds) Band(v float64) twin.Band {
	switch {
	case v < th.VibrationWarn:
		return twin.BandOK
	case v < th.VibrationTrip:
		return twin.BandWarning
	default:
		return twin.BandTrip
	}
}
