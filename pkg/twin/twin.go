package twin

import "time"

// Section names accepted in ingestion payloads.
const (
	SectionGas    = "gas"
	SectionOper   = "oper"
	SectionHealth = "health"
)

// Gas holds the process gas properties.
type Gas struct {
	MW          float64            `json:"mw"`        // molecular weight, g/mol
	GLR         float64            `json:"glr"`       // gas-liquid ratio
	WaterPPM    float64            `json:"water_ppm"` // water content
	Composition map[string]float64 `json:"composition"`
}

// Oper holds the operating variables of the compressor.
type Oper struct {
	T1    float64 `json:"T1"`    // inlet temperature, K
	T2    float64 `json:"T2"`    // outlet temperature, K
	P1    float64 `json:"P1"`    // inlet pressure, bar abs
	P2    float64 `json:"P2"`    // outlet pressure, bar abs
	Flow  float64 `json:"flow"`  // mass flow, kg/s
	Speed float64 `json:"speed"` // shaft speed, rpm
	Valve float64 `json:"valve"` // valve position, % open
}

// Health holds the mechanical condition variables.
type Health struct {
	VibAxial        float64 `json:"vib_axial"` // mm/s RMS
	VibVert         float64 `json:"vib_vert"`
	VibHorz         float64 `json:"vib_horz"`
	BearingTemp     float64 `json:"bearing_temp"`      // K
	OilTemp         float64 `json:"oil_temp"`          // K
	LubeOilPressure float64 `json:"lube_oil_pressure"` // bar
	SealLeakage     float64 `json:"seal_leakage"`      // L/min
}

// Setpoints are operator targets, distinct from the measured Oper values.
type Setpoints struct {
	Speed float64 `json:"speed"`
	Valve float64 `json:"valve"`
}

// Snapshot is the full current machine state.
type Snapshot struct {
	Gas     Gas    `json:"gas"`
	Oper    Oper   `json:"oper"`
	Health  Health `json:"health"`
	Running bool   `json:"running"`
	KPI     KPIs   `json:"kpi"`
}

// Clone returns a deep copy of s. The copy shares no maps or slices with s.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Gas.Composition != nil {
		out.Gas.Composition = make(map[string]float64, len(s.Gas.Composition))
		for k, v := range s.Gas.Composition {
			out.Gas.Composition[k] = v
		}
	}
	out.KPI = s.KPI.Clone()
	return out
}

// View is the composite state pushed to subscribers and returned by the
// snapshot query. Seq increases by one for every state change.
type View struct {
	Seq       uint64    `json:"seq"`
	Gas       Gas       `json:"gas"`
	Oper      Oper      `json:"oper"`
	Health    Health    `json:"health"`
	KPI       KPIs      `json:"kpi"`
	Running   bool      `json:"running"`
	Setpoints Setpoints `json:"setpoints"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot returns the snapshot part of v. It shares maps with v.
func (v View) Snapshot() Snapshot {
	return Snapshot{Gas: v.Gas, Oper: v.Oper, Health: v.Health, Running: v.Running, KPI: v.KPI}
}

// DefaultSnapshot returns the state a freshly started twin reports before
// any producer has sent data.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Running: true,
		Gas: Gas{
			MW:       18.0,
			GLR:      1000.0,
			WaterPPM: 50,
			Composition: map[string]float64{
				"CH4":  0.80,
				"C2H6": 0.07,
				"C3H8": 0.04,
				"CO2":  0.05,
				"H2S":  0.01,
				"H2O":  0.03,
			},
		},
		Oper: Oper{
			T1: 300.0, T2: 360.0,
			P1: 3.0, P2: 9.0,
			Flow:  25.0,
			Speed: 7800.0,
			Valve: 65.0,
		},
		Health: Health{
			VibAxial:        2.0,
			VibVert:         2.5,
			VibHorz:         2.2,
			BearingTemp:     345.0,
			OilTemp:         325.0,
			LubeOilPressure: 3.2,
			SealLeakage:     0.1,
		},
	}
}
