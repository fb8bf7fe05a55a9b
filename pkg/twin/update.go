package twin

// Update is a sparse partial state change. Only the fields present in the
// maps are written; everything else in the snapshot is left untouched.
// Keys are canonical field names (see Field).
type Update struct {
	Gas    map[string]float64 `json:"gas,omitempty"`
	Oper   map[string]float64 `json:"oper,omitempty"`
	Health map[string]float64 `json:"health,omitempty"`

	// Composition replaces the whole species map when non-nil.
	Composition map[string]float64 `json:"composition,omitempty"`
}

// Len reports how many field writes u carries. Each composition species
// counts as one field.
func (u Update) Len() int {
	return len(u.Gas) + len(u.Oper) + len(u.Health) + len(u.Composition)
}

// Set records a write of v to section.field. Callers are expected to pass a
// canonical name obtained from Field.
func (u *Update) Set(section, field string, v float64) {
	var m *map[string]float64
	switch section {
	case SectionGas:
		m = &u.Gas
	case SectionOper:
		m = &u.Oper
	case SectionHealth:
		m = &u.Health
	default:
		return
	}
	if *m == nil {
		*m = make(map[string]float64)
	}
	(*m)[field] = v
}

// CompositionField is the gas field holding the species map.
const CompositionField = "composition"

var sectionFields = map[string][]string{
	SectionGas:    {"mw", "glr", "water_ppm"},
	SectionOper:   {"T1", "T2", "P1", "P2", "flow", "speed", "valve"},
	SectionHealth: {"vib_axial", "vib_vert", "vib_horz", "bearing_temp", "oil_temp", "lube_oil_pressure", "seal_leakage"},
}

// legacyAliases maps names used by older producers onto canonical names.
var legacyAliases = map[string]map[string]string{
	SectionHealth: {
		"v_ax":         "vib_axial",
		"v_vert":       "vib_vert",
		"v_horz":       "vib_horz",
		"oil_pressure": "lube_oil_pressure",
		"seal_leak":    "seal_leakage",
	},
}

// Field resolves a field name within section to its canonical numeric field.
// It returns false for unknown sections, unknown names and the composition
// map (which is not a scalar).
func Field(section, name string) (string, bool) {
	fields, ok := sectionFields[section]
	if !ok {
		return "", false
	}
	for _, f := range fields {
		if f == name {
			return f, true
		}
	}
	if canon, ok := legacyAliases[section][name]; ok {
		return canon, true
	}
	return "", false
}

// IsSection reports whether name is one of the ingestible sections.
func IsSection(name string) bool {
	_, ok := sectionFields[name]
	return ok
}

// Apply writes every field in u into s and returns the number of writes.
// Unknown names are skipped and not counted.
func (s *Snapshot) Apply(u Update) int {
	n := 0
	for k, v := range u.Gas {
		if s.Gas.set(k, v) {
			n++
		}
	}
	for k, v := range u.Oper {
		if s.Oper.set(k, v) {
			n++
		}
	}
	for k, v := range u.Health {
		if s.Health.set(k, v) {
			n++
		}
	}
	if u.Composition != nil {
		comp := make(map[string]float64, len(u.Composition))
		for k, v := range u.Composition {
			comp[k] = v
		}
		s.Gas.Composition = comp
		n += len(comp)
	}
	return n
}

func (g *Gas) set(field string, v float64) bool {
	switch field {
	case "mw":
		g.MW = v
	case "glr":
		g.GLR = v
	case "water_ppm":
		g.WaterPPM = v
	default:
		return false
	}
	return true
}

func (o *Oper) set(field string, v float64) bool {
	switch field {
	case "T1":
		o.T1 = v
	case "T2":
		o.T2 = v
	case "P1":
		o.P1 = v
	case "P2":
		o.P2 = v
	case "flow":
		o.Flow = v
	case "speed":
		o.Speed = v
	case "valve":
		o.Valve = v
	default:
		return false
	}
	return true
}

func (h *Health) set(field string, v float64) bool {
	switch field {
	case "vib_axial":
		h.VibAxial = v
	case "vib_vert":
		h.VibVert = v
	case "vib_horz":
		h.VibHorz = v
	case "bearing_temp":
		h.BearingTemp = v
	case "oil_temp":
		h.OilTemp = v
	case "lube_oil_pressure":
		h.LubeOilPressure = v
	case "seal_leakage":
		h.SealLeakage = v
	default:
		return false
	}
	return true
}
