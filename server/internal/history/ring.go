package history

import (
	"math"
	"sync"
	"time"

	"github.com/appars/gpc-digitaltwin/pkg/twin"
)

// DefaultCapacity is the ring size used when none is configured.
const DefaultCapacity = 2000

// Row is one historical sample. Values are rounded copies taken at append
// time.
type Row struct {
	Timestamp time.Time `json:"ts"`

	Flow  float64 `json:"flow"`
	P1    float64 `json:"P1"`
	P2    float64 `json:"P2"`
	T1    float64 `json:"T1"`
	T2    float64 `json:"T2"`
	Speed float64 `json:"speed"`
	Valve float64 `json:"valve"`

	VibAxial        float64 `json:"vib_axial"`
	VibVert         float64 `json:"vib_vert"`
	VibHorz         float64 `json:"vib_horz"`
	LubeOilPressure float64 `json:"lube_oil_pressure"`
	BearingTemp     float64 `json:"bearing_temp"`
	OilTemp         float64 `json:"oil_temp"`
	SealLeakage     float64 `json:"seal_leakage"`

	CompressionRatio float64 `json:"compression_ratio"`
	SurgeMarginPct   float64 `json:"surge_margin_pct"`
	HeadIndexNorm    float64 `json:"head_index_norm"`
	EfficiencyIndex  float64 `json:"efficiency_index"`
}

// NewRow builds the rounded row for s and k at ts. Timestamps are truncated
// to whole seconds in UTC.
func NewRow(s twin.Snapshot, k twin.KPIs, ts time.Time) Row {
	o, h := s.Oper, s.Health
	return Row{
		Timestamp: ts.UTC().Truncate(time.Second),

		Flow:  round(o.Flow, 3),
		P1:    round(o.P1, 3),
		P2:    round(o.P2, 3),
		T1:    round(o.T1, 3),
		T2:    round(o.T2, 3),
		Speed: round(o.Speed, 3),
		Valve: round(o.Valve, 3),

		VibAxial:        round(h.VibAxial, 3),
		VibVert:         round(h.VibVert, 3),
		VibHorz:         round(h.VibHorz, 3),
		LubeOilPressure: round(h.LubeOilPressure, 3),
		BearingTemp:     round(h.BearingTemp, 3),
		OilTemp:         round(h.OilTemp, 3),
		SealLeakage:     round(h.SealLeakage, 3),

		CompressionRatio: round(k.CompressionRatio, 4),
		SurgeMarginPct:   round(k.SurgeMarginPct, 4),
		HeadIndexNorm:    round(k.HeadIndexNorm, 6),
		EfficiencyIndex:  round(k.EfficiencyIndex, 3),
	}
}

// Ring is a fixed-capacity FIFO of rows. It is safe for concurrent use.
type Ring struct {
	mu    sync.RWMutex
	rows  []Row
	head  int // next write position
	size  int
	total uint64 // rows ever appended
}

// New creates a Ring holding at most capacity rows. A non-positive capacity
// selects DefaultCapacity.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{rows: make([]Row, capacity)}
}

// Append records one row built from s and k, evicting the oldest row when
// the ring is full, and returns the stored row.
func (r *Ring) Append(s twin.Snapshot, k twin.KPIs, ts time.Time) Row {
	row := NewRow(s, k, ts)
	r.Push(row)
	return row
}

// Push appends an already-built row.
func (r *Ring) Push(row Row) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rows[r.head] = row
	r.head = (r.head + 1) % len(r.rows)
	if r.size < len(r.rows) {
		r.size++
	}
	r.total++
}

// Export returns a copy of all rows, oldest first.
func (r *Ring) Export() []Row {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Row, r.size)
	start := (r.head - r.size + len(r.rows)) % len(r.rows)
	for i := 0; i < r.size; i++ {
		out[i] = r.rows[(start+i)%len(r.rows)]
	}
	return out
}

// Clear empties the ring and returns how many rows were removed.
func (r *Ring) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.size
	for i := range r.rows {
		r.rows[i] = Row{}
	}
	r.head = 0
	r.size = 0
	return n
}

// Len returns the number of rows held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.rows)
}

// Total returns how many rows have ever been appended, including evicted ones.
func (r *Ring) Total() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
