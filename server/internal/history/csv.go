package history

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// CSVHeader is the column layout of the history download.
var CSVHeader = []string{
	"timestamp", "flow", "P1", "P2", "T1", "T2", "speed", "valve",
	"vib_axial", "vib_vert", "vib_horz", "lube_oil_pressure", "bearing_temp", "oil_temp", "seal_leakage",
	"compression_ratio", "surge_margin_pct", "head_index_norm", "efficiency_index",
}

// WriteCSV writes the header followed by one line per row.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("history: write csv header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(r.record()); err != nil {
			return fmt.Errorf("history: write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func (r Row) record() []string {
	return []string{
		r.Timestamp.UTC().Format(time.RFC3339),
		ff(r.Flow), ff(r.P1), ff(r.P2), ff(r.T1), ff(r.T2), ff(r.Speed), ff(r.Valve),
		ff(r.VibAxial), ff(r.VibVert), ff(r.VibHorz), ff(r.LubeOilPressure), ff(r.BearingTemp), ff(r.OilTemp), ff(r.SealLeakage),
		ff(r.CompressionRatio), ff(r.SurgeMarginPct), ff(r.HeadIndexNorm), ff(r.EfficiencyIndex),
	}
}

func ff(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
