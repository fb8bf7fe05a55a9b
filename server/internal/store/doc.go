// Package store holds the single current compressor snapshot, the operator
// setpoints and the running flag.
//
// ApplySensorUpdate performs a sparse merge and recomputes the cached KPI
// block in the same critical section, so readers never observe a merged
// snapshot with a stale KPI block. ApplyCommand changes only the running
// flag or setpoints (and, under the override policy, oper.speed/valve) and
// never recomputes KPIs. Current and View always return deep copies.
package store
