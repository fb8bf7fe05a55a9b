// Package kpi derives engineering metrics and advisory alarms from a
// compressor snapshot.
//
// Compute(snapshot, thresholds) is pure: the same snapshot and threshold
// table always produce the same KPIs block, with no clock or randomness
// involved. The formulas are an illustrative physical model:
//
//	cr        = P2 / max(P1, 1e-6)
//	R         = 8.314 / (mw / 1000)
//	head      = n/(n-1) * R * T1 * (cr^((n-1)/n) - 1),   n = 1.3
//	head_norm = head / 50000
//	surge     = max(0.2*speed/1000 + 10, 1e-6)
//	margin    = (flow - surge) / surge * 100
//	eff       = clamp(80 - 0.15*max(T2-T1, 1e-3) + 5/cr, 0, 100)
//
// Alarm thresholds live in a Thresholds table so deployments can tune them
// (for example whether low lube-oil pressure ever escalates to Trip).
package kpi
