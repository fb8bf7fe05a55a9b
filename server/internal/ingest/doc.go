// Package ingest is the single entry point for state changes. It decodes
// producer payloads into sparse updates and runs every mutation (sensor
// merge, KPI recompute, history append, operator commands, history clear)
// behind one serialization boundary with a bounded wait. Fan-out to
// subscribers, alert evaluation and the external sink happen after the
// boundary is released.
package ingest
