// Package metrics exposes Prometheus instruments for the twin: ingestion
// outcomes, field counts, command counts, subscriber fan-out, history size
// and active alarms. All methods are nil-safe so components can run without
// a registry in tests.
package metrics
