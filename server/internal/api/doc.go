// Package api implements the HTTP REST API for twin-server.
//
// New(deps) returns an http.Handler that serves:
//
//	GET  /api/v1/health          - running flag, alarm state, subscriber and history counts
//	GET  /api/v1/snapshot        - current composite view (same schema as the WebSocket data)
//	GET  /api/v1/diagnostics     - human-readable hints derived from the view
//	POST /api/v1/ingest          - sparse producer payload; answers fields applied/rejected/ignored
//	POST /api/v1/command         - {"action":"start"|"stop"|"set", "speed"?, "valve"?}; answers an ack
//	GET  /api/v1/history         - retained history rows, oldest first
//	GET  /api/v1/history.csv     - the same rows as a CSV download
//	POST /api/v1/history/clear   - empties the history ring
//	GET  /api/v1/alerts          - firing and recently resolved alerts
//	GET  /api/v1/metrics.txt     - Prometheus text exposition
//	POST /admin/log-level        - DEBUG | INFO | WARNING | ERROR | CRITICAL
//
// Mutating routes are wrapped with the configured auth middleware.
// Invalid payloads are answered 400; a busy twin is answered 503 with
// Retry-After. JSON types are defined in types.go. No external HTTP
// framework is used.
package api
