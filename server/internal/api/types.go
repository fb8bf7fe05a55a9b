package api

// Health states reported by GET /api/v1/health.
const (
	StateOK      = "ok"
	StateWarning = "warning"
	StateTrip    = "trip"
	StateStopped = "stopped"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State       string `json:"state"`
	Running     bool   `json:"running"`
	Seq         uint64 `json:"seq"`
	Subscribers int    `json:"subscribers"`
	HistoryRows int    `json:"history_rows"`
	AlarmCount  int    `json:"alarm_count"`
	AlertCount  int    `json:"alert_count"`
	UpdatedAt   string `json:"updated_at"` // RFC3339
}

// IngestResponse is the payload for POST /api/v1/ingest.
type IngestResponse struct {
	Accepted       bool         `json:"accepted"`
	FieldsApplied  int          `json:"fields_applied"`
	FieldsRejected int          `json:"fields_rejected"`
	FieldsIgnored  int          `json:"fields_ignored"`
	Seq            uint64       `json:"seq"`
	Errors         []FieldError `json:"errors"`
}

// FieldError describes one rejected payload field.
type FieldError struct {
	Section string `json:"section"`
	Field   string `json:"field"`
	Value   string `json:"value"`
}

// ClearResponse is the payload for POST /api/v1/history/clear.
type ClearResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Removed int    `json:"removed"`
}

// LogLevelResponse is the payload for POST /admin/log-level.
type LogLevelResponse struct {
	OK    bool   `json:"ok"`
	Level string `json:"level,omitempty"`
	Error string `json:"error,omitempty"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}
