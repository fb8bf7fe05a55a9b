package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/appars/gpc-digitaltwin/pkg/twin"
	"github.com/appars/gpc-digitaltwin/server/internal/alerts"
	"github.com/appars/gpc-digitaltwin/server/internal/config"
	"github.com/appars/gpc-digitaltwin/server/internal/history"
	"github.com/appars/gpc-digitaltwin/server/internal/ingest"
	"github.com/appars/gpc-digitaltwin/server/internal/metrics"
)

const (
	// maxBodyBytes caps request bodies on the mutating routes.
	maxBodyBytes = 1 << 20

	// retryAfterSeconds is sent with 503 answers when the twin is busy.
	retryAfterSeconds = "1"

	csvFilename = "wgc_history.csv"
)

// Counter reports the number of connected subscribers.
type Counter interface {
	Count() int
}

// Deps are the collaborators of the REST API. Gateway is required; the rest
// are optional.
type Deps struct {
	Gateway     *ingest.Gateway
	Alerts      *alerts.Engine
	Subscribers Counter
	LogLevel    *slog.LevelVar
	Gatherer    prometheus.Gatherer

	// Auth wraps the mutating routes. Nil leaves them open.
	Auth func(http.Handler) http.Handler
}

// Handler is the HTTP handler for all /api/v1/* and /admin/* endpoints.
type Handler struct {
	deps Deps
	mux  *http.ServeMux
}

// New creates a Handler wired to d and registers all routes.
func New(d Deps) http.Handler {
	h := &Handler{deps: d, mux: http.NewServeMux()}
	guard := d.Auth
	if guard == nil {
		guard = func(next http.Handler) http.Handler { return next }
	}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)
	h.mux.HandleFunc("/api/v1/diagnostics", h.diagnostics)
	h.mux.HandleFunc("/api/v1/history", h.history)
	h.mux.HandleFunc("/api/v1/history.csv", h.historyCSV)
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)
	h.mux.HandleFunc("/api/v1/metrics.txt", h.metricsText)

	h.mux.Handle("/api/v1/ingest", guard(http.HandlerFunc(h.ingest)))
	h.mux.Handle("/api/v1/command", guard(http.HandlerFunc(h.command)))
	h.mux.Handle("/api/v1/history/clear", guard(http.HandlerFunc(h.clearHistory)))
	h.mux.Handle("/admin/log-level", guard(http.HandlerFunc(h.logLevel)))

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: running flag, alarm state and sizes.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	v := h.deps.Gateway.View()
	resp := HealthResponse{
		State:       stateOf(v),
		Running:     v.Running,
		Seq:         v.Seq,
		HistoryRows: h.deps.Gateway.HistoryLen(),
		AlarmCount:  len(v.KPI.Alarms),
		UpdatedAt:   v.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if h.deps.Subscribers != nil {
		resp.Subscribers = h.deps.Subscribers.Count()
	}
	if h.deps.Alerts != nil {
		resp.AlertCount = h.deps.Alerts.FiringCount()
	}
	jsonResp(w, http.StatusOK, resp)
}

// snapshot returns GET /api/v1/snapshot: the current composite view.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	jsonResp(w, http.StatusOK, h.deps.Gateway.View())
}

// diagnostics returns GET /api/v1/diagnostics: human-readable hints.
func (h *Handler) diagnostics(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	jsonResp(w, http.StatusOK, computeDiagnostics(h.deps.Gateway.View()))
}

// ingest handles POST /api/v1/ingest: one sparse producer payload.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		jsonErr(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	res, err := h.deps.Gateway.Ingest(r.Context(), body)
	switch {
	case errors.Is(err, ingest.ErrInvalidPayload):
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ingest.ErrBusy):
		busy(w, err)
		return
	case err != nil:
		slog.Error("api: ingest failed", "err", err)
		jsonErr(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	resp := IngestResponse{
		Accepted:       res.Accepted,
		FieldsApplied:  res.FieldsApplied,
		FieldsRejected: res.FieldsRejected,
		FieldsIgnored:  res.FieldsIgnored,
		Seq:            res.Seq,
		Errors:         make([]FieldError, 0, len(res.Errors)),
	}
	for _, e := range res.Errors {
		resp.Errors = append(resp.Errors, FieldError{Section: e.Section, Field: e.Field, Value: e.Value})
	}
	jsonResp(w, http.StatusOK, resp)
}

// command handles POST /api/v1/command. Unknown actions are answered 200
// with ok=false, matching the ack a WebSocket client would get.
func (h *Handler) command(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var cmd twin.Command
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&cmd); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid command")
		return
	}

	ack, err := h.deps.Gateway.Command(r.Context(), cmd)
	switch {
	case errors.Is(err, ingest.ErrBusy):
		w.Header().Set("Retry-After", retryAfterSeconds)
		jsonResp(w, http.StatusServiceUnavailable, ack)
	case err != nil && !errors.Is(err, ingest.ErrUnknownCommand):
		jsonResp(w, http.StatusServiceUnavailable, ack)
	default:
		jsonResp(w, http.StatusOK, ack)
	}
}

// history returns GET /api/v1/history: all retained rows, oldest first.
func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	rows, err := h.deps.Gateway.History(r.Context())
	if err != nil {
		busy(w, err)
		return
	}
	jsonResp(w, http.StatusOK, rows)
}

// historyCSV returns GET /api/v1/history.csv as a download.
func (h *Handler) historyCSV(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	rows, err := h.deps.Gateway.History(r.Context())
	if err != nil {
		busy(w, err)
		return
	}

	var buf bytes.Buffer
	if err := history.WriteCSV(&buf, rows); err != nil {
		slog.Error("api: encode history csv", "err", err)
		jsonErr(w, http.StatusInternalServerError, "encode csv")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": csvFilename}))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes()) //nolint:errcheck
}

// clearHistory handles POST /api/v1/history/clear.
func (h *Handler) clearHistory(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	n, err := h.deps.Gateway.ClearHistory(r.Context())
	if err != nil {
		busy(w, err)
		return
	}
	jsonResp(w, http.StatusOK, ClearResponse{OK: true, Message: "history cleared", Removed: n})
}

// alerts returns GET /api/v1/alerts: firing and recently resolved alerts.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if h.deps.Alerts == nil {
		jsonResp(w, http.StatusOK, []struct{}{})
		return
	}
	jsonResp(w, http.StatusOK, h.deps.Alerts.Active())
}

// metricsText returns GET /api/v1/metrics.txt: the Prometheus exposition as
// plain text, for operators without a scraper.
func (h *Handler) metricsText(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if h.deps.Gatherer == nil {
		jsonErr(w, http.StatusNotFound, "metrics disabled")
		return
	}
	var buf bytes.Buffer
	if err := metrics.WriteText(&buf, h.deps.Gatherer); err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes()) //nolint:errcheck
}

// logLevel handles POST /admin/log-level. The level comes from a "level"
// form value or a JSON body {"level": "..."}.
func (h *Handler) logLevel(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if h.deps.LogLevel == nil {
		jsonErr(w, http.StatusNotFound, "log level control disabled")
		return
	}

	name := levelFromRequest(w, r)
	lvl, err := config.ParseLevel(name)
	if err != nil {
		jsonResp(w, http.StatusBadRequest, LogLevelResponse{OK: false, Error: "invalid level"})
		return
	}
	h.deps.LogLevel.Set(lvl)
	slog.Warn("api: log level changed", "level", strings.ToUpper(name))
	jsonResp(w, http.StatusOK, LogLevelResponse{OK: true, Level: strings.ToUpper(strings.TrimSpace(name))})
}

// --- helpers ----------------------------------------------------------------

func levelFromRequest(w http.ResponseWriter, r *http.Request) string {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var body struct {
			Level string `json:"level"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
			return ""
		}
		return body.Level
	}
	return r.FormValue("level")
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func busy(w http.ResponseWriter, err error) {
	w.Header().Set("Retry-After", retryAfterSeconds)
	jsonErr(w, http.StatusServiceUnavailable, err.Error())
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{OK: false, Error: msg})
}

// stateOf condenses a view into one health word.
func stateOf(v twin.View) string {
	if !v.Running {
		return StateStopped
	}
	state := StateOK
	for _, a := range v.KPI.Alarms {
		if a.Severity == twin.SeverityTrip {
			return StateTrip
		}
		state = StateWarning
	}
	return state
}
