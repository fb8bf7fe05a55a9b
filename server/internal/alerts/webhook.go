package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/appars/gpc-digitaltwin/server/internal/config"
)

const webhookTimeout = 10 * time.Second

// slackMessage is an incoming-webhook message.
type slackMessage struct {
	Text string `json:"text"`
}

// teamsCard is a legacy Office 365 connector card.
type teamsCard struct {
	Type       string `json:"@type"`
	Context    string `json:"@context"`
	ThemeColor string `json:"themeColor"`
	Summary    string `json:"summary"`
	Title      string `json:"title"`
	Text       string `json:"text"`
}

// genericEvent is posted to plain HTTP receivers.
type genericEvent struct {
	Alert *Alert `json:"alert"`
}

// formatters render an alert for each webhook type.
var formatters = map[string]func(a *Alert) any{
	"slack": func(a *Alert) any {
		return slackMessage{Text: fmt.Sprintf("%s %s %s (value %.3g, seq %d)",
			severityTag(a.Severity), stateTag(a.State), a.Message, a.Value, a.Seq)}
	},
	"teams": func(a *Alert) any {
		return teamsCard{
			Type:       "MessageCard",
			Context:    "http://schema.org/extensions",
			ThemeColor: severityColor(a.Severity),
			Summary:    a.RuleName,
			Title:      fmt.Sprintf("Compressor twin %s: %s", a.State, a.RuleName),
			Text:       fmt.Sprintf("%s (value %.3g)", a.Message, a.Value),
		}
	},
	"http": func(a *Alert) any { return genericEvent{Alert: a} },
}

// send posts a to every configured webhook. Failures are logged only; the
// alert state has already changed.
func (e *Engine) send(a *Alert) {
	e.mu.Lock()
	targets := append([]config.WebhookConfig(nil), e.webhooks...)
	e.mu.Unlock()

	for _, wh := range targets {
		url := wh.URL()
		if url == "" {
			continue
		}
		format, ok := formatters[wh.Type]
		if !ok {
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}
		if err := e.post(url, format(a)); err != nil {
			slog.Error("alerts: webhook delivery failed", "type", wh.Type, "rule", a.RuleName, "err", err)
			continue
		}
		slog.Debug("alerts: webhook delivered", "type", wh.Type, "rule", a.RuleName, "state", a.State)
	}
}

func (e *Engine) post(url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook answered %d", resp.StatusCode)
	}
	return nil
}

func severityTag(s string) string {
	switch s {
	case SeverityCritical:
		return "[CRITICAL]"
	case SeverityWarning:
		return "[WARNING]"
	}
	return "[INFO]"
}

func stateTag(s string) string {
	if s == StateResolved {
		return "resolved:"
	}
	return "firing:"
}

func severityColor(s string) string {
	switch s {
	case SeverityCritical:
		return "C0392B"
	case SeverityWarning:
		return "E67E22"
	}
	return "2E86C1"
}
