package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/appars/gpc-digitaltwin/pkg/twin"
	"github.com/appars/gpc-digitaltwin/server/internal/config"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Alert kinds.
const (
	KindAlarm = "alarm" // a KPI alarm appeared or cleared
	KindRule  = "rule"  // a configured condition matched
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert severities, matching the rule configuration values.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Alert represents a single notification produced by the engine.
type Alert struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	RuleName   string     `json:"rule_name"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	Seq        uint64     `json:"seq"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

// Engine turns twin views into alert notifications: KPI alarm transitions
// (appear, escalate, clear) and configured rule conditions. Webhooks are
// delivered asynchronously when an alert fires or resolves.
//
// Engine is safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	alarms   bool
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	active   map[string]*Alert    // key: "alarm:<type>" or "rule:<name>"
	lastFire map[string]time.Time // last fire time per rule key (for cooldown)
	history  []*Alert             // recently resolved alerts
	lastSeq  uint64               // newest view observed

	client  *http.Client
	now     func() time.Time
	deliver func(a *Alert)
}

// New creates an Engine from the server alert configuration.
func New(cfg config.AlertsConfig) *Engine {
	e := &Engine{
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	e.deliver = func(a *Alert) { go e.send(a) }
	e.Reload(cfg)
	return e
}

// Reload swaps rules and webhook targets. Active alerts are kept; rules that
// no longer exist resolve on the next view.
func (e *Engine) Reload(cfg config.AlertsConfig) {
	e.mu.Lock()
	e.alarms = cfg.Alarms
	e.rules = append([]config.AlertRule(nil), cfg.Rules...)
	e.webhooks = append([]config.WebhookConfig(nil), cfg.Webhooks...)
	e.mu.Unlock()
}

// Observe evaluates v. It satisfies the ingestion gateway's observer hook.
// Views not newer than the last one observed are ignored.
func (e *Engine) Observe(v twin.View) {
	e.mu.Lock()
	// Views arrive outside the ingest lock and may be reordered. An older
	// view must not re-fire an alarm that a newer one already cleared.
	if last := e.lastSeq; v.Seq <= last {
		e.mu.Unlock()
		slog.Debug("alerts: stale view skipped", "seq", v.Seq, "last_seq", last)
		return
	}
	e.lastSeq = v.Seq
	now := e.now()
	var out []*Alert

	if e.alarms {
		out = append(out, e.alarmTransitions(v, now)...)
	}
	out = append(out, e.evaluateRules(v, now)...)
	e.mu.Unlock()

	for _, a := range out {
		e.deliver(a)
	}
}

// alarmTransitions diffs the view's alarm list against the active alarm
// alerts. Callers must hold e.mu.
func (e *Engine) alarmTransitions(v twin.View, now time.Time) []*Alert {
	var out []*Alert
	present := make(map[string]bool, len(v.KPI.Alarms))

	for _, alarm := range v.KPI.Alarms {
		key := KindAlarm + ":" + alarm.Type
		present[key] = true
		sev := alarmSeverity(alarm.Severity)

		if a, ok := e.active[key]; ok && a.Severity == sev {
			continue
		}
		a := &Alert{
			ID:       uuid.NewString(),
			Kind:     KindAlarm,
			RuleName: alarm.Type,
			Severity: sev,
			Message:  fmt.Sprintf("[%s] %s (seq %d)", sev, alarm.Message, v.Seq),
			Value:    severityValue(alarm.Severity),
			Seq:      v.Seq,
			FiredAt:  now,
			State:    StateFiring,
		}
		e.active[key] = a
		slog.Warn("alert fired", "kind", KindAlarm, "type", alarm.Type, "severity", sev, "seq", v.Seq)
		cp := *a
		out = append(out, &cp)
	}

	for key, a := range e.active {
		if a.Kind != KindAlarm || present[key] {
			continue
		}
		out = append(out, e.resolve(key, a, v.Seq, now))
	}
	return out
}

// evaluateRules tests every configured rule. Callers must hold e.mu.
func (e *Engine) evaluateRules(v twin.View, now time.Time) []*Alert {
	var out []*Alert
	live := make(map[string]bool, len(e.rules))

	for _, rule := range e.rules {
		key := KindRule + ":" + rule.Name
		live[key] = true
		fires, value := evalCondition(rule.Condition, v)

		if !fires {
			if a, ok := e.active[key]; ok {
				out = append(out, e.resolve(key, a, v.Seq, now))
			}
			continue
		}
		if _, ok := e.active[key]; ok {
			continue
		}

		cooldown := rule.Cooldown
		if cooldown <= 0 {
			cooldown = defaultCooldown
		}
		if last, ok := e.lastFire[key]; ok && now.Sub(last) <= cooldown {
			continue
		}

		sev := rule.Severity
		if sev == "" {
			sev = SeverityWarning
		}
		a := &Alert{
			ID:       uuid.NewString(),
			Kind:     KindRule,
			RuleName: rule.Name,
			Severity: sev,
			Value:    value,
			Message:  fmt.Sprintf("[%s] %s fired: %s = %.2f", sev, rule.Name, rule.Condition, value),
			Seq:      v.Seq,
			FiredAt:  now,
			State:    StateFiring,
		}
		e.active[key] = a
		e.lastFire[key] = now
		slog.Warn("alert fired", "kind", KindRule, "rule", rule.Name, "value", value, "severity", sev)
		cp := *a
		out = append(out, &cp)
	}

	// Rules removed by a reload resolve.
	for key, a := range e.active {
		if a.Kind == KindRule && !live[key] {
			out = append(out, e.resolve(key, a, v.Seq, now))
		}
	}
	return out
}

// resolve moves an active alert into history and returns a copy for
// delivery. Callers must hold e.mu.
func (e *Engine) resolve(key string, a *Alert, seq uint64, now time.Time) *Alert {
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	a.Seq = seq
	delete(e.active, key)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	slog.Info("alert resolved", "kind", a.Kind, "rule", a.RuleName, "seq", seq)
	cp := *a
	return &cp
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FiredAt.After(out[j].FiredAt)
	})
	return out
}

// FiringCount returns the number of currently firing alerts.
func (e *Engine) FiringCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

func alarmSeverity(s twin.Severity) string {
	if s == twin.SeverityTrip {
		return SeverityCritical
	}
	return SeverityWarning
}
