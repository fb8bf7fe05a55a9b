// Package alerts turns twin views into notifications. KPI alarms produce an
// alert when they appear or escalate and a resolution when they clear;
// configured rules ("surge_margin_pct < 20") fire with a cooldown. Webhooks
// are delivered to Slack, Teams or generic HTTP targets.
package alerts
