// Package config loads the twin-server configuration from config.yaml (the
// `agent:` key is ignored by the server binary).
//
// Sections:
//   - server     - http_port, auth (mode, key_env, header), lock_timeout, log_level
//   - twin       - start_running, setpoint_policy (target|override), history_capacity, send_buffer
//   - thresholds - KPI alarm thresholds (see package kpi)
//   - alerts     - alarm notifications, KPI rules and webhook targets
//   - mqtt       - telemetry receiver and command relay broker settings
//   - influx     - best-effort history mirror
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, fn) reloads the file on change; the server applies the
// new thresholds and log level without a restart.
package config
