// Package config loads and watches the twin-agent configuration.
//
// The agent reads the `agent:` section of the shared YAML file:
//   - machine_id, server_url, ws_url: where telemetry goes and where relayed
//     commands come from (ws_url is derived from server_url when empty)
//   - transport (http|mqtt), interval, buffer_size: how samples are shipped
//   - seed, setpoints: simulator behaviour
//   - server_auth, mqtt: credentials, resolved from *_env variables
//
// Load(path) applies defaults (1s interval, 120-sample buffer, http
// transport, 7800 rpm / 65 % setpoints), then validates. Watch(ctx, path,
// onChange) reloads on write and re-adds the watch after atomic saves.
package config
