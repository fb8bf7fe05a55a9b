// Package receiver is the MQTT transport of the twin server.
//
// Producers publish sparse telemetry payloads on "<prefix>/<machine>/telemetry".
// Each message is handed to the ingestion gateway exactly like a
// POST /api/v1/ingest body; invalid payloads and busy answers are logged
// because MQTT has no reply path.
//
// Receiver also implements ws.Relay: operator commands accepted by the
// gateway are published as JSON command events on "<prefix>/command" so
// producers can follow new setpoints and start/stop requests.
package receiver
