// Package shipper sends simulated samples to twin-server.
//
// Shipper.Ship() is non-blocking: samples go into an in-memory channel
// (agent.buffer_size). When the buffer is full the oldest sample is evicted
// so the newest readings are always kept.
//
// Shipper.Run() drains the buffer in order through a Sender, retrying a
// failed sample with truncated exponential backoff (500ms→30s, ±25% jitter).
// Senders mark unfixable failures (4xx answers) with PermanentError; such
// samples are discarded rather than retried.
//
// Senders:
//   - HTTPSender: POST {server_url}/api/v1/ingest, with the API key header
//     in apikey mode
//   - MQTTSender: publish on <prefix>/<machine_id>/telemetry
//   - Fallback: MQTT first, HTTP while the broker is unreachable
package shipper
