// Package control delivers operator commands to the simulator.
//
// twin-server relays every applied command as a command event. The agent
// receives them two ways:
//
//   - Listener holds a subscriber connection to {server}/ws/stream and
//     reconnects with backoff when it drops. Snapshot and ack frames are
//     ignored.
//   - SubscribeMQTT listens on <prefix>/command when the MQTT transport is
//     enabled.
//
// Both paths hand the decoded event to an Applier. Receiving the same event
// twice is harmless: start, stop and set are idempotent.
package control
