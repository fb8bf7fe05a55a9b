// Package ws implements the broadcast hub for twin-server.
//
// Hub keeps one bounded queue per subscriber and pushes a new composite view
// to every queue whenever the twin changes. A subscriber that falls behind
// loses its oldest queued messages; publishers are never blocked. Views are
// delivered to each subscriber in increasing sequence order.
//
// Hub.ServeHTTP adapts the hub to WebSocket clients mounted at /ws/stream.
// Frames sent by a client are treated as commands and answered with an ack
// to that client only. Command events are relayed to every subscriber and to
// any registered producer relays. When Options.Authorize refuses a
// connection it stays subscribed, but its commands are answered with an
// "unauthorized" ack and never executed.
//
// Message format sent to clients:
//
//	{
//	  "event": "snapshot" | "command" | "ack",
//	  "data":  { ... }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level.
package ws
