// Package ws exposes the host to its presentation layer over a single
// WebSocket connection.
//
// The host serves exactly one consumer at a time. A new upgrade replaces
// the previous connection: mappings are cleared, the event pipeline is
// re-bound, and the current state snapshot is re-announced so the
// consumer can rebuild its view from scratch. Per-session output stays
// buffered until the consumer sends "ready" for that session.
package ws
