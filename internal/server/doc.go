// Package server wires the terminal host together: the session manager,
// state tracking, the event coordinator, agent detection, persistence,
// and the HTTP/WebSocket surface.
//
// Lifecycle:
//  1. Load configuration from environment/flags
//  2. Initialize logger and metrics registry
//  3. Construct managers and bind the event pipeline
//  4. Setup routes and middleware
//  5. Serve until signalled, then shut down gracefully
package server
