// Package coordinator bridges terminal lifecycle events and the
// presentation layer.
//
// It remaps internal session ids to consumer-facing ids, buffers output
// for sessions the consumer has not yet acknowledged, flushes buffered
// output as a single ordered write, and re-announces session creation
// through the initialization watchdog until the consumer answers or the
// retry budget runs out.
//
// The coordinator never lets one bad event take it down: internal errors
// are logged and treated as no-ops for that event.
package coordinator
