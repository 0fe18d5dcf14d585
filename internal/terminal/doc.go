// Package terminal owns the PTY process lifecycle for the host.
//
// The Manager holds the authoritative session registry: one PTY-backed shell
// process per session, each identified by an opaque session id and a small
// display slot number. Collaborators never receive mutable session state,
// only SessionInfo copies and lifecycle events.
//
// Destruction has exactly-once semantics. Every destroy runs through a
// single-worker FIFO queue, and a session is flagged as destroying before
// any teardown step, so overlapping destroy requests for the same session
// fail fast with ErrAlreadyInProgress instead of racing the teardown.
package terminal
