// Package state tracks which session is active and produces immutable,
// consistency-checked snapshots of the session list for consumers.
//
// The package never touches process handles. It works entirely from the
// SessionInfo copies the terminal manager hands out, so the registry stays
// under single ownership.
package state
