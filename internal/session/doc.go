// Package session owns the connection lifecycle state machine for one
// messaging account.
//
// The machine folds transport lifecycle events (pairing material issued,
// pairing consumed, ready, disconnected, failure) into a single phase.
// Transitions outside the table are logged no-ops: the transport
// occasionally re-emits stale events and those must never regress a
// working session. Disconnects never auto-restart; recovery is an explicit
// Restart, because uncontrolled restart loops leak browser/connection
// resources on the transport side.
//
// Pairing material expires after a fixed window. Status applies the window
// on read and a background sweep (Run) demotes the phase, so callers never
// display a code the network no longer accepts.
package session
