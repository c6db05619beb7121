// Package session
// Author: momentics <momentics@gmail.com>
//
// WebSocket session liveness for the relay.
// A Session is keyed by sender id and connection id and lives in one of two
// generations: confirmed (answered the last sweep) and pending (answered
// since). Each sweep promotes pending to confirmed and pings it, so a peer
// that stops answering is gone after at most two intervals.
//
// The Tracker is owned by the event loop goroutine and takes no locks.

package session
