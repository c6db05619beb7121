// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection registry and ZeroMQ socket plumbing for the relay.
//
// A Connection pairs an inbound PULL socket (requests pushed by a Mongrel2
// server or a backend peer) with an outbound PUB socket (replies published
// under the sender id). The Registry owns every Connection, keyed by sender
// id, and keeps the inbound sockets registered with the loop's reactor.
// Nothing here is safe for concurrent use; the relay loop is the only owner.

package transport
