// Package client is the backend side of the relay protocol.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Peer binds a PUSH socket for requests and a SUB socket for replies, the
// way a Mongrel2 server does, and attaches itself to running relays through
// their control endpoint. A Connector talks to one relay's control endpoint
// with bounded waits. A Client is one logical connection through the Peer,
// with its own connection id.
//
// None of the types are safe for concurrent use, except Peer.NextConnID.
package client
