// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Implements the WebSocket protocol pieces (RFC 6455) a Mongrel2 handler needs.
//
// Mongrel2 terminates the WebSocket connection and forwards each frame to the
// handler with its flags in the FLAGS header. The handler only has to:
//   - Classify inbound frames by opcode (FLAGS low nibble)
//   - Compute the Sec-WebSocket-Accept value for the upgrade reply
//   - Encode outbound frames (unmasked, FIN set) for delivery through Mongrel2
package protocol
