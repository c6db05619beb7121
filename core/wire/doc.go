// Package wire
// Author: momentics <momentics@gmail.com>
//
// Mongrel2 handler protocol codec.
//
// Requests arrive as
//
//	SENDER CONN_ID PATH LEN:HEADERS,LEN:BODY,
//
// where HEADERS is either a JSON document in a netstring or a tnetstring
// dictionary. Replies are published as
//
//	SENDER LEN:ID ID ID, BODY
//
// and Mongrel2 delivers BODY to every listed connection id.
package wire
