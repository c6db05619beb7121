// File: core/protocol/handshake.go
// Package protocol implements the server side of the WebSocket upgrade reply.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Mongrel2 validates the client's upgrade request and hands the handler a
// WEBSOCKET_HANDSHAKE message. The handler answers with the raw HTTP 101
// response that Mongrel2 writes back to the client verbatim.

package protocol

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// Constants used for handshake processing.
const (
	WebSocketGUID            = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	HeaderConnection         = "Connection"
	HeaderUpgrade            = "Upgrade"
	HeaderSecWebSocketKey    = "Sec-WebSocket-Key"
	HeaderSecWebSocketAccept = "Sec-WebSocket-Accept"
	HeaderSecWebSocketVer    = "Sec-WebSocket-Version"
	RequiredWebSocketVersion = "13"
)

// ErrMissingWebSocketKey is returned when neither a key nor a precomputed
// accept value is available.
var ErrMissingWebSocketKey = fmt.Errorf("missing Sec-WebSocket-Key header")

// ComputeAccept derives Sec-WebSocket-Accept from the client's key.
func ComputeAccept(key string) string {
	h := sha1.New()
	h.Write([]byte(strings.TrimSpace(key) + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// HandshakeHeaders returns the headers of the 101 reply. Mongrel2 lowercases
// request header names, so the key is looked up case-insensitively. When the
// key is absent, precomputed is used as the accept value as-is.
func HandshakeHeaders(headers map[string]string, precomputed string) (http.Header, error) {
	accept := ""
	for k, v := range headers {
		if strings.EqualFold(k, HeaderSecWebSocketKey) && v != "" {
			accept = ComputeAccept(v)
			break
		}
	}
	if accept == "" {
		accept = strings.TrimSpace(precomputed)
	}
	if accept == "" {
		return nil, ErrMissingWebSocketKey
	}
	hdr := make(http.Header)
	hdr.Set(HeaderUpgrade, "websocket")
	hdr.Set(HeaderConnection, "Upgrade")
	hdr.Set(HeaderSecWebSocketAccept, accept)
	return hdr, nil
}

// WriteHandshakeResponse writes the HTTP/1.1 101 Switching Protocols response
// with the provided headers to w. Header order is stable.
func WriteHandshakeResponse(w io.Writer, hdr http.Header) error {
	if _, err := fmt.Fprintf(w, "HTTP/1.1 101 Switching Protocols\r\n"); err != nil {
		return err
	}
	keys := make([]string, 0, len(hdr))
	for k := range hdr {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range hdr[k] {
			if _, err := fmt.Fprintf(w, "%s: %s\r\n", k, v); err != nil {
				return err
			}
		}
	}
	// End of headers.
	if _, err := fmt.Fprint(w, "\r\n"); err != nil {
		return err
	}
	return nil
}

// HandshakeReply builds the complete upgrade response body.
func HandshakeReply(headers map[string]string, precomputed string) ([]byte, error) {
	hdr, err := HandshakeHeaders(headers, precomputed)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := WriteHandshakeResponse(&buf, hdr); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
