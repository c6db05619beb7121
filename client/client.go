// File: client/client.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momentics/m2relay/api"
	"github.com/momentics/m2relay/core/protocol"
	"github.com/momentics/m2relay/core/wire"
)

// Response kinds.
const (
	KindHTTP      = "http"
	KindRaw       = "raw"
	KindWebSocket = "websocket"
)

// Response is one decoded reply.
type Response struct {
	Kind string
	// Status is the HTTP status code for KindHTTP replies.
	Status int
	// Opcode is set for KindWebSocket replies.
	Opcode protocol.Opcode
	Body   []byte
	Raw    []byte
}

// DecodeResponse interprets a reply body the way the relay encodes replies
// to a request with the given METHOD.
func DecodeResponse(method string, body []byte) (*Response, error) {
	switch strings.ToUpper(method) {
	case api.MethodWebSocket, api.MethodWebSocketConnect:
		f, err := protocol.DecodeFrame(body)
		if err != nil {
			return nil, fmt.Errorf("%w: websocket reply: %v", api.ErrDecode, err)
		}
		return &Response{Kind: KindWebSocket, Opcode: f.Opcode, Body: f.Payload, Raw: body}, nil
	case api.MethodMongrel2, api.MethodJSON:
		return &Response{Kind: KindRaw, Body: body, Raw: body}, nil
	default:
		resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(body)), nil)
		if err != nil {
			return nil, fmt.Errorf("%w: http reply: %v", api.ErrDecode, err)
		}
		_ = resp.Body.Close()
		payload, _ := wire.HTTPBody(body)
		return &Response{Kind: KindHTTP, Status: resp.StatusCode, Body: payload, Raw: body}, nil
	}
}

// Client is one logical connection multiplexed over a Peer. Clients of the
// same Peer share its SUB socket: Recv discards replies addressed to other
// connection ids, so run one receiving Client per Peer at a time.
type Client struct {
	peer   *Peer
	connID string
	method string
}

// ConnID returns the connection id requests carry.
func (c *Client) ConnID() string { return c.connID }

// Send pushes a request for path. method becomes the METHOD header and
// decides how replies are decoded.
func (c *Client) Send(method, path string, query url.Values, headers map[string]string, body []byte) error {
	h := make(map[string]string, len(headers)+5)
	for k, v := range headers {
		h[k] = v
	}
	uri := path
	if len(query) > 0 {
		h[api.HeaderQuery] = query.Encode()
		uri += "?" + h[api.HeaderQuery]
	}
	h[api.HeaderMethod] = method
	h[api.HeaderPath] = path
	h[api.HeaderURI] = uri
	h[api.HeaderRemoteAddr] = c.peer.cfg.RemoteAddr

	req := &api.Request{
		Sender:  c.peer.cfg.Sender,
		ConnID:  c.connID,
		Path:    path,
		Headers: h,
		Body:    body,
	}
	if err := c.peer.Send(req); err != nil {
		return err
	}
	c.method = method
	return nil
}

// Get sends a plain HTTP GET.
func (c *Client) Get(path string, query url.Values) error {
	return c.Send(http.MethodGet, path, query, nil, nil)
}

// Handshake upgrades the connection and checks the accept value. Later
// sends and receives use WebSocket frames.
func (c *Client) Handshake(ctx context.Context, path string) error {
	id := uuid.New()
	key := base64.StdEncoding.EncodeToString(id[:])
	headers := map[string]string{
		"upgrade":               "websocket",
		"connection":            "Upgrade",
		"sec-websocket-key":     key,
		"sec-websocket-version": protocol.RequiredWebSocketVersion,
	}
	if err := c.Send(api.MethodHandshake, path, nil, headers, nil); err != nil {
		return err
	}
	resp, err := c.Recv(ctx)
	if err != nil {
		return err
	}
	if resp.Status != http.StatusSwitchingProtocols {
		return fmt.Errorf("%w: handshake answered with status %d", api.ErrDecode, resp.Status)
	}
	hr, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(resp.Raw)), nil)
	if err != nil {
		return fmt.Errorf("%w: handshake reply: %v", api.ErrDecode, err)
	}
	_ = hr.Body.Close()
	if got, want := hr.Header.Get(protocol.HeaderSecWebSocketAccept), protocol.ComputeAccept(key); got != want {
		return fmt.Errorf("%w: accept %q, want %q", api.ErrDecode, got, want)
	}
	c.method = api.MethodWebSocket
	c.peer.log.Debug("websocket open", zap.String("conn_id", c.connID), zap.String("path", path))
	return nil
}

// SendFrame sends one WebSocket frame payload with a final-frame FLAGS
// header for op.
func (c *Client) SendFrame(path string, op protocol.Opcode, payload []byte) error {
	flags := "0x" + strconv.FormatUint(uint64(protocol.FinBit|byte(op)), 16)
	return c.Send(api.MethodWebSocket, path, nil, map[string]string{api.HeaderFlags: flags}, payload)
}

// Recv waits for the next reply addressed to this connection id.
func (c *Client) Recv(ctx context.Context) (*Response, error) {
	for {
		r, err := c.peer.Recv(ctx)
		if err != nil {
			return nil, err
		}
		if !containsID(r.ConnIDs, c.connID) {
			c.peer.log.Debug("reply for another connection",
				zap.Strings("conn_ids", r.ConnIDs),
				zap.String("conn_id", c.connID))
			continue
		}
		return DecodeResponse(c.method, r.Body)
	}
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
