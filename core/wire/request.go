// File: core/wire/request.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/momentics/m2relay/api"
)

// DecodeRequest parses one Mongrel2 request message. Every failure wraps
// api.ErrDecode.
func DecodeRequest(msg []byte) (*api.Request, error) {
	parts := bytes.SplitN(msg, []byte(" "), 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: expected 4 space separated fields, got %d", api.ErrDecode, len(parts))
	}
	if len(parts[0]) == 0 || len(parts[1]) == 0 {
		return nil, fmt.Errorf("%w: empty sender or connection id", api.ErrDecode)
	}

	hp, ht, rest, err := parseTNet(parts[3])
	if err != nil {
		return nil, fmt.Errorf("%w: headers: %v", api.ErrDecode, err)
	}
	headers, err := decodeHeaders(hp, ht)
	if err != nil {
		return nil, fmt.Errorf("%w: headers: %v", api.ErrDecode, err)
	}

	bp, bt, _, err := parseTNet(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: body: %v", api.ErrDecode, err)
	}
	if bt != ',' {
		return nil, fmt.Errorf("%w: body must be a string element", api.ErrDecode)
	}

	req := &api.Request{
		Sender:  string(parts[0]),
		ConnID:  string(parts[1]),
		Path:    string(parts[2]),
		Headers: headers,
		Body:    append([]byte(nil), bp...),
	}
	// Malformed pairs are skipped; the rest of the query is still usable.
	_ = req.ParseQuery()
	return req, nil
}

func decodeHeaders(payload []byte, tag byte) (map[string]string, error) {
	var raw map[string]any
	switch tag {
	case ',':
		if err := json.Unmarshal(payload, &raw); err != nil {
			return nil, err
		}
	case '}':
		d, err := decodeTNetDict(payload)
		if err != nil {
			return nil, err
		}
		raw = d
	default:
		return nil, fmt.Errorf("unexpected type tag %q", tag)
	}
	headers := make(map[string]string, len(raw))
	for k, v := range raw {
		switch tv := v.(type) {
		case string:
			headers[k] = tv
		case nil:
			headers[k] = ""
		default:
			headers[k] = fmt.Sprint(tv)
		}
	}
	return headers, nil
}

// EncodeRequest serializes a request the way Mongrel2 emits it, with JSON
// headers.
func EncodeRequest(req *api.Request) ([]byte, error) {
	hdr, err := json.Marshal(req.Headers)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(req.Sender)+len(req.ConnID)+len(req.Path)+len(hdr)+len(req.Body)+32)
	buf = append(buf, req.Sender...)
	buf = append(buf, ' ')
	buf = append(buf, req.ConnID...)
	buf = append(buf, ' ')
	buf = append(buf, req.Path...)
	buf = append(buf, ' ')
	buf = appendNetstring(buf, hdr)
	buf = appendNetstring(buf, req.Body)
	return buf, nil
}

// IsDisconnect reports whether req is Mongrel2's notice that a client went
// away.
func IsDisconnect(req *api.Request) bool {
	if req.Method() != api.MethodJSON {
		return false
	}
	var body struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return false
	}
	return body.Type == "disconnect"
}
