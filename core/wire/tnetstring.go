// File: core/wire/tnetstring.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Minimal tnetstring reader covering the types Mongrel2 emits.

package wire

import (
	"errors"
	"fmt"
	"strconv"
)

// maxTNetLen bounds a single element so a bogus length prefix cannot
// trigger a huge allocation.
const maxTNetLen = 64 << 20

var errTNet = errors.New("invalid tnetstring")

// parseTNet reads one element from data and returns its payload, its type
// tag and the unread remainder.
func parseTNet(data []byte) (payload []byte, tag byte, rest []byte, err error) {
	colon := -1
	for i := 0; i < len(data) && i < 10; i++ {
		if data[i] == ':' {
			colon = i
			break
		}
	}
	if colon <= 0 {
		return nil, 0, nil, fmt.Errorf("%w: missing length prefix", errTNet)
	}
	n, err := strconv.Atoi(string(data[:colon]))
	if err != nil || n < 0 || n > maxTNetLen {
		return nil, 0, nil, fmt.Errorf("%w: bad length %q", errTNet, data[:colon])
	}
	end := colon + 1 + n
	if end >= len(data) {
		return nil, 0, nil, fmt.Errorf("%w: truncated element", errTNet)
	}
	return data[colon+1 : end], data[end], data[end+1:], nil
}

// decodeTNetValue converts a typed payload into a Go value.
func decodeTNetValue(payload []byte, tag byte) (any, error) {
	switch tag {
	case ',':
		return string(payload), nil
	case '#':
		return strconv.ParseInt(string(payload), 10, 64)
	case '^':
		return strconv.ParseFloat(string(payload), 64)
	case '!':
		return string(payload) == "true", nil
	case '~':
		return nil, nil
	case '}':
		return decodeTNetDict(payload)
	case ']':
		var out []any
		for len(payload) > 0 {
			p, t, rest, err := parseTNet(payload)
			if err != nil {
				return nil, err
			}
			v, err := decodeTNetValue(p, t)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
			payload = rest
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown type tag %q", errTNet, tag)
	}
}

func decodeTNetDict(payload []byte) (map[string]any, error) {
	out := make(map[string]any)
	for len(payload) > 0 {
		kp, kt, rest, err := parseTNet(payload)
		if err != nil {
			return nil, err
		}
		if kt != ',' {
			return nil, fmt.Errorf("%w: dict key must be a string", errTNet)
		}
		vp, vt, rest, err := parseTNet(rest)
		if err != nil {
			return nil, err
		}
		v, err := decodeTNetValue(vp, vt)
		if err != nil {
			return nil, err
		}
		out[string(kp)] = v
		payload = rest
	}
	return out, nil
}

// appendNetstring appends LEN:DATA, to dst.
func appendNetstring(dst []byte, data []byte) []byte {
	dst = strconv.AppendInt(dst, int64(len(data)), 10)
	dst = append(dst, ':')
	dst = append(dst, data...)
	return append(dst, ',')
}
