// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket wire protocol constants

package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Opcode is the WebSocket frame type carried in the low nibble of FLAGS.
type Opcode uint8

const (
	OpcodeContinuation Opcode = 0x0
	OpcodeText         Opcode = 0x1
	OpcodeBinary       Opcode = 0x2
	OpcodeClose        Opcode = 0x8
	OpcodePing         Opcode = 0x9
	OpcodePong         Opcode = 0xA

	// OpcodeUnrecognized stands for every nibble value not listed above.
	OpcodeUnrecognized Opcode = 0xFF
)

const (
	// MaxControlPayloadLen caps PING, PONG and CLOSE payloads.
	MaxControlPayloadLen = 125

	// Bit masks
	FinBit    = 0x80
	MaskBit   = 0x80
	opcodeMsk = 0x0F
)

// OpcodeOf maps a raw nibble onto the closed Opcode set.
func OpcodeOf(b byte) Opcode {
	switch op := Opcode(b & opcodeMsk); op {
	case OpcodeText, OpcodeBinary, OpcodeClose, OpcodePing, OpcodePong:
		return op
	default:
		return OpcodeUnrecognized
	}
}

// ParseFlags extracts the opcode from a Mongrel2 FLAGS header value.
// An empty value means a plain text frame.
func ParseFlags(flags string) (Opcode, error) {
	flags = strings.TrimSpace(flags)
	if flags == "" {
		return OpcodeText, nil
	}
	flags = strings.TrimPrefix(strings.TrimPrefix(flags, "0x"), "0X")
	v, err := strconv.ParseUint(flags, 16, 32)
	if err != nil {
		return OpcodeUnrecognized, fmt.Errorf("invalid FLAGS %q: %w", flags, err)
	}
	return OpcodeOf(byte(v)), nil
}

// IsControl reports whether the opcode is a control frame (close, ping, pong).
func (o Opcode) IsControl() bool {
	return o == OpcodeClose || o == OpcodePing || o == OpcodePong
}

func (o Opcode) String() string {
	switch o {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	default:
		return "unrecognized"
	}
}
