// File: core/protocol/frame_codec.go
// Package protocol implements frame codec with frame size enforcement.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Implements WebSocket frame encoding/decoding with payload size limits.
// Handlers encode unmasked server frames; decoding is used by peers that
// read frames Mongrel2 delivered on their behalf.

package protocol

import (
	"encoding/binary"
	"errors"
)

// MaxFramePayload defines the maximum allowed payload size for a single frame.
const MaxFramePayload = 1 << 20 // 1 MiB

var (
	ErrFrameTooShort = errors.New("frame too short")
	ErrFrameTooLarge = errors.New("frame payload exceeds maximum allowed size")
	ErrControlTooBig = errors.New("control frame payload exceeds 125 bytes")
)

// Frame is a single decoded WebSocket frame.
type Frame struct {
	IsFinal bool
	Rsv     uint8
	Opcode  Opcode
	Masked  bool
	Payload []byte
}

// EncodeFrame serializes an unmasked final frame carrying payload.
func EncodeFrame(op Opcode, payload []byte) ([]byte, error) {
	plen := len(payload)
	if plen > MaxFramePayload {
		return nil, ErrFrameTooLarge
	}
	if op.IsControl() && plen > MaxControlPayloadLen {
		return nil, ErrControlTooBig
	}
	b0 := byte(FinBit) | (byte(op) & opcodeMsk)
	var hdr []byte

	switch {
	case plen <= 125:
		hdr = []byte{b0, byte(plen)}
	case plen <= 0xFFFF:
		hdr = make([]byte, 4)
		hdr[0] = b0
		hdr[1] = 126
		binary.BigEndian.PutUint16(hdr[2:], uint16(plen))
	default:
		hdr = make([]byte, 10)
		hdr[0] = b0
		hdr[1] = 127
		binary.BigEndian.PutUint64(hdr[2:], uint64(plen))
	}

	buf := make([]byte, len(hdr)+plen)
	copy(buf, hdr)
	copy(buf[len(hdr):], payload)
	return buf, nil
}

// DecodeFrame parses raw bytes into a Frame, enforcing the payload limit.
func DecodeFrame(raw []byte) (*Frame, error) {
	if len(raw) < 2 {
		return nil, ErrFrameTooShort
	}
	fin := raw[0]&FinBit != 0
	rsv := (raw[0] >> 4) & 0x07
	op := OpcodeOf(raw[0])
	masked := raw[1]&MaskBit != 0
	length := uint64(raw[1] & 0x7F)
	offset := 2

	switch length {
	case 126:
		if len(raw) < offset+2 {
			return nil, ErrFrameTooShort
		}
		length = uint64(binary.BigEndian.Uint16(raw[offset:]))
		offset += 2
	case 127:
		if len(raw) < offset+8 {
			return nil, ErrFrameTooShort
		}
		length = binary.BigEndian.Uint64(raw[offset:])
		offset += 8
	}

	if length > MaxFramePayload {
		return nil, ErrFrameTooLarge
	}

	var maskKey [4]byte
	if masked {
		if len(raw) < offset+4 {
			return nil, ErrFrameTooShort
		}
		copy(maskKey[:], raw[offset:offset+4])
		offset += 4
	}

	if uint64(len(raw[offset:])) < length {
		return nil, errors.New("payload truncated")
	}
	payload := make([]byte, length)
	copy(payload, raw[offset:offset+int(length)])
	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}

	return &Frame{
		IsFinal: fin,
		Rsv:     rsv,
		Opcode:  op,
		Masked:  masked,
		Payload: payload,
	}, nil
}
