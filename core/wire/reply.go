// File: core/wire/reply.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package wire

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/momentics/m2relay/api"
)

// Reply is a decoded outbound message as a Mongrel2 server sees it.
type Reply struct {
	Sender  string
	ConnIDs []string
	Body    []byte
}

// EncodeReply addresses body to one or more connection ids under sender.
func EncodeReply(sender string, connIDs []string, body []byte) []byte {
	ids := strings.Join(connIDs, " ")
	buf := make([]byte, 0, len(sender)+len(ids)+len(body)+16)
	buf = append(buf, sender...)
	buf = append(buf, ' ')
	buf = appendNetstring(buf, []byte(ids))
	buf = append(buf, ' ')
	return append(buf, body...)
}

// DecodeReply parses a message produced by EncodeReply.
func DecodeReply(msg []byte) (*Reply, error) {
	sp := bytes.IndexByte(msg, ' ')
	if sp <= 0 {
		return nil, fmt.Errorf("%w: missing sender", api.ErrDecode)
	}
	ip, it, rest, err := parseTNet(msg[sp+1:])
	if err != nil {
		return nil, fmt.Errorf("%w: connection ids: %v", api.ErrDecode, err)
	}
	if it != ',' {
		return nil, fmt.Errorf("%w: connection ids must be a string element", api.ErrDecode)
	}
	rest = bytes.TrimPrefix(rest, []byte(" "))
	return &Reply{
		Sender:  string(msg[:sp]),
		ConnIDs: strings.Fields(string(ip)),
		Body:    append([]byte(nil), rest...),
	}, nil
}

// HTTPResponse renders a minimal HTTP/1.1 response with Content-Length.
func HTTPResponse(code int, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(strconv.Itoa(code))
	buf.WriteByte(' ')
	buf.WriteString(http.StatusText(code))
	buf.WriteString("\r\nContent-Length: ")
	buf.WriteString(strconv.Itoa(len(body)))
	buf.WriteString("\r\n\r\n")
	buf.Write(body)
	return buf.Bytes()
}

// HTTPBody returns the part of an HTTP response after the header block.
func HTTPBody(resp []byte) ([]byte, bool) {
	i := bytes.Index(resp, []byte("\r\n\r\n"))
	if i < 0 {
		return nil, false
	}
	return resp[i+4:], true
}
