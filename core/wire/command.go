// File: core/wire/command.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package wire

import (
	"fmt"
	"strings"

	"github.com/momentics/m2relay/api"
)

// Command is a parsed control line of the form name(k1=v1,k2=v2).
type Command struct {
	Name string
	Args map[string]string
}

// Arg returns the named argument and whether it was present and non-empty.
func (c *Command) Arg(name string) (string, bool) {
	v, ok := c.Args[name]
	return v, ok && v != ""
}

// ParseCommand parses a control line. The argument list is optional, so
// "ping", "ping()" and "PING" all parse. Names are lower-cased. Every
// failure wraps api.ErrMalformedCommand.
func ParseCommand(line string) (*Command, error) {
	line = strings.TrimSpace(line)
	name, rest, hasArgs := strings.Cut(line, "(")
	name = strings.TrimSpace(name)
	if !validName(name) {
		return nil, fmt.Errorf("%w: bad command name %q", api.ErrMalformedCommand, name)
	}
	cmd := &Command{Name: strings.ToLower(name), Args: make(map[string]string)}
	if !hasArgs {
		return cmd, nil
	}
	inner, ok := strings.CutSuffix(rest, ")")
	if !ok {
		return nil, fmt.Errorf("%w: missing closing parenthesis", api.ErrMalformedCommand)
	}
	if strings.ContainsAny(inner, "()") {
		return nil, fmt.Errorf("%w: nested parenthesis", api.ErrMalformedCommand)
	}
	if strings.TrimSpace(inner) == "" {
		return cmd, nil
	}
	for _, pair := range strings.Split(inner, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: argument %q is not key=value", api.ErrMalformedCommand, strings.TrimSpace(pair))
		}
		cmd.Args[k] = strings.TrimSpace(v)
	}
	return cmd, nil
}

// FormatCommand renders name with key/value pairs in the given order.
// kv must have even length.
func FormatCommand(name string, kv ...string) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('(')
	for i := 0; i+1 < len(kv); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(kv[i])
		b.WriteByte('=')
		b.WriteString(kv[i+1])
	}
	b.WriteByte(')')
	return b.String()
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
