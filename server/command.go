// File: server/command.go
// Package server
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

// Command is the closed set of control commands.
type Command int

const (
	CommandUnrecognized Command = iota
	CommandPing
	CommandSetup
	CommandAddConnection
	CommandRemoveConnection
	CommandBroadcast
)

var commandNames = map[string]Command{
	"ping":              CommandPing,
	"setup":             CommandSetup,
	"add_connection":    CommandAddConnection,
	"remove_connection": CommandRemoveConnection,
	"broadcast":         CommandBroadcast,
}

// LookupCommand maps a lower-case command name onto Command.
func LookupCommand(name string) Command {
	return commandNames[name]
}

func (c Command) String() string {
	for name, cmd := range commandNames {
		if cmd == c {
			return name
		}
	}
	return "unrecognized"
}

// Control replies.
const (
	ReplyPong      = "PONG"
	ReplyConnected = "connected"
	ReplyReceived  = "received"
	ReplyPinged    = "pinged"
	ReplyNoSender  = "no sender"
)

// Arguments of setup, add_connection and broadcast. push is the address
// the peer binds its PUSH socket on (our inbound), sub the address of its
// SUB socket (our outbound).
const (
	ArgSender = "sender"
	ArgPush   = "push"
	ArgSub    = "sub"
	ArgPing   = "ping"
)
