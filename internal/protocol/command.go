package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var ErrBadPayload = errors.New("protocol: command payload must be non-empty single-line text")

// Wire is the outbound line terminator. The board firmware expects CRLF.
const Wire = "\r\n"

type CommandKind string

const (
	CmdHello  CommandKind = "HELLO"
	CmdStatus CommandKind = "STATUS"
	CmdStart  CommandKind = "START"
	CmdPause  CommandKind = "PAUSE"
	CmdReset  CommandKind = "RESET"
	CmdFire   CommandKind = "FIRE"
	CmdRaw    CommandKind = "RAW"
)

// Command is an immutable outbound command. Build one from the package
// values below or with Raw; the zero value does not encode.
type Command struct {
	kind    CommandKind
	payload string
}

var (
	Hello         = Command{kind: CmdHello}
	StatusRequest = Command{kind: CmdStatus}
	Start         = Command{kind: CmdStart, payload: "START"}
	Pause         = Command{kind: CmdPause, payload: "PAUSE"}
	Reset         = Command{kind: CmdReset, payload: "RESET"}
	Fire          = Command{kind: CmdFire, payload: "FIRE"}
)

// Raw builds a free-form CMD:<payload> command.
func Raw(payload string) (Command, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" || strings.ContainsAny(payload, "\r\n") {
		return Command{}, fmt.Errorf("%w: %q", ErrBadPayload, payload)
	}
	return Command{kind: CmdRaw, payload: payload}, nil
}

func (c Command) Kind() CommandKind { return c.kind }

// String renders the command without its terminator.
func (c Command) String() string {
	switch c.kind {
	case CmdHello, CmdStatus:
		return string(c.kind)
	case "":
		return ""
	default:
		return "CMD:" + c.payload
	}
}

// Encode serializes cmd to its wire form, terminator included.
func Encode(cmd Command) ([]byte, error) {
	if cmd.kind == "" {
		return nil, fmt.Errorf("%w: zero command", ErrBadPayload)
	}
	return []byte(cmd.String() + Wire), nil
}
