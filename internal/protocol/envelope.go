// Package protocol encodes and decodes the game server's %xt% envelopes and
// builds the fixed requests of the login handshake and the action loop.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	framePrefix = "%xt%"
	sep         = "%"
)

// ErrMalformedPayload marks a framed envelope whose payload is not valid JSON.
var ErrMalformedPayload = errors.New("malformed envelope payload")

// Direction tells requests and replies apart. Requests carry a module,
// replies carry a status instead.
type Direction int

const (
	// Outbound is %xt%<module>%<command>%<room>%<payload>%.
	Outbound Direction = iota
	// Inbound is %xt%<command>%<room>%<status>%<payload>%.
	Inbound
)

// Envelope is one structured request or reply.
type Envelope struct {
	Direction Direction
	Module    string
	Command   string
	Room      int
	Status    int
	Payload   json.RawMessage
}

// Is reports whether the envelope is a reply to command in room with a
// zero status.
func (e Envelope) Is(command string, room int) bool {
	return e.Direction == Inbound && e.Command == command && e.Room == room && e.Status == 0
}

// Kind classifies a decoded frame.
type Kind int

const (
	// Unrelated frames do not follow the envelope grammar.
	Unrelated Kind = iota
	// Matched frames follow the grammar and carry an Envelope.
	Matched
)

func (k Kind) String() string {
	if k == Matched {
		return "matched"
	}
	return "unrelated"
}

// Frame is the result of decoding one received text frame.
type Frame struct {
	Kind     Kind
	Envelope Envelope
	Raw      string
	// Err is set on a Matched frame whose payload failed to parse.
	Err error
}

// Encode renders an envelope in its wire form.
func Encode(e Envelope) string {
	var b strings.Builder
	b.WriteString(framePrefix)
	if e.Direction == Inbound {
		b.WriteString(e.Command)
		b.WriteString(sep)
		b.WriteString(strconv.Itoa(e.Room))
		b.WriteString(sep)
		b.WriteString(strconv.Itoa(e.Status))
	} else {
		b.WriteString(e.Module)
		b.WriteString(sep)
		b.WriteString(e.Command)
		b.WriteString(sep)
		b.WriteString(strconv.Itoa(e.Room))
	}
	b.WriteString(sep)
	b.Write(e.Payload)
	b.WriteString(sep)
	return b.String()
}

// Decode parses a received frame. It never fails: frames outside the grammar
// come back as Unrelated, and a bad payload inside a framed envelope comes back
// as Matched with Err set.
func Decode(raw string) Frame {
	f := Frame{Kind: Unrelated, Raw: raw}
	if len(raw) <= len(framePrefix) || !strings.HasPrefix(raw, framePrefix) || !strings.HasSuffix(raw, sep) {
		return f
	}

	// The payload is the tail, so a '%' inside JSON strings stays intact.
	parts := strings.SplitN(raw[len(framePrefix):len(raw)-1], sep, 4)
	if len(parts) < 3 {
		return f
	}

	var env Envelope
	if room, err := strconv.Atoi(parts[1]); err == nil {
		status, err := strconv.Atoi(parts[2])
		if err != nil || room < 0 || parts[0] == "" {
			return f
		}
		env = Envelope{Direction: Inbound, Command: parts[0], Room: room, Status: status}
	} else {
		room, err := strconv.Atoi(parts[2])
		if err != nil || room < 0 || parts[0] == "" || parts[1] == "" {
			return f
		}
		env = Envelope{Direction: Outbound, Module: parts[0], Command: parts[1], Room: room}
	}

	if len(parts) == 4 {
		if payload := strings.TrimSpace(parts[3]); payload != "" {
			env.Payload = json.RawMessage(payload)
			if !json.Valid(env.Payload) {
				f.Err = fmt.Errorf("%w: %s reply", ErrMalformedPayload, env.Command)
			}
		}
	}

	f.Kind = Matched
	f.Envelope = env
	return f
}
