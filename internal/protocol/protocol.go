// Package protocol defines the JSON messages exchanged between a pad and a host.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
)

type MessageType string

const (
	TypePing    MessageType = "ping"
	TypePong    MessageType = "pong"
	TypeWelcome MessageType = "welcome"
)

const (
	WelcomeMessage = "Connected to Virtual Input Server"
	ProtocolName   = "websocket"
)

// MaxMessageSize bounds one websocket message in either direction. Pads split
// their backlog so that no batch exceeds it.
const MaxMessageSize = 1 << 20

var ErrMalformed = errors.New("protocol: malformed message")

// Control is a heartbeat message, either direction.
type Control struct {
	Type MessageType `json:"type"`
}

// Welcome is sent by the host once per connection, right after accept.
type Welcome struct {
	Type     MessageType `json:"type"`
	Message  string      `json:"message"`
	ServerIP string      `json:"serverIP"`
	Protocol string      `json:"protocol"`
}

func NewWelcome(serverIP string) Welcome {
	return Welcome{
		Type:     TypeWelcome,
		Message:  WelcomeMessage,
		ServerIP: serverIP,
		Protocol: ProtocolName,
	}
}

// Ports names the ports a host listens on. Discovery and events share one port today.
type Ports struct {
	HTTP int `json:"HTTP"`
	WS   int `json:"WS"`
}

// HostInfo is the discovery answer served at /ip.
type HostInfo struct {
	IP    string `json:"ip"`
	Ports Ports  `json:"ports"`
}

var (
	pingMessage = mustMarshal(Control{Type: TypePing})
	pongMessage = mustMarshal(Control{Type: TypePong})
)

// PingMessage returns the encoded heartbeat ping.
func PingMessage() []byte { return pingMessage }

// PongMessage returns the encoded heartbeat reply.
func PongMessage() []byte { return pongMessage }

// PeekType reads the "type" field of a JSON object without decoding the rest.
// Arrays have no type and yield "".
func PeekType(data []byte) (MessageType, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", ErrMalformed
	}

	if data[0] == '[' {
		return "", nil
	}

	head := struct {
		Type MessageType `json:"type"`
	}{}

	if err := json.Unmarshal(data, &head); err != nil {
		return "", err
	}

	return head.Type, nil
}

// Inbound is a decoded client message: a heartbeat ping or a list of events.
type Inbound struct {
	Control MessageType
	Events  []Event

	// Errors holds per-element decode failures of a batch; those elements are
	// absent from Events and the rest of the batch is kept.
	Errors []error
}

// DecodeClient decodes one message sent by a pad. A message is either a ping,
// a single event object, or an ordered array of event objects.
func DecodeClient(data []byte) (Inbound, error) {
	in := Inbound{}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return in, ErrMalformed
	}

	switch data[0] {
	case '[':
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return in, err
		}

		in.Events = make([]Event, 0, len(raws))
		for _, raw := range raws {
			ev, err := DecodeEvent(raw)
			if err != nil {
				in.Errors = append(in.Errors, err)
				continue
			}

			in.Events = append(in.Events, ev)
		}

		return in, nil
	case '{':
		typ, err := PeekType(data)
		if err != nil {
			return in, err
		}

		if typ == TypePing {
			in.Control = TypePing
			return in, nil
		}

		ev, err := DecodeEvent(data)
		if err != nil {
			return in, err
		}

		in.Events = []Event{ev}
		return in, nil
	default:
		return in, ErrMalformed
	}
}

// Encode serializes a batch as one message: a JSON array in batch order.
func Encode(batch Batch) ([]byte, error) {
	if batch == nil {
		batch = Batch{}
	}

	return json.Marshal(batch)
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	return b
}
