package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

type EventType string

const (
	EventKeyPress    EventType = "keyPress"
	EventMouseMove   EventType = "mouseMove"
	EventMouseClick  EventType = "mouseClick"
	EventMouseScroll EventType = "mouseScroll"
)

var (
	ErrUnknownModifier = errors.New("protocol: unknown modifier")
	ErrUnknownButton   = errors.New("protocol: unknown button")
	ErrEmptyKey        = errors.New("protocol: empty key")
	ErrNotFinite       = errors.New("protocol: delta is not a finite number")
)

// Event is one input action. The concrete types are KeyPress, PointerMove,
// PointerClick, PointerScroll and Unknown.
type Event interface {
	EventType() EventType
}

// Batch is an ordered group of events sent as one message.
type Batch []Event

type Modifier string

const (
	ModShift   Modifier = "shift"
	ModControl Modifier = "control"
	ModAlt     Modifier = "alt"
	ModCommand Modifier = "command"
)

func ParseModifier(s string) (Modifier, error) {
	switch m := Modifier(s); m {
	case ModShift, ModControl, ModAlt, ModCommand:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownModifier, s)
	}
}

// NormalizeModifiers validates mods and drops duplicates, keeping first-seen order.
func NormalizeModifiers(mods []Modifier) ([]Modifier, error) {
	out := make([]Modifier, 0, len(mods))
	seen := make(map[Modifier]bool, len(mods))
	for _, m := range mods {
		if _, err := ParseModifier(string(m)); err != nil {
			return nil, err
		}

		if seen[m] {
			continue
		}

		seen[m] = true
		out = append(out, m)
	}

	return out, nil
}

type Button string

const (
	ButtonLeft  Button = "left"
	ButtonRight Button = "right"
)

// ParseButton accepts "left" and "right"; an empty name means left.
func ParseButton(s string) (Button, error) {
	switch b := Button(s); b {
	case "":
		return ButtonLeft, nil
	case ButtonLeft, ButtonRight:
		return b, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownButton, s)
	}
}

// KeyPress taps an already normalized key with a set of held modifiers.
type KeyPress struct {
	Key       string
	Modifiers []Modifier
}

// PointerMove moves the cursor relative to wherever it currently is.
type PointerMove struct {
	DeltaX float64
	DeltaY float64
}

type PointerClick struct {
	Button Button
	Double bool
}

type PointerScroll struct {
	DX float64
	DY float64
}

// Unknown carries an event whose tag this build does not understand.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (KeyPress) EventType() EventType      { return EventKeyPress }
func (PointerMove) EventType() EventType   { return EventMouseMove }
func (PointerClick) EventType() EventType  { return EventMouseClick }
func (PointerScroll) EventType() EventType { return EventMouseScroll }
func (u Unknown) EventType() EventType     { return EventType(u.Type) }

type keyPressWire struct {
	Type     EventType  `json:"type"`
	Key      string     `json:"key"`
	Modifier []Modifier `json:"modifier"`
}

type mouseMoveWire struct {
	Type   EventType `json:"type"`
	DeltaX float64   `json:"deltaX"`
	DeltaY float64   `json:"deltaY"`
}

type mouseClickWire struct {
	Type   EventType `json:"type"`
	Button Button    `json:"button"`
	Double bool      `json:"double"`
}

type mouseScrollWire struct {
	Type EventType `json:"type"`
	X    float64   `json:"x"`
	Y    float64   `json:"y"`
}

func (k KeyPress) MarshalJSON() ([]byte, error) {
	mods := k.Modifiers
	if mods == nil {
		mods = []Modifier{}
	}

	return json.Marshal(keyPressWire{Type: EventKeyPress, Key: k.Key, Modifier: mods})
}

func (m PointerMove) MarshalJSON() ([]byte, error) {
	return json.Marshal(mouseMoveWire{Type: EventMouseMove, DeltaX: m.DeltaX, DeltaY: m.DeltaY})
}

func (c PointerClick) MarshalJSON() ([]byte, error) {
	return json.Marshal(mouseClickWire{Type: EventMouseClick, Button: c.Button, Double: c.Double})
}

func (s PointerScroll) MarshalJSON() ([]byte, error) {
	return json.Marshal(mouseScrollWire{Type: EventMouseScroll, X: s.DX, Y: s.DY})
}

func (u Unknown) MarshalJSON() ([]byte, error) {
	if len(u.Raw) > 0 {
		return u.Raw, nil
	}

	return json.Marshal(struct {
		Type string `json:"type"`
	}{u.Type})
}

// DecodeEvent decodes one event object. Tags this build does not know decode
// to Unknown without error so the caller can log and skip them.
func DecodeEvent(data []byte) (Event, error) {
	typ, err := PeekType(data)
	if err != nil {
		return nil, err
	}

	switch EventType(typ) {
	case EventKeyPress:
		w := keyPressWire{}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}

		ev := KeyPress{Key: w.Key, Modifiers: w.Modifier}
		return ev, Validate(ev)
	case EventMouseMove:
		w := mouseMoveWire{}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}

		return PointerMove{DeltaX: w.DeltaX, DeltaY: w.DeltaY}, nil
	case EventMouseClick:
		w := mouseClickWire{}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}

		button, err := ParseButton(string(w.Button))
		if err != nil {
			return nil, err
		}

		return PointerClick{Button: button, Double: w.Double}, nil
	case EventMouseScroll:
		w := mouseScrollWire{}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}

		return PointerScroll{DX: w.X, DY: w.Y}, nil
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return Unknown{Type: string(typ), Raw: raw}, nil
	}
}

// Validate reports whether ev can be put on the wire.
func Validate(ev Event) error {
	switch e := ev.(type) {
	case KeyPress:
		if e.Key == "" {
			return ErrEmptyKey
		}

		_, err := NormalizeModifiers(e.Modifiers)
		return err
	case PointerMove:
		return finite(e.DeltaX, e.DeltaY)
	case PointerClick:
		_, err := ParseButton(string(e.Button))
		return err
	case PointerScroll:
		return finite(e.DX, e.DY)
	case nil:
		return fmt.Errorf("%w: nil event", ErrMalformed)
	default:
		return nil
	}
}

func finite(vs ...float64) error {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrNotFinite
		}
	}

	return nil
}
