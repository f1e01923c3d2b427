package protocol

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestDecodeClientPing(t *testing.T) {
	in, err := DecodeClient([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatal(err)
	}

	if in.Control != TypePing {
		t.Errorf("expected ping control, got %q", in.Control)
	}

	if len(in.Events) != 0 {
		t.Errorf("ping must not carry events, got %d", len(in.Events))
	}
}

func TestDecodeClientSingleEvent(t *testing.T) {
	in, err := DecodeClient([]byte(`{"type":"keyPress","key":"a","modifier":["shift","control"]}`))
	if err != nil {
		t.Fatal(err)
	}

	if len(in.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(in.Events))
	}

	kp, ok := in.Events[0].(KeyPress)
	if !ok {
		t.Fatalf("expected KeyPress, got %T", in.Events[0])
	}

	if kp.Key != "a" || len(kp.Modifiers) != 2 || kp.Modifiers[0] != ModShift || kp.Modifiers[1] != ModControl {
		t.Errorf("unexpected key press %+v", kp)
	}
}

func TestDecodeClientBatchKeepsOrder(t *testing.T) {
	data := `[
		{"type":"mouseMove","deltaX":3,"deltaY":-1.5},
		{"type":"mouseClick","button":"right","double":true},
		{"type":"mouseScroll","x":0,"y":-1},
		{"type":"keyPress","key":"enter","modifier":[]}
	]`

	in, err := DecodeClient([]byte(data))
	if err != nil {
		t.Fatal(err)
	}

	want := []Event{
		PointerMove{DeltaX: 3, DeltaY: -1.5},
		PointerClick{Button: ButtonRight, Double: true},
		PointerScroll{DX: 0, DY: -1},
		KeyPress{Key: "enter", Modifiers: []Modifier{}},
	}

	if len(in.Events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(in.Events))
	}

	for i := range want {
		if in.Events[i].EventType() != want[i].EventType() {
			t.Errorf("event %d: expected %s, got %s", i, want[i].EventType(), in.Events[i].EventType())
		}
	}

	if mv := in.Events[0].(PointerMove); mv.DeltaX != 3 || mv.DeltaY != -1.5 {
		t.Errorf("unexpected move %+v", mv)
	}
}

func TestDecodeClientUnknownAndBadElements(t *testing.T) {
	data := `[
		{"type":"keyPress","key":"a"},
		{"type":"unknown","foo":1},
		{"type":"mouseClick","button":"middle"},
		42,
		{"type":"mouseClick","button":"left","double":false}
	]`

	in, err := DecodeClient([]byte(data))
	if err != nil {
		t.Fatal(err)
	}

	if len(in.Events) != 3 {
		t.Fatalf("expected 3 decodable events, got %d", len(in.Events))
	}

	if u, ok := in.Events[1].(Unknown); !ok || u.Type != "unknown" {
		t.Errorf("expected Unknown event in position 1, got %#v", in.Events[1])
	}

	if _, ok := in.Events[2].(PointerClick); !ok {
		t.Errorf("expected trailing click to survive, got %T", in.Events[2])
	}

	if len(in.Errors) != 2 {
		t.Fatalf("expected 2 element errors, got %d", len(in.Errors))
	}

	if !errors.Is(in.Errors[0], ErrUnknownButton) {
		t.Errorf("expected ErrUnknownButton, got %v", in.Errors[0])
	}
}

func TestDecodeClientMalformed(t *testing.T) {
	for _, data := range []string{"", "   ", "not json", `"ping"`, `{"type":`} {
		if _, err := DecodeClient([]byte(data)); err == nil {
			t.Errorf("expected error for %q", data)
		}
	}
}

func TestDecodeEventRejectsUnknownModifier(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"type":"keyPress","key":"a","modifier":["hyper"]}`))
	if !errors.Is(err, ErrUnknownModifier) {
		t.Errorf("expected ErrUnknownModifier, got %v", err)
	}
}

func TestEncodeUsesWireFieldNames(t *testing.T) {
	batch := Batch{
		KeyPress{Key: "a"},
		PointerMove{DeltaX: 1, DeltaY: 2},
		PointerClick{Button: ButtonLeft},
		PointerScroll{DX: 0, DY: 1},
	}

	b, err := Encode(batch)
	if err != nil {
		t.Fatal(err)
	}

	var got []map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		typ    string
		fields []string
	}{
		{"keyPress", []string{"key", "modifier"}},
		{"mouseMove", []string{"deltaX", "deltaY"}},
		{"mouseClick", []string{"button", "double"}},
		{"mouseScroll", []string{"x", "y"}},
	}

	for i, tt := range tests {
		if got[i]["type"] != tt.typ {
			t.Errorf("element %d: expected type %s, got %v", i, tt.typ, got[i]["type"])
		}

		for _, f := range tt.fields {
			if _, ok := got[i][f]; !ok {
				t.Errorf("element %d (%s): missing field %q", i, tt.typ, f)
			}
		}
	}

	if mods, ok := got[0]["modifier"].([]any); !ok || len(mods) != 0 {
		t.Errorf("nil modifiers must encode as an empty list, got %#v", got[0]["modifier"])
	}
}

func TestEncodeEmptyBatch(t *testing.T) {
	b, err := Encode(nil)
	if err != nil {
		t.Fatal(err)
	}

	if string(b) != "[]" {
		t.Errorf("expected empty array, got %s", b)
	}
}

func TestWelcomeAndHeartbeatMessages(t *testing.T) {
	b, err := json.Marshal(NewWelcome("10.0.0.2"))
	if err != nil {
		t.Fatal(err)
	}

	w := map[string]string{}
	if err := json.Unmarshal(b, &w); err != nil {
		t.Fatal(err)
	}

	if w["type"] != "welcome" || w["serverIP"] != "10.0.0.2" || w["protocol"] != "websocket" || w["message"] == "" {
		t.Errorf("unexpected welcome %v", w)
	}

	if typ, _ := PeekType(PingMessage()); typ != TypePing {
		t.Errorf("expected ping, got %q", typ)
	}

	if typ, _ := PeekType(PongMessage()); typ != TypePong {
		t.Errorf("expected pong, got %q", typ)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want error
	}{
		{"key", KeyPress{Key: "a", Modifiers: []Modifier{ModAlt}}, nil},
		{"empty key", KeyPress{}, ErrEmptyKey},
		{"bad modifier", KeyPress{Key: "a", Modifiers: []Modifier{"meta"}}, ErrUnknownModifier},
		{"nan move", PointerMove{DeltaX: math.NaN()}, ErrNotFinite},
		{"inf scroll", PointerScroll{DY: math.Inf(1)}, ErrNotFinite},
		{"bad button", PointerClick{Button: "middle"}, ErrUnknownButton},
		{"nil", nil, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.ev)
			if tt.want == nil && err != nil {
				t.Errorf("unexpected error %v", err)
			}

			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNormalizeModifiersDedupes(t *testing.T) {
	mods, err := NormalizeModifiers([]Modifier{ModShift, ModAlt, ModShift})
	if err != nil {
		t.Fatal(err)
	}

	if len(mods) != 2 || mods[0] != ModShift || mods[1] != ModAlt {
		t.Errorf("unexpected modifiers %v", mods)
	}
}
