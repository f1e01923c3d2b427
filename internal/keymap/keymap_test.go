package keymap

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"manualpilot/remotepad/internal/protocol"
)

func TestNormalize(t *testing.T) {
	table := Default()

	tests := []struct {
		label string
		want  string
	}{
		{"Enter", "enter"},
		{"enter", "enter"},
		{"Ctrl", "control"},
		{"Win", "command"},
		{"Esc", "escape"},
		{"PageUp", "page_up"},
		{"pageup", "page_up"},
		{"←", "left"},
		{"F1", "f1"},
		{"F12", "f12"},
		{"A", "a"},
		{"z", "z"},
		{";", "semicolon"},
		{"page_down", "page_down"},
		{"é", "é"},
	}

	for _, tt := range tests {
		got, err := table.Normalize(tt.label)
		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.label, err)
			continue
		}

		if got != tt.want {
			t.Errorf("%q: got %q, want %q", tt.label, got, tt.want)
		}
	}

	if _, err := table.Normalize(""); !errors.Is(err, protocol.ErrEmptyKey) {
		t.Errorf("expected ErrEmptyKey, got %v", err)
	}

	if _, err := table.Normalize("Not A Key"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("expected ErrUnknownKey, got %v", err)
	}
}

func TestModifier(t *testing.T) {
	table := Default()

	tests := map[string]protocol.Modifier{
		"Shift":   protocol.ModShift,
		"ctrl":    protocol.ModControl,
		"option":  protocol.ModAlt,
		"Win":     protocol.ModCommand,
		"command": protocol.ModCommand,
	}

	for label, want := range tests {
		got, err := table.Modifier(label)
		if err != nil || got != want {
			t.Errorf("%q: got %q, %v; want %q", label, got, err, want)
		}
	}

	if _, err := table.Modifier("hyper"); !errors.Is(err, protocol.ErrUnknownModifier) {
		t.Errorf("expected ErrUnknownModifier, got %v", err)
	}
}

func TestLoadOverlaysDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keymap.yaml")
	data := []byte("keys:\n  Enter: return\n  Fn: function\nmodifiers:\n  Super: command\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	table, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	for label, want := range map[string]string{"Enter": "return", "Fn": "function", "Esc": "escape"} {
		if got, _ := table.Normalize(label); got != want {
			t.Errorf("%q: got %q, want %q", label, got, want)
		}
	}

	if m, err := table.Modifier("super"); err != nil || m != protocol.ModCommand {
		t.Errorf("expected super to map to command, got %q, %v", m, err)
	}
}

func TestLoadRejectsBadModifier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keymap.yaml")
	if err := os.WriteFile(path, []byte("modifiers:\n  hyper: hyper\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); !errors.Is(err, protocol.ErrUnknownModifier) {
		t.Fatalf("expected ErrUnknownModifier, got %v", err)
	}
}
