// Package keymap turns key names as a person types them into the names the
// host's input simulator understands.
package keymap

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
	"manualpilot/remotepad/internal/protocol"
)

var ErrUnknownKey = errors.New("keymap: unknown key")

type Table struct {
	Keys      map[string]string            `yaml:"keys"`
	Modifiers map[string]protocol.Modifier `yaml:"modifiers"`
}

// Default is the on-screen keyboard layout: special keys by their label, and
// symbols by name.
func Default() *Table {
	t := &Table{
		Keys: map[string]string{
			"Enter":     "enter",
			"Space":     "space",
			"Backspace": "backspace",
			"Tab":       "tab",
			"CapsLock":  "caps_lock",
			"Shift":     "shift",
			"Ctrl":      "control",
			"Alt":       "alt",
			"Win":       "command",
			"Menu":      "menu",
			"Esc":       "escape",

			"PageUp":   "page_up",
			"PageDown": "page_down",
			"Home":     "home",
			"End":      "end",
			"Insert":   "insert",
			"Delete":   "delete",

			"←": "left",
			"→": "right",
			"↑": "up",
			"↓": "down",

			"`":  "grave_accent",
			"-":  "minus",
			"=":  "equal",
			"[":  "open_bracket",
			"]":  "close_bracket",
			"\\": "backslash",
			";":  "semicolon",
			"'":  "quote",
			",":  "comma",
			".":  "period",
			"/":  "forward_slash",
		},

		Modifiers: map[string]protocol.Modifier{
			"shift":   protocol.ModShift,
			"ctrl":    protocol.ModControl,
			"control": protocol.ModControl,
			"alt":     protocol.ModAlt,
			"option":  protocol.ModAlt,
			"cmd":     protocol.ModCommand,
			"command": protocol.ModCommand,
			"win":     protocol.ModCommand,
			"meta":    protocol.ModCommand,
		},
	}

	for i := 1; i <= 12; i++ {
		t.Keys[fmt.Sprintf("F%d", i)] = fmt.Sprintf("f%d", i)
	}

	return t
}

// Load reads a YAML file and lays it over the default table. Entries in the
// file win.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	overlay := Table{}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("keymap: %v: %w", path, err)
	}

	t := Default()
	for k, v := range overlay.Keys {
		if v == "" {
			return nil, fmt.Errorf("keymap: %v: empty name for key %q", path, k)
		}
		t.Keys[k] = v
	}

	for k, v := range overlay.Modifiers {
		if _, err := protocol.ParseModifier(string(v)); err != nil {
			return nil, fmt.Errorf("keymap: %v: %w", path, err)
		}
		t.Modifiers[strings.ToLower(k)] = v
	}

	return t, nil
}

// Normalize maps a label to a simulator key name. Labels are matched exactly
// first, then without regard to case. Unmapped single characters and names
// that already look normalized pass through lower-cased.
func (t *Table) Normalize(label string) (string, error) {
	if label == "" {
		return "", protocol.ErrEmptyKey
	}

	if name, ok := t.Keys[label]; ok {
		return name, nil
	}

	for k, name := range t.Keys {
		if strings.EqualFold(k, label) {
			return name, nil
		}
	}

	lower := strings.ToLower(label)
	if utf8.RuneCountInString(label) == 1 || plainName(lower) {
		return lower, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownKey, label)
}

func (t *Table) Modifier(label string) (protocol.Modifier, error) {
	if m, ok := t.Modifiers[strings.ToLower(label)]; ok {
		return m, nil
	}

	return "", fmt.Errorf("%w: %q", protocol.ErrUnknownModifier, label)
}

func plainName(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}

	return s != ""
}
