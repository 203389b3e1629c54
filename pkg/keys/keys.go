// Package keys turns raw keyboard input into key events with a modifier
// bitmask. Key names follow X11 keysyms ("Up", "period", "Num_Lock").
package keys

import (
	"fmt"
	"strings"
)

// Mods is a modifier bitmask.
type Mods uint8

// Modifier bits.
const (
	Shift Mods = 0x01
	Ctrl  Mods = 0x04
	Alt   Mods = 0x08
)

func (m Mods) String() string {
	var parts []string
	if m&Shift != 0 {
		parts = append(parts, "shift")
	}
	if m&Ctrl != 0 {
		parts = append(parts, "ctrl")
	}
	if m&Alt != 0 {
		parts = append(parts, "alt")
	}
	return strings.Join(parts, "+")
}

// Event is a key transition.
type Event struct {
	Key  string
	Mods Mods
	Down bool
}

// names maps lower-case aliases to canonical key names.
var names = map[string]string{
	"up":       "Up",
	"down":     "Down",
	"left":     "Left",
	"right":    "Right",
	".":        "period",
	"period":   "period",
	"dot":      "period",
	"decimal":  "period",
	",":        "comma",
	"comma":    "comma",
	"num_lock": "Num_Lock",
	"numlock":  "Num_Lock",
	"num lock": "Num_Lock",
	"pgup":     "Prior",
	"pgdown":   "Next",
	"home":     "Home",
	"end":      "End",
	"space":    "space",
	" ":        "space",
}

// Canonical returns the canonical name of a key alias.
func Canonical(name string) string {
	if n, ok := names[strings.ToLower(name)]; ok {
		return n
	}
	return name
}

// ParseModifier parses a modifier name such as "ctrl".
func ParseModifier(s string) (Mods, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return 0, nil
	case "shift":
		return Shift, nil
	case "ctrl", "control":
		return Ctrl, nil
	case "alt", "option":
		return Alt, nil
	}
	return 0, fmt.Errorf("unknown modifier %q", s)
}

// ParseChord parses "ctrl+alt+period" into a key and modifiers.
func ParseChord(chord string) (string, Mods, error) {
	parts := strings.Split(chord, "+")
	if parts[len(parts)-1] == "" {
		return "", 0, fmt.Errorf("chord %q: missing key", chord)
	}
	var mods Mods
	for _, p := range parts[:len(parts)-1] {
		m, err := ParseModifier(p)
		if err != nil {
			return "", 0, fmt.Errorf("chord %q: %w", chord, err)
		}
		mods |= m
	}
	return Canonical(parts[len(parts)-1]), mods, nil
}

// FromTerminal maps a terminal key description, as produced by bubbletea
// ("ctrl+up", "alt+.", "down"), to a key and modifiers.
func FromTerminal(s string) (string, Mods, bool) {
	if s == "" {
		return "", 0, false
	}
	key, mods, err := ParseChord(s)
	if err != nil {
		return "", 0, false
	}
	return key, mods, true
}
