package runner

import (
	"strings"
	"unicode/utf8"

	"github.com/go-rod/rod/lib/input"
)

// namedKeys maps the key names accepted by the press action to device keys.
var namedKeys = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"Backspace":  input.Backspace,
	"Delete":     input.Delete,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"Home":       input.Home,
	"End":        input.End,
	"PageUp":     input.PageUp,
	"PageDown":   input.PageDown,
	"Space":      input.Space,
}

// lowerKeys tolerates lowercase spellings like "enter" or "pagedown", which
// callers produce about as often as the canonical names.
var lowerKeys = func() map[string]input.Key {
	m := make(map[string]input.Key, len(namedKeys))
	for name, k := range namedKeys {
		m[strings.ToLower(name)] = k
	}
	return m
}()

// lookupKey resolves a press key name: exact named key, case-insensitive
// named key, then a single character typed as-is.
func lookupKey(name string) (input.Key, bool) {
	if k, ok := namedKeys[name]; ok {
		return k, true
	}
	if k, ok := lowerKeys[strings.ToLower(name)]; ok {
		return k, true
	}
	if utf8.RuneCountInString(name) == 1 {
		r, _ := utf8.DecodeRuneInString(name)
		return input.Key(r), true
	}
	return 0, false
}
