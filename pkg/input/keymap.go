// Package input translates configured key names into virtual-key codes and
// injects key presses into the target window through selectable backends.
package input

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownKey is returned when a key name has no virtual-key translation
var ErrUnknownKey = errors.New("unknown key name")

// ErrBackendUnsupported is returned when the selected injection backend is
// not available on this platform
var ErrBackendUnsupported = errors.New("injection backend not supported on this platform")

// Key is a resolved key: the normalized name and its virtual-key code
type Key struct {
	Name string
	VK   uint16
}

// Virtual-key codes for the named keys the engine accepts
const (
	vkSpace  = 0x20
	vkReturn = 0x0D
	vkTab    = 0x09
	vkEscape = 0x1B
	vkF1     = 0x70
	vkNum0   = 0x60
)

var keyAliases = map[string]uint16{
	"SPACE":  vkSpace,
	"ENTER":  vkReturn,
	"RETURN": vkReturn,
	"TAB":    vkTab,
	"ESC":    vkEscape,
	"ESCAPE": vkEscape,
}

// ResolveKey translates a configured key name into a Key. Accepted names:
// single digits and letters, F1-F24, NUM0-NUM9 (numpad, NUMPAD also
// accepted), and the aliases SPACE, ENTER, RETURN, TAB, ESC, ESCAPE.
// Matching ignores case, surrounding whitespace and underscores.
func ResolveKey(name string) (Key, error) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	normalized = strings.ReplaceAll(normalized, "_", "")
	if normalized == "" {
		return Key{}, fmt.Errorf("empty key name: %w", ErrUnknownKey)
	}

	if vk, ok := keyAliases[normalized]; ok {
		return Key{Name: normalized, VK: vk}, nil
	}

	if len(normalized) == 1 {
		c := normalized[0]
		if c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' {
			return Key{Name: normalized, VK: uint16(c)}, nil
		}
	}

	if rest, ok := strings.CutPrefix(normalized, "F"); ok {
		if n, err := strconv.Atoi(rest); err == nil && n >= 1 && n <= 24 {
			return Key{Name: normalized, VK: uint16(vkF1 + n - 1)}, nil
		}
	}

	numpad := normalized
	if rest, ok := strings.CutPrefix(numpad, "NUMPAD"); ok {
		numpad = "NUM" + rest
	}
	if rest, ok := strings.CutPrefix(numpad, "NUM"); ok {
		if len(rest) == 1 && rest[0] >= '0' && rest[0] <= '9' {
			return Key{Name: numpad, VK: uint16(vkNum0 + rest[0] - '0')}, nil
		}
	}

	return Key{}, fmt.Errorf("%q: %w", name, ErrUnknownKey)
}
