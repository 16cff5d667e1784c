package input

import (
	"fmt"
	"strings"

	"github.com/go-vgo/robotgo"
)

// TapSender taps keys globally through robotgo. Unlike PostSender it does
// not target a window, so the game must hold focus.
type TapSender struct{}

// NewTapSender creates a global key-tap sender
func NewTapSender() *TapSender {
	return &TapSender{}
}

// Send taps the key once
func (s *TapSender) Send(key Key) error {
	if err := robotgo.KeyTap(TapName(key.Name)); err != nil {
		return fmt.Errorf("key tap %s: %w", key.Name, err)
	}
	return nil
}

// TapName maps a normalized key name to the lowercase vocabulary shared by
// robotgo and gohook
func TapName(name string) string {
	switch name {
	case "SPACE":
		return "space"
	case "ENTER", "RETURN":
		return "enter"
	case "TAB":
		return "tab"
	case "ESC", "ESCAPE":
		return "esc"
	}
	// Digits, letters, F1-F24 and NUM0-NUM9 match robotgo's lowercase names.
	return strings.ToLower(name)
}
