package input

import (
	"fmt"

	"github.com/keycast/keycast/pkg/winctl"
)

// Sender delivers one key press to the target surface
type Sender interface {
	Send(key Key) error
}

// postFunc posts a key press to a window handle
type postFunc func(hwnd uintptr, vk uint16) error

// PostSender posts WM_KEYDOWN/WM_KEYUP messages to the target window.
// The handle is resolved through the locator on every send; a failed post
// invalidates the locator cache so the next send re-resolves.
type PostSender struct {
	locator winctl.Locator
	title   string
	post    postFunc
}

// NewPostSender creates a message-posting sender bound to a window title.
// Returns ErrBackendUnsupported on platforms without message posting.
func NewPostSender(locator winctl.Locator, title string) (*PostSender, error) {
	if !postSupported {
		return nil, fmt.Errorf("post backend: %w", ErrBackendUnsupported)
	}
	return &PostSender{
		locator: locator,
		title:   title,
		post:    postKey,
	}, nil
}

// Send resolves the window and posts the key press
func (s *PostSender) Send(key Key) error {
	w, err := s.locator.Resolve(s.title)
	if err != nil {
		return fmt.Errorf("resolve target window: %w", err)
	}

	if err := s.post(w.Handle, key.VK); err != nil {
		// The handle may be stale; drop it so the next send re-resolves.
		s.locator.Invalidate()
		return fmt.Errorf("post key %s: %w", key.Name, err)
	}
	return nil
}

// NewSender builds the configured injection backend.
// backend is "post" (window-targeted message posting) or "tap" (global
// key tap through robotgo).
func NewSender(backend string, locator winctl.Locator, title string) (Sender, error) {
	switch backend {
	case "post":
		return NewPostSender(locator, title)
	case "tap":
		return NewTapSender(), nil
	default:
		return nil, fmt.Errorf("unknown injection backend %q", backend)
	}
}
