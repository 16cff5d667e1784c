package hotkey

import (
	"fmt"
	"sync"

	hook "github.com/robotn/gohook"
	"github.com/vcaesar/keycode"
)

// GohookBinder binds combinations through the gohook global event hook.
// gohook registrations are process-wide, so one binder instance serves the
// whole engine.
type GohookBinder struct {
	mu      sync.Mutex
	started bool
	closed  bool
}

// NewGohookBinder creates the production hotkey binder
func NewGohookBinder() *GohookBinder {
	return &GohookBinder{}
}

// Bind registers one combination for key-down events. Tokens outside the
// hook's key vocabulary are rejected up front; gohook itself registers
// unknown names silently and the hotkey would just never fire.
func (b *GohookBinder) Bind(id int, spec Spec, fire func(id int)) error {
	for _, tok := range spec.Tokens {
		if _, ok := keycode.Keycode[tok]; !ok {
			return fmt.Errorf("token %q is not bindable on this hook", tok)
		}
	}

	hook.Register(hook.KeyDown, spec.Tokens, func(e hook.Event) {
		fire(id)
	})
	return nil
}

// Start begins the global event pump
func (b *GohookBinder) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started || b.closed {
		return
	}
	b.started = true

	events := hook.Start()
	go func() {
		<-hook.Process(events)
	}()
}

// Close stops the pump and drops every registration
func (b *GohookBinder) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	if b.started {
		hook.End()
	}
	return nil
}
