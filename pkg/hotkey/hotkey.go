// Package hotkey parses global hotkey combinations and dispatches presses
// to engine actions through an integer-id table.
package hotkey

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/keycast/keycast/pkg/config"
	"github.com/keycast/keycast/pkg/input"
	"github.com/keycast/keycast/pkg/logging"
)

// Modifier bitmask values
const (
	ModAlt     uint16 = 0x1
	ModControl uint16 = 0x2
	ModShift   uint16 = 0x4
	ModWin     uint16 = 0x8
)

// Dispatch table id blocks. The toggle gets a fixed id; reset and
// region-enable hotkeys get one block each, offset by config position.
const (
	ToggleID     = 0xA001
	ResetIDBase  = 0xA100
	RegionIDBase = 0xA200
)

// Spec is a parsed hotkey combination
type Spec struct {
	Modifiers uint16
	VK        uint16
	Display   string
	// Tokens is the combination in the lowercase vocabulary the binder
	// consumes, modifiers first.
	Tokens []string
}

// ActionKind tags the variants of Action
type ActionKind int

const (
	// ActionToggleMode flips the armed surface between stopped and running
	ActionToggleMode ActionKind = iota
	// ActionResetKey moves one timed key's next send to now+1s
	ActionResetKey
	// ActionToggleRegion flips one monitor region's enabled flag
	ActionToggleRegion
)

// Action is what a hotkey press asks the engine to do
type Action struct {
	Kind   ActionKind
	Key    string // ActionResetKey
	Region int    // ActionToggleRegion
}

// Handler consumes dispatched actions. It runs on the binder's event
// goroutine and must return quickly.
type Handler func(Action)

// Binder registers global key combinations and reports presses back by id
type Binder interface {
	// Bind registers one combination. fire is invoked on every press.
	Bind(id int, spec Spec, fire func(id int)) error
	// Start begins delivering events for everything bound so far.
	Start()
	// Close unregisters all combinations and stops event delivery.
	Close() error
}

// Parse normalizes and parses a hotkey combination like "Ctrl+Num0" or
// "ctrl + alt + F5". All whitespace is ignored, matching is
// case-insensitive, and at least one modifier is required.
func Parse(raw string) (Spec, error) {
	collapsed := strings.Join(strings.Fields(raw), "")
	if collapsed == "" {
		return Spec{}, fmt.Errorf("empty hotkey")
	}

	parts := strings.Split(strings.ToUpper(collapsed), "+")
	if len(parts) < 2 {
		return Spec{}, fmt.Errorf("hotkey %q needs at least one modifier and a key", raw)
	}

	var mods uint16
	for _, tok := range parts[:len(parts)-1] {
		switch tok {
		case "CTRL", "CONTROL":
			mods |= ModControl
		case "ALT":
			mods |= ModAlt
		case "SHIFT":
			mods |= ModShift
		case "WIN", "META":
			mods |= ModWin
		default:
			return Spec{}, fmt.Errorf("hotkey %q: unknown modifier %q", raw, tok)
		}
	}

	key, err := input.ResolveKey(parts[len(parts)-1])
	if err != nil {
		return Spec{}, fmt.Errorf("hotkey %q: %w", raw, err)
	}

	return Spec{
		Modifiers: mods,
		VK:        key.VK,
		Display:   strings.ToUpper(collapsed),
		Tokens:    tokens(mods, key.Name),
	}, nil
}

// tokens lists the combination in binder vocabulary, modifiers in a fixed
// order so equal specs bind identically
func tokens(mods uint16, keyName string) []string {
	var out []string
	if mods&ModControl != 0 {
		out = append(out, "ctrl")
	}
	if mods&ModAlt != 0 {
		out = append(out, "alt")
	}
	if mods&ModShift != 0 {
		out = append(out, "shift")
	}
	if mods&ModWin != 0 {
		out = append(out, "cmd")
	}
	return append(out, input.TapName(keyName))
}

// Binding pairs a raw hotkey spec with the action it should dispatch
type Binding struct {
	ID     int
	Spec   string
	Action Action
}

// BindingsFromConfig builds the full binding list for a run: the toggle
// hotkey, one reset hotkey per timed key that declares one, and one
// enable hotkey per region that declares one.
func BindingsFromConfig(cfg *config.Config) []Binding {
	var out []Binding

	if strings.TrimSpace(cfg.Hotkeys.Toggle) != "" {
		out = append(out, Binding{
			ID:     ToggleID,
			Spec:   cfg.Hotkeys.Toggle,
			Action: Action{Kind: ActionToggleMode},
		})
	}

	for i, k := range cfg.Keys {
		if strings.TrimSpace(k.ResetHotkey) == "" {
			continue
		}
		out = append(out, Binding{
			ID:     ResetIDBase + i,
			Spec:   k.ResetHotkey,
			Action: Action{Kind: ActionResetKey, Key: k.Key},
		})
	}

	for _, r := range cfg.Regions {
		if strings.TrimSpace(r.EnableHotkey) == "" {
			continue
		}
		out = append(out, Binding{
			ID:     RegionIDBase + r.Index,
			Spec:   r.EnableHotkey,
			Action: Action{Kind: ActionToggleRegion, Region: r.Index},
		})
	}

	return out
}

// Dispatcher owns the id→action table and forwards binder events to the
// handler. One bad binding never blocks the rest.
type Dispatcher struct {
	binder  Binder
	handler Handler
	logger  *logging.Logger

	mu      sync.Mutex
	closed  bool
	actions map[int]Action
}

// NewDispatcher creates a dispatcher over the given binder. logger may be
// nil.
func NewDispatcher(binder Binder, handler Handler, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.New(io.Discard, "hotkeys", logging.LevelError)
	}
	return &Dispatcher{
		binder:  binder,
		handler: handler,
		logger:  logger,
		actions: make(map[int]Action),
	}
}

// Register parses and binds every combination, then starts event
// delivery. Unparseable or unbindable entries are skipped with a warning.
// Returns the number of hotkeys actually bound.
func (d *Dispatcher) Register(bindings []Binding) int {
	bound := 0
	for _, b := range bindings {
		spec, err := Parse(b.Spec)
		if err != nil {
			d.logger.Warn("hotkey skipped", "spec", b.Spec, "error", err.Error())
			continue
		}

		if err := d.binder.Bind(b.ID, spec, d.dispatch); err != nil {
			d.logger.Warn("hotkey registration failed",
				"spec", spec.Display, "id", b.ID, "error", err.Error())
			continue
		}

		d.mu.Lock()
		d.actions[b.ID] = b.Action
		d.mu.Unlock()

		d.logger.Info("hotkey bound", "spec", spec.Display, "id", b.ID)
		bound++
	}

	if bound > 0 {
		d.binder.Start()
	}
	return bound
}

// dispatch routes one press to the handler
func (d *Dispatcher) dispatch(id int) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	action, ok := d.actions[id]
	d.mu.Unlock()

	if !ok {
		d.logger.Debug("press for unknown hotkey id ignored", "id", id)
		return
	}
	d.handler(action)
}

// Close unregisters everything exactly once. Safe to call with nothing
// registered and safe to call again.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.actions = make(map[int]Action)
	d.mu.Unlock()

	return d.binder.Close()
}
