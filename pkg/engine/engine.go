// Package engine composes the timed scheduler, the visual monitor and the
// global hotkey dispatcher behind an explicit mode machine. At most one
// surface runs at a time; the toggle hotkey drives whichever surface the
// configuration armed.
package engine

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/keycast/keycast/pkg/config"
	"github.com/keycast/keycast/pkg/hotkey"
	"github.com/keycast/keycast/pkg/input"
	"github.com/keycast/keycast/pkg/logging"
	"github.com/keycast/keycast/pkg/monitor"
	"github.com/keycast/keycast/pkg/schedule"
	"github.com/keycast/keycast/pkg/winctl"
)

// resetDelay is how far a reset hotkey pushes a key's next send.
const resetDelay = time.Second

// Mode is the engine's activity state.
type Mode int

const (
	ModeIdle Mode = iota
	ModeTimedRunning
	ModeMonitorRunning
)

func (m Mode) String() string {
	switch m {
	case ModeTimedRunning:
		return "timed"
	case ModeMonitorRunning:
		return "monitor"
	default:
		return "idle"
	}
}

// armedMode maps the config mode string to the surface the toggle drives
// while the engine is idle.
func armedMode(s string) Mode {
	switch s {
	case "timed":
		return ModeTimedRunning
	case "monitor":
		return ModeMonitorRunning
	default:
		return ModeIdle
	}
}

// Events receives engine-level notifications. Implementations must be safe
// for concurrent calls; they arrive from the hotkey, scheduler and monitor
// goroutines.
type Events interface {
	// ModeChanged fires exactly once per transition.
	ModeChanged(from, to Mode)
	// SchedulerFinished reports why a timed run ended.
	SchedulerFinished(reason schedule.FinishReason)
	// DueChanged reports one key's next send time moving, from a send or
	// from a reset hotkey.
	DueChanged(key string, due time.Time)
	// KeySent reports one scheduled send, failed or not.
	KeySent(key string, err error)
	// RegionClassified reports one monitor classification, whether or not
	// a key went out for it.
	RegionClassified(c monitor.Classification)
}

// FanOut duplicates events to every sink in order. With no sinks it is a
// valid no-op Events.
func FanOut(sinks ...Events) Events { return fanOut(sinks) }

type fanOut []Events

func (f fanOut) ModeChanged(from, to Mode) {
	for _, s := range f {
		s.ModeChanged(from, to)
	}
}

func (f fanOut) SchedulerFinished(reason schedule.FinishReason) {
	for _, s := range f {
		s.SchedulerFinished(reason)
	}
}

func (f fanOut) DueChanged(key string, due time.Time) {
	for _, s := range f {
		s.DueChanged(key, due)
	}
}

func (f fanOut) KeySent(key string, err error) {
	for _, s := range f {
		s.KeySent(key, err)
	}
}

func (f fanOut) RegionClassified(c monitor.Classification) {
	for _, s := range f {
		s.RegionClassified(c)
	}
}

// scheduler is the slice of *schedule.Scheduler the engine drives.
type scheduler interface {
	Start()
	Stop()
	Running() bool
	Reschedule(key string, d time.Duration)
}

// regionMonitor is the slice of *monitor.Monitor the engine drives.
type regionMonitor interface {
	Start()
	Stop()
	Running() bool
	ToggleRegion(index int) (enabled, found bool)
}

// Engine owns both surfaces for the life of the process. The scheduler and
// monitor are constructed up front and never replaced, so reset hotkeys have
// a scheduler to talk to even while the engine is idle.
type Engine struct {
	cfg    *config.Config
	logger *logging.Logger
	events Events

	scheduler  scheduler
	monitor    regionMonitor
	dispatcher *hotkey.Dispatcher

	armed Mode

	// modeMu guards mode and nothing else, so surface goroutines can
	// report a finish even while a transition is blocked joining them.
	// toggleMu serializes whole transitions.
	modeMu   sync.RWMutex
	mode     Mode
	toggleMu sync.Mutex
}

// New wires an engine from configuration. binder nil selects the production
// gohook binder; events nil discards notifications; logger nil is silent.
func New(cfg *config.Config, binder hotkey.Binder, events Events, logger *logging.Logger) (*Engine, error) {
	if logger == nil {
		logger = logging.New(io.Discard, "engine", logging.LevelInfo)
	}
	if events == nil {
		events = FanOut()
	}

	e := &Engine{
		cfg:    cfg,
		logger: logger,
		events: events,
		armed:  armedMode(cfg.Mode),
	}

	locator := winctl.NewCache(nil)
	sender, err := input.NewSender(cfg.Injection.Backend, locator, cfg.WindowTitle)
	if err != nil {
		return nil, fmt.Errorf("injection backend %q: %w", cfg.Injection.Backend, err)
	}
	injector := input.NewInjector(sender, cfg.Injection.Attempts, cfg.Injection.Delay,
		logger.WithComponent("input"))

	e.scheduler = schedule.NewScheduler(cfg.WindowTitle, cfg.Keys, locator, injector,
		schedulerEvents{e}, logger.WithComponent("schedule"))
	e.monitor = monitor.NewMonitor(cfg.Monitor, cfg.Regions, nil, injector,
		monitorEvents{e}, logger.WithComponent("monitor"))

	if binder == nil {
		binder = hotkey.NewGohookBinder()
	}
	e.dispatcher = hotkey.NewDispatcher(binder, e.HandleAction, logger.WithComponent("hotkey"))

	return e, nil
}

// Start registers the configured hotkeys and reports how many bound. The
// engine stays idle until the toggle hotkey (or a direct HandleAction call)
// starts the armed surface.
func (e *Engine) Start() int {
	bound := e.dispatcher.Register(hotkey.BindingsFromConfig(e.cfg))
	e.logger.Info("engine ready",
		"armed", e.armed.String(),
		"hotkeys", bound,
		"window_title", e.cfg.WindowTitle)
	return bound
}

// Shutdown releases the hotkeys and joins whatever surface is running.
// Safe to call more than once.
func (e *Engine) Shutdown() {
	if err := e.dispatcher.Close(); err != nil {
		e.logger.Warn("hotkey close failed", "error", err.Error())
	}

	e.toggleMu.Lock()
	defer e.toggleMu.Unlock()

	e.modeMu.Lock()
	from := e.mode
	e.mode = ModeIdle
	e.modeMu.Unlock()

	e.scheduler.Stop()
	e.monitor.Stop()

	if from != ModeIdle {
		e.events.ModeChanged(from, ModeIdle)
	}
	e.logger.Info("engine shut down")
}

// Mode returns the current activity state.
func (e *Engine) Mode() Mode {
	e.modeMu.RLock()
	defer e.modeMu.RUnlock()
	return e.mode
}

// Armed returns the surface the toggle hotkey drives from idle.
func (e *Engine) Armed() Mode {
	return e.armed
}

// HandleAction applies one dispatched hotkey action. It is the dispatcher's
// handler and may also be called directly by embedders.
func (e *Engine) HandleAction(a hotkey.Action) {
	switch a.Kind {
	case hotkey.ActionToggleMode:
		e.toggleMode()
	case hotkey.ActionResetKey:
		e.logger.Info("key reset", "key", a.Key)
		e.scheduler.Reschedule(a.Key, resetDelay)
	case hotkey.ActionToggleRegion:
		e.monitor.ToggleRegion(a.Region)
	default:
		e.logger.Warn("unknown action ignored", "kind", int(a.Kind))
	}
}

// toggleMode stops the running surface, or starts the armed one from idle.
// Transitions run one at a time, and stopping joins the surface before the
// transition completes. Stops sweep both surfaces so a toggle always lands
// in a known state.
func (e *Engine) toggleMode() {
	e.toggleMu.Lock()
	defer e.toggleMu.Unlock()

	switch from := e.Mode(); from {
	case ModeTimedRunning, ModeMonitorRunning:
		e.setMode(ModeIdle)
		if from == ModeTimedRunning {
			e.scheduler.Stop()
			e.monitor.Stop()
		} else {
			e.monitor.Stop()
			e.scheduler.Stop()
		}
		e.events.ModeChanged(from, ModeIdle)
		e.logger.Info("mode toggled", "from", from.String(), "to", "idle")

	default:
		if e.armed == ModeIdle {
			e.logger.Info("toggle ignored, no surface armed")
			return
		}
		to := e.armed
		e.setMode(to)
		e.events.ModeChanged(ModeIdle, to)
		if to == ModeTimedRunning {
			e.monitor.Stop()
			e.scheduler.Start()
		} else {
			e.scheduler.Stop()
			e.monitor.Start()
		}
		e.logger.Info("mode toggled", "from", "idle", "to", to.String())
	}
}

func (e *Engine) setMode(m Mode) {
	e.modeMu.Lock()
	e.mode = m
	e.modeMu.Unlock()
}

// schedulerFinished handles the scheduler ending on its own (window never
// resolved, nothing schedulable) as well as the finish that follows a
// toggle-stop. Only a self-finish still sees TimedRunning here; a toggle
// has already moved the mode to idle.
func (e *Engine) schedulerFinished(reason schedule.FinishReason) {
	e.modeMu.Lock()
	flipped := e.mode == ModeTimedRunning
	if flipped {
		e.mode = ModeIdle
	}
	e.modeMu.Unlock()

	e.events.SchedulerFinished(reason)
	if flipped {
		e.logger.Info("timed run ended on its own", "reason", string(reason))
		e.events.ModeChanged(ModeTimedRunning, ModeIdle)
	}
}

// schedulerEvents adapts scheduler notifications onto the engine.
type schedulerEvents struct{ e *Engine }

func (a schedulerEvents) DueChanged(key string, due time.Time) {
	a.e.logger.Debug("due changed", "key", key, "due", due.Format(time.RFC3339Nano))
	a.e.events.DueChanged(key, due)
}

func (a schedulerEvents) KeySent(key string, at time.Time, err error) {
	a.e.events.KeySent(key, err)
}

func (a schedulerEvents) Finished(reason schedule.FinishReason) {
	a.e.schedulerFinished(reason)
}

// monitorEvents adapts monitor notifications onto the engine.
type monitorEvents struct{ e *Engine }

func (a monitorEvents) RegionClassified(c monitor.Classification) {
	a.e.events.RegionClassified(c)
}
