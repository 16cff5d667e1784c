// Package schedule drives the timed key sender: a worker loop that keeps a
// per-key due table and injects each enabled key on its configured interval.
package schedule

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/keycast/keycast/pkg/config"
	"github.com/keycast/keycast/pkg/input"
	"github.com/keycast/keycast/pkg/logging"
	"github.com/keycast/keycast/pkg/winctl"
)

// Fixed pacing policy. These are part of the engine's observable behavior
// and deliberately not configurable.
const (
	settleDelay  = 2 * time.Second
	staggerStep  = 20 * time.Millisecond
	pollTick     = 20 * time.Millisecond
	stopJoinWait = 2 * time.Second
)

// FinishReason tells observers why a run ended
type FinishReason string

const (
	FinishWindowNotFound FinishReason = "window_not_found"
	FinishNoKeys         FinishReason = "no_enabled_keys"
	FinishStopped        FinishReason = "stopped"
)

// KeyInjector delivers one scheduled key press, aborting early when the
// context is cancelled
type KeyInjector interface {
	Inject(ctx context.Context, key input.Key) error
}

// Events receives scheduler notifications. Callbacks run on the scheduler
// goroutine and must return quickly.
type Events interface {
	DueChanged(key string, due time.Time)
	KeySent(key string, at time.Time, err error)
	Finished(reason FinishReason)
}

// scheduledKey pairs a config entry with its resolved key
type scheduledKey struct {
	cfg config.KeyConfig
	key input.Key
}

// Scheduler runs the timed key loop. Start launches the worker; Stop
// cancels it and waits a bounded time for it to exit. Both are idempotent.
type Scheduler struct {
	title    string
	keys     []config.KeyConfig
	locator  winctl.Locator
	injector KeyInjector
	events   Events
	logger   *logging.Logger

	mu      sync.RWMutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	pendingMu sync.Mutex
	pending   map[string]time.Time

	dueMu sync.RWMutex
	due   map[string]time.Time
}

// NewScheduler creates a scheduler for the given key table. events and
// logger may be nil.
func NewScheduler(title string, keys []config.KeyConfig, locator winctl.Locator, injector KeyInjector, events Events, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.New(io.Discard, "scheduler", logging.LevelError)
	}
	return &Scheduler{
		title:    title,
		keys:     keys,
		locator:  locator,
		injector: injector,
		events:   events,
		logger:   logger,
		pending:  make(map[string]time.Time),
		due:      make(map[string]time.Time),
	}
}

// Start launches the scheduler worker. Window resolution happens on the
// worker so Start returns immediately. Starting a running scheduler is a
// no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.started = true
	s.cancel = cancel
	s.done = make(chan struct{})

	// A reset fired while idle must not shift the schedule of this run.
	s.pendingMu.Lock()
	s.pending = make(map[string]time.Time)
	s.pendingMu.Unlock()

	s.dueMu.Lock()
	s.due = make(map[string]time.Time)
	s.dueMu.Unlock()

	go s.run(ctx, s.done)

	s.logger.Info("scheduler started", "window_title", s.title, "keys", len(s.keys))
}

// Stop cancels the worker and waits a bounded time for it to exit. On
// timeout the worker is abandoned with a warning rather than blocking the
// caller forever. Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()

	select {
	case <-done:
	case <-time.After(stopJoinWait):
		s.logger.Warn("scheduler worker did not exit in time, abandoning it")
	}
}

// Running reports whether the worker is active
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Reschedule moves one key's next send to now+d. Negative d clamps to
// zero (send on the next tick). At most one override is pending per key;
// the last write wins. Overrides for keys the current run does not
// schedule are discarded when the loop drains them.
func (s *Scheduler) Reschedule(key string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	due := time.Now().Add(d)

	s.pendingMu.Lock()
	s.pending[key] = due
	s.pendingMu.Unlock()
}

// DueTimes returns a snapshot of the due table
func (s *Scheduler) DueTimes() map[string]time.Time {
	s.dueMu.RLock()
	defer s.dueMu.RUnlock()

	out := make(map[string]time.Time, len(s.due))
	for k, v := range s.due {
		out[k] = v
	}
	return out
}

// run is the worker loop
func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	reason := FinishStopped
	defer func() {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		close(done)

		s.logger.Info("scheduler finished", "reason", string(reason))
		if s.events != nil {
			s.events.Finished(reason)
		}
	}()

	// Warm the window cache so every send resolves against a fresh
	// enumeration. Failure ends the run cleanly; it is not an error.
	if _, err := s.locator.ResolveFresh(s.title); err != nil {
		s.logger.Warn("target window not resolved, run abandoned",
			"window_title", s.title, "error", err.Error())
		reason = FinishWindowNotFound
		return
	}

	active := s.activeKeys()
	if len(active) == 0 {
		s.logger.Warn("no enabled keys with positive intervals, nothing to do")
		reason = FinishNoKeys
		return
	}

	// Give the game a moment to accept focus before the first send.
	if !s.wait(ctx, settleDelay) {
		return
	}

	// Stagger the first round so keys never land in one burst.
	for _, sk := range active {
		if !s.wait(ctx, staggerStep) {
			return
		}
		sentAt := time.Now()
		s.send(ctx, sk)
		s.setDue(sk.cfg.Key, sentAt.Add(sk.cfg.Interval))
	}

	ticker := time.NewTicker(pollTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			s.applyPending(now)
			for _, sk := range active {
				due, ok := s.getDue(sk.cfg.Key)
				if !ok || now.Before(due) {
					continue
				}
				s.send(ctx, sk)
				s.setDue(sk.cfg.Key, now.Add(sk.cfg.Interval))
			}
		}
	}
}

// activeKeys filters the configured keys down to the ones this run will
// schedule: enabled, positive interval, resolvable key name. Config order
// is preserved.
func (s *Scheduler) activeKeys() []scheduledKey {
	var active []scheduledKey
	for _, kc := range s.keys {
		if !kc.Enabled || kc.Interval <= 0 {
			continue
		}
		key, err := input.ResolveKey(kc.Key)
		if err != nil {
			s.logger.Warn("key skipped", "key", kc.Key, "error", err.Error())
			continue
		}
		active = append(active, scheduledKey{cfg: kc, key: key})
	}
	return active
}

// send injects one key and reports the outcome. Injection failures are
// logged and the loop carries on; the run never dies over a lost key. A
// send aborted by stop is not reported at all.
func (s *Scheduler) send(ctx context.Context, sk scheduledKey) {
	at := time.Now()
	err := s.injector.Inject(ctx, sk.key)
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		s.logger.Warn("scheduled send failed", "key", sk.cfg.Key, "error", err.Error())
	}
	if s.events != nil {
		s.events.KeySent(sk.cfg.Key, at, err)
	}
}

// applyPending drains the reschedule box. Overrides apply only to keys
// the run actually scheduled; everything pending is consumed either way.
func (s *Scheduler) applyPending(now time.Time) {
	s.pendingMu.Lock()
	pending := s.pending
	s.pending = make(map[string]time.Time)
	s.pendingMu.Unlock()

	for key, due := range pending {
		if _, ok := s.getDue(key); !ok {
			s.logger.Debug("reschedule for unscheduled key discarded", "key", key)
			continue
		}
		s.setDue(key, due)
	}
}

func (s *Scheduler) setDue(key string, due time.Time) {
	s.dueMu.Lock()
	s.due[key] = due
	s.dueMu.Unlock()

	if s.events != nil {
		s.events.DueChanged(key, due)
	}
}

func (s *Scheduler) getDue(key string) (time.Time, bool) {
	s.dueMu.RLock()
	defer s.dueMu.RUnlock()
	due, ok := s.due[key]
	return due, ok
}

// wait sleeps for d unless the run is cancelled first
func (s *Scheduler) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
