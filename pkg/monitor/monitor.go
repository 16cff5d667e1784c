// Package monitor implements saturation-based region watching: it
// periodically captures the primary display, cuts out the configured
// regions, classifies each one active or inactive by mean color
// saturation, and presses the region's key while it stays active.
package monitor

import (
	"context"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/keycast/keycast/pkg/config"
	"github.com/keycast/keycast/pkg/input"
	"github.com/keycast/keycast/pkg/logging"
	"github.com/keycast/keycast/pkg/vision"
)

// consumeTimeout bounds how long the consumer blocks on an empty mailbox
// before re-checking for cancellation.
const consumeTimeout = 200 * time.Millisecond

// Injector presses a key exactly once. *input.Injector satisfies it.
type Injector interface {
	InjectOnce(key input.Key) error
}

// Classification is the outcome of classifying one enabled region frame.
type Classification struct {
	Result
	Key  string
	Sent bool
	Err  error
}

// Events receives a callback per classified region frame. Implementations
// must be safe for calls from the monitor's consumer goroutine.
type Events interface {
	RegionClassified(c Classification)
}

// Monitor runs a capture producer and a classify-and-send consumer joined
// by a single-slot mailbox. The producer always overwrites a stale frame
// package, so the consumer only ever sees the freshest capture.
type Monitor struct {
	cfg      config.MonitorConfig
	grabber  Grabber
	injector Injector
	events   Events
	logger   *logging.Logger

	state *regionState
	cache *resultCache

	mu      sync.RWMutex
	started bool
	cancel  context.CancelFunc
	wg      *sync.WaitGroup

	mailbox chan *framePackage
}

// NewMonitor builds a monitor over the given regions. The grabber defaults
// to the live screen when nil; injector and events may be nil.
func NewMonitor(cfg config.MonitorConfig, regions []config.RegionConfig, grabber Grabber, injector Injector, events Events, logger *logging.Logger) *Monitor {
	if grabber == nil {
		grabber = ScreenGrabber{}
	}
	if logger == nil {
		logger = logging.New(io.Discard, "monitor", logging.LevelInfo)
	}
	return &Monitor{
		cfg:      cfg,
		grabber:  grabber,
		injector: injector,
		events:   events,
		logger:   logger,
		state:    newRegionState(regions),
		cache:    newResultCache(),
		mailbox:  make(chan *framePackage, 1),
	}
}

// Start launches the producer and consumer goroutines. Calling Start on a
// running monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	m.cancel = cancel
	m.wg = wg
	m.started = true

	dumper := newDebugDumper(m.cfg.DebugDir, m.logger)

	wg.Add(2)
	go m.produce(ctx, wg, dumper)
	go m.consume(ctx, wg)

	m.logger.Info("monitor started",
		"tick", m.cfg.Tick.String(),
		"regions", len(m.state.snapshot()),
		"saturation_threshold", m.cfg.SaturationThreshold)
}

// Stop cancels both goroutines and waits for them to exit. No key is sent
// after Stop returns. Stopping a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel := m.cancel
	wg := m.wg
	m.mu.Unlock()

	cancel()
	wg.Wait()
	m.logger.Info("monitor stopped")
}

// Running reports whether the monitor goroutines are live.
func (m *Monitor) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.started
}

// ToggleRegion flips a region's enabled flag at runtime. It returns the
// new state and whether a region with that index exists. The flip takes
// effect from the next capture tick.
func (m *Monitor) ToggleRegion(index int) (enabled, found bool) {
	enabled, found = m.state.toggle(index)
	if found {
		m.logger.Info("region toggled", "index", index, "enabled", enabled)
	} else {
		m.logger.Warn("toggle for unknown region ignored", "index", index)
	}
	return enabled, found
}

// LatestResults returns the most recent classification per region,
// ordered by region index.
func (m *Monitor) LatestResults() []Result {
	return m.cache.snapshot()
}

// produce captures the screen on every tick, extracts region frames using
// the current region state, and hands the freshest package to the consumer.
func (m *Monitor) produce(ctx context.Context, wg *sync.WaitGroup, dumper *debugDumper) {
	defer wg.Done()

	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		img, err := m.grabber.Capture()
		if err != nil {
			m.logger.Warn("capture failed", "error", err.Error())
			continue
		}

		regions := m.state.snapshot()
		frames := ExtractRegions(img, regions, m.cfg.ReferenceWidth, m.cfg.ReferenceHeight, m.logger)
		if len(frames) == 0 {
			continue
		}
		for _, f := range frames {
			dumper.dump(f)
		}

		m.publish(&framePackage{frames: frames, at: time.Now().UnixNano()})
	}
}

// publish hands a package to the consumer. Whatever the consumer has not
// picked up yet is dropped first, so the mailbox always holds the freshest
// capture and neither arm ever blocks the capture loop.
func (m *Monitor) publish(pkg *framePackage) {
	select {
	case <-m.mailbox:
	default:
	}
	select {
	case m.mailbox <- pkg:
	default:
	}
}

// consume classifies frame packages as they arrive.
func (m *Monitor) consume(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case pkg := <-m.mailbox:
			at := time.Unix(0, pkg.at)
			for _, frame := range pkg.frames {
				m.classify(frame, at)
			}
		case <-time.After(consumeTimeout):
		}
	}
}

// classify scores one frame, records the result, and presses the region's
// key when the region is active. Disabled regions are skipped without
// touching the result cache.
func (m *Monitor) classify(frame RegionFrame, at time.Time) {
	if !frame.Enabled {
		return
	}

	meanSat := vision.MeanSaturation(frame.Image)
	res := Result{
		Index:   frame.Index,
		Name:    frame.Name,
		Frame:   frame.Image,
		MeanSat: meanSat,
		Active:  meanSat > float64(m.cfg.SaturationThreshold),
		At:      at,
	}
	m.cache.put(res)

	c := Classification{Result: res}
	if !res.Active {
		m.emit(c)
		return
	}

	keyName := frame.SendKey
	if keyName == "" {
		keyName = m.cfg.FallbackKeys[strconv.Itoa(frame.Index)]
	}
	if keyName == "" {
		m.logger.Debug("active region has no key mapped", "region", frame.Name, "index", frame.Index)
		m.emit(c)
		return
	}
	c.Key = keyName

	key, err := input.ResolveKey(keyName)
	if err != nil {
		m.logger.Warn("region key not sendable", "region", frame.Name, "key", keyName, "error", err.Error())
		c.Err = err
		m.emit(c)
		return
	}

	if m.injector == nil {
		m.emit(c)
		return
	}
	if err := m.injector.InjectOnce(key); err != nil {
		m.logger.Warn("region key send failed", "region", frame.Name, "key", keyName, "error", err.Error())
		c.Err = err
	} else {
		c.Sent = true
		m.logger.Debug("region key sent", "region", frame.Name, "key", keyName, "mean_saturation", meanSat)
	}
	m.emit(c)
}

func (m *Monitor) emit(c Classification) {
	if m.events != nil {
		m.events.RegionClassified(c)
	}
}
