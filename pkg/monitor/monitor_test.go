package monitor

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keycast/keycast/pkg/config"
	"github.com/keycast/keycast/pkg/input"
)

type fakeGrabber struct {
	mu    sync.Mutex
	img   *image.RGBA
	err   error
	calls int
}

func (g *fakeGrabber) Capture() (*image.RGBA, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.img, nil
}

type fakeMonitorInjector struct {
	mu   sync.Mutex
	err  error
	keys []input.Key
}

func (f *fakeMonitorInjector) InjectOnce(key input.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeMonitorInjector) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

func (f *fakeMonitorInjector) recorded() []input.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]input.Key, len(f.keys))
	copy(out, f.keys)
	return out
}

type classificationRecorder struct {
	mu  sync.Mutex
	all []Classification
}

func (r *classificationRecorder) RegionClassified(c Classification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, c)
}

func (r *classificationRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.all)
}

func (r *classificationRecorder) forIndex(index int) []Classification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Classification
	for _, c := range r.all {
		if c.Index == index {
			out = append(out, c)
		}
	}
	return out
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func uniformImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func fillRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// frameWith builds an enabled frame over a uniform color, the shape the
// producer would hand to classify.
func frameWith(index int, sendKey string, c color.RGBA) RegionFrame {
	return RegionFrame{
		Index:   index,
		Name:    "slot",
		Image:   uniformImage(8, 8, c),
		Enabled: true,
		SendKey: sendKey,
	}
}

// saturated returns a color whose mean saturation is exactly s on the
// 0..255 scale.
func saturated(s uint8) color.RGBA {
	return color.RGBA{R: 255, G: 255 - s, B: 255 - s, A: 255}
}

func TestMonitor_SaturationBoundary(t *testing.T) {
	// Given a threshold of 50, a region is active only strictly above it
	cases := []struct {
		name   string
		sat    uint8
		active bool
	}{
		{"zero saturation", 0, false},
		{"just under threshold", 49, false},
		{"exactly at threshold", 50, false},
		{"just over threshold", 51, true},
		{"fully saturated", 255, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events := &classificationRecorder{}
			m := NewMonitor(config.MonitorConfig{SaturationThreshold: 50},
				nil, &fakeGrabber{}, &fakeMonitorInjector{}, events, nil)

			// When a frame with that exact mean saturation is classified
			m.classify(frameWith(1, "", saturated(tc.sat)), time.Now())

			// Then the activity flag follows the strict comparison
			require.Equal(t, 1, events.count())
			c := events.forIndex(1)[0]
			assert.Equal(t, tc.active, c.Active)
			assert.InDelta(t, float64(tc.sat), c.MeanSat, 1e-9)
		})
	}
}

func TestMonitor_ActiveRegionSendsItsKey(t *testing.T) {
	// Given an active frame mapped to F1
	injector := &fakeMonitorInjector{}
	events := &classificationRecorder{}
	m := NewMonitor(config.MonitorConfig{SaturationThreshold: 50},
		nil, &fakeGrabber{}, injector, events, nil)

	// When the frame is classified
	m.classify(frameWith(1, "F1", saturated(255)), time.Now())

	// Then exactly one F1 press goes out and the event reflects it
	keys := injector.recorded()
	require.Len(t, keys, 1)
	assert.Equal(t, uint16(0x70), keys[0].VK)

	c := events.forIndex(1)[0]
	assert.True(t, c.Active)
	assert.True(t, c.Sent)
	assert.Equal(t, "F1", c.Key)
	assert.NoError(t, c.Err)
}

func TestMonitor_FallbackKeyWhenRegionHasNone(t *testing.T) {
	// Given an active frame without its own key but with a fallback mapping
	injector := &fakeMonitorInjector{}
	events := &classificationRecorder{}
	cfg := config.MonitorConfig{
		SaturationThreshold: 50,
		FallbackKeys:        map[string]string{"4": "SPACE"},
	}
	m := NewMonitor(cfg, nil, &fakeGrabber{}, injector, events, nil)

	// When the frame is classified
	m.classify(frameWith(4, "", saturated(255)), time.Now())

	// Then the fallback key is pressed
	keys := injector.recorded()
	require.Len(t, keys, 1)
	assert.Equal(t, uint16(0x20), keys[0].VK)
	assert.Equal(t, "SPACE", events.forIndex(4)[0].Key)
}

func TestMonitor_RegionKeyOverridesFallback(t *testing.T) {
	// Given a frame with its own key and a conflicting fallback
	injector := &fakeMonitorInjector{}
	cfg := config.MonitorConfig{
		SaturationThreshold: 50,
		FallbackKeys:        map[string]string{"1": "SPACE"},
	}
	m := NewMonitor(cfg, nil, &fakeGrabber{}, injector, &classificationRecorder{}, nil)

	// When the frame is classified
	m.classify(frameWith(1, "F2", saturated(255)), time.Now())

	// Then the region's own key wins
	keys := injector.recorded()
	require.Len(t, keys, 1)
	assert.Equal(t, uint16(0x71), keys[0].VK)
}

func TestMonitor_ActiveRegionWithoutMappingIsReportedNotSent(t *testing.T) {
	// Given an active frame with no key anywhere
	injector := &fakeMonitorInjector{}
	events := &classificationRecorder{}
	m := NewMonitor(config.MonitorConfig{SaturationThreshold: 50},
		nil, &fakeGrabber{}, injector, events, nil)

	// When the frame is classified
	m.classify(frameWith(2, "", saturated(255)), time.Now())

	// Then it is recorded active but nothing is pressed
	assert.Zero(t, injector.count())
	c := events.forIndex(2)[0]
	assert.True(t, c.Active)
	assert.False(t, c.Sent)
	assert.Empty(t, c.Key)
}

func TestMonitor_UnknownKeyNameSurfacesError(t *testing.T) {
	// Given an active frame mapped to a name that is not a key
	injector := &fakeMonitorInjector{}
	events := &classificationRecorder{}
	m := NewMonitor(config.MonitorConfig{SaturationThreshold: 50},
		nil, &fakeGrabber{}, injector, events, nil)

	// When the frame is classified
	m.classify(frameWith(1, "NOPE", saturated(255)), time.Now())

	// Then nothing is pressed and the event carries the resolution error
	assert.Zero(t, injector.count())
	c := events.forIndex(1)[0]
	assert.False(t, c.Sent)
	assert.ErrorIs(t, c.Err, input.ErrUnknownKey)
}

func TestMonitor_InjectionErrorIsReportedAndNonFatal(t *testing.T) {
	// Given an injector that always fails
	injector := &fakeMonitorInjector{err: errors.New("window gone")}
	events := &classificationRecorder{}
	m := NewMonitor(config.MonitorConfig{SaturationThreshold: 50},
		nil, &fakeGrabber{}, injector, events, nil)

	// When an active frame is classified
	m.classify(frameWith(1, "F1", saturated(255)), time.Now())

	// Then the failure lands on the event and the result is still cached
	c := events.forIndex(1)[0]
	assert.False(t, c.Sent)
	assert.Error(t, c.Err)

	results := m.LatestResults()
	require.Len(t, results, 1)
	assert.True(t, results[0].Active)
}

func TestMonitor_InactiveRegionSendsNothing(t *testing.T) {
	// Given an inactive gray frame that has a key mapped
	injector := &fakeMonitorInjector{}
	events := &classificationRecorder{}
	m := NewMonitor(config.MonitorConfig{SaturationThreshold: 50},
		nil, &fakeGrabber{}, injector, events, nil)

	// When the frame is classified
	m.classify(frameWith(1, "F1", color.RGBA{120, 120, 120, 255}), time.Now())

	// Then the result is recorded but no key goes out
	assert.Zero(t, injector.count())
	c := events.forIndex(1)[0]
	assert.False(t, c.Active)
	assert.False(t, c.Sent)
}

func TestMonitor_DisabledRegionIsSkippedEntirely(t *testing.T) {
	// Given a disabled frame over a fully saturated image
	injector := &fakeMonitorInjector{}
	events := &classificationRecorder{}
	m := NewMonitor(config.MonitorConfig{SaturationThreshold: 50},
		nil, &fakeGrabber{}, injector, events, nil)
	frame := frameWith(1, "F1", saturated(255))
	frame.Enabled = false

	// When the frame is classified
	m.classify(frame, time.Now())

	// Then no event, no send, no cached result
	assert.Zero(t, events.count())
	assert.Zero(t, injector.count())
	assert.Empty(t, m.LatestResults())
}

func TestMonitor_LatestResultsOrderedByIndex(t *testing.T) {
	// Given classifications arriving out of index order
	m := NewMonitor(config.MonitorConfig{SaturationThreshold: 50},
		nil, &fakeGrabber{}, &fakeMonitorInjector{}, &classificationRecorder{}, nil)
	m.classify(frameWith(3, "", saturated(255)), time.Now())
	m.classify(frameWith(1, "", saturated(0)), time.Now())
	m.classify(frameWith(2, "", saturated(255)), time.Now())

	// When the cache is read back
	results := m.LatestResults()

	// Then one result per region, sorted by index, each with its frame
	require.Len(t, results, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{results[0].Index, results[1].Index, results[2].Index})
	for _, r := range results {
		assert.NotNil(t, r.Frame)
	}
}

func TestMonitor_MailboxLatestFrameWins(t *testing.T) {
	// Given a monitor whose consumer is not draining the mailbox
	m := NewMonitor(config.MonitorConfig{SaturationThreshold: 50},
		nil, &fakeGrabber{}, &fakeMonitorInjector{}, nil, nil)

	// When three packages are published back to back
	m.publish(&framePackage{at: 1})
	m.publish(&framePackage{at: 2})
	m.publish(&framePackage{at: 3})

	// Then only the newest package is there to consume
	select {
	case pkg := <-m.mailbox:
		assert.Equal(t, int64(3), pkg.at)
	default:
		t.Fatal("mailbox is empty after publishing")
	}

	// And no stale package is queued behind it
	select {
	case pkg := <-m.mailbox:
		t.Fatalf("stale package %d left in the mailbox", pkg.at)
	default:
	}
}

func TestMonitor_SlowConsumerSeesOnlyFreshFrames(t *testing.T) {
	// Given a producer ticking much faster than the consumer drains
	grabber := &fakeGrabber{img: uniformImage(8, 8, saturated(255))}
	regions := []config.RegionConfig{
		{Index: 1, Name: "hot", X: 0, Y: 0, Width: 8, Height: 8, Enabled: true},
	}
	cfg := config.MonitorConfig{Tick: time.Millisecond, SaturationThreshold: 50}
	m := NewMonitor(cfg, regions, grabber, &fakeMonitorInjector{}, &classificationRecorder{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go m.produce(ctx, wg, nil)

	// When the consumer wakes up late, twice
	time.Sleep(50 * time.Millisecond)
	first := <-m.mailbox
	time.Sleep(50 * time.Millisecond)
	second := <-m.mailbox

	cancel()
	wg.Wait()

	// Then each read is the freshest capture, never an accumulated backlog
	grabber.mu.Lock()
	captures := grabber.calls
	grabber.mu.Unlock()
	assert.Greater(t, captures, 2, "producer should have outpaced the consumer")
	assert.Greater(t, second.at, first.at)
	gap := time.Unix(0, second.at).Sub(time.Unix(0, first.at))
	assert.Greater(t, gap, 25*time.Millisecond,
		"second read should skip the backlog and land near the latest capture")
}

func TestExtractRegions_ScalesToCaptureResolution(t *testing.T) {
	// Given a 200x200 capture against a 100x100 reference
	img := uniformImage(200, 200, color.RGBA{0, 0, 0, 255})
	regions := []config.RegionConfig{
		{Index: 1, Name: "r1", X: 10, Y: 20, Width: 30, Height: 40, Enabled: true},
	}

	// When regions are extracted
	frames := ExtractRegions(img, regions, 100, 100, nil)

	// Then the rect is doubled on both axes
	require.Len(t, frames, 1)
	b := frames[0].Image.Bounds()
	assert.Equal(t, image.Rect(20, 40, 80, 120), b)
}

func TestExtractRegions_ClampsPartialOverhang(t *testing.T) {
	// Given a region that extends past the right edge of the capture
	img := uniformImage(100, 100, color.RGBA{0, 0, 0, 255})
	regions := []config.RegionConfig{
		{Index: 1, Name: "edge", X: 90, Y: 10, Width: 40, Height: 20, Enabled: true},
	}

	// When regions are extracted at native scale
	frames := ExtractRegions(img, regions, 0, 0, nil)

	// Then the frame is clamped to the visible part
	require.Len(t, frames, 1)
	b := frames[0].Image.Bounds()
	assert.Equal(t, 10, b.Dx())
	assert.Equal(t, 20, b.Dy())
}

func TestExtractRegions_SkipsFullyOffscreenRegions(t *testing.T) {
	// Given one region entirely off the capture and one on it
	img := uniformImage(100, 100, color.RGBA{0, 0, 0, 255})
	regions := []config.RegionConfig{
		{Index: 1, Name: "gone", X: 500, Y: 500, Width: 20, Height: 20, Enabled: true},
		{Index: 2, Name: "here", X: 10, Y: 10, Width: 20, Height: 20, Enabled: true},
	}

	// When regions are extracted
	frames := ExtractRegions(img, regions, 0, 0, nil)

	// Then only the visible region survives
	require.Len(t, frames, 1)
	assert.Equal(t, 2, frames[0].Index)
}

func TestMonitor_EndToEnd(t *testing.T) {
	// Given a capture with a saturated left half and a gray right half
	img := uniformImage(16, 8, color.RGBA{120, 120, 120, 255})
	fillRect(img, image.Rect(0, 0, 8, 8), color.RGBA{255, 0, 0, 255})

	grabber := &fakeGrabber{img: img}
	injector := &fakeMonitorInjector{}
	events := &classificationRecorder{}
	regions := []config.RegionConfig{
		{Index: 1, Name: "hot", X: 0, Y: 0, Width: 8, Height: 8, Enabled: true, SendKey: "F1"},
		{Index: 2, Name: "cold", X: 8, Y: 0, Width: 8, Height: 8, Enabled: true, SendKey: "F2"},
	}
	cfg := config.MonitorConfig{Tick: 10 * time.Millisecond, SaturationThreshold: 50}
	m := NewMonitor(cfg, regions, grabber, injector, events, nil)

	// When the monitor runs for a few ticks
	m.Start()
	waitUntil(t, 2*time.Second, func() bool {
		return len(events.forIndex(1)) >= 2 && len(events.forIndex(2)) >= 2
	})

	// Then only the saturated region's key is pressed
	for _, key := range injector.recorded() {
		assert.Equal(t, uint16(0x70), key.VK)
	}
	assert.Greater(t, injector.count(), 0)

	hot := events.forIndex(1)[0]
	assert.True(t, hot.Active)
	assert.True(t, hot.Sent)
	cold := events.forIndex(2)[0]
	assert.False(t, cold.Active)
	assert.False(t, cold.Sent)

	// And toggling the hot region off stops its classifications
	enabled, found := m.ToggleRegion(1)
	require.True(t, found)
	assert.False(t, enabled)

	time.Sleep(100 * time.Millisecond) // flush frames captured before the toggle
	baseline := len(events.forIndex(1))
	cold2 := len(events.forIndex(2))
	waitUntil(t, 2*time.Second, func() bool { return len(events.forIndex(2)) >= cold2+2 })
	assert.Equal(t, baseline, len(events.forIndex(1)))

	m.Stop()
}

func TestMonitor_LifecycleIsIdempotent(t *testing.T) {
	// Given a running monitor
	grabber := &fakeGrabber{img: uniformImage(8, 8, saturated(255))}
	injector := &fakeMonitorInjector{}
	regions := []config.RegionConfig{
		{Index: 1, Name: "hot", X: 0, Y: 0, Width: 8, Height: 8, Enabled: true, SendKey: "F1"},
	}
	cfg := config.MonitorConfig{Tick: 10 * time.Millisecond, SaturationThreshold: 50}
	m := NewMonitor(cfg, regions, grabber, injector, &classificationRecorder{}, nil)

	// When Start is called twice
	m.Start()
	m.Start()
	assert.True(t, m.Running())
	waitUntil(t, 2*time.Second, func() bool { return injector.count() >= 1 })

	// Then Stop joins both goroutines and no key lands afterwards
	m.Stop()
	m.Stop()
	assert.False(t, m.Running())

	settled := injector.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, injector.count())

	// And the monitor can run again
	m.Start()
	assert.True(t, m.Running())
	waitUntil(t, 2*time.Second, func() bool { return injector.count() > settled })
	m.Stop()
}

func TestMonitor_StopBeforeStartIsSafe(t *testing.T) {
	m := NewMonitor(config.MonitorConfig{Tick: 10 * time.Millisecond},
		nil, &fakeGrabber{}, &fakeMonitorInjector{}, nil, nil)
	m.Stop()
	assert.False(t, m.Running())
}

func TestMonitor_CaptureFailureKeepsTicking(t *testing.T) {
	// Given a grabber that always errors
	grabber := &fakeGrabber{err: errors.New("no display")}
	m := NewMonitor(config.MonitorConfig{Tick: 5 * time.Millisecond, SaturationThreshold: 50},
		nil, grabber, &fakeMonitorInjector{}, &classificationRecorder{}, nil)

	// When the monitor runs
	m.Start()
	waitUntil(t, 2*time.Second, func() bool {
		grabber.mu.Lock()
		defer grabber.mu.Unlock()
		return grabber.calls >= 3
	})
	m.Stop()

	// Then it kept retrying instead of dying on the first failure
	grabber.mu.Lock()
	calls := grabber.calls
	grabber.mu.Unlock()
	assert.GreaterOrEqual(t, calls, 3)
}

func TestMonitor_ToggleUnknownRegion(t *testing.T) {
	m := NewMonitor(config.MonitorConfig{SaturationThreshold: 50},
		[]config.RegionConfig{{Index: 1, Name: "only", Width: 4, Height: 4, Enabled: true}},
		&fakeGrabber{}, &fakeMonitorInjector{}, nil, nil)

	enabled, found := m.ToggleRegion(42)
	assert.False(t, found)
	assert.False(t, enabled)
}
