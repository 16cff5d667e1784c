package monitor

import (
	"image"
	"sort"
	"sync"
	"time"

	"github.com/keycast/keycast/pkg/config"
)

// Result is the latest classification of one region. Frame keeps the pixels
// the verdict was made from, for inspection after the fact.
type Result struct {
	Index   int
	Name    string
	Frame   *image.RGBA
	MeanSat float64
	Active  bool
	At      time.Time
}

// resultCache keeps the most recent Result per region for diagnostics.
// The steady loop only ever writes; readers get copies.
type resultCache struct {
	mu     sync.RWMutex
	latest map[int]Result
}

func newResultCache() *resultCache {
	return &resultCache{latest: make(map[int]Result)}
}

func (c *resultCache) put(r Result) {
	c.mu.Lock()
	c.latest[r.Index] = r
	c.mu.Unlock()
}

// snapshot returns the cached results ordered by region index
func (c *resultCache) snapshot() []Result {
	c.mu.RLock()
	out := make([]Result, 0, len(c.latest))
	for _, r := range c.latest {
		out = append(out, r)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// regionState holds the runtime-mutable region table. Enable hotkeys flip
// flags here; the capture loop reads a snapshot per tick so the consumer
// never sees a half-applied change.
type regionState struct {
	mu      sync.RWMutex
	regions []config.RegionConfig
}

func newRegionState(regions []config.RegionConfig) *regionState {
	owned := make([]config.RegionConfig, len(regions))
	copy(owned, regions)
	return &regionState{regions: owned}
}

// snapshot returns a copy of the region table
func (s *regionState) snapshot() []config.RegionConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]config.RegionConfig, len(s.regions))
	copy(out, s.regions)
	return out
}

// toggle flips one region's enabled flag. It returns the new state and
// whether the region exists.
func (s *regionState) toggle(index int) (enabled bool, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.regions {
		if s.regions[i].Index == index {
			s.regions[i].Enabled = !s.regions[i].Enabled
			return s.regions[i].Enabled, true
		}
	}
	return false, false
}
