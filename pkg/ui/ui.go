// Package ui renders engine events as human-readable terminal lines and
// keeps session statistics for the final summary.
package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/keycast/keycast/pkg/engine"
	"github.com/keycast/keycast/pkg/monitor"
	"github.com/keycast/keycast/pkg/schedule"
)

// SessionStats tracks what happened across a run session
type SessionStats struct {
	TimedRuns       int
	MonitorRuns     int
	TimedSends      int
	TimedFailures   int
	MonitorSends    int
	MonitorFailures int
	RegionFlips     int
	TotalDuration   time.Duration
}

// Reporter handles status reporting and terminal output. It implements
// engine.Events; events arrive from several goroutines, so all state sits
// behind one mutex.
type Reporter struct {
	writer io.Writer

	mu        sync.Mutex
	quiet     bool
	stats     SessionStats
	active    map[int]bool // last printed activity per region
	seen      map[int]bool
	startTime time.Time
}

// NewReporter creates a new status reporter
func NewReporter(writer io.Writer) *Reporter {
	return &Reporter{
		writer:    writer,
		active:    make(map[int]bool),
		seen:      make(map[int]bool),
		startTime: time.Now(),
	}
}

// SetQuiet enables or disables quiet mode (suppresses real-time messages)
func (r *Reporter) SetQuiet(quiet bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quiet = quiet
}

// StartBanner prints the session header once the engine is ready.
func (r *Reporter) StartBanner(windowTitle, armed, toggle string, hotkeys int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.quiet {
		return
	}
	fmt.Fprintf(r.writer, "[keycast] Window: %q\n", windowTitle)
	if toggle != "" {
		fmt.Fprintf(r.writer, "[keycast] Armed: %s. Press %s to toggle, Ctrl+C to quit.\n", armed, toggle)
	} else {
		fmt.Fprintf(r.writer, "[keycast] Armed: %s. No toggle hotkey bound (%d hotkeys active).\n", armed, hotkeys)
	}
}

// ModeChanged prints run transitions and counts runs per surface.
func (r *Reporter) ModeChanged(from, to engine.Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch to {
	case engine.ModeTimedRunning:
		r.stats.TimedRuns++
		r.printf("[keycast] Timed run started.\n")
	case engine.ModeMonitorRunning:
		r.stats.MonitorRuns++
		r.printf("[keycast] Monitor started.\n")
	default:
		// region transition memory resets with the run
		r.active = make(map[int]bool)
		r.seen = make(map[int]bool)
		r.printf("[keycast] Idle.\n")
	}
}

// SchedulerFinished prints why a timed run ended.
func (r *Reporter) SchedulerFinished(reason schedule.FinishReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.printf("[keycast] Timed run finished (%s).\n", string(reason))
}

// DueChanged is silent; the terminal narrates sends, not countdowns.
func (r *Reporter) DueChanged(string, time.Time) {}

// KeySent prints one scheduled send. Sends are the hot path, so the success
// line is assembled with a builder.
func (r *Reporter) KeySent(key string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.stats.TimedFailures++
		r.printf("[keycast] Send '%s' failed: %v.\n", key, err)
		return
	}

	r.stats.TimedSends++
	if r.quiet {
		return
	}

	var builder strings.Builder
	builder.WriteString("[keycast] Sent '")
	builder.WriteString(key)
	builder.WriteString("'.\n")
	fmt.Fprint(r.writer, builder.String())
}

// RegionClassified prints activity transitions and send failures; steady
// state is silent so a 100ms tick cannot flood the terminal.
func (r *Reporter) RegionClassified(c monitor.Classification) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.Sent {
		r.stats.MonitorSends++
	} else if c.Err != nil {
		r.stats.MonitorFailures++
	}

	flipped := r.seen[c.Index] && r.active[c.Index] != c.Active
	fresh := !r.seen[c.Index]
	r.seen[c.Index] = true
	r.active[c.Index] = c.Active
	if flipped {
		r.stats.RegionFlips++
	}

	switch {
	case c.Err != nil:
		r.printf("[keycast] Region '%s' active, send '%s' failed: %v.\n", c.Name, c.Key, c.Err)
	case (flipped || fresh) && c.Active:
		if c.Sent {
			r.printf("[keycast] Region '%s' active (saturation %.1f), sent '%s'.\n", c.Name, c.MeanSat, c.Key)
		} else {
			r.printf("[keycast] Region '%s' active (saturation %.1f).\n", c.Name, c.MeanSat)
		}
	case flipped && !c.Active:
		r.printf("[keycast] Region '%s' inactive.\n", c.Name)
	}
}

// Stats returns a copy of the counters so far.
func (r *Reporter) Stats() SessionStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// FinalSummary reports the session statistics. It prints even in quiet mode.
func (r *Reporter) FinalSummary() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.TotalDuration = time.Since(r.startTime)

	fmt.Fprintf(r.writer, "\nSession Statistics:\n")
	fmt.Fprintf(r.writer, "  Runs: %d timed, %d monitor\n", r.stats.TimedRuns, r.stats.MonitorRuns)
	fmt.Fprintf(r.writer, "  Timed Sends: %d (%d failed)\n", r.stats.TimedSends, r.stats.TimedFailures)
	fmt.Fprintf(r.writer, "  Monitor Sends: %d (%d failed)\n", r.stats.MonitorSends, r.stats.MonitorFailures)
	fmt.Fprintf(r.writer, "  Region Flips: %d\n", r.stats.RegionFlips)
	fmt.Fprintf(r.writer, "  Session Duration: %s\n", r.formatDuration(r.stats.TotalDuration))
}

// printf writes a real-time line unless quiet mode holds. Callers hold mu.
func (r *Reporter) printf(format string, args ...any) {
	if r.quiet {
		return
	}
	fmt.Fprintf(r.writer, format, args...)
}

// formatDuration formats a duration in a human-readable way
func (r *Reporter) formatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	// Handle sub-second durations
	if d < time.Second {
		return fmt.Sprintf("%.1fs", float64(d)/float64(time.Second))
	}

	// Handle durations with fractional seconds
	if d < time.Minute {
		seconds := float64(d) / float64(time.Second)
		if seconds == float64(int(seconds)) {
			return fmt.Sprintf("%.0fs", seconds)
		}
		// Format with minimal decimal places, removing trailing zeros
		formatted := fmt.Sprintf("%.2f", seconds)
		formatted = strings.TrimRight(formatted, "0")
		formatted = strings.TrimRight(formatted, ".")
		return formatted + "s"
	}

	// Handle longer durations
	hours := d / time.Hour
	minutes := (d % time.Hour) / time.Minute
	seconds := (d % time.Minute) / time.Second

	if hours > 0 {
		if minutes > 0 && seconds > 0 {
			return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
		} else if minutes > 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		} else if seconds > 0 {
			return fmt.Sprintf("%dh%ds", hours, seconds)
		}
		return fmt.Sprintf("%dh", hours)
	}

	if minutes > 0 {
		if seconds > 0 {
			return fmt.Sprintf("%dm%ds", minutes, seconds)
		}
		return fmt.Sprintf("%dm", minutes)
	}

	return fmt.Sprintf("%ds", seconds)
}
