package ui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/keycast/keycast/pkg/engine"
	"github.com/keycast/keycast/pkg/monitor"
	"github.com/keycast/keycast/pkg/schedule"
)

func classification(index int, name string, active bool) monitor.Classification {
	sat := 10.0
	if active {
		sat = 200.0
	}
	return monitor.Classification{
		Result: monitor.Result{Index: index, Name: name, MeanSat: sat, Active: active},
	}
}

func TestReporter_StartBanner(t *testing.T) {
	// Given a reporter with a buffer
	var buf bytes.Buffer
	reporter := NewReporter(&buf)

	// When the banner prints
	reporter.StartBanner("Legend of Merchant", "timed", "CTRL+NUM0", 3)

	// Then it names the window and the toggle
	output := buf.String()
	assert.Contains(t, output, `[keycast] Window: "Legend of Merchant"`)
	assert.Contains(t, output, "Armed: timed. Press CTRL+NUM0 to toggle")
}

func TestReporter_ModeTransitions(t *testing.T) {
	// Given a reporter with a buffer
	var buf bytes.Buffer
	reporter := NewReporter(&buf)

	// When a timed run starts and stops
	reporter.ModeChanged(engine.ModeIdle, engine.ModeTimedRunning)
	reporter.SchedulerFinished(schedule.FinishStopped)
	reporter.ModeChanged(engine.ModeTimedRunning, engine.ModeIdle)

	// Then each transition printed one line
	output := buf.String()
	assert.Contains(t, output, "[keycast] Timed run started.")
	assert.Contains(t, output, "[keycast] Timed run finished (stopped).")
	assert.Contains(t, output, "[keycast] Idle.")
}

func TestReporter_KeySendLines(t *testing.T) {
	// Given a reporter with a buffer
	var buf bytes.Buffer
	reporter := NewReporter(&buf)

	// When a send succeeds and another fails
	reporter.KeySent("3", nil)
	reporter.KeySent("4", errors.New("window gone"))

	// Then both are reported and counted
	output := buf.String()
	assert.Contains(t, output, "[keycast] Sent '3'.")
	assert.Contains(t, output, "[keycast] Send '4' failed: window gone.")

	stats := reporter.Stats()
	assert.Equal(t, 1, stats.TimedSends)
	assert.Equal(t, 1, stats.TimedFailures)
}

func TestReporter_RegionLinesOnlyOnTransitions(t *testing.T) {
	// Given a reporter with a buffer
	var buf bytes.Buffer
	reporter := NewReporter(&buf)

	// When a region stays active across three ticks then goes dark
	first := classification(1, "skill_1", true)
	first.Key = "q"
	first.Sent = true
	reporter.RegionClassified(first)

	steady := classification(1, "skill_1", true)
	steady.Key = "q"
	steady.Sent = true
	reporter.RegionClassified(steady)
	reporter.RegionClassified(steady)

	reporter.RegionClassified(classification(1, "skill_1", false))

	// Then only the two transitions printed
	output := buf.String()
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("active (saturation")))
	assert.Contains(t, output, "[keycast] Region 'skill_1' active (saturation 200.0), sent 'q'.")
	assert.Contains(t, output, "[keycast] Region 'skill_1' inactive.")

	// And every send was still counted
	stats := reporter.Stats()
	assert.Equal(t, 3, stats.MonitorSends)
	assert.Equal(t, 1, stats.RegionFlips)
}

func TestReporter_FirstSightInactiveIsSilent(t *testing.T) {
	// Given a reporter with a buffer
	var buf bytes.Buffer
	reporter := NewReporter(&buf)

	// When the first classification of a region is inactive
	reporter.RegionClassified(classification(2, "skill_2", false))

	// Then nothing prints
	assert.Empty(t, buf.String())
}

func TestReporter_RegionSendFailureAlwaysPrints(t *testing.T) {
	// Given a region already reported active
	var buf bytes.Buffer
	reporter := NewReporter(&buf)
	reporter.RegionClassified(classification(1, "skill_1", true))
	buf.Reset()

	// When a steady-state send fails
	failed := classification(1, "skill_1", true)
	failed.Key = "q"
	failed.Err = errors.New("post failed")
	reporter.RegionClassified(failed)

	// Then the failure prints despite no transition
	assert.Contains(t, buf.String(), "[keycast] Region 'skill_1' active, send 'q' failed: post failed.")
	assert.Equal(t, 1, reporter.Stats().MonitorFailures)
}

func TestReporter_QuietSuppressesRealTimeLines(t *testing.T) {
	// Given a quiet reporter
	var buf bytes.Buffer
	reporter := NewReporter(&buf)
	reporter.SetQuiet(true)

	// When events flow
	reporter.StartBanner("Game", "timed", "CTRL+NUM0", 1)
	reporter.ModeChanged(engine.ModeIdle, engine.ModeTimedRunning)
	reporter.KeySent("3", nil)

	// Then nothing real-time prints, but the summary still does
	assert.Empty(t, buf.String())

	reporter.FinalSummary()
	output := buf.String()
	assert.Contains(t, output, "Session Statistics:")
	assert.Contains(t, output, "Timed Sends: 1 (0 failed)")
}

func TestReporter_FinalSummary(t *testing.T) {
	// Given a session with mixed activity
	var buf bytes.Buffer
	reporter := NewReporter(&buf)
	reporter.ModeChanged(engine.ModeIdle, engine.ModeTimedRunning)
	reporter.KeySent("3", nil)
	reporter.KeySent("3", nil)
	reporter.KeySent("4", errors.New("boom"))
	reporter.ModeChanged(engine.ModeTimedRunning, engine.ModeIdle)
	reporter.ModeChanged(engine.ModeIdle, engine.ModeMonitorRunning)
	sent := classification(1, "skill_1", true)
	sent.Key = "q"
	sent.Sent = true
	reporter.RegionClassified(sent)

	// When the summary prints
	reporter.FinalSummary()

	// Then it carries the session counters
	output := buf.String()
	assert.Contains(t, output, "Runs: 1 timed, 1 monitor")
	assert.Contains(t, output, "Timed Sends: 2 (1 failed)")
	assert.Contains(t, output, "Monitor Sends: 1 (0 failed)")
	assert.Contains(t, output, "Session Duration:")
}

func TestReporter_RegionMemoryResetsOnIdle(t *testing.T) {
	// Given a region reported active during a monitor run
	var buf bytes.Buffer
	reporter := NewReporter(&buf)
	reporter.RegionClassified(classification(1, "skill_1", true))

	// When the engine goes idle and a new run sees it active again
	reporter.ModeChanged(engine.ModeMonitorRunning, engine.ModeIdle)
	buf.Reset()
	reporter.RegionClassified(classification(1, "skill_1", true))

	// Then the fresh run prints the activation again
	assert.Contains(t, buf.String(), "Region 'skill_1' active")
}

func TestFormatDuration(t *testing.T) {
	var buf bytes.Buffer
	reporter := NewReporter(&buf)

	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{500 * time.Millisecond, "0.5s"},
		{2 * time.Second, "2s"},
		{4500 * time.Millisecond, "4.5s"},
		{90 * time.Second, "1m30s"},
		{time.Hour + 5*time.Minute, "1h5m"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, reporter.formatDuration(tc.d), "formatting %v", tc.d)
	}
}
