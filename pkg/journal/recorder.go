package journal

import (
	"io"
	"sync"
	"time"

	"github.com/keycast/keycast/pkg/engine"
	"github.com/keycast/keycast/pkg/logging"
	"github.com/keycast/keycast/pkg/monitor"
	"github.com/keycast/keycast/pkg/schedule"
)

// Recorder turns engine events into journal rows. It tracks the open run so
// sends land on the right row, and swallows journal errors with a warning:
// history must never stop a run.
type Recorder struct {
	journal     *Journal
	windowTitle string
	logger      *logging.Logger

	mu    sync.Mutex
	runID int64 // 0 when no run is open
	mode  engine.Mode
}

// NewRecorder builds a recorder over an open journal.
func NewRecorder(j *Journal, windowTitle string, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.New(io.Discard, "journal", logging.LevelInfo)
	}
	return &Recorder{journal: j, windowTitle: windowTitle, logger: logger}
}

// ModeChanged opens a run row on idle→running and closes a still-open row
// on running→idle. Timed runs are normally closed earlier, with a real
// reason, by SchedulerFinished.
func (r *Recorder) ModeChanged(from, to engine.Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if to != engine.ModeIdle {
		id, err := r.journal.BeginRun(to.String(), r.windowTitle, time.Now())
		if err != nil {
			r.logger.Warn("journal begin failed", "error", err.Error())
			r.runID = 0
			return
		}
		r.runID = id
		r.mode = to
		return
	}

	if r.runID != 0 {
		r.closeRunLocked(string(schedule.FinishStopped))
	}
}

// SchedulerFinished closes the open timed run with the scheduler's reason.
func (r *Recorder) SchedulerFinished(reason schedule.FinishReason) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runID != 0 && r.mode == engine.ModeTimedRunning {
		r.closeRunLocked(string(reason))
	}
}

// DueChanged is ignored; schedule positions are not history.
func (r *Recorder) DueChanged(string, time.Time) {}

// KeySent bumps the timed counters of the open run.
func (r *Recorder) KeySent(key string, err error) {
	r.record(key, "timed", err == nil)
}

// RegionClassified bumps the monitor counters when the classification
// carried a key press or a failed attempt at one.
func (r *Recorder) RegionClassified(c monitor.Classification) {
	if c.Key == "" || (!c.Sent && c.Err == nil) {
		return
	}
	r.record(c.Key, "monitor", c.Sent)
}

func (r *Recorder) record(key, source string, ok bool) {
	r.mu.Lock()
	id := r.runID
	r.mu.Unlock()
	if id == 0 {
		return
	}

	if err := r.journal.RecordSend(id, key, source, ok); err != nil {
		r.logger.Warn("journal send record failed", "key", key, "error", err.Error())
	}
}

func (r *Recorder) closeRunLocked(reason string) {
	if err := r.journal.FinishRun(r.runID, reason, time.Now()); err != nil {
		r.logger.Warn("journal finish failed", "error", err.Error())
	}
	r.runID = 0
	r.mode = engine.ModeIdle
}
