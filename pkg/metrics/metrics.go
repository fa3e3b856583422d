package metrics

import (
	"time"

	"github.com/sirupsen/logrus"
)

// RunStats counts deletion attempts over one cleanup run.
type RunStats struct {
	Deleted   int
	Failed    int
	Simulated int
}

// Record counts a single attempt outcome. Dry-run attempts are counted as
// simulated regardless of the success flag.
func (s *RunStats) Record(successful, dryRun bool) {
	switch {
	case dryRun:
		s.Simulated++
	case successful:
		s.Deleted++
	default:
		s.Failed++
	}
}

// Total returns the number of attempts recorded.
func (s *RunStats) Total() int {
	return s.Deleted + s.Failed + s.Simulated
}

// Log writes an end-of-run summary.
func (s *RunStats) Log() {
	logrus.WithFields(logrus.Fields{
		"deleted":   s.Deleted,
		"failed":    s.Failed,
		"simulated": s.Simulated,
	}).Info("Cleanup finished")
}

// Timer measures the duration of an operation.
type Timer struct {
	name  string
	start time.Time
}

// NewTimer starts timing an operation.
func NewTimer(operation string) *Timer {
	return &Timer{
		name:  operation,
		start: time.Now(),
	}
}

// Stop logs and returns the duration since the timer was started.
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.start)
	logrus.WithField("duration", duration).Debugf("%s completed", t.name)
	return duration
}
