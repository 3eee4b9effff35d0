package plugin

import (
	"context"
	"time"
)

// ExecutionStatus is the outcome of a command invocation.
type ExecutionStatus string

// Execution outcomes.
const (
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution records one command invocation.
type Execution struct {
	ID       string
	Plugin   string
	Command  string
	Args     []string
	Status   ExecutionStatus
	Error    string
	Started  time.Time
	Duration time.Duration
}

// Recorder stores executions, for example in an audit journal.
// Recording failures are logged and never fail the invocation.
type Recorder interface {
	Record(ctx context.Context, e Execution) error
}

// ExecutionStats summarizes the invocations seen by a manager.
// AverageDuration covers successful invocations only.
type ExecutionStats struct {
	Total           int
	Successful      int
	Failed          int
	AverageDuration time.Duration
}

// SuccessRate returns the successful share of invocations in [0, 1].
func (s ExecutionStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.Total)
}

func (s *ExecutionStats) observe(e Execution) {
	s.Total++
	if e.Status != ExecutionSucceeded {
		s.Failed++
		return
	}
	s.Successful++
	n := time.Duration(s.Successful)
	s.AverageDuration = s.AverageDuration + (e.Duration-s.AverageDuration)/n
}
