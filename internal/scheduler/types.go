// Package scheduler runs the shop's periodic maintenance jobs on cron
// schedules and records every run.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobFunc is the work a job performs when it fires.
type JobFunc func(ctx context.Context) error

// Job is a named unit of recurring work.
type Job struct {
	Name string
	// Spec is a standard five-field cron expression or a descriptor
	// such as "@hourly" or "@every 30m".
	Spec    string
	Run     JobFunc
	Timeout time.Duration // zero uses DefaultJobTimeout
}

// Execution is one run of a job.
type Execution struct {
	ID          string          `json:"id"` // UUIDv7
	Job         string          `json:"job"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Status      ExecutionStatus `json:"status"`
	Result      string          `json:"result,omitempty"` // error text on failure
}

// ExecutionStatus indicates the state of an execution.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// NewID generates a new UUIDv7, falling back to a random UUID.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
