package app

import "time"

// Operation status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation tracks one CLI command for the log. Its ID is a UTC timestamp
// that tags every log line the command writes.
type Operation struct {
	ID         string
	Name       string
	Parameters string
	Status     string // "success" or "error"
	StartedAt  time.Time
}

// NewOperation creates an operation that starts at now and succeeds unless
// something marks it failed.
func NewOperation(name, parameters string, now time.Time) *Operation {
	return &Operation{
		ID:         now.UTC().Format("20060102T150405Z"),
		Name:       name,
		Parameters: parameters,
		Status:     StatusSuccess,
		StartedAt:  now,
	}
}

// Failed returns true if anything during the operation reported an error.
func (op *Operation) Failed() bool {
	return op.Status == StatusError
}

// Elapsed returns how long the operation has been running at now.
func (op *Operation) Elapsed(now time.Time) time.Duration {
	return now.Sub(op.StartedAt)
}
