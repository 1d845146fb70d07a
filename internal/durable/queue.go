package durable

import (
	"encoding/json"
	"sort"
	"time"
)

// WriteOperation is the kind of store mutation a queued write replays.
type WriteOperation string

const (
	OpSave   WriteOperation = "save"
	OpUpdate WriteOperation = "update"
	OpDelete WriteOperation = "delete"
)

// QueuedWrite is a write that could not complete immediately. It is owned by
// the Monitor, mutated only by the drain loop, and removed once it succeeds
// or runs out of retries.
type QueuedWrite struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Operation  WriteOperation `json:"operation"`
	Key        string         `json:"key"`
	Data       *string        `json:"data,omitempty"`
	RetryCount int            `json:"retryCount"`
}

// DefaultMaxRetries is the number of failed attempts after which a queued
// write is dropped.
const DefaultMaxRetries = 3

// BackoffPolicy computes the delay before the next drain pass when writes
// remain queued: BaseDelay * min(retryCount, MaxMultiplier), never less than
// BaseDelay.
type BackoffPolicy struct {
	BaseDelay     time.Duration
	MaxMultiplier int
}

// DefaultBackoffPolicy waits 5s per failed attempt, capped at 25s.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{BaseDelay: 5 * time.Second, MaxMultiplier: 5}
}

// Delay returns the wait before retrying an item that has failed retryCount
// times.
func (b BackoffPolicy) Delay(retryCount int) time.Duration {
	m := retryCount
	if b.MaxMultiplier > 0 {
		m = min(m, b.MaxMultiplier)
	}
	m = max(m, 1)
	return b.BaseDelay * time.Duration(m)
}

// DrainReport summarizes one ProcessQueue pass.
type DrainReport struct {
	// Skipped is true when the pass did not run: another drain was active or
	// the monitor is offline.
	Skipped   bool
	Attempted int
	Succeeded int
	Dropped   int
	Remaining int
}

// sortQueue orders writes FIFO by enqueue time. The sort is stable so writes
// with equal timestamps keep their append order.
func sortQueue(q []QueuedWrite) {
	sort.SliceStable(q, func(i, j int) bool {
		return q[i].Timestamp.Before(q[j].Timestamp)
	})
}

func encodeQueue(q []QueuedWrite) (string, error) {
	if q == nil {
		q = []QueuedWrite{}
	}
	data, err := json.Marshal(q)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeQueue(data string) ([]QueuedWrite, error) {
	var q []QueuedWrite
	if err := json.Unmarshal([]byte(data), &q); err != nil {
		return nil, err
	}
	sortQueue(q)
	return q, nil
}
