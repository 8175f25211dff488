// Package queue implements a durable job queue backed by SQLite.
//
// Jobs survive process restarts: a job is acknowledged only after its
// handler has completed and persisted its writes, so a crash mid-job
// leads to redelivery rather than loss. Duplicate active jobs for the
// same (queue, kind, security) are coalesced at enqueue time.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Queue names. Each name gets its own worker pool so a slow dividend
// sweep cannot starve price updates.
const (
	QueuePrices       = "prices"
	QueueDividends    = "dividends"
	QueueCoordination = "coordination"
)

// State is the lifecycle state of a job.
type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateDone    State = "done"
	StateDead    State = "dead"
)

// Job is one unit of queued work.
type Job struct {
	ID          string
	Queue       string
	Kind        string
	SecurityID  string
	BatchID     string
	Payload     []byte
	State       State
	Attempts    int
	MaxAttempts int
	AvailableAt time.Time
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	LastError   string
}

// DecodePayload unpacks the job payload into v.
func (j *Job) DecodePayload(v interface{}) error {
	if len(j.Payload) == 0 {
		return fmt.Errorf("job %s has no payload", j.ID)
	}
	if err := msgpack.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decoding payload for job %s: %w", j.ID, err)
	}
	return nil
}

// EncodePayload packs v for storage in a job.
func EncodePayload(v interface{}) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding job payload: %w", err)
	}
	return data, nil
}

// Handler processes one job. A nil return acknowledges the job; an
// error requeues it with backoff, or dead-letters it when the error is
// marked permanent or attempts are exhausted.
type Handler func(ctx context.Context, job *Job) error

// Options tunes retry and time limit behavior for the queue.
type Options struct {
	RetryDelay    time.Duration
	MaxAttempts   int
	SoftTimeLimit time.Duration
	HardTimeLimit time.Duration
	PollInterval  time.Duration
}

// DefaultOptions mirrors the production refresh tuning: one minute
// between retries, three attempts, ten minute soft and fifteen minute
// hard limits.
func DefaultOptions() Options {
	return Options{
		RetryDelay:    60 * time.Second,
		MaxAttempts:   3,
		SoftTimeLimit: 10 * time.Minute,
		HardTimeLimit: 15 * time.Minute,
		PollInterval:  500 * time.Millisecond,
	}
}

// QueueStats summarizes job counts per state for one queue.
type QueueStats struct {
	Queue   string `json:"queue"`
	Queued  int    `json:"queued"`
	Running int    `json:"running"`
	Done    int    `json:"done"`
	Dead    int    `json:"dead"`
}
