package queue

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/tracker/internal/database"
)

// ErrNoJob is returned by Claim when no job is ready.
var ErrNoJob = errors.New("no job available")

// Store persists jobs in SQLite.
type Store struct {
	db   *sql.DB
	opts Options
	log  zerolog.Logger
}

// NewStore creates a job store. Options provide per-job defaults for
// max attempts and retry delay.
func NewStore(db *sql.DB, opts Options, log zerolog.Logger) *Store {
	return &Store{
		db:   db,
		opts: opts,
		log:  log.With().Str("component", "queue_store").Logger(),
	}
}

const jobColumns = `id, queue, kind, security_id, batch_id, payload, state,
	attempts, max_attempts, available_at, created_at, started_at, finished_at, last_error`

// Enqueue inserts a queued job. When an active job for the same
// (queue, kind, security) already exists the insert is a no-op and
// Enqueue reports false.
func (s *Store) Enqueue(queueName, kind, securityID, batchID string, payload []byte) (bool, error) {
	now := time.Now()
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO jobs
			(id, queue, kind, security_id, batch_id, payload, state,
			 attempts, max_attempts, available_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		uuid.New().String(), queueName, kind, securityID, batchID, payload,
		StateQueued, s.opts.MaxAttempts, now.Unix(), now.Unix())
	if err != nil {
		return false, fmt.Errorf("enqueueing %s/%s: %w", queueName, kind, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking enqueue result: %w", err)
	}
	if n == 0 {
		s.log.Debug().Str("queue", queueName).Str("kind", kind).
			Str("security", securityID).Msg("duplicate active job coalesced")
		return false, nil
	}
	return true, nil
}

// Claim atomically picks the oldest ready job on a queue and marks it
// running. Returns ErrNoJob when nothing is ready.
func (s *Store) Claim(queueName string) (*Job, error) {
	var job *Job
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		now := time.Now()
		row := tx.QueryRow(`
			SELECT `+jobColumns+`
			FROM jobs
			WHERE queue = ? AND state = ? AND available_at <= ?
			ORDER BY created_at ASC, rowid ASC
			LIMIT 1`,
			queueName, StateQueued, now.Unix())

		j, err := scanJob(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNoJob
			}
			return fmt.Errorf("selecting job on %s: %w", queueName, err)
		}

		if _, err := tx.Exec(`
			UPDATE jobs SET state = ?, started_at = ?, attempts = attempts + 1
			WHERE id = ?`,
			StateRunning, now.Unix(), j.ID); err != nil {
			return fmt.Errorf("claiming job %s: %w", j.ID, err)
		}

		j.State = StateRunning
		j.Attempts++
		j.StartedAt = &now
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Ack marks a job done. Called only after the handler has persisted
// its effects.
func (s *Store) Ack(jobID string) error {
	if _, err := s.db.Exec(`
		UPDATE jobs SET state = ?, finished_at = ? WHERE id = ? AND state = ?`,
		StateDone, time.Now().Unix(), jobID, StateRunning); err != nil {
		return fmt.Errorf("acking job %s: %w", jobID, err)
	}
	return nil
}

// Nack records a failure. The job is requeued with a retry delay, or
// dead-lettered when permanent or out of attempts.
func (s *Store) Nack(jobID string, failure error, permanent bool) error {
	msg := ""
	if failure != nil {
		msg = failure.Error()
	}

	return database.WithTransaction(s.db, func(tx *sql.Tx) error {
		var attempts, maxAttempts int
		if err := tx.QueryRow(
			`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, jobID,
		).Scan(&attempts, &maxAttempts); err != nil {
			return fmt.Errorf("loading job %s for nack: %w", jobID, err)
		}

		now := time.Now()
		if permanent || attempts >= maxAttempts {
			if _, err := tx.Exec(`
				UPDATE jobs SET state = ?, finished_at = ?, last_error = ?
				WHERE id = ?`,
				StateDead, now.Unix(), msg, jobID); err != nil {
				return fmt.Errorf("dead-lettering job %s: %w", jobID, err)
			}
			s.log.Warn().Str("job_id", jobID).Int("attempts", attempts).
				Bool("permanent", permanent).Str("error", msg).
				Msg("job dead-lettered")
			return nil
		}

		availableAt := now.Add(s.opts.RetryDelay)
		if _, err := tx.Exec(`
			UPDATE jobs SET state = ?, available_at = ?, last_error = ?
			WHERE id = ?`,
			StateQueued, availableAt.Unix(), msg, jobID); err != nil {
			return fmt.Errorf("requeueing job %s: %w", jobID, err)
		}
		s.log.Info().Str("job_id", jobID).Int("attempt", attempts).
			Time("retry_at", availableAt).Str("error", msg).
			Msg("job requeued for retry")
		return nil
	})
}

// RequeueStale resets running jobs back to queued. Called once at
// startup so jobs interrupted by a crash are redelivered.
func (s *Store) RequeueStale() (int, error) {
	res, err := s.db.Exec(`
		UPDATE jobs SET state = ?, started_at = NULL
		WHERE state = ?`,
		StateQueued, StateRunning)
	if err != nil {
		return 0, fmt.Errorf("requeueing stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting requeued jobs: %w", err)
	}
	if n > 0 {
		s.log.Info().Int64("count", n).Msg("requeued jobs left running by previous process")
	}
	return int(n), nil
}

// GetByID loads a single job.
func (s *Store) GetByID(jobID string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s not found", jobID)
		}
		return nil, fmt.Errorf("loading job %s: %w", jobID, err)
	}
	return j, nil
}

// ListDead returns dead-lettered jobs, newest first.
func (s *Store) ListDead(limit int) ([]*Job, error) {
	rows, err := s.db.Query(`
		SELECT `+jobColumns+` FROM jobs
		WHERE state = ?
		ORDER BY finished_at DESC
		LIMIT ?`,
		StateDead, limit)
	if err != nil {
		return nil, fmt.Errorf("listing dead jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListBatch returns all jobs enqueued under one batch id.
func (s *Store) ListBatch(batchID string) ([]*Job, error) {
	rows, err := s.db.Query(`
		SELECT `+jobColumns+` FROM jobs
		WHERE batch_id = ?
		ORDER BY created_at ASC`,
		batchID)
	if err != nil {
		return nil, fmt.Errorf("listing batch %s: %w", batchID, err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// RetryDead moves a dead job back to queued with a fresh attempt count.
func (s *Store) RetryDead(jobID string) error {
	res, err := s.db.Exec(`
		UPDATE jobs SET state = ?, attempts = 0, available_at = ?,
			finished_at = NULL, last_error = ''
		WHERE id = ? AND state = ?`,
		StateQueued, time.Now().Unix(), jobID, StateDead)
	if err != nil {
		return fmt.Errorf("retrying dead job %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking retry result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s is not dead-lettered", jobID)
	}
	return nil
}

// Stats counts jobs per state for one queue.
func (s *Store) Stats(queueName string) (QueueStats, error) {
	rows, err := s.db.Query(`
		SELECT state, COUNT(*) FROM jobs WHERE queue = ? GROUP BY state`,
		queueName)
	if err != nil {
		return QueueStats{}, fmt.Errorf("counting jobs on %s: %w", queueName, err)
	}
	defer rows.Close()

	stats := QueueStats{Queue: queueName}
	for rows.Next() {
		var state State
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return QueueStats{}, fmt.Errorf("scanning job counts: %w", err)
		}
		switch state {
		case StateQueued:
			stats.Queued = count
		case StateRunning:
			stats.Running = count
		case StateDone:
			stats.Done = count
		case StateDead:
			stats.Dead = count
		}
	}
	return stats, rows.Err()
}

// PruneDone deletes finished jobs older than the cutoff.
func (s *Store) PruneDone(olderThan time.Time) (int, error) {
	res, err := s.db.Exec(`
		DELETE FROM jobs WHERE state = ? AND finished_at < ?`,
		StateDone, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("pruning finished jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned jobs: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var availableAt, createdAt int64
	var startedAt, finishedAt sql.NullInt64

	if err := row.Scan(
		&j.ID, &j.Queue, &j.Kind, &j.SecurityID, &j.BatchID, &j.Payload,
		&j.State, &j.Attempts, &j.MaxAttempts, &availableAt, &createdAt,
		&startedAt, &finishedAt, &j.LastError,
	); err != nil {
		return nil, err
	}

	j.AvailableAt = time.Unix(availableAt, 0)
	j.CreatedAt = time.Unix(createdAt, 0)
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0)
		j.StartedAt = &t
	}
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0)
		j.FinishedAt = &t
	}
	return &j, nil
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
