package queue

// Schema holds the jobs table. The partial unique index coalesces
// duplicate active jobs for the same work item while leaving finished
// history untouched.
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    queue TEXT NOT NULL,
    kind TEXT NOT NULL,
    security_id TEXT NOT NULL DEFAULT '',
    batch_id TEXT NOT NULL DEFAULT '',
    payload BLOB,
    state TEXT NOT NULL DEFAULT 'queued'
        CHECK (state IN ('queued', 'running', 'done', 'dead')),
    attempts INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL DEFAULT 3,
    available_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    started_at INTEGER,
    finished_at INTEGER,
    last_error TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_active
    ON jobs (queue, kind, security_id)
    WHERE state IN ('queued', 'running');

CREATE INDEX IF NOT EXISTS idx_jobs_claim
    ON jobs (queue, state, available_at);

CREATE INDEX IF NOT EXISTS idx_jobs_batch
    ON jobs (batch_id);
`
