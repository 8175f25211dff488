package queue

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// Manager owns the store, the handler registry, and one worker pool
// per queue.
type Manager struct {
	store    *Store
	registry *Registry
	pools    map[string]*Pool
	log      zerolog.Logger
}

// NewManager creates a queue manager. Worker counts map queue names to
// pool sizes; queues not listed get no pool and can only be enqueued to.
func NewManager(db *sql.DB, opts Options, workerCounts map[string]int, log zerolog.Logger) *Manager {
	store := NewStore(db, opts, log)
	registry := NewRegistry()

	pools := make(map[string]*Pool, len(workerCounts))
	for queueName, workers := range workerCounts {
		pools[queueName] = NewPool(queueName, workers, store, registry, opts, log)
	}

	return &Manager{
		store:    store,
		registry: registry,
		pools:    pools,
		log:      log.With().Str("component", "queue_manager").Logger(),
	}
}

// Store exposes the underlying job store for status endpoints.
func (m *Manager) Store() *Store {
	return m.store
}

// Register binds a handler to a job kind.
func (m *Manager) Register(kind string, h Handler) {
	m.registry.Register(kind, h)
}

// Start requeues jobs interrupted by a previous process and launches
// all worker pools.
func (m *Manager) Start() error {
	if _, err := m.store.RequeueStale(); err != nil {
		return fmt.Errorf("recovering interrupted jobs: %w", err)
	}
	for _, pool := range m.pools {
		pool.Start()
	}
	m.log.Info().Int("pools", len(m.pools)).Msg("queue manager started")
	return nil
}

// Stop stops all pools and waits for in-flight jobs.
func (m *Manager) Stop() {
	for _, pool := range m.pools {
		pool.Stop()
	}
	m.log.Info().Msg("queue manager stopped")
}

// Enqueue adds a job, coalescing duplicates of the same active work
// item. Reports whether a new job was created.
func (m *Manager) Enqueue(queueName, kind, securityID, batchID string, payload []byte) (bool, error) {
	return m.store.Enqueue(queueName, kind, securityID, batchID, payload)
}

// Stats returns per-state counts for the named queues.
func (m *Manager) Stats(queueNames ...string) ([]QueueStats, error) {
	stats := make([]QueueStats, 0, len(queueNames))
	for _, name := range queueNames {
		s, err := m.store.Stats(name)
		if err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, nil
}
