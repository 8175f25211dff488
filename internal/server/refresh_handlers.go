package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/tracker/internal/queue"
	"github.com/aristath/tracker/internal/refresh"
)

// RefreshHandlers serves manual refresh triggers and queue inspection.
type RefreshHandlers struct {
	coordinator *refresh.Coordinator
	manager     *queue.Manager
	log         zerolog.Logger
}

// NewRefreshHandlers creates the refresh handlers.
func NewRefreshHandlers(c *refresh.Coordinator, m *queue.Manager, log zerolog.Logger) *RefreshHandlers {
	return &RefreshHandlers{
		coordinator: c,
		manager:     m,
		log:         log.With().Str("handler", "refresh").Logger(),
	}
}

// HandleTriggerPrices handles POST /api/refresh/prices. Enqueues a
// coordination job; reports 202 when accepted, 200 when an identical
// request is already pending.
func (h *RefreshHandlers) HandleTriggerPrices(w http.ResponseWriter, r *http.Request) {
	enqueued, err := h.coordinator.RequestPriceRefresh()
	if err != nil {
		h.log.Error().Err(err).Msg("failed to request price refresh")
		respondError(w, http.StatusInternalServerError, "failed to request price refresh")
		return
	}
	h.respondTrigger(w, enqueued)
}

// HandleTriggerDividends handles POST /api/refresh/dividends.
func (h *RefreshHandlers) HandleTriggerDividends(w http.ResponseWriter, r *http.Request) {
	enqueued, err := h.coordinator.RequestDividendRefresh()
	if err != nil {
		h.log.Error().Err(err).Msg("failed to request dividend refresh")
		respondError(w, http.StatusInternalServerError, "failed to request dividend refresh")
		return
	}
	h.respondTrigger(w, enqueued)
}

func (h *RefreshHandlers) respondTrigger(w http.ResponseWriter, enqueued bool) {
	if enqueued {
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "already_pending"})
}

// HandleQueueStats handles GET /api/jobs.
func (h *RefreshHandlers) HandleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.manager.Stats(queue.QueuePrices, queue.QueueDividends, queue.QueueCoordination)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to collect queue stats")
		respondError(w, http.StatusInternalServerError, "failed to collect queue stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// JobResponse is a serialized job for inspection endpoints.
type JobResponse struct {
	ID         string `json:"id"`
	Queue      string `json:"queue"`
	Kind       string `json:"kind"`
	SecurityID string `json:"security_id,omitempty"`
	BatchID    string `json:"batch_id,omitempty"`
	State      string `json:"state"`
	Attempts   int    `json:"attempts"`
	CreatedAt  string `json:"created_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

func jobToResponse(j *queue.Job) JobResponse {
	resp := JobResponse{
		ID:         j.ID,
		Queue:      j.Queue,
		Kind:       j.Kind,
		SecurityID: j.SecurityID,
		BatchID:    j.BatchID,
		State:      string(j.State),
		Attempts:   j.Attempts,
		CreatedAt:  j.CreatedAt.UTC().Format(time.RFC3339),
		LastError:  j.LastError,
	}
	if j.FinishedAt != nil {
		resp.FinishedAt = j.FinishedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// HandleDeadJobs handles GET /api/jobs/dead.
func (h *RefreshHandlers) HandleDeadJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.manager.Store().ListDead(defaultHistoryLimit)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list dead jobs")
		respondError(w, http.StatusInternalServerError, "failed to list dead jobs")
		return
	}

	resp := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, jobToResponse(j))
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleBatch handles GET /api/jobs/batch/{batchID}.
func (h *RefreshHandlers) HandleBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	jobs, err := h.manager.Store().ListBatch(batchID)
	if err != nil {
		h.log.Error().Err(err).Str("batch", batchID).Msg("failed to list batch")
		respondError(w, http.StatusInternalServerError, "failed to list batch")
		return
	}

	resp := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, jobToResponse(j))
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleRetryDead handles POST /api/jobs/{id}/retry, moving a
// dead-lettered job back to its queue.
func (h *RefreshHandlers) HandleRetryDead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.manager.Store().RetryDead(id); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "requeued"})
}
