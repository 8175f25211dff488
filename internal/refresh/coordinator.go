package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/tracker/internal/modules/holdings"
	"github.com/aristath/tracker/internal/modules/universe"
	"github.com/aristath/tracker/internal/queue"
)

// Coordinator fans refresh work out across the held universe. It never
// fetches market data itself; it only decides what needs refreshing and
// enqueues per-security jobs.
type Coordinator struct {
	holdings       *holdings.Service
	securities     *universe.SecurityRepository
	manager        *queue.Manager
	dividendsSince time.Duration
	log            zerolog.Logger
}

// NewCoordinator creates a refresh coordinator. dividendsSince bounds
// how far back dividend sweeps look.
func NewCoordinator(h *holdings.Service, s *universe.SecurityRepository, m *queue.Manager, dividendsSince time.Duration, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		holdings:       h,
		securities:     s,
		manager:        m,
		dividendsSince: dividendsSince,
		log:            log.With().Str("component", "refresh_coordinator").Logger(),
	}
}

// RequestPriceRefresh enqueues a coordination job that will fan out
// price refreshes. Used by the scheduler and the manual trigger
// endpoint; the coordination queue serializes overlapping requests.
func (c *Coordinator) RequestPriceRefresh() (bool, error) {
	return c.manager.Enqueue(queue.QueueCoordination, KindCoordinatePrices, "", "", nil)
}

// RequestDividendRefresh enqueues a dividend coordination job.
func (c *Coordinator) RequestDividendRefresh() (bool, error) {
	return c.manager.Enqueue(queue.QueueCoordination, KindCoordinateDividends, "", "", nil)
}

// CoordinatePrices enqueues one price refresh job per held security.
func (c *Coordinator) CoordinatePrices(ctx context.Context) (BatchResult, error) {
	return c.fanOut(ctx, queue.QueuePrices, KindRefreshPrice, time.Time{})
}

// CoordinateDividends enqueues one dividend refresh job per held
// security, bounded by the configured lookback.
func (c *Coordinator) CoordinateDividends(ctx context.Context) (BatchResult, error) {
	since := time.Now().Add(-c.dividendsSince)
	return c.fanOut(ctx, queue.QueueDividends, KindRefreshDividends, since)
}

func (c *Coordinator) fanOut(ctx context.Context, queueName, kind string, since time.Time) (BatchResult, error) {
	securityIDs, err := c.holdings.HeldSecurities()
	if err != nil {
		return BatchResult{}, fmt.Errorf("listing held securities: %w", err)
	}

	result := BatchResult{BatchID: uuid.New().String()}
	for _, id := range securityIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		sec, err := c.securities.GetByID(id)
		if err != nil {
			c.log.Warn().Err(err).Str("security", id).Msg("held security missing from universe, skipping")
			result.Skipped++
			continue
		}
		if !sec.Active {
			result.Skipped++
			continue
		}

		payload, err := queue.EncodePayload(SecurityPayload{
			SecurityID: sec.ID,
			Symbol:     sec.Symbol,
			Currency:   sec.Currency,
			Since:      since,
		})
		if err != nil {
			return result, err
		}

		enqueued, err := c.manager.Enqueue(queueName, kind, sec.ID, result.BatchID, payload)
		if err != nil {
			return result, fmt.Errorf("enqueueing %s for %s: %w", kind, sec.ID, err)
		}
		if enqueued {
			result.Enqueued++
		} else {
			result.Skipped++
		}
	}

	c.log.Info().Str("batch_id", result.BatchID).Str("kind", kind).
		Int("enqueued", result.Enqueued).Int("skipped", result.Skipped).
		Msg("refresh batch enqueued")
	return result, nil
}

// RegisterHandlers binds the coordination kinds to this coordinator.
func (c *Coordinator) RegisterHandlers(m *queue.Manager) {
	m.Register(KindCoordinatePrices, func(ctx context.Context, _ *queue.Job) error {
		_, err := c.CoordinatePrices(ctx)
		return err
	})
	m.Register(KindCoordinateDividends, func(ctx context.Context, _ *queue.Job) error {
		_, err := c.CoordinateDividends(ctx)
		return err
	})
}
