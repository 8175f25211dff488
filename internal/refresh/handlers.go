package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tracker/internal/marketdata"
	"github.com/aristath/tracker/internal/modules/dividends"
	"github.com/aristath/tracker/internal/modules/holdings"
	"github.com/aristath/tracker/internal/modules/prices"
	"github.com/aristath/tracker/internal/queue"
)

// Worker holds the per-security refresh handlers. All writes are
// upserts keyed on (security, date), so a job that is retried after a
// partial run converges on the same rows.
type Worker struct {
	provider  marketdata.Provider
	prices    *prices.Repository
	dividends *dividends.Repository
	holdings  *holdings.Service
	log       zerolog.Logger
}

// NewWorker creates the refresh worker.
func NewWorker(p marketdata.Provider, pr *prices.Repository, dr *dividends.Repository, h *holdings.Service, log zerolog.Logger) *Worker {
	return &Worker{
		provider:  p,
		prices:    pr,
		dividends: dr,
		holdings:  h,
		log:       log.With().Str("component", "refresh_worker").Logger(),
	}
}

// RegisterHandlers binds the per-security kinds.
func (w *Worker) RegisterHandlers(m *queue.Manager) {
	m.Register(KindRefreshPrice, w.HandlePrice)
	m.Register(KindRefreshDividends, w.HandleDividends)
}

// HandlePrice fetches the latest quote for one security and persists it
// to price history and to the holding rows. Returns nil only after both
// writes have succeeded.
func (w *Worker) HandlePrice(ctx context.Context, job *queue.Job) error {
	var payload SecurityPayload
	if err := job.DecodePayload(&payload); err != nil {
		return marketdata.Permanent(err)
	}

	quote, err := w.provider.FetchLatestPrice(ctx, payload.Symbol)
	if err != nil {
		return fmt.Errorf("fetching price for %s: %w", payload.Symbol, err)
	}

	rec := prices.Record{
		SecurityID: payload.SecurityID,
		Date:       prices.DateOf(quote.AsOf),
		ClosePrice: quote.Price,
		Currency:   quote.Currency,
		AsOf:       quote.AsOf,
		UpdatedAt:  time.Now(),
	}
	if err := w.prices.Upsert(rec); err != nil {
		return fmt.Errorf("storing price for %s: %w", payload.SecurityID, err)
	}

	if err := w.holdings.ApplyPrice(payload.SecurityID, quote.Price, quote.AsOf); err != nil {
		return fmt.Errorf("applying price to holdings of %s: %w", payload.SecurityID, err)
	}

	w.log.Debug().Str("security", payload.SecurityID).Str("symbol", payload.Symbol).
		Str("price", quote.Price.String()).Msg("price refreshed")
	return nil
}

// HandleDividends fetches dividends since the payload cutoff and
// upserts each one. Re-fetching an already known dividend is a no-op.
func (w *Worker) HandleDividends(ctx context.Context, job *queue.Job) error {
	var payload SecurityPayload
	if err := job.DecodePayload(&payload); err != nil {
		return marketdata.Permanent(err)
	}

	payments, err := w.provider.FetchDividends(ctx, payload.Symbol, payload.Since)
	if err != nil {
		return fmt.Errorf("fetching dividends for %s: %w", payload.Symbol, err)
	}

	for _, p := range payments {
		rec := dividends.Record{
			SecurityID:    payload.SecurityID,
			ExDate:        dividends.DateOf(p.ExDate),
			AmountPerUnit: p.AmountPerUnit,
			Currency:      p.Currency,
			UpdatedAt:     time.Now(),
		}
		if err := w.dividends.Upsert(rec); err != nil {
			return fmt.Errorf("storing dividend for %s: %w", payload.SecurityID, err)
		}
	}

	w.log.Debug().Str("security", payload.SecurityID).Str("symbol", payload.Symbol).
		Int("dividends", len(payments)).Msg("dividends refreshed")
	return nil
}
