package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/tracker/internal/modules/holdings"
	"github.com/aristath/tracker/internal/modules/ledger"
)

// PortfolioHandlers serves holdings and summary reads.
type PortfolioHandlers struct {
	service      *holdings.Service
	transactions *ledger.TransactionRepository
	log          zerolog.Logger
}

// NewPortfolioHandlers creates the portfolio handlers.
func NewPortfolioHandlers(service *holdings.Service, transactions *ledger.TransactionRepository, log zerolog.Logger) *PortfolioHandlers {
	return &PortfolioHandlers{
		service:      service,
		transactions: transactions,
		log:          log.With().Str("handler", "portfolio").Logger(),
	}
}

// HoldingResponse is a serialized holding with its valuation. Valuation
// fields are null until the first price refresh lands.
type HoldingResponse struct {
	PortfolioID  string  `json:"portfolio_id"`
	SecurityID   string  `json:"security_id"`
	PlatformID   string  `json:"platform_id"`
	Quantity     string  `json:"quantity"`
	AverageCost  string  `json:"average_cost"`
	TotalCost    string  `json:"total_cost"`
	Currency     string  `json:"currency"`
	CurrentPrice *string `json:"current_price"`
	PriceAsOf    *string `json:"price_as_of"`
	CurrentValue *string `json:"current_value"`
	GainLoss     *string `json:"gain_loss"`
	GainLossPct  *string `json:"gain_loss_pct"`
}

func holdingToResponse(h *holdings.Holding) HoldingResponse {
	resp := HoldingResponse{
		PortfolioID: h.Key.PortfolioID,
		SecurityID:  h.Key.SecurityID,
		PlatformID:  h.Key.PlatformID,
		Quantity:    h.Position.Quantity.String(),
		AverageCost: h.Position.AverageCost.Round(holdings.DisplayPlaces).String(),
		TotalCost:   h.Position.TotalCost.Round(holdings.DisplayPlaces).String(),
		Currency:    h.Currency,
	}

	if h.CurrentPrice != nil {
		price := h.CurrentPrice.String()
		resp.CurrentPrice = &price
	}
	if h.PriceAsOf != nil {
		asOf := h.PriceAsOf.UTC().Format(time.RFC3339)
		resp.PriceAsOf = &asOf
	}

	if v, ok := h.Valuation(); ok {
		value := v.CurrentValue.Round(holdings.DisplayPlaces).String()
		gain := v.GainLoss.Round(holdings.DisplayPlaces).String()
		resp.CurrentValue = &value
		resp.GainLoss = &gain
		if v.GainLossPct != nil {
			pct := v.GainLossPct.String()
			resp.GainLossPct = &pct
		}
	}

	return resp
}

// HandleHoldings handles GET /api/portfolios/{portfolioID}/holdings.
func (h *PortfolioHandlers) HandleHoldings(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioID")

	hs, err := h.service.ListHoldings(portfolioID)
	if err != nil {
		h.log.Error().Err(err).Str("portfolio", portfolioID).Msg("failed to list holdings")
		respondError(w, http.StatusInternalServerError, "failed to list holdings")
		return
	}

	resp := make([]HoldingResponse, 0, len(hs))
	for i := range hs {
		resp = append(resp, holdingToResponse(&hs[i]))
	}
	respondJSON(w, http.StatusOK, resp)
}

// SummaryResponse aggregates valuation across a portfolio.
type SummaryResponse struct {
	PortfolioID      string  `json:"portfolio_id"`
	TotalValue       string  `json:"total_value"`
	TotalCost        string  `json:"total_cost"`
	TotalGainLoss    string  `json:"total_gain_loss"`
	TotalGainLossPct *string `json:"total_gain_loss_pct"`
}

// HandleSummary handles GET /api/portfolios/{portfolioID}/summary.
func (h *PortfolioHandlers) HandleSummary(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioID")

	summary, err := h.service.Summary(portfolioID)
	if err != nil {
		h.log.Error().Err(err).Str("portfolio", portfolioID).Msg("failed to summarize portfolio")
		respondError(w, http.StatusInternalServerError, "failed to summarize portfolio")
		return
	}

	resp := SummaryResponse{
		PortfolioID:   summary.PortfolioID,
		TotalValue:    summary.TotalValue.Round(holdings.DisplayPlaces).String(),
		TotalCost:     summary.TotalCost.Round(holdings.DisplayPlaces).String(),
		TotalGainLoss: summary.TotalGainLoss.Round(holdings.DisplayPlaces).String(),
	}
	if summary.TotalGainLossPct != nil {
		pct := summary.TotalGainLossPct.String()
		resp.TotalGainLossPct = &pct
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleDividendIncome handles GET /api/portfolios/{portfolioID}/dividends,
// listing the DIVIDEND ledger entries of a portfolio.
func (h *PortfolioHandlers) HandleDividendIncome(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioID")

	txs, err := h.transactions.ListDividendIncome(portfolioID)
	if err != nil {
		h.log.Error().Err(err).Str("portfolio", portfolioID).Msg("failed to list dividend income")
		respondError(w, http.StatusInternalServerError, "failed to list dividend income")
		return
	}

	resp := make([]TransactionResponse, 0, len(txs))
	for i := range txs {
		resp = append(resp, transactionToResponse(&txs[i]))
	}
	respondJSON(w, http.StatusOK, resp)
}
