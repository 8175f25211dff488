package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/tracker/internal/modules/holdings"
	"github.com/aristath/tracker/internal/modules/ledger"
)

// TransactionHandlers serves the transaction write path.
type TransactionHandlers struct {
	service      *holdings.Service
	transactions *ledger.TransactionRepository
	log          zerolog.Logger
}

// NewTransactionHandlers creates the transaction handlers.
func NewTransactionHandlers(service *holdings.Service, transactions *ledger.TransactionRepository, log zerolog.Logger) *TransactionHandlers {
	return &TransactionHandlers{
		service:      service,
		transactions: transactions,
		log:          log.With().Str("handler", "transactions").Logger(),
	}
}

// TransactionRequest is the create payload. Decimal fields accept JSON
// numbers or strings; strings avoid float precision loss.
type TransactionRequest struct {
	PortfolioID  string          `json:"portfolio_id"`
	SecurityID   string          `json:"security_id"`
	PlatformID   string          `json:"platform_id"`
	Type         string          `json:"type"`
	Quantity     decimal.Decimal `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	TradingFees  decimal.Decimal `json:"trading_fees"`
	StampDuty    decimal.Decimal `json:"stamp_duty"`
	FXFees       decimal.Decimal `json:"fx_fees"`
	Currency     string          `json:"currency"`
	FXRate       decimal.Decimal `json:"fx_rate"`
	Notes        string          `json:"notes"`
	Date         string          `json:"date"` // YYYY-MM-DD
}

// TransactionResponse is a serialized ledger entry.
type TransactionResponse struct {
	ID           string           `json:"id"`
	PortfolioID  string           `json:"portfolio_id"`
	SecurityID   string           `json:"security_id"`
	PlatformID   string           `json:"platform_id"`
	Type         string           `json:"type"`
	Quantity     string           `json:"quantity"`
	PricePerUnit string           `json:"price_per_unit"`
	TradingFees  string           `json:"trading_fees"`
	StampDuty    string           `json:"stamp_duty"`
	FXFees       string           `json:"fx_fees"`
	GrossAmount  string           `json:"gross_amount"`
	NetAmount    string           `json:"net_amount"`
	Currency     string           `json:"currency"`
	FXRate       string           `json:"fx_rate"`
	Notes        string           `json:"notes,omitempty"`
	Date         string           `json:"date"`
	Holding      *HoldingResponse `json:"holding,omitempty"`
}

func transactionToResponse(t *ledger.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:           t.ID,
		PortfolioID:  t.PortfolioID,
		SecurityID:   t.SecurityID,
		PlatformID:   t.PlatformID,
		Type:         string(t.Type),
		Quantity:     t.Quantity.String(),
		PricePerUnit: t.PricePerUnit.String(),
		TradingFees:  t.TradingFees.String(),
		StampDuty:    t.StampDuty.String(),
		FXFees:       t.FXFees.String(),
		GrossAmount:  t.GrossAmount.String(),
		NetAmount:    t.NetAmount.String(),
		Currency:     t.Currency,
		FXRate:       t.FXRate.String(),
		Notes:        t.Notes,
		Date:         t.Date.UTC().Format("2006-01-02"),
	}
}

// HandleCreate handles POST /api/transactions. The transaction is
// appended and the holding recomputed in one atomic write; the updated
// holding comes back in the response.
func (h *TransactionHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	t := &ledger.Transaction{
		PortfolioID:  req.PortfolioID,
		SecurityID:   req.SecurityID,
		PlatformID:   req.PlatformID,
		Type:         ledger.TransactionType(req.Type),
		Quantity:     req.Quantity,
		PricePerUnit: req.PricePerUnit,
		TradingFees:  req.TradingFees,
		StampDuty:    req.StampDuty,
		FXFees:       req.FXFees,
		Currency:     req.Currency,
		FXRate:       req.FXRate,
		Notes:        req.Notes,
		Date:         date,
	}

	holding, err := h.service.RecordTransaction(t)
	if err != nil {
		var insufficient *holdings.InsufficientHoldingError
		switch {
		case errors.As(err, &insufficient):
			respondError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, ledger.ErrInvalidType),
			errors.Is(err, ledger.ErrInvalidQuantity),
			errors.Is(err, ledger.ErrInvalidPrice),
			errors.Is(err, ledger.ErrInvalidFees),
			errors.Is(err, ledger.ErrMissingKey),
			errors.Is(err, ledger.ErrMissingCurrency),
			errors.Is(err, ledger.ErrMissingDate):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			h.log.Error().Err(err).Msg("failed to record transaction")
			respondError(w, http.StatusInternalServerError, "failed to record transaction")
		}
		return
	}

	resp := transactionToResponse(t)
	hr := holdingToResponse(holding)
	resp.Holding = &hr
	respondJSON(w, http.StatusCreated, resp)
}

// HandleList handles GET /api/transactions. Requires the full holding
// key as query parameters and returns entries in replay order.
func (h *TransactionHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	key := ledger.Key{
		PortfolioID: r.URL.Query().Get("portfolio_id"),
		SecurityID:  r.URL.Query().Get("security_id"),
		PlatformID:  r.URL.Query().Get("platform_id"),
	}
	if key.PortfolioID == "" || key.SecurityID == "" || key.PlatformID == "" {
		respondError(w, http.StatusBadRequest, "portfolio_id, security_id and platform_id are required")
		return
	}

	txs, err := h.transactions.ListOrdered(key)
	if err != nil {
		h.log.Error().Err(err).Str("key", key.String()).Msg("failed to list transactions")
		respondError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}

	resp := make([]TransactionResponse, 0, len(txs))
	for i := range txs {
		resp = append(resp, transactionToResponse(&txs[i]))
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleDelete handles DELETE /api/transactions/{id}. The remaining
// history is replayed; deletion is refused when it would leave the
// holding unsatisfiable.
func (h *TransactionHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.DeleteTransaction(id); err != nil {
		var insufficient *holdings.InsufficientHoldingError
		switch {
		case errors.Is(err, ledger.ErrTransactionNotFound):
			respondError(w, http.StatusNotFound, err.Error())
		case errors.As(err, &insufficient):
			respondError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.log.Error().Err(err).Str("transaction_id", id).Msg("failed to delete transaction")
			respondError(w, http.StatusInternalServerError, "failed to delete transaction")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
