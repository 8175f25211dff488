package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/tracker/internal/modules/dividends"
	"github.com/aristath/tracker/internal/modules/prices"
	"github.com/aristath/tracker/internal/modules/universe"
)

const defaultHistoryLimit = 100

// SecurityHandlers serves the security universe and its market history.
type SecurityHandlers struct {
	securities *universe.SecurityRepository
	prices     *prices.Repository
	dividends  *dividends.Repository
	log        zerolog.Logger
}

// NewSecurityHandlers creates the security handlers.
func NewSecurityHandlers(s *universe.SecurityRepository, p *prices.Repository, d *dividends.Repository, log zerolog.Logger) *SecurityHandlers {
	return &SecurityHandlers{
		securities: s,
		prices:     p,
		dividends:  d,
		log:        log.With().Str("handler", "securities").Logger(),
	}
}

// SecurityRequest is the upsert payload.
type SecurityRequest struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Active   *bool  `json:"active"`
}

// HandleUpsert handles POST /api/securities.
func (h *SecurityHandlers) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	var req SecurityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" || req.Symbol == "" {
		respondError(w, http.StatusBadRequest, "id and symbol are required")
		return
	}

	sec := universe.Security{
		ID:       req.ID,
		Symbol:   req.Symbol,
		Name:     req.Name,
		Currency: req.Currency,
		Active:   true,
	}
	if req.Active != nil {
		sec.Active = *req.Active
	}

	if err := h.securities.Upsert(sec); err != nil {
		h.log.Error().Err(err).Str("security", req.ID).Msg("failed to upsert security")
		respondError(w, http.StatusInternalServerError, "failed to upsert security")
		return
	}

	respondJSON(w, http.StatusOK, sec)
}

// HandleList handles GET /api/securities.
func (h *SecurityHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	secs, err := h.securities.ListActive()
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list securities")
		respondError(w, http.StatusInternalServerError, "failed to list securities")
		return
	}
	respondJSON(w, http.StatusOK, secs)
}

// PriceResponse is one serialized price observation.
type PriceResponse struct {
	SecurityID string `json:"security_id"`
	Date       string `json:"date"`
	ClosePrice string `json:"close_price"`
	Currency   string `json:"currency"`
	AsOf       string `json:"as_of"`
}

// HandlePriceHistory handles GET /api/securities/{id}/prices.
func (h *SecurityHandlers) HandlePriceHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.securities.GetByID(id); err != nil {
		if errors.Is(err, universe.ErrSecurityNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		h.log.Error().Err(err).Str("security", id).Msg("failed to load security")
		respondError(w, http.StatusInternalServerError, "failed to load security")
		return
	}

	records, err := h.prices.History(id, historyLimit(r))
	if err != nil {
		h.log.Error().Err(err).Str("security", id).Msg("failed to list price history")
		respondError(w, http.StatusInternalServerError, "failed to list price history")
		return
	}

	resp := make([]PriceResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, PriceResponse{
			SecurityID: rec.SecurityID,
			Date:       rec.Date,
			ClosePrice: rec.ClosePrice.String(),
			Currency:   rec.Currency,
			AsOf:       rec.AsOf.UTC().Format(time.RFC3339),
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// DividendResponse is one serialized dividend record.
type DividendResponse struct {
	SecurityID    string `json:"security_id"`
	ExDate        string `json:"ex_date"`
	AmountPerUnit string `json:"amount_per_unit"`
	Currency      string `json:"currency"`
}

// HandleDividendHistory handles GET /api/securities/{id}/dividends.
func (h *SecurityHandlers) HandleDividendHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	records, err := h.dividends.ListBySecurity(id)
	if err != nil {
		h.log.Error().Err(err).Str("security", id).Msg("failed to list dividend history")
		respondError(w, http.StatusInternalServerError, "failed to list dividend history")
		return
	}

	resp := make([]DividendResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, DividendResponse{
			SecurityID:    rec.SecurityID,
			ExDate:        rec.ExDate,
			AmountPerUnit: rec.AmountPerUnit.String(),
			Currency:      rec.Currency,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func historyLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return defaultHistoryLimit
}
