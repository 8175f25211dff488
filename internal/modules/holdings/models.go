package holdings

import (
	"time"

	"github.com/aristath/tracker/internal/modules/ledger"
	"github.com/shopspring/decimal"
)

// DisplayPlaces is the rounding applied to monetary values for display.
// Full precision is retained internally; only final output is rounded.
const DisplayPlaces = 2

// Holding is the derived, mutable state of one (portfolio, security,
// platform) key: the folded position plus the latest market valuation.
type Holding struct {
	Key         ledger.Key
	Position    Position
	Currency    string
	LastUpdated time.Time

	// CurrentPrice is nil until the first market-data refresh for the
	// security has landed.
	CurrentPrice *decimal.Decimal
	PriceAsOf    *time.Time
}

// Valuation holds the market-derived metrics of a position.
// GainLossPct is nil when the total cost is zero: the percentage is
// undefined there, never a division by zero.
type Valuation struct {
	CurrentValue decimal.Decimal
	GainLoss     decimal.Decimal
	GainLossPct  *decimal.Decimal
}

// Valuate computes the valuation of a position at a market price.
// The percentage is rounded half-up to two decimal places; the other
// metrics keep full precision and are rounded only for display.
func Valuate(p Position, currentPrice decimal.Decimal) Valuation {
	v := Valuation{
		CurrentValue: p.Quantity.Mul(currentPrice),
	}
	v.GainLoss = v.CurrentValue.Sub(p.TotalCost)

	if p.TotalCost.IsPositive() {
		pct := v.GainLoss.Div(p.TotalCost).Mul(decimal.NewFromInt(100)).Round(DisplayPlaces)
		v.GainLossPct = &pct
	}

	return v
}

// Valuation returns the holding's valuation at its current price, or
// ok=false when no price has been refreshed yet.
func (h *Holding) Valuation() (Valuation, bool) {
	if h.CurrentPrice == nil {
		return Valuation{}, false
	}
	return Valuate(h.Position, *h.CurrentPrice), true
}

// PortfolioSummary aggregates valuation across the holdings of a
// portfolio. TotalGainLossPct is nil when the total cost is zero.
type PortfolioSummary struct {
	PortfolioID      string
	TotalValue       decimal.Decimal
	TotalCost        decimal.Decimal
	TotalGainLoss    decimal.Decimal
	TotalGainLossPct *decimal.Decimal
}

// Summarize folds holdings into a portfolio summary. Holdings without a
// refreshed price contribute their cost basis but no market value.
func Summarize(portfolioID string, hs []Holding) PortfolioSummary {
	s := PortfolioSummary{
		PortfolioID:   portfolioID,
		TotalValue:    decimal.Zero,
		TotalCost:     decimal.Zero,
		TotalGainLoss: decimal.Zero,
	}

	for i := range hs {
		s.TotalCost = s.TotalCost.Add(hs[i].Position.TotalCost)
		if v, ok := hs[i].Valuation(); ok {
			s.TotalValue = s.TotalValue.Add(v.CurrentValue)
			s.TotalGainLoss = s.TotalGainLoss.Add(v.GainLoss)
		}
	}

	if s.TotalCost.IsPositive() {
		pct := s.TotalGainLoss.Div(s.TotalCost).Mul(decimal.NewFromInt(100)).Round(DisplayPlaces)
		s.TotalGainLossPct = &pct
	}

	return s
}
