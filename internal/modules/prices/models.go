// Package prices stores refreshed market prices per security and day.
// Writes are idempotent upserts keyed by (security, date): replaying the
// same fetched value leaves the history unchanged, which makes the
// at-least-once refresh delivery safe.
package prices

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record is one persisted price observation.
type Record struct {
	SecurityID string
	Date       string // Price day in ISO format (YYYY-MM-DD)
	ClosePrice decimal.Decimal
	Currency   string
	AsOf       time.Time // Provider timestamp of the observation
	UpdatedAt  time.Time
}

// DateOf formats a timestamp as the price-day key.
func DateOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
