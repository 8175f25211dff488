// Package dividends stores dividend records refreshed from the market
// data provider. Records are keyed by (security, ex-date) and upserted
// last-write-wins, so redelivered refresh jobs never duplicate history.
package dividends

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record is one dividend payment of a security.
type Record struct {
	SecurityID    string
	ExDate        string // Ex-dividend day in ISO format (YYYY-MM-DD)
	AmountPerUnit decimal.Decimal
	Currency      string
	UpdatedAt     time.Time
}

// DateOf formats a timestamp as the ex-date key.
func DateOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
