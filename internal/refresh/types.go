// Package refresh keeps market data current for every held security.
//
// A coordinator job enumerates the held securities and fans out one
// durable job per security onto the prices or dividends queue. The
// per-security handlers fetch from the provider and upsert, so a
// redelivered job rewrites the same rows instead of duplicating them.
package refresh

import "time"

// Job kinds handled by this package.
const (
	KindCoordinatePrices    = "coordinate_prices"
	KindCoordinateDividends = "coordinate_dividends"
	KindRefreshPrice        = "refresh_price"
	KindRefreshDividends    = "refresh_dividends"
)

// SecurityPayload is carried by per-security refresh jobs.
type SecurityPayload struct {
	SecurityID string    `msgpack:"security_id"`
	Symbol     string    `msgpack:"symbol"`
	Currency   string    `msgpack:"currency"`
	Since      time.Time `msgpack:"since,omitempty"`
}

// BatchResult summarizes one coordinator fan-out.
type BatchResult struct {
	BatchID  string `json:"batch_id"`
	Enqueued int    `json:"enqueued"`
	Skipped  int    `json:"skipped"`
}
