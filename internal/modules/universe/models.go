// Package universe holds the securities known to the tracker and their
// provider symbols. The refresh coordinator resolves held security ids
// against this set to find the symbol to fetch.
package universe

import "errors"

// ErrSecurityNotFound is returned when a security id is not in the universe.
var ErrSecurityNotFound = errors.New("security not found")

// Security is one instrument in the universe.
type Security struct {
	ID       string `json:"id"`     // Stable identifier (ISIN where available)
	Symbol   string `json:"symbol"` // Market data provider symbol, e.g. "AAPL" or "BHP.AX"
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Active   bool   `json:"active"` // Inactive securities are skipped by the refresh fan-out
}
