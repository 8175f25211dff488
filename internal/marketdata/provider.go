// Package marketdata defines the market data provider collaborator and
// its failure taxonomy. Providers may fail, rate-limit, or return stale
// data; the refresh workers decide retry behavior from the error type.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the latest observed price of a symbol.
type Quote struct {
	Price    decimal.Decimal
	Currency string
	AsOf     time.Time
}

// DividendPayment is one dividend reported by the provider.
type DividendPayment struct {
	ExDate        time.Time
	AmountPerUnit decimal.Decimal
	Currency      string
}

// Provider supplies latest price and dividend data for a symbol.
// Implementations must honor context cancellation: a cancelled fetch
// returns promptly with the context error.
type Provider interface {
	FetchLatestPrice(ctx context.Context, symbol string) (Quote, error)
	FetchDividends(ctx context.Context, symbol string, since time.Time) ([]DividendPayment, error)
}

// Sentinel failures surfaced by providers. Unknown symbols, malformed
// responses and empty results are wrapped as permanent before they
// leave the provider; rate limits and network errors stay transient so
// the queue retries them.
var (
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrMalformedData = errors.New("malformed provider response")
	ErrRateLimited   = errors.New("provider rate limited")
	ErrNoData        = errors.New("no data returned by provider")
)

// PermanentError marks a provider failure that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent provider failure: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent reports true so the queue dead-letters without retrying.
func (e *PermanentError) Permanent() bool {
	return true
}

// Permanent wraps an error as non-retriable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether an error is marked non-retriable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
