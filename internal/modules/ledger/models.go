// Package ledger provides the append-only transaction history.
// Transactions are the immutable source of truth for holdings: they are
// written once by the transaction-write path and never mutated. Holdings
// are always derivable from the ordered transaction sequence of a key.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType represents the type of a ledger transaction
type TransactionType string

const (
	TypeBuy      TransactionType = "BUY"
	TypeSell     TransactionType = "SELL"
	TypeDividend TransactionType = "DIVIDEND"
)

// Validation errors surfaced synchronously to the transaction-write path.
var (
	ErrInvalidType         = errors.New("transaction type must be BUY, SELL or DIVIDEND")
	ErrInvalidQuantity     = errors.New("transaction quantity must be positive")
	ErrInvalidPrice        = errors.New("transaction price per unit must not be negative")
	ErrInvalidFees         = errors.New("transaction fees must not be negative")
	ErrMissingKey          = errors.New("portfolio, security and platform are required")
	ErrMissingCurrency     = errors.New("transaction currency is required")
	ErrMissingDate         = errors.New("transaction date is required")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Key identifies the holding a transaction belongs to.
// All aggregation is scoped to one (portfolio, security, platform) key.
type Key struct {
	PortfolioID string
	SecurityID  string
	PlatformID  string
}

// String returns a log-friendly representation of the key.
func (k Key) String() string {
	return k.PortfolioID + "/" + k.SecurityID + "/" + k.PlatformID
}

// Transaction is one immutable ledger entry.
//
// Seq is assigned by the ledger store on append and provides the stable
// tie-break for same-date transactions: ordering within a key is always
// (Date, Seq).
type Transaction struct {
	ID           string
	Seq          int64
	PortfolioID  string
	SecurityID   string
	PlatformID   string
	Type         TransactionType
	Quantity     decimal.Decimal
	PricePerUnit decimal.Decimal
	TradingFees  decimal.Decimal
	StampDuty    decimal.Decimal
	FXFees       decimal.Decimal
	GrossAmount  decimal.Decimal
	NetAmount    decimal.Decimal
	Currency     string
	FXRate       decimal.Decimal
	Notes        string
	Date         time.Time
	CreatedAt    time.Time
}

// Key returns the holding key of the transaction.
func (t *Transaction) Key() Key {
	return Key{
		PortfolioID: t.PortfolioID,
		SecurityID:  t.SecurityID,
		PlatformID:  t.PlatformID,
	}
}

// Fees returns the total fees of the transaction
// (trading fees + stamp duty + FX fees).
func (t *Transaction) Fees() decimal.Decimal {
	return t.TradingFees.Add(t.StampDuty).Add(t.FXFees)
}

// Normalize fills derived amounts that callers may omit.
// GrossAmount defaults to quantity x price; NetAmount defaults to the
// cash that moved: gross + fees for a BUY, gross - fees for a SELL and
// for a DIVIDEND payment. FXRate defaults to 1.
func (t *Transaction) Normalize() {
	if t.GrossAmount.IsZero() {
		t.GrossAmount = t.Quantity.Mul(t.PricePerUnit)
	}
	if t.NetAmount.IsZero() {
		if t.Type == TypeBuy {
			t.NetAmount = t.GrossAmount.Add(t.Fees())
		} else {
			t.NetAmount = t.GrossAmount.Sub(t.Fees())
		}
	}
	if t.FXRate.IsZero() {
		t.FXRate = decimal.NewFromInt(1)
	}
}

// Validate checks the domain invariants of a transaction before it is
// committed. Violations are domain errors, never silently clamped.
func (t *Transaction) Validate() error {
	switch t.Type {
	case TypeBuy, TypeSell, TypeDividend:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidType, t.Type)
	}
	if t.PortfolioID == "" || t.SecurityID == "" || t.PlatformID == "" {
		return ErrMissingKey
	}
	if !t.Quantity.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidQuantity, t.Quantity)
	}
	if t.PricePerUnit.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidPrice, t.PricePerUnit)
	}
	if t.TradingFees.IsNegative() || t.StampDuty.IsNegative() || t.FXFees.IsNegative() {
		return ErrInvalidFees
	}
	if t.Currency == "" {
		return ErrMissingCurrency
	}
	if t.Date.IsZero() {
		return ErrMissingDate
	}
	return nil
}
