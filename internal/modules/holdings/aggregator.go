// Package holdings derives holding state from the append-only ledger.
//
// The aggregation is a pure fold over the ordered transaction sequence of
// one (portfolio, security, platform) key: no hidden state, no clock, no
// I/O. Replaying the same sequence always yields identical output, and
// applying one transaction to the previous state is equivalent to a full
// replay (both are exercised by tests).
package holdings

import (
	"fmt"

	"github.com/aristath/tracker/internal/modules/ledger"
	"github.com/shopspring/decimal"
)

// InsufficientHoldingError is returned when a SELL would exceed the
// quantity held at that point of the ledger. It is a domain invariant
// violation and is never clamped.
type InsufficientHoldingError struct {
	Key       ledger.Key
	Held      decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientHoldingError) Error() string {
	return fmt.Sprintf("insufficient holding for %s: held %s, sell requested %s",
		e.Key, e.Held, e.Requested)
}

// Position is the cost-basis state of a key. The invariant
// TotalCost = Quantity x AverageCost holds within division precision,
// and Quantity is never negative.
type Position struct {
	Quantity    decimal.Decimal
	AverageCost decimal.Decimal
	TotalCost   decimal.Decimal
}

// NewPosition returns the empty position (all zero).
func NewPosition() Position {
	return Position{
		Quantity:    decimal.Zero,
		AverageCost: decimal.Zero,
		TotalCost:   decimal.Zero,
	}
}

// Apply folds a single transaction into the position using the
// weighted-average cost basis method:
//
//   - BUY adds quantity x price plus all fees to the cost basis and
//     re-derives the average cost.
//   - SELL removes the sold units at the running average cost. The
//     average cost of the remaining units is unchanged. Commission on a
//     SELL reduces realized proceeds, never the remaining cost basis.
//   - DIVIDEND is income, recorded in the ledger but not part of the
//     position.
//
// When a SELL brings the quantity to exactly zero the average cost is
// reset to zero rather than held at its last value, so an emptied and
// re-opened position starts from a clean basis.
func Apply(p Position, t ledger.Transaction) (Position, error) {
	switch t.Type {
	case ledger.TypeBuy:
		cost := t.Quantity.Mul(t.PricePerUnit).Add(t.Fees())
		p.TotalCost = p.TotalCost.Add(cost)
		p.Quantity = p.Quantity.Add(t.Quantity)
		p.AverageCost = p.TotalCost.Div(p.Quantity)

	case ledger.TypeSell:
		if t.Quantity.GreaterThan(p.Quantity) {
			return p, &InsufficientHoldingError{
				Key:       t.Key(),
				Held:      p.Quantity,
				Requested: t.Quantity,
			}
		}
		p.Quantity = p.Quantity.Sub(t.Quantity)
		if p.Quantity.IsZero() {
			p.TotalCost = decimal.Zero
			p.AverageCost = decimal.Zero
		} else {
			p.TotalCost = p.TotalCost.Sub(p.AverageCost.Mul(t.Quantity))
		}

	case ledger.TypeDividend:
		// Income only, cost basis untouched.

	default:
		return p, fmt.Errorf("%w: %q", ledger.ErrInvalidType, t.Type)
	}

	return p, nil
}

// Replay folds an ordered transaction sequence into a position from
// scratch. The input must already be in (date, seq) order, as returned
// by the transaction repository. On error the returned position is the
// state reached before the offending transaction.
func Replay(transactions []ledger.Transaction) (Position, error) {
	p := NewPosition()
	for i := range transactions {
		next, err := Apply(p, transactions[i])
		if err != nil {
			return p, err
		}
		p = next
	}
	return p, nil
}

// RealizedProceeds computes the realized cash result of a SELL against a
// position: gross proceeds minus sale fees minus the cost basis removed.
// Sale fees reduce the realized result here instead of the cost basis.
func RealizedProceeds(p Position, t ledger.Transaction) decimal.Decimal {
	gross := t.Quantity.Mul(t.PricePerUnit)
	costRemoved := p.AverageCost.Mul(t.Quantity)
	return gross.Sub(t.Fees()).Sub(costRemoved)
}
