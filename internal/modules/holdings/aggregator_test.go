package holdings

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tracker/internal/modules/ledger"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func buy(qty, price, fees string) ledger.Transaction {
	return ledger.Transaction{
		PortfolioID:  "p1",
		SecurityID:   "s1",
		PlatformID:   "pl1",
		Type:         ledger.TypeBuy,
		Quantity:     dec(qty),
		PricePerUnit: dec(price),
		TradingFees:  dec(fees),
		Currency:     "USD",
		Date:         time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

func sell(qty, price, fees string) ledger.Transaction {
	t := buy(qty, price, fees)
	t.Type = ledger.TypeSell
	return t
}

func TestApplyBuyIncludesFeesInCostBasis(t *testing.T) {
	p, err := Apply(NewPosition(), buy("10", "150", "20"))
	require.NoError(t, err)

	assert.True(t, p.Quantity.Equal(dec("10")))
	assert.True(t, p.TotalCost.Equal(dec("1520")))
	assert.True(t, p.AverageCost.Equal(dec("152")))
}

func TestApplyBuyAveragesAcrossLots(t *testing.T) {
	p, err := Apply(NewPosition(), buy("10", "100", "0"))
	require.NoError(t, err)
	p, err = Apply(p, buy("10", "200", "0"))
	require.NoError(t, err)

	assert.True(t, p.Quantity.Equal(dec("20")))
	assert.True(t, p.TotalCost.Equal(dec("3000")))
	assert.True(t, p.AverageCost.Equal(dec("150")))
}

func TestApplySellKeepsAverageCost(t *testing.T) {
	p, err := Apply(NewPosition(), buy("10", "100", "0"))
	require.NoError(t, err)

	p, err = Apply(p, sell("4", "180", "5"))
	require.NoError(t, err)

	assert.True(t, p.Quantity.Equal(dec("6")))
	assert.True(t, p.TotalCost.Equal(dec("600")))
	assert.True(t, p.AverageCost.Equal(dec("100")), "selling must not move the average cost")
}

func TestApplySellFeesDoNotTouchCostBasis(t *testing.T) {
	p, err := Apply(NewPosition(), buy("10", "100", "0"))
	require.NoError(t, err)

	withFees, err := Apply(p, sell("4", "180", "25"))
	require.NoError(t, err)
	withoutFees, err := Apply(p, sell("4", "180", "0"))
	require.NoError(t, err)

	assert.True(t, withFees.TotalCost.Equal(withoutFees.TotalCost))
	assert.True(t, withFees.AverageCost.Equal(withoutFees.AverageCost))
}

func TestApplySellToZeroResetsBasis(t *testing.T) {
	p, err := Apply(NewPosition(), buy("10", "100", "10"))
	require.NoError(t, err)

	p, err = Apply(p, sell("10", "120", "0"))
	require.NoError(t, err)

	assert.True(t, p.Quantity.IsZero())
	assert.True(t, p.TotalCost.IsZero())
	assert.True(t, p.AverageCost.IsZero())
}

func TestApplySellMoreThanHeldFails(t *testing.T) {
	p, err := Apply(NewPosition(), buy("5", "100", "0"))
	require.NoError(t, err)

	got, err := Apply(p, sell("6", "100", "0"))

	var insufficient *InsufficientHoldingError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Held.Equal(dec("5")))
	assert.True(t, insufficient.Requested.Equal(dec("6")))

	// The returned position is the untouched pre-sell state.
	assert.True(t, got.Quantity.Equal(p.Quantity))
	assert.True(t, got.TotalCost.Equal(p.TotalCost))
}

func TestApplySellOnEmptyPositionFails(t *testing.T) {
	_, err := Apply(NewPosition(), sell("1", "100", "0"))

	var insufficient *InsufficientHoldingError
	require.ErrorAs(t, err, &insufficient)
}

func TestApplyDividendLeavesPositionUntouched(t *testing.T) {
	p, err := Apply(NewPosition(), buy("10", "100", "0"))
	require.NoError(t, err)

	div := buy("10", "0.50", "0")
	div.Type = ledger.TypeDividend

	got, err := Apply(p, div)
	require.NoError(t, err)
	assert.True(t, got.Quantity.Equal(p.Quantity))
	assert.True(t, got.TotalCost.Equal(p.TotalCost))
	assert.True(t, got.AverageCost.Equal(p.AverageCost))
}

func TestReplayMatchesIncrementalApply(t *testing.T) {
	txs := []ledger.Transaction{
		buy("10", "100", "5"),
		buy("5", "130", "5"),
		sell("8", "150", "3"),
		buy("2", "90", "1"),
		sell("9", "160", "2"),
	}

	incremental := NewPosition()
	for _, tx := range txs {
		next, err := Apply(incremental, tx)
		require.NoError(t, err)
		incremental = next
	}

	replayed, err := Replay(txs)
	require.NoError(t, err)

	assert.True(t, replayed.Quantity.Equal(incremental.Quantity))
	assert.True(t, replayed.TotalCost.Equal(incremental.TotalCost))
	assert.True(t, replayed.AverageCost.Equal(incremental.AverageCost))
}

func TestReplayIsDeterministic(t *testing.T) {
	txs := []ledger.Transaction{
		buy("3", "33.33", "1.50"),
		sell("1", "40", "1.50"),
		buy("7", "28.40", "2"),
	}

	first, err := Replay(txs)
	require.NoError(t, err)
	second, err := Replay(txs)
	require.NoError(t, err)

	assert.True(t, first.Quantity.Equal(second.Quantity))
	assert.True(t, first.TotalCost.Equal(second.TotalCost))
	assert.True(t, first.AverageCost.Equal(second.AverageCost))
}

func TestReplayStopsAtInvariantViolation(t *testing.T) {
	txs := []ledger.Transaction{
		buy("5", "100", "0"),
		sell("10", "100", "0"),
		buy("100", "1", "0"),
	}

	p, err := Replay(txs)
	var insufficient *InsufficientHoldingError
	require.ErrorAs(t, err, &insufficient)

	// State reached before the offending transaction.
	assert.True(t, p.Quantity.Equal(dec("5")))
	assert.True(t, p.TotalCost.Equal(dec("500")))
}

func TestRealizedProceeds(t *testing.T) {
	p, err := Apply(NewPosition(), buy("10", "100", "0"))
	require.NoError(t, err)

	// Sell 4 at 180 with 5 fees: 720 - 5 - 400 = 315 realized.
	realized := RealizedProceeds(p, sell("4", "180", "5"))
	assert.True(t, realized.Equal(dec("315")))
}

func TestValuate(t *testing.T) {
	p, err := Apply(NewPosition(), buy("10", "150", "20"))
	require.NoError(t, err)

	v := Valuate(p, dec("160"))
	assert.True(t, v.CurrentValue.Equal(dec("1600")))
	assert.True(t, v.GainLoss.Equal(dec("80")))
	require.NotNil(t, v.GainLossPct)
	assert.True(t, v.GainLossPct.Equal(dec("5.26")), "pct rounds half up to two places, got %s", v.GainLossPct)
}

func TestValuatePctNilOnZeroCost(t *testing.T) {
	v := Valuate(NewPosition(), dec("42"))
	assert.True(t, v.CurrentValue.IsZero())
	assert.Nil(t, v.GainLossPct)
}

func TestSummarize(t *testing.T) {
	price1 := dec("160")
	p1, err := Apply(NewPosition(), buy("10", "150", "20"))
	require.NoError(t, err)
	p2, err := Apply(NewPosition(), buy("5", "40", "0"))
	require.NoError(t, err)

	hs := []Holding{
		{Key: ledger.Key{PortfolioID: "p1", SecurityID: "s1", PlatformID: "pl1"}, Position: p1, CurrentPrice: &price1},
		// No price refreshed yet: contributes cost, no value.
		{Key: ledger.Key{PortfolioID: "p1", SecurityID: "s2", PlatformID: "pl1"}, Position: p2},
	}

	s := Summarize("p1", hs)
	assert.True(t, s.TotalCost.Equal(dec("1720")))
	assert.True(t, s.TotalValue.Equal(dec("1600")))
	assert.True(t, s.TotalGainLoss.Equal(dec("80")))
	require.NotNil(t, s.TotalGainLossPct)
}
