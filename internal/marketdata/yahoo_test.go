package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStubServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchLatestPriceFromMeta(t *testing.T) {
	srv := newStubServer(t, http.StatusOK, `{
		"chart": {
			"result": [{
				"meta": {
					"currency": "USD",
					"symbol": "AAPL",
					"regularMarketPrice": 187.42,
					"regularMarketTime": 1709308800
				},
				"timestamp": [],
				"indicators": {"quote": [{"close": []}]}
			}],
			"error": null
		}
	}`)

	p := NewYahooProviderWithBase(srv.URL, zerolog.Nop())
	quote, err := p.FetchLatestPrice(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.True(t, quote.Price.Equal(decimal.RequireFromString("187.42")))
	assert.Equal(t, "USD", quote.Currency)
	assert.Equal(t, time.Unix(1709308800, 0).UTC(), quote.AsOf)
}

func TestFetchLatestPriceFallsBackToLastClose(t *testing.T) {
	srv := newStubServer(t, http.StatusOK, `{
		"chart": {
			"result": [{
				"meta": {"currency": "EUR", "symbol": "SAP.DE"},
				"timestamp": [1709222400, 1709308800, 1709395200],
				"indicators": {"quote": [{"close": [171.1, 172.5, 0]}]}
			}],
			"error": null
		}
	}`)

	p := NewYahooProviderWithBase(srv.URL, zerolog.Nop())
	quote, err := p.FetchLatestPrice(context.Background(), "SAP.DE")
	require.NoError(t, err)

	assert.True(t, quote.Price.Equal(decimal.NewFromFloat(172.5)), "last non-zero close wins")
	assert.Equal(t, time.Unix(1709308800, 0).UTC(), quote.AsOf)
}

func TestFetchLatestPriceNoData(t *testing.T) {
	srv := newStubServer(t, http.StatusOK, `{
		"chart": {
			"result": [{
				"meta": {"currency": "USD", "symbol": "EMPTY"},
				"timestamp": [],
				"indicators": {"quote": [{"close": []}]}
			}],
			"error": null
		}
	}`)

	p := NewYahooProviderWithBase(srv.URL, zerolog.Nop())
	_, err := p.FetchLatestPrice(context.Background(), "EMPTY")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoData)
	assert.True(t, IsPermanent(err))
}

func TestFetchLatestPriceNotFound(t *testing.T) {
	srv := newStubServer(t, http.StatusNotFound, `{}`)

	p := NewYahooProviderWithBase(srv.URL, zerolog.Nop())
	_, err := p.FetchLatestPrice(context.Background(), "NOPE")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownSymbol)
	assert.True(t, IsPermanent(err))
}

func TestFetchLatestPriceRateLimited(t *testing.T) {
	srv := newStubServer(t, http.StatusTooManyRequests, `{}`)

	p := NewYahooProviderWithBase(srv.URL, zerolog.Nop())
	_, err := p.FetchLatestPrice(context.Background(), "AAPL")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.False(t, IsPermanent(err), "rate limits are retriable")
}

func TestFetchLatestPriceProviderError(t *testing.T) {
	srv := newStubServer(t, http.StatusOK, `{
		"chart": {
			"result": [],
			"error": {"code": "Not Found", "description": "No data found, symbol may be delisted"}
		}
	}`)

	p := NewYahooProviderWithBase(srv.URL, zerolog.Nop())
	_, err := p.FetchLatestPrice(context.Background(), "DELISTED")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownSymbol)
	assert.True(t, IsPermanent(err))
}

func TestFetchLatestPriceMalformedBody(t *testing.T) {
	srv := newStubServer(t, http.StatusOK, `not json`)

	p := NewYahooProviderWithBase(srv.URL, zerolog.Nop())
	_, err := p.FetchLatestPrice(context.Background(), "AAPL")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedData)
	assert.True(t, IsPermanent(err))
}

func TestFetchDividends(t *testing.T) {
	srv := newStubServer(t, http.StatusOK, `{
		"chart": {
			"result": [{
				"meta": {"currency": "USD", "symbol": "AAPL"},
				"events": {
					"dividends": {
						"1707465600": {"amount": 0.24, "date": 1707465600},
						"1699574400": {"amount": 0.24, "date": 1699574400},
						"1691587200": {"amount": 0, "date": 1691587200}
					}
				},
				"indicators": {"quote": [{"close": []}]}
			}],
			"error": null
		}
	}`)

	p := NewYahooProviderWithBase(srv.URL, zerolog.Nop())

	since := time.Unix(1699574400, 0).UTC()
	payments, err := p.FetchDividends(context.Background(), "AAPL", since)
	require.NoError(t, err)

	require.Len(t, payments, 2, "zero amounts are dropped, cutoff is inclusive")
	for _, payment := range payments {
		assert.True(t, payment.AmountPerUnit.Equal(decimal.NewFromFloat(0.24)))
		assert.Equal(t, "USD", payment.Currency)
		assert.False(t, payment.ExDate.Before(since))
	}
}

func TestFetchDividendsRespectsSince(t *testing.T) {
	srv := newStubServer(t, http.StatusOK, `{
		"chart": {
			"result": [{
				"meta": {"currency": "USD", "symbol": "AAPL"},
				"events": {
					"dividends": {
						"1699574400": {"amount": 0.24, "date": 1699574400}
					}
				},
				"indicators": {"quote": [{"close": []}]}
			}],
			"error": null
		}
	}`)

	p := NewYahooProviderWithBase(srv.URL, zerolog.Nop())

	since := time.Unix(1699574400, 0).UTC().Add(24 * time.Hour)
	payments, err := p.FetchDividends(context.Background(), "AAPL", since)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestFetchLatestPriceHonorsContext(t *testing.T) {
	srv := newStubServer(t, http.StatusOK, `{}`)

	p := NewYahooProviderWithBase(srv.URL, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.FetchLatestPrice(ctx, "AAPL")
	require.Error(t, err)
}
