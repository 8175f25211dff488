package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	yahooChartURL = "https://query1.finance.yahoo.com/v8/finance/chart"

	// Yahoo rejects requests without a browser-like user agent.
	yahooUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// YahooProvider fetches quotes and dividends from the Yahoo Finance
// v8 chart API. It is safe for concurrent use.
type YahooProvider struct {
	client  *http.Client
	baseURL string
	log     zerolog.Logger
}

// NewYahooProvider creates a Yahoo provider with a bounded HTTP client.
func NewYahooProvider(log zerolog.Logger) *YahooProvider {
	return &YahooProvider{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: yahooChartURL,
		log:     log.With().Str("component", "yahoo").Logger(),
	}
}

// NewYahooProviderWithBase is used by tests to point at a stub server.
func NewYahooProviderWithBase(baseURL string, log zerolog.Logger) *YahooProvider {
	p := NewYahooProvider(log)
	p.baseURL = baseURL
	return p
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string  `json:"currency"`
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
			Timestamp []int64 `json:"timestamp"`
			Events    struct {
				Dividends map[string]struct {
					Amount float64 `json:"amount"`
					Date   int64   `json:"date"`
				} `json:"dividends"`
			} `json:"events"`
			Indicators struct {
				Quote []struct {
					Close []float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchLatestPrice returns the regular market price for a symbol,
// falling back to the most recent non-zero daily close when the meta
// price is absent.
func (p *YahooProvider) FetchLatestPrice(ctx context.Context, symbol string) (Quote, error) {
	params := url.Values{}
	params.Set("range", "5d")
	params.Set("interval", "1d")

	body, err := p.fetchChart(ctx, symbol, params)
	if err != nil {
		return Quote{}, err
	}

	result := body.Chart.Result[0]
	meta := result.Meta

	if meta.RegularMarketPrice > 0 {
		return Quote{
			Price:    decimal.NewFromFloat(meta.RegularMarketPrice),
			Currency: meta.Currency,
			AsOf:     time.Unix(meta.RegularMarketTime, 0).UTC(),
		}, nil
	}

	// Scan backwards for the last non-zero close.
	if len(result.Indicators.Quote) > 0 {
		closes := result.Indicators.Quote[0].Close
		for i := len(closes) - 1; i >= 0; i-- {
			if closes[i] > 0 && i < len(result.Timestamp) {
				return Quote{
					Price:    decimal.NewFromFloat(closes[i]),
					Currency: meta.Currency,
					AsOf:     time.Unix(result.Timestamp[i], 0).UTC(),
				}, nil
			}
		}
	}

	return Quote{}, Permanent(fmt.Errorf("%w: %s", ErrNoData, symbol))
}

// FetchDividends returns dividends with an ex-date at or after since.
func (p *YahooProvider) FetchDividends(ctx context.Context, symbol string, since time.Time) ([]DividendPayment, error) {
	params := url.Values{}
	params.Set("period1", fmt.Sprintf("%d", since.Unix()))
	params.Set("period2", fmt.Sprintf("%d", time.Now().Unix()))
	params.Set("interval", "1d")
	params.Set("events", "div")

	body, err := p.fetchChart(ctx, symbol, params)
	if err != nil {
		return nil, err
	}

	result := body.Chart.Result[0]
	payments := make([]DividendPayment, 0, len(result.Events.Dividends))
	for _, div := range result.Events.Dividends {
		if div.Amount <= 0 {
			continue
		}
		exDate := time.Unix(div.Date, 0).UTC()
		if exDate.Before(since) {
			continue
		}
		payments = append(payments, DividendPayment{
			ExDate:        exDate,
			AmountPerUnit: decimal.NewFromFloat(div.Amount),
			Currency:      result.Meta.Currency,
		})
	}
	return payments, nil
}

func (p *YahooProvider) fetchChart(ctx context.Context, symbol string, params url.Values) (*yahooChartResponse, error) {
	endpoint := fmt.Sprintf("%s/%s?%s", p.baseURL, url.PathEscape(symbol), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", symbol, err)
	}
	req.Header.Set("User-Agent", yahooUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, Permanent(fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, symbol)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, symbol)
	}

	var body yahooChartResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, Permanent(fmt.Errorf("%w: decoding %s: %v", ErrMalformedData, symbol, err))
	}

	if body.Chart.Error != nil {
		if body.Chart.Error.Code == "Not Found" {
			return nil, Permanent(fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol))
		}
		return nil, fmt.Errorf("provider error for %s: %s", symbol, body.Chart.Error.Description)
	}
	if len(body.Chart.Result) == 0 {
		return nil, Permanent(fmt.Errorf("%w: %s", ErrNoData, symbol))
	}

	p.log.Debug().Str("symbol", symbol).Msg("chart fetched")
	return &body, nil
}
