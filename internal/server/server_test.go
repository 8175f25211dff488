package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tracker/internal/database"
	"github.com/aristath/tracker/internal/modules/dividends"
	"github.com/aristath/tracker/internal/modules/holdings"
	"github.com/aristath/tracker/internal/modules/ledger"
	"github.com/aristath/tracker/internal/modules/prices"
	"github.com/aristath/tracker/internal/modules/universe"
	"github.com/aristath/tracker/internal/queue"
	"github.com/aristath/tracker/internal/refresh"
	testhelpers "github.com/aristath/tracker/internal/testing"
)

type testServer struct {
	srv      *Server
	holdings *holdings.Service
	manager  *queue.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zerolog.Nop()

	ledgerDB, cleanLedger := testhelpers.NewTestDB(t, "ledger", ledger.Schema, holdings.Schema)
	universeDB, cleanUniverse := testhelpers.NewTestDB(t, "universe", universe.Schema)
	historyDB, cleanHistory := testhelpers.NewTestDB(t, "history", prices.Schema, dividends.Schema)
	jobsDB, cleanJobs := testhelpers.NewTestDB(t, "jobs", queue.Schema)
	t.Cleanup(func() {
		cleanJobs()
		cleanHistory()
		cleanUniverse()
		cleanLedger()
	})

	transactions := ledger.NewTransactionRepository(ledgerDB.Conn(), log)
	holdingRepo := holdings.NewRepository(ledgerDB.Conn(), log)
	holdingService := holdings.NewService(ledgerDB.Conn(), transactions, holdingRepo, log)
	securities := universe.NewSecurityRepository(universeDB.Conn(), log)
	priceRepo := prices.NewRepository(historyDB.Conn(), log)
	dividendRepo := dividends.NewRepository(historyDB.Conn(), log)
	manager := queue.NewManager(jobsDB.Conn(), queue.DefaultOptions(), nil, log)
	coordinator := refresh.NewCoordinator(holdingService, securities, manager, 365*24*time.Hour, log)

	srv := New(Config{
		Log:          log,
		Port:         0,
		DevMode:      true,
		Holdings:     holdingService,
		Transactions: transactions,
		Securities:   securities,
		Prices:       priceRepo,
		Dividends:    dividendRepo,
		Coordinator:  coordinator,
		Queue:        manager,
		Databases: map[string]*database.DB{
			"ledger": ledgerDB,
		},
	})

	return &testServer{srv: srv, holdings: holdingService, manager: manager}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

func transactionBody(txType string) map[string]interface{} {
	return map[string]interface{}{
		"portfolio_id":   "p1",
		"security_id":    "s1",
		"platform_id":    "pl1",
		"type":           txType,
		"quantity":       "10",
		"price_per_unit": "150",
		"trading_fees":   "20",
		"currency":       "USD",
		"date":           "2024-01-02",
	}
}

func TestCreateTransaction(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/transactions", transactionBody("BUY"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp TransactionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "BUY", resp.Type)
	assert.Equal(t, "1500", resp.GrossAmount)
	assert.Equal(t, "1520", resp.NetAmount)
	require.NotNil(t, resp.Holding)
	assert.Equal(t, "10", resp.Holding.Quantity)
	assert.Equal(t, "152", resp.Holding.AverageCost)
}

func TestCreateTransactionValidation(t *testing.T) {
	ts := newTestServer(t)

	body := transactionBody("BUY")
	body["quantity"] = "0"
	rec := ts.do(t, http.MethodPost, "/api/transactions", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = transactionBody("TRANSFER")
	rec = ts.do(t, http.MethodPost, "/api/transactions", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = transactionBody("BUY")
	body["date"] = "02/01/2024"
	rec = ts.do(t, http.MethodPost, "/api/transactions", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTransactionOverSell(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/transactions", transactionBody("BUY"))
	require.Equal(t, http.StatusCreated, rec.Code)

	over := transactionBody("SELL")
	over["quantity"] = "11"
	rec = ts.do(t, http.MethodPost, "/api/transactions", over)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListTransactions(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/transactions", transactionBody("BUY"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/transactions?portfolio_id=p1&security_id=s1&platform_id=pl1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []TransactionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp, 1)

	rec = ts.do(t, http.MethodGet, "/api/transactions", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "key is required")
}

func TestDeleteTransaction(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/transactions", transactionBody("BUY"))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created TransactionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = ts.do(t, http.MethodDelete, "/api/transactions/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/transactions/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHoldingsAndSummary(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/transactions", transactionBody("BUY"))
	require.Equal(t, http.StatusCreated, rec.Code)

	require.NoError(t, ts.holdings.ApplyPrice("s1", decimal.RequireFromString("160"), time.Now()))

	rec = ts.do(t, http.MethodGet, "/api/portfolios/p1/holdings", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var hs []HoldingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hs))
	require.Len(t, hs, 1)
	assert.Equal(t, "10", hs[0].Quantity)
	require.NotNil(t, hs[0].CurrentValue)
	assert.Equal(t, "1600", *hs[0].CurrentValue)
	require.NotNil(t, hs[0].GainLossPct)
	assert.Equal(t, "5.26", *hs[0].GainLossPct)

	rec = ts.do(t, http.MethodGet, "/api/portfolios/p1/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary SummaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "1520", summary.TotalCost)
	assert.Equal(t, "1600", summary.TotalValue)
	assert.Equal(t, "80", summary.TotalGainLoss)
}

func TestHoldingsEmptyPortfolio(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/portfolios/none/holdings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestSecurityUpsertAndList(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/securities", map[string]interface{}{
		"id": "sec-1", "symbol": "aapl", "name": "Apple", "currency": "USD",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/securities", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var secs []universe.Security
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &secs))
	require.Len(t, secs, 1)
	assert.Equal(t, "AAPL", secs[0].Symbol, "symbols are normalized to upper case")

	rec = ts.do(t, http.MethodPost, "/api/securities", map[string]interface{}{"id": "", "symbol": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshTriggerAndJobStats(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/refresh/prices", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// Same trigger while pending: coalesced.
	rec = ts.do(t, http.MethodPost, "/api/refresh/prices", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats []queue.QueueStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Len(t, stats, 3)

	var coordination queue.QueueStats
	for _, s := range stats {
		if s.Queue == queue.QueueCoordination {
			coordination = s
		}
	}
	assert.Equal(t, 1, coordination.Queued)
}

func TestDeadJobsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	created, err := ts.manager.Enqueue(queue.QueuePrices, "refresh_price", "sec-1", "", nil)
	require.NoError(t, err)
	require.True(t, created)

	job, err := ts.manager.Store().Claim(queue.QueuePrices)
	require.NoError(t, err)
	require.NoError(t, ts.manager.Store().Nack(job.ID, fmt.Errorf("unknown symbol"), true))

	rec := ts.do(t, http.MethodGet, "/api/jobs/dead", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var dead []JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dead))
	require.Len(t, dead, 1)
	assert.Equal(t, "dead", dead[0].State)

	rec = ts.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/retry", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "job is no longer dead")
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestSystemStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/system/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SystemStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.GreaterOrEqual(t, resp.MemoryTotalMB, uint64(0))
}
