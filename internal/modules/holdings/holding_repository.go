package holdings

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/tracker/internal/modules/ledger"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so writes can join the
// caller's database transaction.
type dbtx interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

const holdingColumns = `portfolio_id, security_id, platform_id, quantity, average_cost,
total_cost, currency, current_price, price_as_of, last_updated`

// Repository handles holding persistence in ledger.db.
// Reads are plain snapshot reads; writes go through UpsertIn/DeleteIn so
// the service can keep them atomic with the ledger mutation that caused
// them.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new holding repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "holdings").Logger(),
	}
}

// UpsertIn writes the recomputed state of a key. The current price
// columns are preserved: recomputation changes the position, not the
// market data.
func (r *Repository) UpsertIn(q dbtx, h *Holding) error {
	if h.LastUpdated.IsZero() {
		h.LastUpdated = time.Now().UTC()
	}

	query := `
		INSERT INTO holdings
		(portfolio_id, security_id, platform_id, quantity, average_cost,
		 total_cost, currency, current_price, price_as_of, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?)
		ON CONFLICT (portfolio_id, security_id, platform_id) DO UPDATE SET
			quantity = excluded.quantity,
			average_cost = excluded.average_cost,
			total_cost = excluded.total_cost,
			currency = excluded.currency,
			last_updated = excluded.last_updated
	`

	_, err := q.Exec(query,
		h.Key.PortfolioID,
		h.Key.SecurityID,
		h.Key.PlatformID,
		h.Position.Quantity.String(),
		h.Position.AverageCost.String(),
		h.Position.TotalCost.String(),
		h.Currency,
		h.LastUpdated.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert holding %s: %w", h.Key, err)
	}

	return nil
}

// DeleteIn removes the holding of a key. Used only when the key's last
// transaction has been deleted: a key with history keeps its holding,
// even at quantity zero.
func (r *Repository) DeleteIn(q dbtx, key ledger.Key) error {
	_, err := q.Exec(
		"DELETE FROM holdings WHERE portfolio_id = ? AND security_id = ? AND platform_id = ?",
		key.PortfolioID, key.SecurityID, key.PlatformID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete holding %s: %w", key, err)
	}
	return nil
}

// GetByKey returns the holding of a key, or nil if the key has no history.
func (r *Repository) GetByKey(key ledger.Key) (*Holding, error) {
	query := `SELECT ` + holdingColumns + ` FROM holdings
		WHERE portfolio_id = ? AND security_id = ? AND platform_id = ?`

	rows, err := r.db.Query(query, key.PortfolioID, key.SecurityID, key.PlatformID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holding %s: %w", key, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	h, err := scanHolding(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan holding: %w", err)
	}

	return &h, nil
}

// ListByPortfolio returns all holdings of a portfolio.
func (r *Repository) ListByPortfolio(portfolioID string) ([]Holding, error) {
	query := `SELECT ` + holdingColumns + ` FROM holdings WHERE portfolio_id = ?
		ORDER BY security_id ASC, platform_id ASC`
	return r.list(query, portfolioID)
}

// ListAll returns every holding.
func (r *Repository) ListAll() ([]Holding, error) {
	query := `SELECT ` + holdingColumns + ` FROM holdings
		ORDER BY portfolio_id ASC, security_id ASC, platform_id ASC`
	return r.list(query)
}

func (r *Repository) list(query string, args ...interface{}) ([]Holding, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	var holdings []Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holdings: %w", err)
	}

	return holdings, nil
}

// DistinctHeldSecurities returns the de-duplicated set of security ids
// with a positive quantity in any portfolio. This is the fan-out input
// of the refresh coordinator.
func (r *Repository) DistinctHeldSecurities() ([]string, error) {
	rows, err := r.db.Query(
		"SELECT DISTINCT security_id FROM holdings WHERE CAST(quantity AS REAL) > 0 ORDER BY security_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query held securities: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan security id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating held securities: %w", err)
	}

	return ids, nil
}

// UpdatePrice stores the latest market price on every holding of a
// security. Last write wins per security.
func (r *Repository) UpdatePrice(securityID string, price decimal.Decimal, asOf time.Time) error {
	result, err := r.db.Exec(
		`UPDATE holdings SET current_price = ?, price_as_of = ?, last_updated = ?
		 WHERE security_id = ?`,
		price.String(), asOf.Unix(), time.Now().UTC().Unix(), securityID,
	)
	if err != nil {
		return fmt.Errorf("failed to update price for %s: %w", securityID, err)
	}

	affected, _ := result.RowsAffected()
	r.log.Debug().
		Str("security", securityID).
		Str("price", price.String()).
		Int64("holdings", affected).
		Msg("Holding prices updated")

	return nil
}

func scanHolding(rows *sql.Rows) (Holding, error) {
	var h Holding
	var quantity, averageCost, totalCost string
	var currentPrice sql.NullString
	var priceAsOf sql.NullInt64
	var lastUpdated int64

	err := rows.Scan(
		&h.Key.PortfolioID,
		&h.Key.SecurityID,
		&h.Key.PlatformID,
		&quantity,
		&averageCost,
		&totalCost,
		&h.Currency,
		&currentPrice,
		&priceAsOf,
		&lastUpdated,
	)
	if err != nil {
		return h, err
	}

	if h.Position.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return h, fmt.Errorf("invalid quantity %q: %w", quantity, err)
	}
	if h.Position.AverageCost, err = decimal.NewFromString(averageCost); err != nil {
		return h, fmt.Errorf("invalid average cost %q: %w", averageCost, err)
	}
	if h.Position.TotalCost, err = decimal.NewFromString(totalCost); err != nil {
		return h, fmt.Errorf("invalid total cost %q: %w", totalCost, err)
	}

	if currentPrice.Valid {
		price, err := decimal.NewFromString(currentPrice.String)
		if err != nil {
			return h, fmt.Errorf("invalid current price %q: %w", currentPrice.String, err)
		}
		h.CurrentPrice = &price
	}
	if priceAsOf.Valid {
		t := time.Unix(priceAsOf.Int64, 0).UTC()
		h.PriceAsOf = &t
	}
	h.LastUpdated = time.Unix(lastUpdated, 0).UTC()

	return h, nil
}
