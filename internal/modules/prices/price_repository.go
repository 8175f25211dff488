package prices

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Repository handles price history persistence in history.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new price repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "prices").Logger(),
	}
}

// Upsert writes a price observation, last write wins per (security, day).
func (r *Repository) Upsert(rec Record) error {
	if rec.SecurityID == "" || rec.Date == "" {
		return fmt.Errorf("price record requires security id and date")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO price_history (security_id, price_date, close_price, currency, as_of, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (security_id, price_date) DO UPDATE SET
			close_price = excluded.close_price,
			currency = excluded.currency,
			as_of = excluded.as_of,
			updated_at = excluded.updated_at
	`

	_, err := r.db.Exec(query,
		rec.SecurityID,
		rec.Date,
		rec.ClosePrice.String(),
		rec.Currency,
		rec.AsOf.Unix(),
		rec.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert price for %s on %s: %w", rec.SecurityID, rec.Date, err)
	}

	return nil
}

// Latest returns the most recent price record of a security, or nil if
// no price has been refreshed yet.
func (r *Repository) Latest(securityID string) (*Record, error) {
	row := r.db.QueryRow(
		`SELECT security_id, price_date, close_price, currency, as_of, updated_at
		 FROM price_history WHERE security_id = ?
		 ORDER BY price_date DESC LIMIT 1`, securityID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest price for %s: %w", securityID, err)
	}

	return rec, nil
}

// History returns the price records of a security, most recent first.
func (r *Repository) History(securityID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(
		`SELECT security_id, price_date, close_price, currency, as_of, updated_at
		 FROM price_history WHERE security_id = ?
		 ORDER BY price_date DESC LIMIT ?`, securityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history for %s: %w", securityID, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var closePrice string
		var asOfUnix, updatedUnix int64

		err := rows.Scan(&rec.SecurityID, &rec.Date, &closePrice, &rec.Currency, &asOfUnix, &updatedUnix)
		if err != nil {
			return nil, fmt.Errorf("failed to scan price record: %w", err)
		}

		if rec.ClosePrice, err = decimal.NewFromString(closePrice); err != nil {
			return nil, fmt.Errorf("invalid close price %q: %w", closePrice, err)
		}
		rec.AsOf = time.Unix(asOfUnix, 0).UTC()
		rec.UpdatedAt = time.Unix(updatedUnix, 0).UTC()
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price history: %w", err)
	}

	return records, nil
}

// Count returns the number of stored price rows for a security.
func (r *Repository) Count(securityID string) (int, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM price_history WHERE security_id = ?", securityID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count price history for %s: %w", securityID, err)
	}
	return count, nil
}

func scanRecord(row *sql.Row) (*Record, error) {
	var rec Record
	var closePrice string
	var asOfUnix, updatedUnix int64

	err := row.Scan(&rec.SecurityID, &rec.Date, &closePrice, &rec.Currency, &asOfUnix, &updatedUnix)
	if err != nil {
		return nil, err
	}

	if rec.ClosePrice, err = decimal.NewFromString(closePrice); err != nil {
		return nil, fmt.Errorf("invalid close price %q: %w", closePrice, err)
	}
	rec.AsOf = time.Unix(asOfUnix, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedUnix, 0).UTC()

	return &rec, nil
}
