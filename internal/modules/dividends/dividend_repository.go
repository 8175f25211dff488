package dividends

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Repository handles dividend history persistence in history.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new dividend repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "dividends").Logger(),
	}
}

// Upsert writes a dividend record, last write wins per (security, ex-date).
func (r *Repository) Upsert(rec Record) error {
	if rec.SecurityID == "" || rec.ExDate == "" {
		return fmt.Errorf("dividend record requires security id and ex-date")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO dividend_history (security_id, ex_date, amount_per_unit, currency, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (security_id, ex_date) DO UPDATE SET
			amount_per_unit = excluded.amount_per_unit,
			currency = excluded.currency,
			updated_at = excluded.updated_at
	`

	_, err := r.db.Exec(query,
		rec.SecurityID,
		rec.ExDate,
		rec.AmountPerUnit.String(),
		rec.Currency,
		rec.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert dividend for %s on %s: %w", rec.SecurityID, rec.ExDate, err)
	}

	return nil
}

// ListBySecurity returns the dividend records of a security, most recent first.
func (r *Repository) ListBySecurity(securityID string) ([]Record, error) {
	rows, err := r.db.Query(
		`SELECT security_id, ex_date, amount_per_unit, currency, updated_at
		 FROM dividend_history WHERE security_id = ?
		 ORDER BY ex_date DESC`, securityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dividends for %s: %w", securityID, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var amount string
		var updatedUnix int64

		if err := rows.Scan(&rec.SecurityID, &rec.ExDate, &amount, &rec.Currency, &updatedUnix); err != nil {
			return nil, fmt.Errorf("failed to scan dividend record: %w", err)
		}

		if rec.AmountPerUnit, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid dividend amount %q: %w", amount, err)
		}
		rec.UpdatedAt = time.Unix(updatedUnix, 0).UTC()
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dividends: %w", err)
	}

	return records, nil
}

// Count returns the number of stored dividend rows for a security.
func (r *Repository) Count(securityID string) (int, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM dividend_history WHERE security_id = ?", securityID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dividends for %s: %w", securityID, err)
	}
	return count, nil
}
