package universe

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// SecurityRepository handles security persistence in universe.db.
type SecurityRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSecurityRepository creates a new security repository
func NewSecurityRepository(db *sql.DB, log zerolog.Logger) *SecurityRepository {
	return &SecurityRepository{
		db:  db,
		log: log.With().Str("repo", "securities").Logger(),
	}
}

// Upsert inserts or updates a security.
func (r *SecurityRepository) Upsert(sec Security) error {
	sec.ID = strings.TrimSpace(sec.ID)
	sec.Symbol = strings.ToUpper(strings.TrimSpace(sec.Symbol))
	if sec.ID == "" || sec.Symbol == "" {
		return fmt.Errorf("security id and symbol are required")
	}

	query := `
		INSERT INTO securities (id, symbol, name, currency, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			symbol = excluded.symbol,
			name = excluded.name,
			currency = excluded.currency,
			active = excluded.active
	`

	_, err := r.db.Exec(query, sec.ID, sec.Symbol, sec.Name, sec.Currency, boolToInt(sec.Active))
	if err != nil {
		return fmt.Errorf("failed to upsert security %s: %w", sec.ID, err)
	}

	r.log.Debug().Str("id", sec.ID).Str("symbol", sec.Symbol).Msg("Security upserted")
	return nil
}

// GetByID returns a security, or ErrSecurityNotFound.
func (r *SecurityRepository) GetByID(id string) (*Security, error) {
	id = strings.TrimSpace(id)

	row := r.db.QueryRow(
		"SELECT id, symbol, name, currency, active FROM securities WHERE id = ?", id)

	var sec Security
	var active int
	err := row.Scan(&sec.ID, &sec.Symbol, &sec.Name, &sec.Currency, &active)
	if err == sql.ErrNoRows {
		return nil, ErrSecurityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query security %s: %w", id, err)
	}
	sec.Active = active != 0

	return &sec, nil
}

// ListActive returns all active securities ordered by id.
func (r *SecurityRepository) ListActive() ([]Security, error) {
	rows, err := r.db.Query(
		"SELECT id, symbol, name, currency, active FROM securities WHERE active = 1 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query active securities: %w", err)
	}
	defer rows.Close()

	var securities []Security
	for rows.Next() {
		var sec Security
		var active int
		if err := rows.Scan(&sec.ID, &sec.Symbol, &sec.Name, &sec.Currency, &active); err != nil {
			return nil, fmt.Errorf("failed to scan security: %w", err)
		}
		sec.Active = active != 0
		securities = append(securities, sec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating securities: %w", err)
	}

	return securities, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
