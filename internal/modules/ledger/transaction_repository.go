package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so that repository
// methods can run standalone or inside a caller-owned transaction.
type dbtx interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

const transactionColumns = `seq, id, portfolio_id, security_id, platform_id, transaction_type,
quantity, price_per_unit, trading_fees, stamp_duty, fx_fees, gross_amount, net_amount,
currency, fx_rate, notes, transaction_date, created_at`

// TransactionRepository handles the append-only transaction history in ledger.db.
type TransactionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *sql.DB, log zerolog.Logger) *TransactionRepository {
	return &TransactionRepository{
		db:  db,
		log: log.With().Str("repo", "transactions").Logger(),
	}
}

// Append inserts a transaction at the end of the ledger.
func (r *TransactionRepository) Append(t *Transaction) error {
	return r.AppendIn(r.db, t)
}

// AppendIn inserts a transaction using the given executor (a *sql.Tx when
// the caller needs the append to commit atomically with a holding
// recomputation). The transaction's ID, Seq and CreatedAt are populated.
func (r *TransactionRepository) AppendIn(q dbtx, t *Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t.Normalize()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO transactions
		(id, portfolio_id, security_id, platform_id, transaction_type,
		 quantity, price_per_unit, trading_fees, stamp_duty, fx_fees,
		 gross_amount, net_amount, currency, fx_rate, notes,
		 transaction_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := q.Exec(query,
		t.ID,
		t.PortfolioID,
		t.SecurityID,
		t.PlatformID,
		string(t.Type),
		t.Quantity.String(),
		t.PricePerUnit.String(),
		t.TradingFees.String(),
		t.StampDuty.String(),
		t.FXFees.String(),
		t.GrossAmount.String(),
		t.NetAmount.String(),
		t.Currency,
		t.FXRate.String(),
		t.Notes,
		t.Date.Unix(),
		t.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read transaction sequence: %w", err)
	}
	t.Seq = seq

	r.log.Debug().
		Str("id", t.ID).
		Str("key", t.Key().String()).
		Str("type", string(t.Type)).
		Msg("Transaction appended")

	return nil
}

// ListOrdered returns the full transaction sequence for a key in
// chronological order with the insertion sequence as tie-break.
func (r *TransactionRepository) ListOrdered(key Key) ([]Transaction, error) {
	return r.ListOrderedIn(r.db, key)
}

// ListOrderedIn is ListOrdered running on the given executor.
func (r *TransactionRepository) ListOrderedIn(q dbtx, key Key) ([]Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE portfolio_id = ? AND security_id = ? AND platform_id = ?
		ORDER BY transaction_date ASC, seq ASC`

	rows, err := q.Query(query, key.PortfolioID, key.SecurityID, key.PlatformID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions for %s: %w", key, err)
	}
	defer rows.Close()

	var transactions []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

// GetByID returns a single transaction, or ErrTransactionNotFound if absent.
func (r *TransactionRepository) GetByID(id string) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	rows, err := r.db.Query(query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrTransactionNotFound
	}

	t, err := scanTransaction(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	return &t, nil
}

// DeleteIn removes a transaction. Deletion is the one permitted mutation
// of the ledger and must run inside the same database transaction as the
// holding recomputation it triggers.
func (r *TransactionRepository) DeleteIn(q dbtx, id string) error {
	result, err := q.Exec("DELETE FROM transactions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction %s: %w", id, err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrTransactionNotFound
	}

	r.log.Info().Str("id", id).Msg("Transaction deleted")
	return nil
}

// ListDividendIncome returns all DIVIDEND transactions for a portfolio,
// most recent first. Dividend transactions are income records: they never
// participate in cost-basis aggregation.
func (r *TransactionRepository) ListDividendIncome(portfolioID string) ([]Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE portfolio_id = ? AND transaction_type = 'DIVIDEND'
		ORDER BY transaction_date DESC, seq DESC`

	rows, err := r.db.Query(query, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dividend income: %w", err)
	}
	defer rows.Close()

	var transactions []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dividend transaction: %w", err)
		}
		transactions = append(transactions, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dividend transactions: %w", err)
	}

	return transactions, nil
}

func scanTransaction(rows *sql.Rows) (Transaction, error) {
	var t Transaction
	var txType string
	var quantity, price, tradingFees, stampDuty, fxFees string
	var gross, net, fxRate string
	var dateUnix, createdUnix int64

	err := rows.Scan(
		&t.Seq,
		&t.ID,
		&t.PortfolioID,
		&t.SecurityID,
		&t.PlatformID,
		&txType,
		&quantity,
		&price,
		&tradingFees,
		&stampDuty,
		&fxFees,
		&gross,
		&net,
		&t.Currency,
		&fxRate,
		&t.Notes,
		&dateUnix,
		&createdUnix,
	)
	if err != nil {
		return t, err
	}

	t.Type = TransactionType(txType)
	t.Date = time.Unix(dateUnix, 0).UTC()
	t.CreatedAt = time.Unix(createdUnix, 0).UTC()

	for _, field := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&t.Quantity, quantity},
		{&t.PricePerUnit, price},
		{&t.TradingFees, tradingFees},
		{&t.StampDuty, stampDuty},
		{&t.FXFees, fxFees},
		{&t.GrossAmount, gross},
		{&t.NetAmount, net},
		{&t.FXRate, fxRate},
	} {
		d, err := decimal.NewFromString(field.src)
		if err != nil {
			return t, fmt.Errorf("invalid decimal %q in transaction %s: %w", field.src, t.ID, err)
		}
		*field.dst = d
	}

	return t, nil
}
