package holdings

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/tracker/internal/database"
	"github.com/aristath/tracker/internal/modules/ledger"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Service owns the transaction-write path: append to the ledger,
// recompute the holding of the touched key, and commit both atomically.
//
// Recomputation is a full replay of the key's ordered transaction
// sequence. A per-key mutex serializes writers of the same key so two
// concurrent recomputations cannot interleave; readers take snapshot
// reads and are never blocked.
type Service struct {
	db           *sql.DB
	transactions *ledger.TransactionRepository
	holdings     *Repository
	log          zerolog.Logger

	mu       sync.Mutex
	keyLocks map[ledger.Key]*sync.Mutex
}

// NewService creates a new holdings service
func NewService(db *sql.DB, transactions *ledger.TransactionRepository, holdings *Repository, log zerolog.Logger) *Service {
	return &Service{
		db:           db,
		transactions: transactions,
		holdings:     holdings,
		log:          log.With().Str("service", "holdings").Logger(),
		keyLocks:     make(map[ledger.Key]*sync.Mutex),
	}
}

// lockKey acquires the single-writer lock of a key and returns the
// unlock function. Locks are created on first use and kept for the
// life of the process (bounded by the number of distinct keys).
func (s *Service) lockKey(key ledger.Key) func() {
	s.mu.Lock()
	l, ok := s.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.keyLocks[key] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// RecordTransaction appends a transaction and recomputes the holding of
// its key in one database transaction. If the recomputation fails, for
// example a SELL exceeding the held quantity, everything is rolled back
// and the ledger and holding are unchanged.
func (s *Service) RecordTransaction(t *ledger.Transaction) (*Holding, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	key := t.Key()
	unlock := s.lockKey(key)
	defer unlock()

	var holding *Holding
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if err := s.transactions.AppendIn(tx, t); err != nil {
			return err
		}
		h, err := s.recomputeIn(tx, key, t.Currency)
		if err != nil {
			return err
		}
		holding = h
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("key", key.String()).
		Str("type", string(t.Type)).
		Str("quantity", t.Quantity.String()).
		Msg("Transaction recorded")

	return holding, nil
}

// DeleteTransaction removes a ledger entry and recomputes the holding
// from the surviving history. If removing the entry would invalidate a
// later SELL of the same key, the replay fails and the deletion is
// rolled back.
func (s *Service) DeleteTransaction(id string) error {
	t, err := s.transactions.GetByID(id)
	if err != nil {
		return err
	}

	key := t.Key()
	unlock := s.lockKey(key)
	defer unlock()

	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if err := s.transactions.DeleteIn(tx, id); err != nil {
			return err
		}

		remaining, err := s.transactions.ListOrderedIn(tx, key)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			// Key has no history left, the derived holding goes too.
			return s.holdings.DeleteIn(tx, key)
		}

		_, err = s.recomputeIn(tx, key, t.Currency)
		return err
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("id", id).Str("key", key.String()).Msg("Transaction deleted, holding recomputed")
	return nil
}

// recomputeIn replays the key's full history inside the caller's
// database transaction and upserts the resulting holding.
func (s *Service) recomputeIn(tx *sql.Tx, key ledger.Key, currency string) (*Holding, error) {
	sequence, err := s.transactions.ListOrderedIn(tx, key)
	if err != nil {
		return nil, err
	}

	position, err := Replay(sequence)
	if err != nil {
		return nil, err
	}

	if len(sequence) > 0 {
		currency = sequence[len(sequence)-1].Currency
	}

	h := &Holding{
		Key:         key,
		Position:    position,
		Currency:    currency,
		LastUpdated: time.Now().UTC(),
	}
	if err := s.holdings.UpsertIn(tx, h); err != nil {
		return nil, err
	}

	return h, nil
}

// GetHolding returns the current holding of a key (snapshot read).
func (s *Service) GetHolding(key ledger.Key) (*Holding, error) {
	return s.holdings.GetByKey(key)
}

// ListHoldings returns all holdings of a portfolio (snapshot read).
func (s *Service) ListHoldings(portfolioID string) ([]Holding, error) {
	return s.holdings.ListByPortfolio(portfolioID)
}

// Summary aggregates the valuation of a portfolio's holdings.
func (s *Service) Summary(portfolioID string) (PortfolioSummary, error) {
	hs, err := s.holdings.ListByPortfolio(portfolioID)
	if err != nil {
		return PortfolioSummary{}, fmt.Errorf("failed to list holdings for summary: %w", err)
	}
	return Summarize(portfolioID, hs), nil
}

// ApplyPrice stores a refreshed market price on all holdings of a
// security. Last write wins, so redelivered refresh jobs are harmless.
func (s *Service) ApplyPrice(securityID string, price decimal.Decimal, asOf time.Time) error {
	return s.holdings.UpdatePrice(securityID, price, asOf)
}

// HeldSecurities returns the de-duplicated security ids with a positive
// position in any portfolio.
func (s *Service) HeldSecurities() ([]string, error) {
	return s.holdings.DistinctHeldSecurities()
}
