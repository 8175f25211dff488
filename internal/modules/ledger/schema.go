package ledger

// Schema defines the transactions table in ledger.db.
// Monetary values are stored as TEXT to preserve exact decimal digits;
// they are parsed back into decimals on scan. seq is the insertion
// sequence used as the stable tie-break for same-date transactions.
const Schema = `
CREATE TABLE IF NOT EXISTS transactions (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	id               TEXT NOT NULL UNIQUE,
	portfolio_id     TEXT NOT NULL,
	security_id      TEXT NOT NULL,
	platform_id      TEXT NOT NULL,
	transaction_type TEXT NOT NULL CHECK (transaction_type IN ('BUY', 'SELL', 'DIVIDEND')),
	quantity         TEXT NOT NULL,
	price_per_unit   TEXT NOT NULL,
	trading_fees     TEXT NOT NULL DEFAULT '0',
	stamp_duty       TEXT NOT NULL DEFAULT '0',
	fx_fees          TEXT NOT NULL DEFAULT '0',
	gross_amount     TEXT NOT NULL,
	net_amount       TEXT NOT NULL,
	currency         TEXT NOT NULL,
	fx_rate          TEXT NOT NULL DEFAULT '1',
	notes            TEXT NOT NULL DEFAULT '',
	transaction_date INTEGER NOT NULL,
	created_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_key_order
	ON transactions (portfolio_id, security_id, platform_id, transaction_date, seq);
`
