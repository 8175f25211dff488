package holdings

// Schema defines the holdings table in ledger.db. Holdings live next to
// the transactions table so a ledger append and the recomputation it
// triggers commit in one database transaction.
const Schema = `
CREATE TABLE IF NOT EXISTS holdings (
	portfolio_id    TEXT NOT NULL,
	security_id     TEXT NOT NULL,
	platform_id     TEXT NOT NULL,
	quantity        TEXT NOT NULL,
	average_cost    TEXT NOT NULL,
	total_cost      TEXT NOT NULL,
	currency        TEXT NOT NULL,
	current_price   TEXT,
	price_as_of     INTEGER,
	last_updated    INTEGER NOT NULL,
	PRIMARY KEY (portfolio_id, security_id, platform_id)
);

CREATE INDEX IF NOT EXISTS idx_holdings_security ON holdings (security_id);
`
