package dividends

// Schema defines the dividend_history table in history.db.
const Schema = `
CREATE TABLE IF NOT EXISTS dividend_history (
	security_id     TEXT NOT NULL,
	ex_date         TEXT NOT NULL,
	amount_per_unit TEXT NOT NULL,
	currency        TEXT NOT NULL DEFAULT '',
	updated_at      INTEGER NOT NULL,
	PRIMARY KEY (security_id, ex_date)
);
`
