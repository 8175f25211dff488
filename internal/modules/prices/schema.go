package prices

// Schema defines the price_history table in history.db.
const Schema = `
CREATE TABLE IF NOT EXISTS price_history (
	security_id TEXT NOT NULL,
	price_date  TEXT NOT NULL,
	close_price TEXT NOT NULL,
	currency    TEXT NOT NULL DEFAULT '',
	as_of       INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL,
	PRIMARY KEY (security_id, price_date)
);
`
