package universe

// Schema defines the securities table in universe.db.
const Schema = `
CREATE TABLE IF NOT EXISTS securities (
	id       TEXT PRIMARY KEY,
	symbol   TEXT NOT NULL,
	name     TEXT NOT NULL DEFAULT '',
	currency TEXT NOT NULL DEFAULT '',
	active   INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_securities_symbol ON securities (symbol);
`
