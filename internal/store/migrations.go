package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL UNIQUE,
	server     TEXT NOT NULL DEFAULT '',
	port       INTEGER NOT NULL DEFAULT 993,
	use_tls    INTEGER NOT NULL DEFAULT 1 CHECK(use_tls IN (0, 1)),
	starttls   INTEGER NOT NULL DEFAULT 0 CHECK(starttls IN (0, 1)),
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_accounts_created_at ON accounts(created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
