package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of directory schema migrations.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL,
	age        INTEGER,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS contacts (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL REFERENCES users(id),
	contact_name TEXT NOT NULL,
	phone_number TEXT NOT NULL,
	email        TEXT NOT NULL,
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contacts_user_id ON contacts(user_id);
`,
	},
	{
		version: 2,
		sql: `
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email);
`,
	},
}
