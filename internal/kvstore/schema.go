package kvstore

const schemaSQL = `
CREATE TABLE IF NOT EXISTS kv (
	key   BLOB PRIMARY KEY,
	value BLOB NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS wal (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	batch      BLOB NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS wal_meta (
	k TEXT PRIMARY KEY,
	v TEXT NOT NULL
);
`
