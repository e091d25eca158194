package store

// schema is the SQLite DDL for the crawl state. It generalizes the table set
// of dankinder-walker/cassandra/schema.go (links, segments, domain_info) into
// a single relational schema where claims are expressed as row updates inside
// a SQLite transaction instead of Cassandra compare-and-set queries.
const schema = `
-- urls is the single table driving the crawl state machine (one row per
-- normalized URL). Status walks new -> dispatched -> fetched -> parsing ->
-- parsed -> indexing -> indexed, with retries bounded reverts back to an
-- earlier status and an error status if retries are exhausted.
CREATE TABLE IF NOT EXISTS urls (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	url           TEXT NOT NULL UNIQUE,
	host          TEXT NOT NULL,
	created_at    DATETIME NOT NULL,
	status        TEXT NOT NULL DEFAULT '',
	retries       INTEGER NOT NULL DEFAULT 0,
	dispatched_at DATETIME,
	downloaded_at DATETIME,
	mime_type     TEXT NOT NULL DEFAULT '',
	http_status   INTEGER NOT NULL DEFAULT 0,
	size_bytes    INTEGER NOT NULL DEFAULT 0,
	document      TEXT NOT NULL DEFAULT '',
	has_abc       INTEGER NOT NULL DEFAULT 0,
	url_extension TEXT NOT NULL DEFAULT '',
	link_distance INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_urls_status_priority
	ON urls (status, has_abc DESC, created_at ASC);

CREATE INDEX IF NOT EXISTS idx_urls_host ON urls (host);

-- hosts holds the politeness/fault-tolerance state the host policy (§4.2)
-- consults before any URL belonging to that host can be claimed.
CREATE TABLE IF NOT EXISTS hosts (
	host             TEXT PRIMARY KEY,
	last_access      DATETIME,
	last_http_status INTEGER NOT NULL DEFAULT 0,
	downloads        INTEGER NOT NULL DEFAULT 0,
	disabled         INTEGER NOT NULL DEFAULT 0,
	disabled_reason  TEXT NOT NULL DEFAULT '',
	disabled_at      DATETIME
);

-- tunebooks groups the tunes parsed out of a single source URL, and is the
-- unit of work an Indexer claims.
CREATE TABLE IF NOT EXISTS tunebooks (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	url        TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'new',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tunebooks_status ON tunebooks (status, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_tunebooks_url ON tunebooks (url);

CREATE TABLE IF NOT EXISTS tunes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	tunebook_id INTEGER NOT NULL REFERENCES tunebooks(id),
	title       TEXT NOT NULL DEFAULT '',
	composer    TEXT NOT NULL DEFAULT '',
	key         TEXT NOT NULL DEFAULT '',
	rhythm      TEXT NOT NULL DEFAULT '',
	tune_body   TEXT NOT NULL DEFAULT '',
	pitches     TEXT NOT NULL DEFAULT '',
	intervals   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tunes_tunebook ON tunes (tunebook_id);

-- processes is the supervisor's process registry: one row per worker the
-- supervisor has started, independent of the crawl state above.
CREATE TABLE IF NOT EXISTS processes (
	role       TEXT NOT NULL,
	id         TEXT NOT NULL,
	pid        INTEGER NOT NULL DEFAULT 0,
	status     TEXT NOT NULL DEFAULT 'stopped',
	started_at DATETIME,
	PRIMARY KEY (role, id)
);
`
