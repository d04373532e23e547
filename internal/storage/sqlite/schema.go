package sqlite

// Schema creates the durable memory tier and the turn-indexed result store.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
	id                 TEXT PRIMARY KEY,
	kind               TEXT NOT NULL,
	key                TEXT NOT NULL,
	value              TEXT NOT NULL,
	source_turn        INTEGER NOT NULL DEFAULT 0,
	last_recalled_turn INTEGER NOT NULL DEFAULT 0,
	heat               REAL NOT NULL DEFAULT 1.0,
	confidence         REAL NOT NULL DEFAULT 1.0,
	status             TEXT NOT NULL DEFAULT 'active',
	index_text         TEXT NOT NULL,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_kind_key ON memories(kind, key);
CREATE INDEX IF NOT EXISTS idx_memories_heat ON memories(heat DESC);

CREATE TABLE IF NOT EXISTS turn_results (
	turn           INTEGER PRIMARY KEY,
	user_message   TEXT NOT NULL,
	response       TEXT NOT NULL,
	prompt_block   TEXT NOT NULL DEFAULT '',
	latency_ms     INTEGER NOT NULL DEFAULT 0,
	memories_used  TEXT NOT NULL DEFAULT '[]',
	memories_added TEXT NOT NULL DEFAULT '[]',
	evicted        TEXT NOT NULL DEFAULT '[]',
	extracted      INTEGER NOT NULL DEFAULT 0,
	curator_ops    TEXT NOT NULL DEFAULT '{}',
	pending        INTEGER NOT NULL DEFAULT 1,
	late           INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL,
	completed_at   DATETIME
);
`
