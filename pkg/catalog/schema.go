package catalog

// schemaRevision is the schema version this binary requires. The
// migrate tool stamps this value into the schema_migrations table;
// the server refuses to start against a database stamped with any
// other revision.
const schemaRevision = 1

// sqliteSchema creates the catalog tables for SQLite. JSON columns
// are stored as TEXT; SQLite's json_extract is used at query time.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	revision INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	key TEXT,
	ancestors TEXT NOT NULL,
	structure_family TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	specs TEXT NOT NULL DEFAULT '[]',
	access_blob TEXT,
	time_created DATETIME NOT NULL,
	time_updated DATETIME NOT NULL,
	UNIQUE(ancestors, key)
);
CREATE INDEX IF NOT EXISTS idx_nodes_ancestors ON nodes(ancestors);

CREATE TABLE IF NOT EXISTS data_sources (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	node_id INTEGER NOT NULL REFERENCES nodes(id),
	mimetype TEXT NOT NULL,
	structure TEXT NOT NULL DEFAULT '{}',
	parameters TEXT NOT NULL DEFAULT '{}',
	management TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_data_sources_node ON data_sources(node_id);

CREATE TABLE IF NOT EXISTS assets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	data_source_id INTEGER NOT NULL REFERENCES data_sources(id),
	data_uri TEXT NOT NULL,
	is_directory BOOLEAN NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_assets_data_source ON assets(data_source_id);

CREATE TABLE IF NOT EXISTS revisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	node_id INTEGER NOT NULL REFERENCES nodes(id),
	number INTEGER NOT NULL,
	metadata TEXT NOT NULL,
	specs TEXT NOT NULL,
	time_created DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_revisions_node ON revisions(node_id);
`

// postgresSchema creates the catalog tables for PostgreSQL, using
// native JSONB so Eq/Contains pushdown can use the GIN containment
// operator
const postgresSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	revision INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
	id BIGSERIAL PRIMARY KEY,
	key TEXT,
	ancestors TEXT NOT NULL,
	structure_family TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}',
	specs JSONB NOT NULL DEFAULT '[]',
	access_blob JSONB,
	time_created TIMESTAMPTZ NOT NULL,
	time_updated TIMESTAMPTZ NOT NULL,
	UNIQUE(ancestors, key)
);
CREATE INDEX IF NOT EXISTS idx_nodes_ancestors ON nodes(ancestors);
CREATE INDEX IF NOT EXISTS idx_nodes_metadata_gin ON nodes USING GIN(metadata);

CREATE TABLE IF NOT EXISTS data_sources (
	id BIGSERIAL PRIMARY KEY,
	node_id BIGINT NOT NULL REFERENCES nodes(id),
	mimetype TEXT NOT NULL,
	structure JSONB NOT NULL DEFAULT '{}',
	parameters JSONB NOT NULL DEFAULT '{}',
	management TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_data_sources_node ON data_sources(node_id);

CREATE TABLE IF NOT EXISTS assets (
	id BIGSERIAL PRIMARY KEY,
	data_source_id BIGINT NOT NULL REFERENCES data_sources(id),
	data_uri TEXT NOT NULL,
	is_directory BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_assets_data_source ON assets(data_source_id);

CREATE TABLE IF NOT EXISTS revisions (
	id BIGSERIAL PRIMARY KEY,
	node_id BIGINT NOT NULL REFERENCES nodes(id),
	number INTEGER NOT NULL,
	metadata JSONB NOT NULL,
	specs JSONB NOT NULL,
	time_created TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_revisions_node ON revisions(node_id);
`
