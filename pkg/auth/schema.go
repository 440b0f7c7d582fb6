package auth

import (
	"fmt"
	"strings"
)

// dialect isolates the places SQLite and PostgreSQL differ for the
// auth tables: DDL (AUTOINCREMENT vs BIGSERIAL, BLOB vs BYTEA) and
// placeholder syntax, the same split pkg/catalog makes for its own
// tables. The auth store shares whatever database the catalog opened
// (catalog.Store.DB is threaded in for exactly this), so it must
// speak the same dialect.
type dialect struct {
	name   string
	schema string
}

func dialectFor(name string) (dialect, error) {
	switch name {
	case "sqlite":
		return dialect{name: "sqlite", schema: sqliteSchema}, nil
	case "postgres":
		return dialect{name: "postgres", schema: postgresSchema}, nil
	default:
		return dialect{}, fmt.Errorf("auth: unsupported dialect %q", name)
	}
}

// rebind rewrites a "?"-placeholder query into the dialect's native
// placeholder syntax ("?" for SQLite, "$1", "$2", ... for
// PostgreSQL).
func (d dialect) rebind(q string) string {
	if d.name != "postgres" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqliteSchema creates the principal/identity/session/api_key tables
// for SQLite.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS principals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid TEXT NOT NULL UNIQUE,
	type TEXT NOT NULL,
	time_created DATETIME NOT NULL,
	time_updated DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS identities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	principal_id INTEGER NOT NULL REFERENCES principals(id),
	provider TEXT NOT NULL,
	external_id TEXT NOT NULL,
	UNIQUE(provider, external_id)
);
CREATE INDEX IF NOT EXISTS idx_identities_principal ON identities(principal_id);

CREATE TABLE IF NOT EXISTS principal_roles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	principal_id INTEGER NOT NULL REFERENCES principals(id),
	name TEXT NOT NULL,
	scopes TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_principal_roles_principal ON principal_roles(principal_id);

CREATE TABLE IF NOT EXISTS sessions (
	uuid TEXT PRIMARY KEY,
	principal_id INTEGER NOT NULL REFERENCES principals(id),
	expiration_time DATETIME NOT NULL,
	revoked BOOLEAN NOT NULL DEFAULT 0,
	refresh_count INTEGER NOT NULL DEFAULT 0,
	time_last_refreshed DATETIME NOT NULL,
	time_created DATETIME NOT NULL,
	current_refresh_jti TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sessions_principal ON sessions(principal_id);

CREATE TABLE IF NOT EXISTS api_keys (
	first_eight TEXT NOT NULL,
	hashed_secret BLOB NOT NULL,
	principal_id INTEGER NOT NULL REFERENCES principals(id),
	expiration_time DATETIME,
	latest_activity DATETIME,
	note TEXT NOT NULL DEFAULT '',
	scopes TEXT NOT NULL,
	access_tags TEXT NOT NULL DEFAULT '[]',
	time_created DATETIME NOT NULL,
	PRIMARY KEY (first_eight, hashed_secret)
);
CREATE INDEX IF NOT EXISTS idx_api_keys_principal ON api_keys(principal_id);

CREATE TABLE IF NOT EXISTS internal_credentials (
	username TEXT PRIMARY KEY,
	password_hash BLOB NOT NULL,
	time_created DATETIME NOT NULL
);
`

// postgresSchema mirrors sqliteSchema for PostgreSQL. These tables
// are read and written whole-row, so no JSONB columns are needed —
// unlike the catalog's metadata column, nothing here is queried
// SQL-side by JSON path.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS principals (
	id BIGSERIAL PRIMARY KEY,
	uuid TEXT NOT NULL UNIQUE,
	type TEXT NOT NULL,
	time_created TIMESTAMPTZ NOT NULL,
	time_updated TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS identities (
	id BIGSERIAL PRIMARY KEY,
	principal_id BIGINT NOT NULL REFERENCES principals(id),
	provider TEXT NOT NULL,
	external_id TEXT NOT NULL,
	UNIQUE(provider, external_id)
);
CREATE INDEX IF NOT EXISTS idx_identities_principal ON identities(principal_id);

CREATE TABLE IF NOT EXISTS principal_roles (
	id BIGSERIAL PRIMARY KEY,
	principal_id BIGINT NOT NULL REFERENCES principals(id),
	name TEXT NOT NULL,
	scopes TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_principal_roles_principal ON principal_roles(principal_id);

CREATE TABLE IF NOT EXISTS sessions (
	uuid TEXT PRIMARY KEY,
	principal_id BIGINT NOT NULL REFERENCES principals(id),
	expiration_time TIMESTAMPTZ NOT NULL,
	revoked BOOLEAN NOT NULL DEFAULT FALSE,
	refresh_count INTEGER NOT NULL DEFAULT 0,
	time_last_refreshed TIMESTAMPTZ NOT NULL,
	time_created TIMESTAMPTZ NOT NULL,
	current_refresh_jti TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sessions_principal ON sessions(principal_id);

CREATE TABLE IF NOT EXISTS api_keys (
	first_eight TEXT NOT NULL,
	hashed_secret BYTEA NOT NULL,
	principal_id BIGINT NOT NULL REFERENCES principals(id),
	expiration_time TIMESTAMPTZ,
	latest_activity TIMESTAMPTZ,
	note TEXT NOT NULL DEFAULT '',
	scopes TEXT NOT NULL,
	access_tags TEXT NOT NULL DEFAULT '[]',
	time_created TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (first_eight, hashed_secret)
);
CREATE INDEX IF NOT EXISTS idx_api_keys_principal ON api_keys(principal_id);

CREATE TABLE IF NOT EXISTS internal_credentials (
	username TEXT PRIMARY KEY,
	password_hash BYTEA NOT NULL,
	time_created TIMESTAMPTZ NOT NULL
);
`
