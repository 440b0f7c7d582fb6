package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// Store is the auth core's persistence handle: principals,
// identities, roles, sessions, and API keys, sharing the same
// *sql.DB the catalog store opened.
type Store struct {
	db      *sql.DB
	dialect dialect
	logger  zerolog.Logger
}

// NewStore wraps db, creating its tables if they do not already
// exist. dialectName is the catalog's DialectName ("sqlite" or
// "postgres"); both stores must speak the dialect of the one shared
// database.
func NewStore(ctx context.Context, db *sql.DB, dialectName string) (*Store, error) {
	d, err := dialectFor(dialectName)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, dialect: d, logger: log.WithComponent("auth")}
	for _, stmt := range strings.Split(d.schema, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("auth: init schema: %w", err)
		}
	}
	return s, nil
}

// exec rebinds a "?"-placeholder query for the active dialect before
// running it.
func (s *Store) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(q), args...)
}

func (s *Store) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(q), args...)
}

func (s *Store) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(q), args...)
}

// insertReturningID runs an INSERT inside tx and returns the
// generated id. lib/pq does not implement LastInsertId, so the
// PostgreSQL path appends RETURNING id and scans it instead.
func (s *Store) insertReturningID(ctx context.Context, tx *sql.Tx, q string, args ...any) (int64, error) {
	if s.dialect.name == "postgres" {
		var id int64
		err := tx.QueryRowContext(ctx, s.dialect.rebind(q+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// EnsurePrincipal looks up a Principal by (provider, externalID),
// creating one with the given default roles on first login: a
// Principal is guaranteed to exist after any successful
// authentication.
func (s *Store) EnsurePrincipal(ctx context.Context, provider, externalID string, roles []types.Role) (*types.Principal, error) {
	p, err := s.GetPrincipalByIdentity(ctx, provider, externalID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	pubUUID := uuid.NewString()
	id, err := s.insertReturningID(ctx, tx,
		"INSERT INTO principals (uuid, type, time_created, time_updated) VALUES (?, ?, ?, ?)",
		pubUUID, string(types.PrincipalTypeUser), now, now)
	if err != nil {
		return nil, fmt.Errorf("auth: insert principal: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.dialect.rebind(
		"INSERT INTO identities (principal_id, provider, external_id) VALUES (?, ?, ?)"),
		id, provider, externalID); err != nil {
		return nil, fmt.Errorf("auth: insert identity: %w", err)
	}

	for _, r := range roles {
		scopesJSON, err := json.Marshal(r.Scopes.Slice())
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(
			"INSERT INTO principal_roles (principal_id, name, scopes) VALUES (?, ?, ?)"),
			id, r.Name, string(scopesJSON)); err != nil {
			return nil, fmt.Errorf("auth: insert role: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &types.Principal{
		InternalID: id,
		UUID:       pubUUID,
		Type:       types.PrincipalTypeUser,
		Identities: []types.Identity{{Provider: provider, ID: externalID}},
		Roles:      roles,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// CreateServicePrincipal creates a principal with Type=service and no
// Identities; it authenticates only by APIKey.
func (s *Store) CreateServicePrincipal(ctx context.Context, roles []types.Role) (*types.Principal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	pubUUID := uuid.NewString()
	id, err := s.insertReturningID(ctx, tx,
		"INSERT INTO principals (uuid, type, time_created, time_updated) VALUES (?, ?, ?, ?)",
		pubUUID, string(types.PrincipalTypeService), now, now)
	if err != nil {
		return nil, err
	}
	for _, r := range roles {
		scopesJSON, err := json.Marshal(r.Scopes.Slice())
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(
			"INSERT INTO principal_roles (principal_id, name, scopes) VALUES (?, ?, ?)"),
			id, r.Name, string(scopesJSON)); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &types.Principal{
		InternalID: id,
		UUID:       pubUUID,
		Type:       types.PrincipalTypeService,
		Roles:      roles,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// GetPrincipalByIdentity returns the Principal owning (provider,
// externalID), or nil if none exists.
func (s *Store) GetPrincipalByIdentity(ctx context.Context, provider, externalID string) (*types.Principal, error) {
	var principalID int64
	err := s.queryRow(ctx,
		"SELECT principal_id FROM identities WHERE provider = ? AND external_id = ?", provider, externalID,
	).Scan(&principalID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetPrincipal(ctx, principalID)
}

// GetPrincipalByUUID returns the Principal with the given public
// UUID, or nil if none exists.
func (s *Store) GetPrincipalByUUID(ctx context.Context, id string) (*types.Principal, error) {
	var internalID int64
	err := s.queryRow(ctx, "SELECT id FROM principals WHERE uuid = ?", id).Scan(&internalID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetPrincipal(ctx, internalID)
}

// GetPrincipal returns the Principal with the given internal id,
// including its Identities and Roles.
func (s *Store) GetPrincipal(ctx context.Context, internalID int64) (*types.Principal, error) {
	p := &types.Principal{InternalID: internalID}
	var typ string
	err := s.queryRow(ctx,
		"SELECT uuid, type, time_created, time_updated FROM principals WHERE id = ?", internalID,
	).Scan(&p.UUID, &typ, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Type = types.PrincipalType(typ)

	idRows, err := s.query(ctx, "SELECT provider, external_id FROM identities WHERE principal_id = ?", internalID)
	if err != nil {
		return nil, err
	}
	for idRows.Next() {
		var ident types.Identity
		if err := idRows.Scan(&ident.Provider, &ident.ID); err != nil {
			idRows.Close()
			return nil, err
		}
		p.Identities = append(p.Identities, ident)
	}
	idRows.Close()
	if err := idRows.Err(); err != nil {
		return nil, err
	}

	roleRows, err := s.query(ctx, "SELECT name, scopes FROM principal_roles WHERE principal_id = ?", internalID)
	if err != nil {
		return nil, err
	}
	for roleRows.Next() {
		var name, scopesJSON string
		if err := roleRows.Scan(&name, &scopesJSON); err != nil {
			roleRows.Close()
			return nil, err
		}
		var scopeNames []string
		if err := json.Unmarshal([]byte(scopesJSON), &scopeNames); err != nil {
			roleRows.Close()
			return nil, err
		}
		scopeSet := make(types.ScopeSet, len(scopeNames))
		for _, sc := range scopeNames {
			scopeSet[types.Scope(sc)] = struct{}{}
		}
		p.Roles = append(p.Roles, types.Role{Name: name, Scopes: scopeSet})
	}
	roleRows.Close()
	if err := roleRows.Err(); err != nil {
		return nil, err
	}

	return p, nil
}

// CreateInternalCredential records username's bcrypt hash for the
// built-in InternalPasswordProvider, overwriting any prior hash for
// the same username (password reset).
func (s *Store) CreateInternalCredential(ctx context.Context, username string, passwordHash []byte) error {
	_, err := s.exec(ctx,
		`INSERT INTO internal_credentials (username, password_hash, time_created) VALUES (?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET password_hash = excluded.password_hash`,
		username, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("auth: create internal credential: %w", err)
	}
	return nil
}

// InternalCredentialHash returns the stored bcrypt hash for username,
// or nil if no credential is registered.
func (s *Store) InternalCredentialHash(ctx context.Context, username string) ([]byte, error) {
	var hash []byte
	err := s.queryRow(ctx,
		"SELECT password_hash FROM internal_credentials WHERE username = ?", username,
	).Scan(&hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return hash, nil
}

// AnonymousPrincipal constructs the synthetic principal assigned to
// unauthenticated requests when the server is configured to allow
// anonymous access: it carries no roles of its own (its scopes come
// entirely from the public tag via the access policy).
func AnonymousPrincipal() *types.Principal {
	return &types.Principal{
		UUID: "anonymous",
		Type: types.PrincipalTypeUser,
	}
}
