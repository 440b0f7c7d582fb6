package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/burrow/pkg/apierr"
	"github.com/cuemby/burrow/pkg/types"
)

// rawSecretBytes is the length of the random secret minted for a new
// key, before hex encoding. first_eight is the first 8 hex
// characters of that encoding, used as a display prefix and as an
// index to narrow the timing-safe comparison to a small candidate
// set.
const rawSecretBytes = 24

// CreateAPIKey mints a new credential for principalID, returning the
// raw secret exactly once; only its sha256 hash and an 8-character
// prefix are persisted.
func (s *Store) CreateAPIKey(ctx context.Context, principalID int64, scopes types.ScopeSet, accessTags []string, note string, expiration *time.Time) (secret string, key *types.APIKey, err error) {
	raw := make([]byte, rawSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("auth: generate api key secret: %w", err)
	}
	hexSecret := hex.EncodeToString(raw)
	firstEight := hexSecret[:8]
	hash := sha256.Sum256([]byte(hexSecret))

	tagsJSON, err := json.Marshal(accessTags)
	if err != nil {
		return "", nil, err
	}
	scopesJSON, err := json.Marshal(scopes.Slice())
	if err != nil {
		return "", nil, err
	}

	now := time.Now().UTC()
	_, err = s.exec(ctx,
		`INSERT INTO api_keys (first_eight, hashed_secret, principal_id, expiration_time, latest_activity, note, scopes, access_tags, time_created)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		firstEight, hash[:], principalID, expiration, nil, note, string(scopesJSON), string(tagsJSON), now)
	if err != nil {
		return "", nil, fmt.Errorf("auth: insert api_key: %w", err)
	}

	return hexSecret, &types.APIKey{
		FirstEight:     firstEight,
		HashedSecret:   hash[:],
		PrincipalID:    principalID,
		ExpirationTime: expiration,
		Note:           note,
		Scopes:         scopes,
		AccessTags:     accessTags,
		CreatedAt:      now,
	}, nil
}

// Authenticate matches a presented raw secret against the stored
// first_eight prefix, then a timing-safe compare of its sha256 hash
// . Expiration is checked, and latest_activity is bumped, on every
// use; the owning principal is not looked up here.
func (s *Store) Authenticate(ctx context.Context, rawSecret string) (*types.APIKey, error) {
	if len(rawSecret) < 8 {
		return nil, apierr.AuthRequired("auth: malformed api key")
	}
	firstEight := rawSecret[:8]
	hash := sha256.Sum256([]byte(rawSecret))

	rows, err := s.query(ctx,
		`SELECT hashed_secret, principal_id, expiration_time, latest_activity, note, scopes, access_tags, time_created
		 FROM api_keys WHERE first_eight = ?`, firstEight)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			storedHash                 []byte
			principalID                int64
			expiration, latestActivity sql.NullTime
			note, scopesJSON, tagsJSON string
			createdAt                  time.Time
		)
		if err := rows.Scan(&storedHash, &principalID, &expiration, &latestActivity, &note, &scopesJSON, &tagsJSON, &createdAt); err != nil {
			return nil, err
		}
		if subtle.ConstantTimeCompare(storedHash, hash[:]) != 1 {
			continue
		}

		key := &types.APIKey{
			FirstEight:   firstEight,
			HashedSecret: storedHash,
			PrincipalID:  principalID,
			Note:         note,
			CreatedAt:    createdAt,
		}
		if expiration.Valid {
			key.ExpirationTime = &expiration.Time
		}
		if latestActivity.Valid {
			key.LatestActivity = &latestActivity.Time
		}
		var scopeNames []string
		if err := json.Unmarshal([]byte(scopesJSON), &scopeNames); err != nil {
			return nil, err
		}
		key.Scopes = make(types.ScopeSet, len(scopeNames))
		for _, sc := range scopeNames {
			key.Scopes[types.Scope(sc)] = struct{}{}
		}
		if err := json.Unmarshal([]byte(tagsJSON), &key.AccessTags); err != nil {
			return nil, err
		}

		if key.ExpirationTime != nil && time.Now().UTC().After(*key.ExpirationTime) {
			return nil, apierr.AuthRequired("auth: api key expired")
		}

		now := time.Now().UTC()
		if _, err := s.exec(ctx,
			"UPDATE api_keys SET latest_activity = ? WHERE first_eight = ? AND hashed_secret = ?",
			now, firstEight, storedHash); err != nil {
			return nil, err
		}
		key.LatestActivity = &now
		return key, nil
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, apierr.AuthRequired("auth: invalid api key")
}

// ListAPIKeys returns every key belonging to principalID, newest
// first. Hashed secrets stay server-side: callers expose only
// first_eight and the descriptive fields.
func (s *Store) ListAPIKeys(ctx context.Context, principalID int64) ([]*types.APIKey, error) {
	rows, err := s.query(ctx,
		`SELECT first_eight, expiration_time, latest_activity, note, scopes, access_tags, time_created
		 FROM api_keys WHERE principal_id = ? ORDER BY time_created DESC`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.APIKey
	for rows.Next() {
		var (
			expiration, latestActivity sql.NullTime
			scopesJSON, tagsJSON       string
		)
		key := &types.APIKey{PrincipalID: principalID}
		if err := rows.Scan(&key.FirstEight, &expiration, &latestActivity, &key.Note, &scopesJSON, &tagsJSON, &key.CreatedAt); err != nil {
			return nil, err
		}
		if expiration.Valid {
			key.ExpirationTime = &expiration.Time
		}
		if latestActivity.Valid {
			key.LatestActivity = &latestActivity.Time
		}
		var scopeNames []string
		if err := json.Unmarshal([]byte(scopesJSON), &scopeNames); err != nil {
			return nil, err
		}
		key.Scopes = make(types.ScopeSet, len(scopeNames))
		for _, sc := range scopeNames {
			key.Scopes[types.Scope(sc)] = struct{}{}
		}
		if err := json.Unmarshal([]byte(tagsJSON), &key.AccessTags); err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

// DeleteAPIKey removes principalID's key with the given first_eight
// prefix. Scoping the delete to the owning principal means one
// principal can never revoke another's key by guessing prefixes.
func (s *Store) DeleteAPIKey(ctx context.Context, principalID int64, firstEight string) error {
	res, err := s.exec(ctx,
		"DELETE FROM api_keys WHERE principal_id = ? AND first_eight = ?", principalID, firstEight)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apierr.NotFound("auth: no api key with that prefix")
	}
	return nil
}

// PurgeExpiredAPIKeys removes every key whose expiration_time has
// passed, for the scheduler's periodic purge task.
func (s *Store) PurgeExpiredAPIKeys(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx,
		"DELETE FROM api_keys WHERE expiration_time IS NOT NULL AND expiration_time < ?", time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
