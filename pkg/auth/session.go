package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/burrow/pkg/apierr"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// ErrSessionInvalid covers every way a refresh attempt can fail:
// unknown session, revoked, expired, or past the absolute session
// maximum age. It carries apierr.KindAuthRequired (401); Store.Refresh
// deletes the session row itself before returning it.
var ErrSessionInvalid = apierr.AuthRequired("auth: session is revoked, expired, or unknown")

// CreateSession opens a new Session for principalID with the given
// absolute lifetime, returned as the refresh-token chain's starting
// point.
func (s *Store) CreateSession(ctx context.Context, principalID int64, maxAge time.Duration) (*types.Session, error) {
	now := time.Now().UTC()
	sess := &types.Session{
		UUID:              uuid.NewString(),
		PrincipalID:       principalID,
		ExpirationTime:    now.Add(maxAge),
		TimeLastRefreshed: now,
		CreatedAt:         now,
	}
	_, err := s.exec(ctx,
		`INSERT INTO sessions (uuid, principal_id, expiration_time, revoked, refresh_count, time_last_refreshed, time_created, current_refresh_jti)
		 VALUES (?, ?, ?, ?, 0, ?, ?, '')`,
		sess.UUID, sess.PrincipalID, sess.ExpirationTime, false, sess.TimeLastRefreshed, sess.CreatedAt)
	if err != nil {
		return nil, err
	}
	metrics.SessionsActive.Inc()
	return sess, nil
}

// GetSession returns the session with the given public UUID, or nil
// if none exists.
func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	sess := &types.Session{UUID: id}
	err := s.queryRow(ctx,
		`SELECT principal_id, expiration_time, revoked, refresh_count, time_last_refreshed, time_created, current_refresh_jti
		 FROM sessions WHERE uuid = ?`, id,
	).Scan(&sess.PrincipalID, &sess.ExpirationTime, &sess.Revoked, &sess.RefreshCount, &sess.TimeLastRefreshed, &sess.CreatedAt, &sess.CurrentRefreshJTI)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Refresh validates session id against the absolute sessionMaxAge and
// bumps its refresh bookkeeping on success: not revoked, not
// past ExpirationTime, created no longer ago than sessionMaxAge, and
// presentedJTI matches the session's CurrentRefreshJTI — the one
// refresh token rotation left valid. Any check failure deletes the
// row and returns ErrSessionInvalid, so a superseded refresh token
// (one presented after a newer one was already minted for the same
// session) fails the same way an expired or revoked session does
// (refresh rotation).
func (s *Store) Refresh(ctx context.Context, id string, sessionMaxAge time.Duration, presentedJTI string) (*types.Session, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionInvalid
	}

	now := time.Now().UTC()
	stale := presentedJTI == "" || sess.CurrentRefreshJTI == "" || presentedJTI != sess.CurrentRefreshJTI
	expired := sess.Revoked || now.After(sess.ExpirationTime) || now.Sub(sess.CreatedAt) > sessionMaxAge || stale
	if expired {
		_ = s.DeleteSession(ctx, id)
		metrics.TokenRefreshesTotal.WithLabelValues("rejected").Inc()
		return nil, ErrSessionInvalid
	}

	sess.RefreshCount++
	sess.TimeLastRefreshed = now
	if _, err := s.exec(ctx,
		"UPDATE sessions SET refresh_count = ?, time_last_refreshed = ? WHERE uuid = ?",
		sess.RefreshCount, sess.TimeLastRefreshed, id); err != nil {
		return nil, err
	}
	metrics.TokenRefreshesTotal.WithLabelValues("accepted").Inc()
	return sess, nil
}

// SetCurrentRefreshJTI records jti as the one refresh token now valid
// for session id, superseding whatever jti was recorded before (called
// once per mint: at login and at the end of every successful refresh).
func (s *Store) SetCurrentRefreshJTI(ctx context.Context, id, jti string) error {
	_, err := s.exec(ctx,
		"UPDATE sessions SET current_refresh_jti = ? WHERE uuid = ?", jti, id)
	return err
}

// RevokeSession marks a session revoked without deleting its row,
// preserving it for audit until the purge cycle removes it.
func (s *Store) RevokeSession(ctx context.Context, id string) error {
	res, err := s.exec(ctx, "UPDATE sessions SET revoked = ? WHERE uuid = ?", true, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierr.NotFound("auth: session not found")
	}
	metrics.SessionsActive.Dec()
	return nil
}

// DeleteSession removes a session row outright; any refresh check
// failure deletes the session rather than leaving it resumable.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.exec(ctx, "DELETE FROM sessions WHERE uuid = ?", id)
	return err
}

// PurgeExpiredSessions removes every session that is revoked or past
// its expiration_time, for the scheduler's periodic purge task
// . Returns the number of rows removed.
func (s *Store) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx,
		"DELETE FROM sessions WHERE revoked = ? OR expiration_time < ?", true, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}
