package auth

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cuemby/burrow/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := sql.Open("sqlite", filepath.Join(dir, "auth.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(context.Background(), db, "sqlite")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s
}

func TestEnsurePrincipalCreatesOnFirstLogin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	roles := []types.Role{{Name: "user", Scopes: types.NewScopeSet(types.ScopeReadMetadata)}}
	p1, err := s.EnsurePrincipal(ctx, "local", "alice", roles)
	if err != nil {
		t.Fatal(err)
	}
	if p1.Type != types.PrincipalTypeUser {
		t.Errorf("Type = %v, want user", p1.Type)
	}
	if !p1.EffectiveScopes().Has(types.ScopeReadMetadata) {
		t.Error("expected default role scope to be granted")
	}

	p2, err := s.EnsurePrincipal(ctx, "local", "alice", roles)
	if err != nil {
		t.Fatal(err)
	}
	if p1.InternalID != p2.InternalID {
		t.Errorf("EnsurePrincipal created a second principal for the same identity")
	}
}

func TestGetPrincipalByIdentityMissing(t *testing.T) {
	s := newTestStore(t)
	p, err := s.GetPrincipalByIdentity(context.Background(), "local", "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Error("expected nil for unknown identity")
	}
}

func TestCreateServicePrincipalHasNoIdentities(t *testing.T) {
	s := newTestStore(t)
	p, err := s.CreateServicePrincipal(context.Background(), []types.Role{{Name: "svc", Scopes: types.NewScopeSet(types.ScopeReadData)}})
	if err != nil {
		t.Fatal(err)
	}
	if p.Type != types.PrincipalTypeService {
		t.Errorf("Type = %v, want service", p.Type)
	}
	if len(p.Identities) != 0 {
		t.Error("service principal should have no identities")
	}
}

func TestSessionRefreshRotation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, _ := s.CreateServicePrincipal(ctx, nil)
	sess, err := s.CreateSession(ctx, p.InternalID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetCurrentRefreshJTI(ctx, sess.UUID, "jti-1"); err != nil {
		t.Fatal(err)
	}

	refreshed, err := s.Refresh(ctx, sess.UUID, time.Hour, "jti-1")
	if err != nil {
		t.Fatal(err)
	}
	if refreshed.RefreshCount != 1 {
		t.Errorf("RefreshCount = %d, want 1", refreshed.RefreshCount)
	}

	// The superseded jti is gone once refreshed: a stale re-presentation
	// of the original jti fails even though the session row still
	// exists at this point (it rotated, not expired).
	if err := s.SetCurrentRefreshJTI(ctx, sess.UUID, "jti-2"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Refresh(ctx, sess.UUID, time.Hour, "jti-1"); err != ErrSessionInvalid {
		t.Errorf("Refresh with superseded jti error = %v, want ErrSessionInvalid", err)
	}
}

func TestSessionRefreshPastAbsoluteMaxAgeFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, _ := s.CreateServicePrincipal(ctx, nil)
	sess, err := s.CreateSession(ctx, p.InternalID, 48*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetCurrentRefreshJTI(ctx, sess.UUID, "jti-1"); err != nil {
		t.Fatal(err)
	}
	// Backdate creation so it already exceeds a 1-hour absolute max age.
	if _, err := s.db.ExecContext(ctx, "UPDATE sessions SET time_created = ? WHERE uuid = ?",
		time.Now().UTC().Add(-2*time.Hour), sess.UUID); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Refresh(ctx, sess.UUID, time.Hour, "jti-1"); err != ErrSessionInvalid {
		t.Errorf("Refresh() error = %v, want ErrSessionInvalid", err)
	}

	// The row must be gone: a second attempt fails the same way.
	if _, err := s.Refresh(ctx, sess.UUID, time.Hour, "jti-1"); err != ErrSessionInvalid {
		t.Errorf("second Refresh error = %v, want ErrSessionInvalid", err)
	}
}

func TestPurgeExpiredSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, _ := s.CreateServicePrincipal(ctx, nil)
	sess, _ := s.CreateSession(ctx, p.InternalID, -time.Hour) // already expired
	_ = sess

	n, err := s.PurgeExpiredSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("PurgeExpiredSessions removed %d, want 1", n)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, _ := s.CreateServicePrincipal(ctx, []types.Role{{Name: "svc", Scopes: types.NewScopeSet(types.ScopeReadData)}})
	secret, key, err := s.CreateAPIKey(ctx, p.InternalID, types.NewScopeSet(types.ScopeReadData), nil, "test key", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(key.FirstEight) != 8 {
		t.Errorf("FirstEight length = %d, want 8", len(key.FirstEight))
	}

	authenticated, err := s.Authenticate(ctx, secret)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if authenticated.PrincipalID != p.InternalID {
		t.Error("authenticated key resolved to the wrong principal")
	}
	if authenticated.LatestActivity == nil {
		t.Error("expected latest_activity to be stamped")
	}
}

func TestAPIKeyAuthenticateRejectsWrongSecret(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, _ := s.CreateServicePrincipal(ctx, nil)
	secret, _, err := s.CreateAPIKey(ctx, p.InternalID, nil, nil, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	tampered := secret[:len(secret)-2] + "00"
	if _, err := s.Authenticate(ctx, tampered); err == nil {
		t.Error("expected Authenticate to reject a tampered secret")
	}
}

func TestAPIKeyExpiration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, _ := s.CreateServicePrincipal(ctx, nil)
	past := time.Now().UTC().Add(-time.Hour)
	secret, _, err := s.CreateAPIKey(ctx, p.InternalID, nil, nil, "", &past)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Authenticate(ctx, secret); err == nil {
		t.Error("expected Authenticate to reject an expired key")
	}
}

func TestPurgeExpiredAPIKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, _ := s.CreateServicePrincipal(ctx, nil)
	past := time.Now().UTC().Add(-time.Hour)
	if _, _, err := s.CreateAPIKey(ctx, p.InternalID, nil, nil, "", &past); err != nil {
		t.Fatal(err)
	}

	n, err := s.PurgeExpiredAPIKeys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("PurgeExpiredAPIKeys removed %d, want 1", n)
	}
}
