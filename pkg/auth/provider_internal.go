package auth

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/cuemby/burrow/pkg/apierr"
)

// InternalPasswordProvider is the built-in PasswordAuthenticator for
// principals with no external identity provider: the provider list is
// open-ended, and this is the one concrete implementation the core
// ships, the way a facility's own directory is usually the first
// provider configured. Credentials are stored
// bcrypt-hashed, never in the clear, consistent with this service's
// own hashing posture for secrets at rest (pkg/security/secrets.go).
type InternalPasswordProvider struct {
	store *Store
}

// NewInternalPasswordProvider returns a provider backed by store's
// internal_credentials table.
func NewInternalPasswordProvider(store *Store) *InternalPasswordProvider {
	return &InternalPasswordProvider{store: store}
}

// Name identifies this provider in configuration and in Identity rows.
func (p *InternalPasswordProvider) Name() string { return "internal" }

// Authenticate compares password against the bcrypt hash stored for
// username. A missing username is indistinguishable from a wrong
// password to the caller (both AuthRequired), avoiding username
// enumeration.
func (p *InternalPasswordProvider) Authenticate(ctx context.Context, username, password string) (*ProviderIdentity, error) {
	hash, err := p.store.InternalCredentialHash(ctx, username)
	if err != nil {
		return nil, err
	}
	if hash == nil {
		return nil, apierr.New(apierr.KindAuthRequired, "auth: invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return nil, apierr.New(apierr.KindAuthRequired, "auth: invalid credentials")
	}
	return &ProviderIdentity{Provider: p.Name(), ExternalID: username, DisplayName: username}, nil
}

// SetPassword hashes password with bcrypt's default cost and stores
// it for username, creating or replacing the existing credential.
// Intended for an admin-only user-provisioning path, not exposed over
// HTTP by this core (leaves user provisioning to an external
// collaborator; this is the primitive such a collaborator would call).
func (p *InternalPasswordProvider) SetPassword(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return p.store.CreateInternalCredential(ctx, username, hash)
}
