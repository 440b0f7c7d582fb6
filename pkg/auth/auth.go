// Package auth implements the authentication core:
// provider-agnostic identity federation, signed access/refresh token
// rotation with server-side session revocation, scoped API keys, and
// CSRF protection for cookie-bearing requests. The storage-interface
// shape (context-first methods, one group per entity) is grounded on
// other_examples' go-oauth2-server Storage contract, retargeted from
// OAuth2 clients/tokens to this service's Principal/Session/APIKey
// model.
package auth

import (
	"context"
	"errors"

	"github.com/cuemby/burrow/pkg/types"
)

// ErrProviderMismatch is returned when a service principal attempts
// password or external-code authentication: services authenticate
// only by APIKey (Principal invariant).
var ErrProviderMismatch = errors.New("auth: service principals do not authenticate via a login provider")

// ProviderIdentity is what a successful authentication against a
// provider yields: enough to look up or create a Principal's
// Identity row. DisplayName is informational only.
type ProviderIdentity struct {
	Provider    string
	ExternalID  string
	DisplayName string
}

// PasswordAuthenticator is a provider exposing a username+password
// credential endpoint.
type PasswordAuthenticator interface {
	Name() string
	Authenticate(ctx context.Context, username, password string) (*ProviderIdentity, error)
}

// CodeAuthenticator is a provider exposing an external code-flow
// endpoint (OAuth/OIDC authorization code).
type CodeAuthenticator interface {
	Name() string
	ExchangeCode(ctx context.Context, code string) (*ProviderIdentity, error)
}

// Provider is the union any configured authenticator must satisfy at
// least one half of; the server is provider-agnostic beyond this.
type Provider interface {
	Name() string
}

// RoleCatalog resolves a configured role name to the scopes it
// grants, for assigning a newly created Principal's default roles.
// This is a distinct namespace from the tag-based access policy's own
// "role" references (pkg/policy): it governs what authenticated
// principals can do at all, not what they can see on a given node.
type RoleCatalog map[string]types.ScopeSet

// Resolve looks up names in the catalog, skipping (and not erroring
// on) any name absent from it — an operator who renames a role in
// config should not lock out principals created under the old name;
// the principal simply keeps whatever roles did resolve.
func (rc RoleCatalog) Resolve(names []string) []types.Role {
	out := make([]types.Role, 0, len(names))
	for _, n := range names {
		if scopes, ok := rc[n]; ok {
			out = append(out, types.Role{Name: n, Scopes: scopes})
		}
	}
	return out
}
