// Package types defines the canonical data-model structs shared
// across the catalog, policy, auth, and HTTP layers: Principal,
// Session, APIKey, Node, DataSource, Asset, and Revision. The compiled
// access policy state lives in pkg/policy.
package types

import (
	"time"
)

// StructureFamily is the top-level shape of a node's data, mirrored
// exactly onto the catalog schema and the adapter registry key.
type StructureFamily string

const (
	StructureFamilyContainer StructureFamily = "container"
	StructureFamilyArray     StructureFamily = "array"
	StructureFamilyTable     StructureFamily = "table"
	StructureFamilyAwkward   StructureFamily = "awkward"
	StructureFamilySparse    StructureFamily = "sparse"
	StructureFamilyComposite StructureFamily = "composite"
)

// DataManagement distinguishes data burrow owns the lifecycle of from
// data it merely references.
type DataManagement string

const (
	ManagementExternal DataManagement = "external"
	ManagementWritable DataManagement = "writable"
)

// PrincipalType distinguishes human users from machine/service
// identities. Services have no Identities and authenticate only by
// APIKey.
type PrincipalType string

const (
	PrincipalTypeUser    PrincipalType = "user"
	PrincipalTypeService PrincipalType = "service"
)

// Scope is a named capability, e.g. "read:metadata", "write:data",
// "admin".
type Scope string

const (
	ScopeReadMetadata  Scope = "read:metadata"
	ScopeReadData      Scope = "read:data"
	ScopeWriteMetadata Scope = "write:metadata"
	ScopeWriteData     Scope = "write:data"
	ScopeCreate        Scope = "create"
	ScopeDelete        Scope = "delete"
	ScopeAdmin         Scope = "admin"
)

// ScopeSet is a set of Scope, used pervasively for role grants,
// requested authn scopes, and computed allowed scopes.
type ScopeSet map[Scope]struct{}

// NewScopeSet builds a ScopeSet from a slice.
func NewScopeSet(scopes ...Scope) ScopeSet {
	s := make(ScopeSet, len(scopes))
	for _, sc := range scopes {
		s[sc] = struct{}{}
	}
	return s
}

// Has reports whether scope is a member.
func (s ScopeSet) Has(scope Scope) bool {
	_, ok := s[scope]
	return ok
}

// Union returns the union of s and other as a new set.
func (s ScopeSet) Union(other ScopeSet) ScopeSet {
	out := make(ScopeSet, len(s)+len(other))
	for sc := range s {
		out[sc] = struct{}{}
	}
	for sc := range other {
		out[sc] = struct{}{}
	}
	return out
}

// Intersect returns the intersection of s and other as a new set.
func (s ScopeSet) Intersect(other ScopeSet) ScopeSet {
	out := make(ScopeSet, len(s))
	for sc := range s {
		if other.Has(sc) {
			out[sc] = struct{}{}
		}
	}
	return out
}

// Subset reports whether every member of s is in universe.
func (s ScopeSet) Subset(universe ScopeSet) bool {
	for sc := range s {
		if !universe.Has(sc) {
			return false
		}
	}
	return true
}

// Slice returns the set's members in no particular order.
func (s ScopeSet) Slice() []Scope {
	out := make([]Scope, 0, len(s))
	for sc := range s {
		out = append(out, sc)
	}
	return out
}

// Role is a named bundle of scopes, configured in the policy YAML or
// a static role table.
type Role struct {
	Name   string
	Scopes ScopeSet
}

// Identity binds a Principal to an external identity provider's
// subject id. (Provider, ID) is globally unique.
type Identity struct {
	Provider string
	ID       string
}

// Principal is the authenticated subject: a human user or a service
// account.
type Principal struct {
	InternalID int64
	UUID       string
	Type       PrincipalType
	Identities []Identity
	Roles      []Role
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EffectiveScopes is the union of scopes across all of a principal's
// roles.
func (p *Principal) EffectiveScopes() ScopeSet {
	out := make(ScopeSet)
	for _, r := range p.Roles {
		for sc := range r.Scopes {
			out[sc] = struct{}{}
		}
	}
	return out
}

// IsAdmin reports whether the principal holds the admin scope through
// any role.
func (p *Principal) IsAdmin() bool {
	return p.EffectiveScopes().Has(ScopeAdmin)
}

// Identifier returns a stable string identifying the principal for
// access-blob comparisons: the first identity's provider:id pair, or
// the UUID for service principals with no identity.
func (p *Principal) Identifier() string {
	if len(p.Identities) > 0 {
		return p.Identities[0].Provider + ":" + p.Identities[0].ID
	}
	return p.UUID
}

// Session is a chain of refresh tokens issued from a single
// authentication. CurrentRefreshJTI is the jti claim of the one
// refresh token currently valid for this session; every successful
// refresh replaces it, so a superseded refresh token's jti no longer
// matches and the token is rejected (refresh rotation).
type Session struct {
	UUID              string
	PrincipalID       int64
	ExpirationTime    time.Time
	Revoked           bool
	RefreshCount      int
	TimeLastRefreshed time.Time
	CreatedAt         time.Time
	CurrentRefreshJTI string
}

// APIKey is a scoped credential. HashedSecret is
// sha256(raw secret bytes) and never leaves the server; the raw
// secret is returned to the caller exactly once, at creation.
type APIKey struct {
	FirstEight     string
	HashedSecret   []byte
	PrincipalID    int64
	ExpirationTime *time.Time
	LatestActivity *time.Time
	Note           string
	Scopes         ScopeSet
	AccessTags     []string
	CreatedAt      time.Time
}

// AccessBlob is the ownership marker stored on a Node: either a
// single owning user identifier or a list of tag names. Exactly one
// of User or Tags is populated.
type AccessBlob struct {
	User string   `json:"user,omitempty"`
	Tags []string `json:"tags,omitempty"`
}

// IsEmpty reports whether the blob carries neither a user nor tags,
// meaning the node is unrestricted (all scopes for all principals).
func (b *AccessBlob) IsEmpty() bool {
	return b == nil || (b.User == "" && len(b.Tags) == 0)
}

// Node is a single vertex in the tree.
type Node struct {
	ID              int64
	Key             string
	Ancestors       []string
	StructureFamily StructureFamily
	Metadata        map[string]any
	Specs           []string
	AccessBlob      *AccessBlob
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsRoot reports whether n is the tree root: empty ancestors and
// empty key.
func (n *Node) IsRoot() bool {
	return len(n.Ancestors) == 0 && n.Key == ""
}

// Segments returns ancestors + key, the full path from root.
func (n *Node) Segments() []string {
	out := make([]string, 0, len(n.Ancestors)+1)
	out = append(out, n.Ancestors...)
	if n.Key != "" {
		out = append(out, n.Key)
	}
	return out
}

// DataSource binds a Node to storage.
type DataSource struct {
	ID         int64
	NodeID     int64
	MimeType   string
	Structure  map[string]any
	Parameters map[string]any
	Management DataManagement
	Assets     []Asset
}

// Asset is a single storage location. Only the "file"
// scheme is currently implemented.
type Asset struct {
	ID           int64
	DataSourceID int64
	DataURI      string
	IsDirectory  bool
}

// Revision is an immutable metadata/specs history entry for a Node.
type Revision struct {
	ID        int64
	NodeID    int64
	Number    int
	Metadata  map[string]any
	Specs     []string
	CreatedAt time.Time
}
