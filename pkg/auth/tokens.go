package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cuemby/burrow/pkg/apierr"
	"github.com/cuemby/burrow/pkg/types"
)

// SigningKey is one entry in a Keyring: an identifier (carried in the
// token header's "kid" so verification can skip straight to the
// right key) and the HMAC secret material.
type SigningKey struct {
	ID  string
	Key []byte
}

// Keyring holds the signing keys configured for this process. The
// first entry signs new tokens and stamps its ID into the "kid"
// header; verification uses the key whose ID matches the token's kid
// (the first key when the kid is missing or unknown), so signing-key
// rotation does not invalidate tokens signed by a key still in the
// list.
type Keyring struct {
	keys []SigningKey
	byID map[string]SigningKey
}

// NewKeyring builds a Keyring from keys, in priority order (keys[0]
// signs).
func NewKeyring(keys []SigningKey) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("auth: at least one signing key is required")
	}
	byID := make(map[string]SigningKey, len(keys))
	for _, k := range keys {
		byID[k.ID] = k
	}
	return &Keyring{keys: keys, byID: byID}, nil
}

func (kr *Keyring) signingKey() SigningKey { return kr.keys[0] }

func (kr *Keyring) keyfunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid != "" {
		if k, ok := kr.byID[kid]; ok {
			return k.Key, nil
		}
	}
	// No (or unrecognized) kid: fall back to the primary key, for
	// tokens issued before "kid" stamping.
	return kr.keys[0].Key, nil
}

// AccessClaims is the payload of an access token: the
// principal's UUID (as the registered Subject), its identities,
// effective scopes for this token, and the session it was minted
// under.
type AccessClaims struct {
	jwt.RegisteredClaims
	Identities []types.Identity `json:"identities"`
	Scopes     []string         `json:"scopes"`
	SessionID  string           `json:"sid"`
}

// RefreshClaims is the payload of a refresh token: just enough to
// look up the Session row and re-derive scopes at refresh time.
type RefreshClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// IssueAccessToken signs a new access token for principal, scoped to
// scopes, under session sid, valid for ttl.
func (kr *Keyring) IssueAccessToken(principal *types.Principal, sid string, scopes types.ScopeSet, ttl time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.UUID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Identities: principal.Identities,
		Scopes:     scopeNames(scopes),
		SessionID:  sid,
	}
	signed, err := kr.sign(claims)
	return signed, expiresAt, err
}

// IssueRefreshToken signs a new refresh token for principal under
// session sid, valid for ttl. The returned jti is the token's unique
// id (jwt.RegisteredClaims.ID); callers persist it as the session's
// current_refresh_jti so a superseded refresh token is rejected on
// reuse (refresh rotation).
func (kr *Keyring) IssueRefreshToken(principal *types.Principal, sid string, ttl time.Duration) (signed string, jti string, expiresAt time.Time, err error) {
	now := time.Now().UTC()
	expiresAt = now.Add(ttl)
	jti = uuid.NewString()
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   principal.UUID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID: sid,
	}
	signed, err = kr.sign(claims)
	return signed, jti, expiresAt, err
}

func (kr *Keyring) sign(claims jwt.Claims) (string, error) {
	signingKey := kr.signingKey()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = signingKey.ID
	return token.SignedString(signingKey.Key)
}

// ParseAccessToken verifies and decodes an access token string.
func (kr *Keyring) ParseAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := kr.parse(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseRefreshToken verifies and decodes a refresh token string.
func (kr *Keyring) ParseRefreshToken(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := kr.parse(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (kr *Keyring) parse(raw string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(raw, claims, kr.keyfunc, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return apierr.Wrap(apierr.KindAuthRequired, "auth: invalid or expired token", err)
	}
	return nil
}

func scopeNames(scopes types.ScopeSet) []string {
	out := make([]string, 0, len(scopes))
	for sc := range scopes {
		out = append(out, string(sc))
	}
	return out
}

// ParsedScopes converts an AccessClaims' string scopes back into a
// ScopeSet.
func (c *AccessClaims) ParsedScopes() types.ScopeSet {
	out := make(types.ScopeSet, len(c.Scopes))
	for _, sc := range c.Scopes {
		out[types.Scope(sc)] = struct{}{}
	}
	return out
}
