package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/burrow/pkg/apierr"
	"github.com/cuemby/burrow/pkg/types"
)

// identityView mirrors types.Identity on the wire.
type identityView struct {
	Provider string `json:"provider"`
	ID       string `json:"id"`
}

type whoamiResponse struct {
	UUID       string         `json:"uuid"`
	Type       string         `json:"type"`
	Identities []identityView `json:"identities"`
	Roles      []string       `json:"roles"`
	Scopes     []string       `json:"scopes"`
}

// handleWhoami reports the authenticated principal and the scopes the
// presented credential carries, so a client can discover its own
// authority before acting.
func (d *Deps) handleWhoami(w http.ResponseWriter, r *http.Request) {
	principal, scopes, err := requirePrincipal(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	identities := make([]identityView, len(principal.Identities))
	for i, id := range principal.Identities {
		identities[i] = identityView{Provider: id.Provider, ID: id.ID}
	}
	roles := make([]string, len(principal.Roles))
	for i, role := range principal.Roles {
		roles[i] = role.Name
	}
	writeJSON(w, http.StatusOK, whoamiResponse{
		UUID:       principal.UUID,
		Type:       string(principal.Type),
		Identities: identities,
		Roles:      roles,
		Scopes:     scopeNames(scopes),
	})
}

type createAPIKeyRequest struct {
	Scopes     []string `json:"scopes"`
	ExpiresIn  *int64   `json:"expires_in"` // seconds
	Note       string   `json:"note"`
	AccessTags []string `json:"access_tags"`
}

type apiKeyView struct {
	FirstEight     string   `json:"first_eight"`
	Note           string   `json:"note"`
	Scopes         []string `json:"scopes"`
	AccessTags     []string `json:"access_tags,omitempty"`
	ExpirationTime *string  `json:"expiration_time"`
	LatestActivity *string  `json:"latest_activity"`
	CreatedAt      string   `json:"created_at"`
}

type createAPIKeyResponse struct {
	apiKeyView
	// Secret is returned exactly once, at creation.
	Secret string `json:"secret"`
}

func apiKeyViewFrom(key *types.APIKey) apiKeyView {
	v := apiKeyView{
		FirstEight: key.FirstEight,
		Note:       key.Note,
		Scopes:     scopeNames(key.Scopes),
		AccessTags: key.AccessTags,
		CreatedAt:  key.CreatedAt.UTC().Format(time.RFC3339),
	}
	if key.ExpirationTime != nil {
		s := key.ExpirationTime.UTC().Format(time.RFC3339)
		v.ExpirationTime = &s
	}
	if key.LatestActivity != nil {
		s := key.LatestActivity.UTC().Format(time.RFC3339)
		v.LatestActivity = &s
	}
	return v
}

// keyOwner resolves the request to a persisted principal: anonymous
// and unauthenticated callers cannot hold API keys.
func keyOwner(r *http.Request) (*types.Principal, types.ScopeSet, error) {
	principal, scopes, err := requirePrincipal(r.Context())
	if err != nil {
		return nil, nil, err
	}
	if principal.InternalID == 0 {
		return nil, nil, apierr.AuthRequired("httpapi: api key management requires an authenticated principal")
	}
	return principal, scopes, nil
}

// handleCreateAPIKey mints a new key for the calling principal. The
// key's scopes may only narrow the principal's own: effective scopes
// are the intersection either way, but granting a key scopes its
// owner lacks would misrepresent its authority.
func (d *Deps) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	principal, _, err := keyOwner(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req createAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Unprocessable("httpapi: malformed request body"))
		return
	}

	scopes := make(types.ScopeSet, len(req.Scopes))
	effective := principal.EffectiveScopes()
	for _, name := range req.Scopes {
		sc := types.Scope(name)
		if !effective.Has(sc) {
			writeError(w, apierr.Forbidden("httpapi: cannot grant a key scope "+name+" the principal does not hold"))
			return
		}
		scopes[sc] = struct{}{}
	}

	var expiration *time.Time
	if req.ExpiresIn != nil {
		if *req.ExpiresIn <= 0 {
			writeError(w, apierr.Unprocessable("httpapi: expires_in must be positive"))
			return
		}
		t := time.Now().UTC().Add(time.Duration(*req.ExpiresIn) * time.Second)
		expiration = &t
	}

	secret, key, err := d.Auth.Store.CreateAPIKey(r.Context(), principal.InternalID, scopes, req.AccessTags, req.Note, expiration)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: create api key", err))
		return
	}
	writeJSON(w, http.StatusCreated, createAPIKeyResponse{
		apiKeyView: apiKeyViewFrom(key),
		Secret:     secret,
	})
}

// handleListAPIKeys lists the calling principal's keys, hashed
// secrets omitted.
func (d *Deps) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	principal, _, err := keyOwner(r)
	if err != nil {
		writeError(w, err)
		return
	}

	keys, err := d.Auth.Store.ListAPIKeys(r.Context(), principal.InternalID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: list api keys", err))
		return
	}
	out := make([]apiKeyView, len(keys))
	for i, k := range keys {
		out[i] = apiKeyViewFrom(k)
	}
	writeJSON(w, http.StatusOK, struct {
		Data []apiKeyView `json:"data"`
	}{Data: out})
}

// handleRevokeAPIKey deletes one of the calling principal's keys by
// its first_eight prefix.
func (d *Deps) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	principal, _, err := keyOwner(r)
	if err != nil {
		writeError(w, err)
		return
	}

	firstEight := r.URL.Query().Get("first_eight")
	if firstEight == "" {
		writeError(w, apierr.Unprocessable("httpapi: first_eight query parameter is required"))
		return
	}
	if err := d.Auth.Store.DeleteAPIKey(r.Context(), principal.InternalID, firstEight); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
