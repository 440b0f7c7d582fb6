package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/cuemby/burrow/pkg/apierr"
	"github.com/cuemby/burrow/pkg/auth"
)

// tokenResponse is the wire shape for every endpoint that mints or
// rotates tokens (refresh response, reused for login).
type tokenResponse struct {
	AccessToken           string `json:"access_token"`
	ExpiresIn             int64  `json:"expires_in"`
	RefreshToken          string `json:"refresh_token"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in"`
	TokenType             string `json:"token_type"`
}

func tokenResponseFrom(pair *auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:           pair.AccessToken,
		ExpiresIn:             pair.ExpiresIn,
		RefreshToken:          pair.RefreshToken,
		RefreshTokenExpiresIn: pair.RefreshTokenExpiresIn,
		TokenType:             "bearer",
	}
}

type passwordLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (d *Deps) handlePasswordLogin(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]

	var req passwordLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.KindUnprocessableContent, "httpapi: malformed request body"))
		return
	}

	_, pair, err := d.Auth.AuthenticatePassword(r.Context(), provider, req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponseFrom(pair))
}

type codeLoginRequest struct {
	Code string `json:"code"`
}

func (d *Deps) handleCodeLogin(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]

	var req codeLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.KindUnprocessableContent, "httpapi: malformed request body"))
		return
	}

	_, pair, err := d.Auth.AuthenticateCode(r.Context(), provider, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponseFrom(pair))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (d *Deps) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.KindUnprocessableContent, "httpapi: malformed request body"))
		return
	}

	pair, err := d.Auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponseFrom(pair))
}

func (d *Deps) handleLogout(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	kind, credential, ok := splitAuthHeader(header)
	if !ok || !strings.EqualFold(kind, "Bearer") {
		writeError(w, apierr.AuthRequired("httpapi: logout requires a bearer access token"))
		return
	}

	if err := d.Auth.Logout(r.Context(), credential); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
