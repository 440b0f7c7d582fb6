package auth

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/apierr"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// TokenPair is the response shape for a successful login or
// refresh: signed access and refresh tokens plus their lifetimes.
type TokenPair struct {
	AccessToken           string
	ExpiresIn             int64
	RefreshToken          string
	RefreshTokenExpiresIn int64
}

// Service is the authentication core's façade: it combines the
// Store, the Keyring, and the configured providers into the
// operations the HTTP layer calls.
type Service struct {
	Store   *Store
	Keyring *Keyring
	Roles   RoleCatalog

	PasswordProviders map[string]PasswordAuthenticator
	CodeProviders     map[string]CodeAuthenticator

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	SessionMaxAge   time.Duration

	DefaultRoleNames []string

	logger zerolog.Logger
}

// NewService assembles a Service. DefaultRoleNames are resolved
// through roles at first-login time for every provider identity.
func NewService(store *Store, keyring *Keyring, roles RoleCatalog, accessTTL, refreshTTL, sessionMaxAge time.Duration, defaultRoleNames []string) *Service {
	return &Service{
		Store:             store,
		Keyring:           keyring,
		Roles:             roles,
		PasswordProviders: make(map[string]PasswordAuthenticator),
		CodeProviders:     make(map[string]CodeAuthenticator),
		AccessTokenTTL:    accessTTL,
		RefreshTokenTTL:   refreshTTL,
		SessionMaxAge:     sessionMaxAge,
		DefaultRoleNames:  defaultRoleNames,
		logger:            log.WithComponent("auth"),
	}
}

// RegisterPasswordProvider installs p under its own Name.
func (s *Service) RegisterPasswordProvider(p PasswordAuthenticator) {
	s.PasswordProviders[p.Name()] = p
}

// RegisterCodeProvider installs p under its own Name.
func (s *Service) RegisterCodeProvider(p CodeAuthenticator) {
	s.CodeProviders[p.Name()] = p
}

// AuthenticatePassword runs the named provider's credential check,
// ensures a Principal exists for the resulting identity, opens a
// Session, and mints a token pair.
func (s *Service) AuthenticatePassword(ctx context.Context, providerName, username, password string) (*types.Principal, *TokenPair, error) {
	provider, ok := s.PasswordProviders[providerName]
	if !ok {
		return nil, nil, apierr.New(apierr.KindUnprocessableContent, "auth: unknown provider "+providerName)
	}
	identity, err := provider.Authenticate(ctx, username, password)
	if err != nil {
		metrics.AuthAttemptsTotal.WithLabelValues(providerName, "rejected").Inc()
		return nil, nil, apierr.Wrap(apierr.KindAuthRequired, "auth: authentication failed", err)
	}
	metrics.AuthAttemptsTotal.WithLabelValues(providerName, "accepted").Inc()
	return s.completeLogin(ctx, identity)
}

// AuthenticateCode runs the named provider's authorization-code
// exchange and completes the login the same way as
// AuthenticatePassword.
func (s *Service) AuthenticateCode(ctx context.Context, providerName, code string) (*types.Principal, *TokenPair, error) {
	provider, ok := s.CodeProviders[providerName]
	if !ok {
		return nil, nil, apierr.New(apierr.KindUnprocessableContent, "auth: unknown provider "+providerName)
	}
	identity, err := provider.ExchangeCode(ctx, code)
	if err != nil {
		metrics.AuthAttemptsTotal.WithLabelValues(providerName, "rejected").Inc()
		return nil, nil, apierr.Wrap(apierr.KindAuthRequired, "auth: code exchange failed", err)
	}
	metrics.AuthAttemptsTotal.WithLabelValues(providerName, "accepted").Inc()
	return s.completeLogin(ctx, identity)
}

func (s *Service) completeLogin(ctx context.Context, identity *ProviderIdentity) (*types.Principal, *TokenPair, error) {
	defaultRoles := s.Roles.Resolve(s.DefaultRoleNames)
	principal, err := s.Store.EnsurePrincipal(ctx, identity.Provider, identity.ExternalID, defaultRoles)
	if err != nil {
		return nil, nil, err
	}
	if principal.Type == types.PrincipalTypeService {
		return nil, nil, apierr.Wrap(apierr.KindAuthRequired, "auth: service principal cannot log in", ErrProviderMismatch)
	}

	sess, err := s.Store.CreateSession(ctx, principal.InternalID, s.SessionMaxAge)
	if err != nil {
		return nil, nil, err
	}

	pair, err := s.mintPair(ctx, principal, sess.UUID, principal.EffectiveScopes())
	if err != nil {
		return nil, nil, err
	}
	return principal, pair, nil
}

// Refresh exchanges a refresh token for a new token pair, rotating
// both tokens: after N refreshes, only the latest refresh token is
// still valid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.Keyring.ParseRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	sess, err := s.Store.Refresh(ctx, claims.SessionID, s.SessionMaxAge, claims.ID)
	if err != nil {
		return nil, err
	}

	principal, err := s.Store.GetPrincipal(ctx, sess.PrincipalID)
	if err != nil {
		return nil, err
	}
	if principal == nil {
		_ = s.Store.DeleteSession(ctx, sess.UUID)
		return nil, ErrSessionInvalid
	}

	return s.mintPair(ctx, principal, sess.UUID, principal.EffectiveScopes())
}

// mintPair issues a fresh access/refresh token pair and records the
// refresh token's jti as the session's one currently-valid refresh
// token, so whatever jti was valid before (if any) is immediately
// superseded.
func (s *Service) mintPair(ctx context.Context, principal *types.Principal, sid string, scopes types.ScopeSet) (*TokenPair, error) {
	access, accessExp, err := s.Keyring.IssueAccessToken(principal, sid, scopes, s.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	refresh, jti, refreshExp, err := s.Keyring.IssueRefreshToken(principal, sid, s.RefreshTokenTTL)
	if err != nil {
		return nil, err
	}
	if err := s.Store.SetCurrentRefreshJTI(ctx, sid, jti); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &TokenPair{
		AccessToken:           access,
		ExpiresIn:             int64(accessExp.Sub(now).Seconds()),
		RefreshToken:          refresh,
		RefreshTokenExpiresIn: int64(refreshExp.Sub(now).Seconds()),
	}, nil
}

// Logout revokes the session identified by a valid access token's
// sid claim.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.Keyring.ParseAccessToken(accessToken)
	if err != nil {
		return err
	}
	return s.Store.RevokeSession(ctx, claims.SessionID)
}

// AuthenticatedPrincipal resolves the bearer credential on a request
// (either an access token or an API key secret) to a Principal and
// its authn scopes for this request: the intersection of the
// principal's role scopes and
// the credential's own scopes, narrower for an API key that restricts
// its own authority.
func (s *Service) AuthenticatedPrincipal(ctx context.Context, bearerKind, credential string) (*types.Principal, types.ScopeSet, error) {
	switch bearerKind {
	case "Bearer":
		claims, err := s.Keyring.ParseAccessToken(credential)
		if err != nil {
			return nil, nil, err
		}
		sess, err := s.Store.GetSession(ctx, claims.SessionID)
		if err != nil {
			return nil, nil, err
		}
		if sess == nil || sess.Revoked {
			return nil, nil, ErrSessionInvalid
		}
		principal, err := s.Store.GetPrincipalByUUID(ctx, claims.Subject)
		if err != nil {
			return nil, nil, err
		}
		if principal == nil {
			return nil, nil, apierr.AuthRequired("auth: principal no longer exists")
		}
		authnScopes := principal.EffectiveScopes().Intersect(claims.ParsedScopes())
		return principal, authnScopes, nil

	case "Apikey":
		key, err := s.Store.Authenticate(ctx, credential)
		if err != nil {
			return nil, nil, err
		}
		principal, err := s.Store.GetPrincipal(ctx, key.PrincipalID)
		if err != nil {
			return nil, nil, err
		}
		if principal == nil {
			return nil, nil, apierr.AuthRequired("auth: principal no longer exists")
		}
		authnScopes := principal.EffectiveScopes()
		if len(key.Scopes) > 0 {
			authnScopes = authnScopes.Intersect(key.Scopes)
		}
		return principal, authnScopes, nil

	default:
		return nil, nil, apierr.AuthRequired("auth: unsupported authorization scheme")
	}
}
