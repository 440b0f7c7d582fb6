package httpapi

import (
	"context"

	"github.com/cuemby/burrow/pkg/apierr"
	"github.com/cuemby/burrow/pkg/types"
)

type ctxKey int

const (
	ctxKeyPrincipal ctxKey = iota
	ctxKeyScopes
	ctxKeyAuthErr
)

// withPrincipal stashes the request's resolved identity for handlers
// to read back via requirePrincipal/principalScopes.
func withPrincipal(ctx context.Context, principal *types.Principal, scopes types.ScopeSet, authErr error) context.Context {
	ctx = context.WithValue(ctx, ctxKeyPrincipal, principal)
	ctx = context.WithValue(ctx, ctxKeyScopes, scopes)
	return context.WithValue(ctx, ctxKeyAuthErr, authErr)
}

// requirePrincipal returns the authenticated (or anonymous, if
// configured) principal and its authn scopes, or the error recorded by
// the authentication middleware if credential parsing failed outright.
func requirePrincipal(ctx context.Context) (*types.Principal, types.ScopeSet, error) {
	if err, _ := ctx.Value(ctxKeyAuthErr).(error); err != nil {
		return nil, nil, err
	}
	principal, _ := ctx.Value(ctxKeyPrincipal).(*types.Principal)
	if principal == nil {
		return nil, nil, apierr.AuthRequired("httpapi: authentication required")
	}
	scopes, _ := ctx.Value(ctxKeyScopes).(types.ScopeSet)
	return principal, scopes, nil
}
