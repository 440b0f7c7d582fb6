// Package httpapi is the HTTP front end: routing, content
// negotiation, JSON:API-style pagination, ETag/304 support for array
// chunks, and a compression middleware with cost/ratio gating.
// Routing is built on gorilla/mux, grounded on the pack's own use of
// it (e.g. platinummonkey-spoke's documented REST surface) rather than
// stdlib's http.ServeMux, which cannot express {path}-style wildcard
// segments or per-route method dispatch as directly.
package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/cuemby/burrow/pkg/adapter"
	"github.com/cuemby/burrow/pkg/auth"
	"github.com/cuemby/burrow/pkg/cache"
	"github.com/cuemby/burrow/pkg/catalog"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/policy"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// Deps bundles every collaborator a handler needs. One Deps is built
// at startup by cmd/burrowd and shared across all requests.
type Deps struct {
	Catalog  *catalog.Store
	Policy   *policy.Policy
	Registry *adapter.Registry
	Pool     *adapter.Pool
	Auth     *auth.Service
	Config   *config.Config
	Cache    *cache.Cache // nil disables object caching

	ScopeUniverse types.ScopeSet

	logger           zerolog.Logger
	authLimiterOnce  sync.Once
	authLimiterStore *ipRateLimiter
}

// NewRouter builds the complete route table, wrapped in the
// middleware chain every request passes through: request metrics,
// authentication, CSRF enforcement, and response compression
// (innermost to outermost is the reverse of registration order below,
// since mux.Router.Use wraps in the order supplied).
func NewRouter(deps *Deps) *mux.Router {
	deps.logger = log.WithComponent("httpapi")
	if deps.ScopeUniverse == nil {
		deps.ScopeUniverse = scopeSetFromNames(deps.Config.ScopeUniverse)
	}

	r := mux.NewRouter()
	r.Use(metricsMiddleware)
	r.Use(deps.requestLoggingMiddleware)
	r.Use(deps.authenticationMiddleware)
	r.Use(deps.csrfMiddleware)
	r.Use(compressionMiddleware(deps.Config.CompressionMinBytes, deps.Config.CompressionRatioMin))

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/", deps.handleRoot).Methods(http.MethodGet)
	api.HandleFunc("/metadata/{path:.*}", deps.handleMetadata).Methods(http.MethodGet)
	api.HandleFunc("/metadata/{path:.*}", deps.handleCreateNode).Methods(http.MethodPost)
	api.HandleFunc("/metadata/{path:.*}", deps.handleUpdateNode).Methods(http.MethodPatch)
	api.HandleFunc("/metadata/{path:.*}", deps.handleDeleteNode).Methods(http.MethodDelete)
	api.HandleFunc("/nodes/{path:.*}", deps.handleDeleteTree).Methods(http.MethodDelete)
	api.HandleFunc("/search/{path:.*}", deps.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/distinct/{path:.*}", deps.handleDistinct).Methods(http.MethodGet)
	api.HandleFunc("/array/block/{path:.*}", deps.handleArrayBlock).Methods(http.MethodGet)
	api.HandleFunc("/array/block/{path:.*}", deps.handleWriteArrayBlock).Methods(http.MethodPut)
	api.HandleFunc("/array/full/{path:.*}", deps.handleArrayFull).Methods(http.MethodGet)
	api.HandleFunc("/array/full/{path:.*}", deps.handleWriteArrayFull).Methods(http.MethodPut)
	api.HandleFunc("/table/partition/{path:.*}", deps.handleTablePartition).Methods(http.MethodGet)
	api.HandleFunc("/table/partition/{path:.*}", deps.handleWriteTablePartition).Methods(http.MethodPut)
	api.HandleFunc("/table/full/{path:.*}", deps.handleTableFull).Methods(http.MethodGet)
	api.HandleFunc("/table/full/{path:.*}", deps.handleWriteTableFull).Methods(http.MethodPut)
	api.HandleFunc("/revisions/{path:.*}", deps.handleListRevisions).Methods(http.MethodGet)
	api.HandleFunc("/revisions/{path:.*}/{number:[0-9]+}", deps.handleDeleteRevision).Methods(http.MethodDelete)

	authRoutes := api.PathPrefix("/auth").Subrouter()
	authRoutes.Use(rateLimitMiddleware(deps.authLimiter()))
	authRoutes.HandleFunc("/provider/{provider}/password", deps.handlePasswordLogin).Methods(http.MethodPost)
	authRoutes.HandleFunc("/provider/{provider}/code", deps.handleCodeLogin).Methods(http.MethodPost)
	authRoutes.HandleFunc("/session/refresh", deps.handleRefresh).Methods(http.MethodPost)
	authRoutes.HandleFunc("/session/revoke", deps.handleLogout).Methods(http.MethodPost)
	authRoutes.HandleFunc("/whoami", deps.handleWhoami).Methods(http.MethodGet)
	authRoutes.HandleFunc("/apikey", deps.handleCreateAPIKey).Methods(http.MethodPost)
	authRoutes.HandleFunc("/apikey", deps.handleListAPIKeys).Methods(http.MethodGet)
	authRoutes.HandleFunc("/apikey", deps.handleRevokeAPIKey).Methods(http.MethodDelete)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", metrics.HealthHandler()).Methods(http.MethodGet)
	r.HandleFunc("/ready", metrics.ReadyHandler()).Methods(http.MethodGet)
	r.HandleFunc("/live", metrics.LivenessHandler()).Methods(http.MethodGet)

	return r
}

func scopeSetFromNames(names []string) types.ScopeSet {
	out := make(types.ScopeSet, len(names))
	for _, n := range names {
		out[types.Scope(n)] = struct{}{}
	}
	return out
}

// authLimiterRate, authLimiterBurst and authLimiterTTL configure the
// per-client-IP rate limit applied to every route under /auth; a
// client's limiter is dropped after authLimiterTTL without requests.
const (
	authLimiterRate  = 5 // requests per second
	authLimiterBurst = 20
	authLimiterTTL   = 10 * time.Minute
)
