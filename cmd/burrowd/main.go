// Command burrowd runs the structured-data access service: the HTTP
// surface, the background scheduler, and the subcommands needed to
// prepare a catalog database and validate an access-policy document
// before serving traffic.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/adapter"
	"github.com/cuemby/burrow/pkg/adapter/builtin"
	"github.com/cuemby/burrow/pkg/apierr"
	"github.com/cuemby/burrow/pkg/auth"
	"github.com/cuemby/burrow/pkg/cache"
	"github.com/cuemby/burrow/pkg/catalog"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/httpapi"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/policy"
	"github.com/cuemby/burrow/pkg/scheduler"
	"github.com/cuemby/burrow/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrowd",
	Short: "burrowd - structured-data access service",
	Long: `burrowd exposes hierarchical scientific datasets over HTTP with
fine-grained authentication, authorization, search, and partial-read
access to arrays and tables.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("burrowd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "./burrow.yml", "Path to configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(policyCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, apierr.ConfigError(err.Error())
	}
	return cfg, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and background scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runServe(cfg)
	},
}

func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.SetVersion(Version)

	store, err := catalog.Open(ctx, cfg.DatabaseURI)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer store.Close()

	if _, err := store.EnsureRoot(ctx); err != nil {
		return fmt.Errorf("failed to ensure root node: %w", err)
	}
	metrics.SetComponent("catalog", true, "")
	fmt.Println("✓ Catalog ready:", cfg.DatabaseURI)

	authStore, err := auth.NewStore(ctx, store.DB(), store.DialectName())
	if err != nil {
		return fmt.Errorf("failed to open auth store: %w", err)
	}

	keys := make([]auth.SigningKey, len(cfg.SigningKeyIDs))
	for i, id := range cfg.SigningKeyIDs {
		keys[i] = auth.SigningKey{ID: id, Key: []byte(cfg.SigningKeySecrets[i])}
	}
	keyring, err := auth.NewKeyring(keys)
	if err != nil {
		return fmt.Errorf("failed to build signing keyring: %w", err)
	}

	roles := make(auth.RoleCatalog, len(cfg.Roles))
	for name, scopeNames := range cfg.Roles {
		roles[name] = scopeSetFromNames(scopeNames)
	}

	authSvc := auth.NewService(authStore, keyring, roles, cfg.AccessTokenMaxAge, cfg.RefreshTokenMaxAge, cfg.SessionMaxAge, cfg.DefaultRoles)

	internalProvider := auth.NewInternalPasswordProvider(authStore)
	authSvc.RegisterPasswordProvider(internalProvider)
	for _, p := range cfg.AuthProviders {
		if p.Kind == "internal" {
			continue // already registered above under its own Name
		}
		log.Warn(fmt.Sprintf("unrecognized auth provider kind %q for %q; external providers are configured by the operator's own collaborator, not burrowd itself", p.Kind, p.Name))
	}
	metrics.SetComponent("auth", true, "")
	fmt.Println("✓ Auth core ready")

	universe := scopeSetFromNames(cfg.ScopeUniverse)
	compiler := policy.NewCompiler(universe, nil)
	accessPolicy := policy.New(cfg.PolicyPath, compiler)
	if err := accessPolicy.Load(ctx); err != nil {
		return fmt.Errorf("failed to load access policy: %w", err)
	}
	metrics.SetComponent("policy", true, "")
	fmt.Println("✓ Access policy compiled:", cfg.PolicyPath)

	registry := adapter.NewRegistry()
	builtin.Register(registry)
	pool := adapter.NewPool(32)

	var objCache *cache.Cache
	if cfg.ObjectCacheBytes > 0 {
		objCache, err = cache.New(cfg.ObjectCacheBytes, nil)
		if err != nil {
			return fmt.Errorf("failed to create object cache: %w", err)
		}
	}

	deps := &httpapi.Deps{
		Catalog:       store,
		Policy:        accessPolicy,
		Registry:      registry,
		Pool:          pool,
		Auth:          authSvc,
		Config:        cfg,
		Cache:         objCache,
		ScopeUniverse: universe,
	}
	router := httpapi.NewRouter(deps)

	sched := scheduler.New()
	midnight := time.Now().Truncate(24 * time.Hour)
	sched.Register("purge_expired_sessions", cfg.SchedulerSessionPurge, midnight, func(ctx context.Context) error {
		_, err := authStore.PurgeExpiredSessions(ctx)
		return err
	})
	sched.Register("purge_expired_api_keys", cfg.SchedulerAPIKeyPurge, midnight, func(ctx context.Context) error {
		_, err := authStore.PurgeExpiredAPIKeys(ctx)
		return err
	})
	sched.Register("policy_full_reload", cfg.SchedulerPolicyFullReload, midnight, func(ctx context.Context) error {
		return accessPolicy.Load(ctx)
	})
	sched.Register("policy_partial_update", cfg.SchedulerPolicyPartialUpdate, midnight, func(ctx context.Context) error {
		return accessPolicy.PartialUpdate(ctx)
	})
	sched.Start()
	metrics.SetComponent("scheduler", true, "")
	fmt.Println("✓ Background scheduler started")

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	fmt.Printf("✓ HTTP server listening on %s\n", cfg.ListenAddr)
	fmt.Println()
	fmt.Println("burrowd is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	sched.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}

func scopeSetFromNames(names []string) types.ScopeSet {
	out := make(types.ScopeSet, len(names))
	for _, n := range names {
		out[types.Scope(n)] = struct{}{}
	}
	return out
}
