package adapter

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// AccessChecker is the narrow slice of the access-policy package an
// adapter constructor needs: nothing, today, but the parameter is
// threaded through every constructor signature so a future adapter
// can consult tag ownership during construction without a signature
// change.
type AccessChecker interface {
	// NodeOwnerTags returns the tags, if any, that would own a freshly
	// constructed node at the given path — reserved for adapters that
	// need to pre-seed access-policy state at construction time.
	NodeOwnerTags(path []string) []string
}

// Constructor builds an Adapter for one mimetype from a DataSource's
// recorded paths, structure descriptor, metadata, and specs.
// Construction failures propagate to the caller, who logs them as
// server-internal errors without taking down the process.
type Constructor func(paths []string, structureData map[string]any, metadata map[string]any, specs []string, access AccessChecker) (Adapter, error)

// Initializer creates the on-disk layout for a freshly created
// writable DataSource at path and returns the Assets it laid down.
// InitAsset.DataURI is the file path; the catalog records it
// verbatim.
type Initializer func(path string, structureData map[string]any) ([]InitAsset, error)

// InitAsset is one storage location returned by an Initializer,
// mirroring types.Asset without the catalog-assigned ids.
type InitAsset struct {
	DataURI     string
	IsDirectory bool
}

// The registry memoizes only the MIME->Constructor lookup, once per
// mimetype; constructed adapter instances are not cached, so each
// data source gets a fresh adapter. PathSafe below is stateless.

// Registry maps MIME type to Constructor, realized lazily the first
// time a mimetype is requested and cached after that: entries are
// memoized constructors, each
// guarded by a per-key initialization lock so two concurrent lookups
// of the same unregistered mimetype do not race.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	initializers map[string]Initializer
	locks        map[string]*sync.Once
	lazy         map[string]func() (Constructor, error)
	lazyResult   map[string]Constructor
	lazyErr      map[string]error
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
		initializers: make(map[string]Initializer),
		locks:        make(map[string]*sync.Once),
		lazy:         make(map[string]func() (Constructor, error)),
		lazyResult:   make(map[string]Constructor),
		lazyErr:      make(map[string]error),
	}
}

// Register installs a constructor for mimetype, available
// immediately.
func (r *Registry) Register(mimetype string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[mimetype] = ctor
}

// RegisterLazy installs a factory that realizes its Constructor on
// first use and caches the result (or the error) thereafter — the
// memoized-entry path proper, for constructors expensive to build
// (e.g. ones that probe for an optional system library).
func (r *Registry) RegisterLazy(mimetype string, factory func() (Constructor, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lazy[mimetype] = factory
	r.locks[mimetype] = &sync.Once{}
}

// Lookup returns the Constructor for mimetype, realizing it via its
// lazy factory on first use if needed.
func (r *Registry) Lookup(mimetype string) (Constructor, error) {
	r.mu.RLock()
	if ctor, ok := r.constructors[mimetype]; ok {
		r.mu.RUnlock()
		return ctor, nil
	}
	once, hasLazy := r.locks[mimetype]
	factory := r.lazy[mimetype]
	r.mu.RUnlock()

	if !hasLazy {
		return nil, fmt.Errorf("adapter: no constructor registered for mimetype %q", mimetype)
	}

	once.Do(func() {
		ctor, err := factory()
		r.mu.Lock()
		r.lazyResult[mimetype] = ctor
		r.lazyErr[mimetype] = err
		r.mu.Unlock()
	})

	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.lazyErr[mimetype]; err != nil {
		return nil, err
	}
	return r.lazyResult[mimetype], nil
}

// RegisterInitializer installs the writable-storage initializer for
// mimetype. Only mimetypes with an Initializer can back a DataSource
// with management=writable.
func (r *Registry) RegisterInitializer(mimetype string, init Initializer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initializers[mimetype] = init
}

// InitStorage creates the on-disk layout for a new writable
// DataSource of the given mimetype at path.
func (r *Registry) InitStorage(mimetype, path string, structureData map[string]any) ([]InitAsset, error) {
	r.mu.RLock()
	init, ok := r.initializers[mimetype]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("adapter: no writable-storage initializer registered for mimetype %q", mimetype)
	}
	return init(path, structureData)
}

// Construct realizes an Adapter for the given mimetype and arguments.
func (r *Registry) Construct(mimetype string, paths []string, structureData map[string]any, metadata map[string]any, specs []string, access AccessChecker) (Adapter, error) {
	ctor, err := r.Lookup(mimetype)
	if err != nil {
		return nil, err
	}
	return ctor(paths, structureData, metadata, specs, access)
}

// PathSafe reports whether candidate resolves to a path inside root,
// rejecting traversal outside the configured storage root: a writable
// data_uri must lie inside writable_storage, an external one under
// some readable_storage root.
func PathSafe(root, candidate string) bool {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return false
	}
	rootAbs = filepath.Clean(rootAbs)
	candAbs = filepath.Clean(candAbs)
	if candAbs == rootAbs {
		return true
	}
	return strings.HasPrefix(candAbs, rootAbs+string(filepath.Separator))
}

// offloadResult carries the result of a blocking call run on the
// worker pool.
type offloadResult struct {
	data []byte
	err  error
}

// Offload runs fn — a blocking adapter call that touches storage — on
// a bounded worker pool so it never blocks the caller's goroutine
// past ctx's deadline. The pool size is fixed at construction;
// callers share one Pool per process.
type Pool struct {
	sem chan struct{}
}

// NewPool creates a worker pool that allows at most concurrency
// blocking calls in flight at once.
func NewPool(concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pool{sem: make(chan struct{}, concurrency)}
}

// Offload runs fn on the pool, respecting ctx cancellation both while
// waiting for a slot and while fn runs.
func (p *Pool) Offload(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-p.sem }()

	resultCh := make(chan offloadResult, 1)
	go func() {
		data, err := fn()
		resultCh <- offloadResult{data: data, err: err}
	}()

	select {
	case res := <-resultCh:
		return res.data, res.err
	case <-ctx.Done():
		// fn keeps running to completion in its goroutine (blocking
		// storage calls are not generally cancellable mid-flight);
		// the caller gives up on waiting for it.
		return nil, ctx.Err()
	}
}
