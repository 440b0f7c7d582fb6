// Package policy compiles and evaluates the tag-based access-control
// document that governs which scopes a principal holds over a
// node. A Policy loads a YAML document, compiles it into an
// immutable State, and publishes that State for lock-free reads via
// an atomic pointer swap: readers never block on a concurrent reload.
package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/burrow/pkg/apierr"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/query"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ErrNoAccess is returned by Filters when the requested scopes fall
// outside the configured universe or outside the reverse-lookup
// scopes; the HTTP layer maps this to 403.
var ErrNoAccess = errors.New("policy: no access")

// DefaultUnremovableScopes is the set a non-admin principal must
// retain over a node it owns, to prevent locking itself out.
func DefaultUnremovableScopes() types.ScopeSet {
	return types.ScopeSet{
		types.ScopeReadMetadata:  struct{}{},
		types.ScopeWriteMetadata: struct{}{},
	}
}

// Policy is the runtime access-policy engine: a compiler plus the
// currently published State, refreshed on independent full-reload and
// partial-update schedules.
type Policy struct {
	path    string
	logger  zerolog.Logger
	compile *Compiler

	unremovable types.ScopeSet

	current   atomic.Pointer[State]
	compileMu sync.Mutex
}

// New constructs a Policy that will load its document from path. Call
// Load once at startup before serving traffic.
func New(path string, compiler *Compiler) *Policy {
	return &Policy{
		path:        path,
		logger:      log.WithComponent("policy"),
		compile:     compiler,
		unremovable: DefaultUnremovableScopes(),
	}
}

// Current returns the most recently published State. Safe for
// concurrent use; never blocks on a reload in progress.
func (p *Policy) Current() *State {
	return p.current.Load()
}

func readDocument(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	doc := &Document{}
	if err := yaml.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("policy: parse %s: %w", path, err)
	}
	return doc, nil
}

// Load performs a full reload: re-read the YAML document, recompile
// from scratch, and atomically publish the result. Blocking; intended
// to be called once at startup and periodically thereafter by the
// full-reload scheduled task.
func (p *Policy) Load(ctx context.Context) error {
	p.compileMu.Lock()
	defer p.compileMu.Unlock()
	return p.reloadLocked()
}

func (p *Policy) reloadLocked() error {
	doc, err := readDocument(p.path)
	if err != nil {
		return err
	}
	state, err := p.compile.Compile(doc)
	if err != nil {
		return fmt.Errorf("policy: compile: %w", err)
	}
	p.current.Store(state)
	return nil
}

// PartialUpdate re-reads and recompiles the document, then merges the
// result additively into the currently published State: newly-seen
// tags, grants, public marks, and owners are added, but nothing
// already loaded is removed. Removals wait for the next full reload,
// which replaces the State wholesale. It acquires the compile mutex
// with a short timeout and skips the cycle, logging, if a full reload
// is already in progress.
func (p *Policy) PartialUpdate(ctx context.Context) error {
	acquired := make(chan struct{})
	go func() {
		p.compileMu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		defer p.compileMu.Unlock()
	case <-time.After(100 * time.Millisecond):
		p.logger.Warn().Msg("partial update skipped, compile already in progress")
		return nil
	}

	doc, err := readDocument(p.path)
	if err != nil {
		return err
	}
	fresh, err := p.compile.Compile(doc)
	if err != nil {
		return fmt.Errorf("policy: compile: %w", err)
	}

	current := p.current.Load()
	if current == nil {
		p.current.Store(fresh)
		return nil
	}
	p.current.Store(mergeStates(current, fresh))
	return nil
}

// InitNode validates a requested access_blob for a newly created node
// (init_node) and returns the access_blob it should
// actually be created with.
func (p *Policy) InitNode(principal *types.Principal, authnScopes types.ScopeSet, requested *types.AccessBlob) (modified bool, final *types.AccessBlob, err error) {
	if requested == nil || requested.IsEmpty() {
		return true, &types.AccessBlob{User: principal.Identifier()}, nil
	}
	if requested.User != "" {
		return false, nil, apierr.New(apierr.KindUnprocessableContent, "access_blob must have exactly key \"tags\"")
	}

	if len(requested.Tags) == 0 && !principal.IsAdmin() {
		return false, nil, apierr.Forbidden("an empty tag list requires admin scope")
	}

	state := p.Current()
	if err := p.checkTagOwnership(state, principal, requested.Tags); err != nil {
		return false, nil, err
	}
	if !principal.IsAdmin() {
		if err := p.checkUnremovable(state, principal, requested.Tags); err != nil {
			return false, nil, err
		}
	}

	return false, &types.AccessBlob{Tags: requested.Tags}, nil
}

// ModifyNode validates a requested access_blob change against the
// node's current one (modify_node): the same per-tag
// ownership rules apply to both added and removed tags, and the
// post-change scope check is identical to InitNode's.
func (p *Policy) ModifyNode(principal *types.Principal, authnScopes types.ScopeSet, current, requested *types.AccessBlob) (*types.AccessBlob, error) {
	if requested == nil || requested.IsEmpty() {
		return nil, apierr.New(apierr.KindUnprocessableContent, "access_blob must have exactly key \"tags\"")
	}
	if requested.User != "" {
		return nil, apierr.New(apierr.KindUnprocessableContent, "access_blob must have exactly key \"tags\"")
	}
	if len(requested.Tags) == 0 && !principal.IsAdmin() {
		return nil, apierr.Forbidden("an empty tag list requires admin scope")
	}

	currentTags := map[string]struct{}{}
	if current != nil {
		for _, t := range current.Tags {
			currentTags[t] = struct{}{}
		}
	}
	requestedTags := map[string]struct{}{}
	for _, t := range requested.Tags {
		requestedTags[t] = struct{}{}
	}

	var changed []string
	for t := range requestedTags {
		if _, ok := currentTags[t]; !ok {
			changed = append(changed, t)
		}
	}
	for t := range currentTags {
		if _, ok := requestedTags[t]; !ok {
			changed = append(changed, t)
		}
	}

	state := p.Current()
	if err := p.checkTagOwnership(state, principal, changed); err != nil {
		return nil, err
	}
	if !principal.IsAdmin() {
		if err := p.checkUnremovable(state, principal, requested.Tags); err != nil {
			return nil, err
		}
	}

	return &types.AccessBlob{Tags: requested.Tags}, nil
}

func (p *Policy) checkTagOwnership(state *State, principal *types.Principal, tags []string) error {
	if principal.IsAdmin() {
		return nil
	}
	for _, tag := range tags {
		if tag == publicTag {
			return apierr.Forbidden("the public tag may only be applied by an admin")
		}
		if _, ok := state.Tags[tag]; !ok {
			return apierr.New(apierr.KindUnprocessableContent, fmt.Sprintf("undefined tag %q", tag))
		}
		owners := state.TagOwners[tag]
		if _, ok := owners[principal.Identifier()]; !ok {
			return apierr.Forbidden(fmt.Sprintf("not an owner of tag %q", tag))
		}
	}
	return nil
}

func (p *Policy) checkUnremovable(state *State, principal *types.Principal, tags []string) error {
	grants := make(types.ScopeSet)
	for _, tag := range tags {
		if scopes, ok := state.Tags[tag][principal.Identifier()]; ok {
			grants = grants.Union(scopes)
		}
	}
	for scope := range p.unremovable {
		if !grants.Has(scope) {
			return apierr.Forbidden(fmt.Sprintf("resulting tags would not grant required scope %q to the owning principal", scope))
		}
	}
	return nil
}

// AllowedScopes computes the scopes principal holds over node,
// restricted to the configured universe.
func (p *Policy) AllowedScopes(node *types.Node, principal *types.Principal, universe types.ScopeSet) types.ScopeSet {
	if node.AccessBlob.IsEmpty() {
		return universe
	}
	if principal.IsAdmin() {
		return universe
	}

	state := p.Current()
	if node.AccessBlob.User != "" {
		if node.AccessBlob.User == principal.Identifier() {
			return universe
		}
		return types.ScopeSet{}
	}

	grants := make(types.ScopeSet)
	for _, tag := range node.AccessBlob.Tags {
		if scopes, ok := state.Tags[tag][principal.Identifier()]; ok {
			grants = grants.Union(scopes)
		}
		if _, public := state.Public[tag]; public {
			grants[types.ScopeReadMetadata] = struct{}{}
			grants[types.ScopeReadData] = struct{}{}
		}
	}

	out := make(types.ScopeSet)
	for scope := range grants {
		if _, ok := universe[scope]; ok {
			out[scope] = struct{}{}
		}
	}
	return out
}

// Filters returns the query objects that restrict search results to
// what principal may see under the requested scopes. Admins receive
// no restriction.
func (p *Policy) Filters(principal *types.Principal, universe types.ScopeSet, requested types.ScopeSet) ([]query.Query, error) {
	if principal.IsAdmin() {
		return nil, nil
	}

	state := p.Current()
	var tagList []string
	seen := map[string]struct{}{}
	first := true
	var intersection map[string]struct{}

	for scope := range requested {
		if _, ok := universe[scope]; !ok {
			return nil, ErrNoAccess
		}
		reverse, ok := state.ReverseScopes[scope]
		if !ok {
			return nil, ErrNoAccess
		}
		tags := reverse[principal.Identifier()]
		if first {
			intersection = make(map[string]struct{}, len(tags))
			for t := range tags {
				intersection[t] = struct{}{}
			}
			first = false
			continue
		}
		for t := range intersection {
			if _, ok := tags[t]; !ok {
				delete(intersection, t)
			}
		}
	}
	for t := range intersection {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			tagList = append(tagList, t)
		}
	}

	if requested.Has(types.ScopeReadMetadata) || requested.Has(types.ScopeReadData) {
		for t := range state.Public {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				tagList = append(tagList, t)
			}
		}
	}

	return []query.Query{query.AccessBlobFilter{
		Identifier: principal.Identifier(),
		TagList:    tagList,
	}}, nil
}
