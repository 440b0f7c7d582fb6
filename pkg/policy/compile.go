package policy

import (
	"fmt"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// GroupParser resolves a group name to its member usernames. Missing
// groups are not an error: the caller logs a warning and the group
// is skipped.
type GroupParser func(group string) ([]string, error)

// State is one compiled, immutable snapshot of the access policy.
// Every read (allowed_scopes, filters) operates against exactly one
// State, obtained via Policy.Current(), so a concurrent refresh never
// produces an inconsistent read.
type State struct {
	// Tags maps tag -> user -> granted scopes.
	Tags map[string]map[string]types.ScopeSet
	// Public is the set of tag names that are (or transitively expand
	// to) the reserved "public" tag.
	Public map[string]struct{}
	// ReverseScopes maps scope -> user -> set of tags granting it, for
	// filter pushdown.
	ReverseScopes map[types.Scope]map[string]map[string]struct{}
	// TagOwners maps tag -> set of principals allowed to apply it.
	TagOwners map[string]map[string]struct{}
	// Roles is the compiled role table, for resolving a user/group
	// entry's "role" reference.
	Roles map[string]types.ScopeSet
}

func newState() *State {
	return &State{
		Tags:          make(map[string]map[string]types.ScopeSet),
		Public:        make(map[string]struct{}),
		ReverseScopes: make(map[types.Scope]map[string]map[string]struct{}),
		TagOwners:     make(map[string]map[string]struct{}),
		Roles:         make(map[string]types.ScopeSet),
	}
}

// mergeStates returns a new State holding everything in current plus
// whatever fresh adds: tags, per-user grants (scope union), public
// marks, reverse-index entries, roles, and tag owners. Nothing in
// current is dropped, so a tag deleted from the document survives
// until the next full reload replaces the State wholesale. Neither
// input is mutated; readers keep whatever snapshot they loaded.
func mergeStates(current, fresh *State) *State {
	out := newState()

	for tag, grants := range current.Tags {
		merged := make(map[string]types.ScopeSet, len(grants))
		for user, scopes := range grants {
			merged[user] = scopes
		}
		out.Tags[tag] = merged
	}
	for tag, grants := range fresh.Tags {
		if out.Tags[tag] == nil {
			out.Tags[tag] = make(map[string]types.ScopeSet, len(grants))
		}
		for user, scopes := range grants {
			out.Tags[tag][user] = out.Tags[tag][user].Union(scopes)
		}
	}

	for tag := range current.Public {
		out.Public[tag] = struct{}{}
	}
	for tag := range fresh.Public {
		out.Public[tag] = struct{}{}
	}

	for _, state := range []*State{current, fresh} {
		for scope, byUser := range state.ReverseScopes {
			if out.ReverseScopes[scope] == nil {
				out.ReverseScopes[scope] = make(map[string]map[string]struct{}, len(byUser))
			}
			for user, tags := range byUser {
				if out.ReverseScopes[scope][user] == nil {
					out.ReverseScopes[scope][user] = make(map[string]struct{}, len(tags))
				}
				for tag := range tags {
					out.ReverseScopes[scope][user][tag] = struct{}{}
				}
			}
		}
		for tag, owners := range state.TagOwners {
			if out.TagOwners[tag] == nil {
				out.TagOwners[tag] = make(map[string]struct{}, len(owners))
			}
			for user := range owners {
				out.TagOwners[tag][user] = struct{}{}
			}
		}
		for name, scopes := range state.Roles {
			out.Roles[name] = out.Roles[name].Union(scopes)
		}
	}

	return out
}

// Compiler holds the static configuration compilation needs: the
// scope universe, DFS depth bound, which scopes participate in the
// reverse index, and the injected group resolver.
type Compiler struct {
	Universe            types.ScopeSet
	MaxDepth            int
	ReverseLookupScopes []types.Scope
	GroupParser         GroupParser
}

// NewCompiler returns a Compiler with default settings: max
// depth 5, reverse lookup over read:metadata and read:data.
func NewCompiler(universe types.ScopeSet, groupParser GroupParser) *Compiler {
	if groupParser == nil {
		groupParser = func(string) ([]string, error) { return nil, nil }
	}
	return &Compiler{
		Universe:            universe,
		MaxDepth:            5,
		ReverseLookupScopes: []types.Scope{types.ScopeReadMetadata, types.ScopeReadData},
		GroupParser:         groupParser,
	}
}

// Compile runs the full compilation algorithm over doc and returns
// the resulting State.
func (c *Compiler) Compile(doc *Document) (*State, error) {
	state := newState()

	// Step 1: validate roles.
	for name, rd := range doc.Roles {
		scopes, err := c.parseScopes(rd.Scopes)
		if err != nil {
			return nil, fmt.Errorf("policy: role %q: %w", name, err)
		}
		if len(scopes) == 0 {
			return nil, fmt.Errorf("policy: role %q has no scopes", name)
		}
		state.Roles[name] = scopes
	}

	// Step 2: adjacency list from auto_tags, validated for existence.
	for name, td := range doc.Tags {
		for _, nested := range td.AutoTags {
			if nested == publicTag {
				continue
			}
			if _, ok := doc.Tags[nested]; !ok {
				return nil, fmt.Errorf("policy: tag %q references undefined auto_tag %q", name, nested)
			}
		}
	}

	// Step 3 & 4: DFS compile every tag, merging nested grants upward.
	inStack := make(map[string]bool)
	done := make(map[string]map[string]types.ScopeSet)
	donePublic := make(map[string]bool)

	var compileTag func(name string, depth int) (map[string]types.ScopeSet, bool, error)
	compileTag = func(name string, depth int) (map[string]types.ScopeSet, bool, error) {
		if grants, ok := done[name]; ok {
			return grants, donePublic[name], nil
		}
		if depth > c.MaxDepth {
			return nil, false, fmt.Errorf("policy: tag %q exceeds max auto_tags depth %d", name, c.MaxDepth)
		}
		if inStack[name] {
			return nil, false, fmt.Errorf("policy: cycle detected in auto_tags at tag %q", name)
		}
		td, ok := doc.Tags[name]
		if !ok {
			return nil, false, fmt.Errorf("policy: undefined tag %q", name)
		}
		inStack[name] = true
		defer delete(inStack, name)

		grants := make(map[string]types.ScopeSet)
		public := false

		for _, nested := range td.AutoTags {
			if nested == publicTag {
				public = true
				continue
			}
			nestedGrants, nestedPublic, err := compileTag(nested, depth+1)
			if err != nil {
				return nil, false, err
			}
			if nestedPublic {
				public = true
			}
			for user, scopes := range nestedGrants {
				grants[user] = grants[user].Union(scopes)
			}
		}

		for user, entry := range td.Users {
			scopes, err := c.resolveEntry(entry, state.Roles)
			if err != nil {
				return nil, false, fmt.Errorf("policy: tag %q user %q: %w", name, user, err)
			}
			grants[user] = grants[user].Union(scopes)
		}
		for group, entry := range td.Groups {
			scopes, err := c.resolveEntry(entry, state.Roles)
			if err != nil {
				return nil, false, fmt.Errorf("policy: tag %q group %q: %w", name, group, err)
			}
			members, err := c.GroupParser(group)
			if err != nil {
				return nil, false, fmt.Errorf("policy: tag %q group %q: %w", name, group, err)
			}
			if members == nil {
				log.Logger.Warn().Str("tag", name).Str("group", group).Msg("policy: group not found, skipped")
				continue
			}
			for _, user := range members {
				grants[user] = grants[user].Union(scopes)
			}
		}

		done[name] = grants
		donePublic[name] = public
		return grants, public, nil
	}

	for name := range doc.Tags {
		grants, public, err := compileTag(name, 0)
		if err != nil {
			return nil, err
		}

		// Step 5: validate resulting scopes.
		for user, scopes := range grants {
			if len(scopes) == 0 {
				return nil, fmt.Errorf("policy: tag %q user %q resolved to an empty scope set", name, user)
			}
			if !scopes.Subset(c.Universe) {
				return nil, fmt.Errorf("policy: tag %q user %q has scopes outside the configured universe", name, user)
			}
		}

		state.Tags[name] = grants
		if public {
			state.Public[name] = struct{}{}
		}
	}

	// Step 6: reverse indices.
	for _, scope := range c.ReverseLookupScopes {
		state.ReverseScopes[scope] = make(map[string]map[string]struct{})
		for tag, grants := range state.Tags {
			for user, scopes := range grants {
				if scopes.Has(scope) {
					if state.ReverseScopes[scope][user] == nil {
						state.ReverseScopes[scope][user] = make(map[string]struct{})
					}
					state.ReverseScopes[scope][user][tag] = struct{}{}
				}
			}
		}
	}

	// Step 7: tag_owners.
	for tag, owners := range doc.TagOwners {
		set := make(map[string]struct{})
		for _, user := range owners.Users {
			set[user] = struct{}{}
		}
		for _, group := range owners.Groups {
			members, err := c.GroupParser(group)
			if err != nil {
				return nil, fmt.Errorf("policy: tag_owners %q group %q: %w", tag, group, err)
			}
			for _, user := range members {
				set[user] = struct{}{}
			}
		}
		state.TagOwners[tag] = set
	}

	return state, nil
}

func (c *Compiler) parseScopes(raw []string) (types.ScopeSet, error) {
	out := make(types.ScopeSet, len(raw))
	for _, s := range raw {
		sc := types.Scope(s)
		out[sc] = struct{}{}
	}
	return out, nil
}

// resolveEntry returns the ScopeSet an entry grants: its explicit
// scopes, or the scopes of its referenced role. Exactly one of
// Scopes/Role must be set.
func (c *Compiler) resolveEntry(entry TagUserEntry, roles map[string]types.ScopeSet) (types.ScopeSet, error) {
	hasScopes := len(entry.Scopes) > 0
	hasRole := entry.Role != ""
	if hasScopes == hasRole {
		return nil, fmt.Errorf("exactly one of scopes or role must be set")
	}
	if hasScopes {
		return c.parseScopes(entry.Scopes)
	}
	scopes, ok := roles[entry.Role]
	if !ok {
		return nil, fmt.Errorf("undefined role %q", entry.Role)
	}
	return scopes, nil
}
