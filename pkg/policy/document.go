package policy

// publicTag is the reserved tag identifier that is never defined by
// the document itself; it only ever appears as an auto_tags target
// and expands to "visible to every authenticated (or anonymous, if
// enabled) principal with read scopes".
const publicTag = "public"

// RoleDoc is one entry under the YAML document's top-level "roles"
// key: a named bundle of scopes.
type RoleDoc struct {
	Scopes []string `yaml:"scopes"`
}

// TagUserEntry is one entry under a tag's "users" or "groups" map.
// Exactly one of Scopes or Role must be set.
type TagUserEntry struct {
	Scopes []string `yaml:"scopes"`
	Role   string   `yaml:"role"`
}

// TagDoc is one entry under the document's top-level "tags" key.
type TagDoc struct {
	AutoTags []string                `yaml:"auto_tags"`
	Users    map[string]TagUserEntry `yaml:"users"`
	Groups   map[string]TagUserEntry `yaml:"groups"`
}

// TagOwnerDoc lists who may apply or remove a given tag at node
// creation or modification time — not necessarily the same principals
// the tag grants scopes to.
type TagOwnerDoc struct {
	Users  []string `yaml:"users"`
	Groups []string `yaml:"groups"`
}

// Document is the root of the access-policy YAML file.
type Document struct {
	Roles     map[string]RoleDoc     `yaml:"roles"`
	Tags      map[string]TagDoc      `yaml:"tags"`
	TagOwners map[string]TagOwnerDoc `yaml:"tag_owners"`
}
