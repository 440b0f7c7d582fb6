/*
Package types defines the core data structures shared across burrow's
catalog, policy, auth, and HTTP layers.

# Core types

  - Principal / Identity / Role: the authenticated subject and its
    grants.
  - Session: a chain of refresh tokens from one authentication.
  - APIKey: a scoped, hashed machine credential.
  - Node / DataSource / Asset / Revision: the catalog tree and its
    storage bindings.
  - AccessBlob: the per-node ownership marker (single user or tag
    list) the access-policy package interprets.
  - ScopeSet: the set algebra (Union/Intersect/Subset) used by scope
    checks throughout auth and policy.

All types are plain structs; behavior that depends on more than one
package's state (compiled policy, live sessions) lives in that
package, not here.
*/
package types
