// Package scopes implements scope resolution and access decisions for an MCP gateway.
//
// # Overview
//
// This package owns the policy model (scope documents mapped to identity-provider
// groups), resolves a principal's effective permission set as the pure union of
// every applicable document, caches resolved sets with version-vector staleness
// detection, and renders fail-closed allow/deny decisions for the gateway runtime.
//
// # Data Model
//
// A ScopeDocument names server access rules (methods and tools per server), UI
// permissions, and agent access, and lists the groups it applies to. Tool and
// resource sets support absorbing wildcards: "*" for every tool, "all" for every
// resource. There are no deny rules; absence of a grant is a deny.
//
// # Resolution and Caching
//
// Resolve the effective set for a group list:
//
//	resolver := scopes.NewResolver(store)
//	set, err := resolver.Resolve(ctx, principal.Groups)
//	if set.AllowsServerCall("github", "tools/call", "create_issue") { ... }
//
// Decisions go through the PermissionCache, which collapses concurrent misses
// with singleflight and revalidates entries against the store's version vector.
// When the store is unreachable the cache serves the last known good set,
// flagged Degraded, rather than failing open or erroring.
//
// # Decisions
//
//	decisions := scopes.NewDecisionPoint(cache, auditor, logger, metrics, 2*time.Second)
//	decision := decisions.Decide(ctx, principal, scopes.CheckRequest{
//		Kind:       scopes.ResourceServer,
//		ResourceID: "github",
//		Method:     "tools/call",
//		Tool:       "create_issue",
//	})
//
// Decide never returns an error: every path terminates in an explicit decision
// with a reason code (granted, no_grant, policy_unavailable, timeout).
//
// # Stores
//
// Store implementations: MemoryStore (tests, single node), FileStore (directory
// of JSON/YAML documents with fsnotify reload), SQLStore (PostgreSQL, SQLite in
// tests), IndexedStore (memory index over a durable store), RedisStore
// (read-through cache decorator). All enforce optimistic concurrency on Put and
// maintain a version vector whose entries survive document deletion.
//
// # Virtual Servers
//
// Paths under /virtual/ are literal scope keys with their own access rules; a
// grant on a concrete server never implies access to a virtual alias routing to
// it, and vice versa.
package scopes
