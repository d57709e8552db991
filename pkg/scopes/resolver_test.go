package scopes

import (
	"context"
	"errors"
	"testing"
)

func TestResolveUnionMerge(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	resolver := NewResolver(store)

	devs := testDoc("developers", "eng")
	devs.ServerAccess = []ServerAccessRule{
		{Server: "github", Methods: []string{"tools/call"}, Tools: ToolSet{Names: []string{"create_issue"}}},
	}
	devs.UIPermissions = map[PermissionKey]ResourceSet{
		PermissionListService: {IDs: []string{"github"}},
	}
	mustPut(t, store, devs)

	admins := testDoc("admins", "platform")
	admins.ServerAccess = []ServerAccessRule{
		{Server: "github", Methods: []string{"tools/list"}, Tools: ToolSet{Names: []string{"close_issue"}}},
		{Server: "aws", Methods: []string{"ping"}},
	}
	admins.UIPermissions = map[PermissionKey]ResourceSet{
		PermissionListService: {IDs: []string{"aws"}},
	}
	admins.AgentAccess = []AgentAccessRule{{Agent: "bot", Actions: []string{"invoke"}}}
	mustPut(t, store, admins)

	set, err := resolver.Resolve(ctx, []string{"eng", "platform"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	github := set.Servers["github"]
	if github == nil {
		t.Fatal("expected merged github grant")
	}
	if !github.AllowsMethod("tools/call") || !github.AllowsMethod("tools/list") {
		t.Error("methods from both documents should be merged")
	}
	if !github.Tools.Contains("create_issue") || !github.Tools.Contains("close_issue") {
		t.Error("tools from both documents should be merged")
	}
	if _, ok := set.Servers["aws"]; !ok {
		t.Error("expected aws grant from second document")
	}

	ui := set.UI[PermissionListService]
	if !ui.Contains("github") || !ui.Contains("aws") {
		t.Errorf("UI resources should union, got %v", ui.IDs)
	}

	if !set.AllowsAgentAction("bot", "invoke") {
		t.Error("expected agent grant")
	}

	if set.SourceVersions["developers"] != 1 || set.SourceVersions["admins"] != 1 {
		t.Errorf("SourceVersions = %v, want both at 1", set.SourceVersions)
	}
}

func TestResolveWildcardAbsorbs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	resolver := NewResolver(store)

	narrow := testDoc("narrow", "eng")
	narrow.ServerAccess = []ServerAccessRule{
		{Server: "github", Methods: []string{"tools/call"}, Tools: ToolSet{Names: []string{"create_issue"}}},
	}
	mustPut(t, store, narrow)

	broad := testDoc("broad", "eng")
	broad.ServerAccess = []ServerAccessRule{
		{Server: "github", Methods: []string{"tools/call"}, Tools: WildcardTools()},
	}
	broad.UIPermissions = map[PermissionKey]ResourceSet{
		PermissionListService: AllResources(),
	}
	mustPut(t, store, broad)

	restricted := testDoc("restricted", "eng")
	restricted.UIPermissions = map[PermissionKey]ResourceSet{
		PermissionListService: {IDs: []string{"github"}},
	}
	mustPut(t, store, restricted)

	set, err := resolver.Resolve(ctx, []string{"eng"})
	if err != nil {
		t.Fatal(err)
	}

	if !set.Servers["github"].Tools.Wildcard {
		t.Error("wildcard tool set should absorb the finite one")
	}
	if !set.UI[PermissionListService].All {
		t.Error("all resource set should absorb the finite one")
	}
	if !set.AllowsServerCall("github", "tools/call", "anything_at_all") {
		t.Error("wildcard grant should allow any tool")
	}
}

func TestResolveVirtualIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	resolver := NewResolver(store)

	doc := testDoc("virtual-users", "eng")
	doc.ServerAccess = []ServerAccessRule{
		{Server: "/virtual/team-a", Methods: []string{"tools/call"}, Tools: WildcardTools()},
	}
	mustPut(t, store, doc)

	set, err := resolver.Resolve(ctx, []string{"eng"})
	if err != nil {
		t.Fatal(err)
	}

	if !set.AllowsServerCall("/virtual/team-a", "tools/call", "x") {
		t.Error("expected grant on the virtual path itself")
	}
	// A virtual path grant never leaks to the concrete servers behind it.
	if set.AllowsServerCall("github", "tools/call", "x") {
		t.Error("virtual path grant leaked to a concrete server")
	}
}

func TestResolveUnknownGroups(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	resolver := NewResolver(store)
	mustPut(t, store, testDoc("developers", "eng"))

	set, err := resolver.Resolve(ctx, []string{"marketing", "sales"})
	if err != nil {
		t.Fatalf("Resolve() error = %v, unknown groups must not error", err)
	}
	if !set.Empty() {
		t.Error("unknown groups should resolve to the empty (fail-closed) set")
	}
}

func TestResolveDeduplicatesSharedDocuments(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	resolver := NewResolver(store)

	shared := testDoc("shared", "eng", "platform")
	mustPut(t, store, shared)

	set, err := resolver.Resolve(ctx, []string{"eng", "platform"})
	if err != nil {
		t.Fatal(err)
	}
	if len(set.SourceVersions) != 1 {
		t.Errorf("SourceVersions = %v, want single consulted document", set.SourceVersions)
	}
}

// failingStore wraps a Store and fails reads on demand
type failingStore struct {
	Store
	fail bool
}

func (s *failingStore) ListByGroup(ctx context.Context, group string) ([]*ScopeDocument, error) {
	if s.fail {
		return nil, &StoreUnavailableError{Err: errors.New("connection refused")}
	}
	return s.Store.ListByGroup(ctx, group)
}

func (s *failingStore) VersionVector(ctx context.Context) (VersionVector, error) {
	if s.fail {
		return nil, &StoreUnavailableError{Err: errors.New("connection refused")}
	}
	return s.Store.VersionVector(ctx)
}

func TestResolveStoreFailureIsNotEmptySet(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: NewMemoryStore(), fail: true}
	resolver := NewResolver(store)

	set, err := resolver.Resolve(ctx, []string{"eng"})
	if err == nil {
		t.Fatal("expected error, got set")
	}
	if !IsStoreUnavailable(err) {
		t.Errorf("error = %v, want StoreUnavailableError", err)
	}
	if set != nil {
		t.Error("failed resolve must not return a set")
	}
}
