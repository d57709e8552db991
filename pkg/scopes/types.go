package scopes

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// PermissionKey identifies a UI capability a scope document can grant.
// Keys form a closed enumeration; unknown keys are rejected at import time.
type PermissionKey string

const (
	PermissionListService        PermissionKey = "list_service"
	PermissionRegisterService    PermissionKey = "register_service"
	PermissionHealthCheckService PermissionKey = "health_check_service"
	PermissionToggleService      PermissionKey = "toggle_service"
	PermissionModifyService      PermissionKey = "modify_service"
	PermissionListAgents         PermissionKey = "list_agents"
	PermissionModifyAgent        PermissionKey = "modify_agent"
)

// RegisteredPermissionKeys returns the closed set of valid UI permission keys
func RegisteredPermissionKeys() []PermissionKey {
	return []PermissionKey{
		PermissionListService,
		PermissionRegisterService,
		PermissionHealthCheckService,
		PermissionToggleService,
		PermissionModifyService,
		PermissionListAgents,
		PermissionModifyAgent,
	}
}

// IsRegisteredPermissionKey reports whether key is part of the closed enumeration
func IsRegisteredPermissionKey(key PermissionKey) bool {
	for _, k := range RegisteredPermissionKeys() {
		if k == key {
			return true
		}
	}
	return false
}

// RegisteredMethods returns the closed MCP protocol method vocabulary.
// Rules referencing methods outside this set fail validation.
func RegisteredMethods() []string {
	return []string{
		"initialize",
		"ping",
		"tools/list",
		"tools/call",
		"resources/list",
		"resources/read",
		"resources/templates/list",
		"prompts/list",
		"prompts/get",
		"completion/complete",
		"logging/setLevel",
		"notifications/initialized",
		"notifications/cancelled",
		"notifications/progress",
	}
}

// IsRegisteredMethod reports whether method is in the protocol vocabulary
func IsRegisteredMethod(method string) bool {
	for _, m := range RegisteredMethods() {
		if m == method {
			return true
		}
	}
	return false
}

// ToolSet is either a finite set of tool names or the wildcard.
// The wildcard is absorbing: union with any finite set yields the wildcard.
type ToolSet struct {
	Wildcard bool
	Names    []string
}

// WildcardTools returns the absorbing wildcard tool set
func WildcardTools() ToolSet {
	return ToolSet{Wildcard: true}
}

// Contains reports whether the set grants the given tool
func (t ToolSet) Contains(tool string) bool {
	if t.Wildcard {
		return true
	}
	for _, n := range t.Names {
		if n == tool {
			return true
		}
	}
	return false
}

// Union merges two tool sets; wildcard absorbs
func (t ToolSet) Union(other ToolSet) ToolSet {
	if t.Wildcard || other.Wildcard {
		return WildcardTools()
	}
	seen := make(map[string]struct{}, len(t.Names)+len(other.Names))
	merged := make([]string, 0, len(t.Names)+len(other.Names))
	for _, names := range [][]string{t.Names, other.Names} {
		for _, n := range names {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			merged = append(merged, n)
		}
	}
	sort.Strings(merged)
	return ToolSet{Names: merged}
}

// MarshalJSON encodes the wildcard as the literal "*" and finite sets as arrays
func (t ToolSet) MarshalJSON() ([]byte, error) {
	if t.Wildcard {
		return json.Marshal("*")
	}
	if t.Names == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal(t.Names)
}

// UnmarshalJSON accepts "*" or an array of tool names
func (t *ToolSet) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "*" {
			return fmt.Errorf("tool set string must be %q, got %q", "*", s)
		}
		*t = WildcardTools()
		return nil
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("tool set must be %q or an array of names", "*")
	}
	*t = ToolSet{Names: names}
	return nil
}

// ResourceSet is either a finite set of resource identifiers or All.
// All is absorbing under union.
type ResourceSet struct {
	All bool
	IDs []string
}

// AllResources returns the absorbing All resource set
func AllResources() ResourceSet {
	return ResourceSet{All: true}
}

// Contains reports whether the set grants the given resource
func (r ResourceSet) Contains(id string) bool {
	if r.All {
		return true
	}
	for _, v := range r.IDs {
		if v == id {
			return true
		}
	}
	return false
}

// Union merges two resource sets; All absorbs
func (r ResourceSet) Union(other ResourceSet) ResourceSet {
	if r.All || other.All {
		return AllResources()
	}
	seen := make(map[string]struct{}, len(r.IDs)+len(other.IDs))
	merged := make([]string, 0, len(r.IDs)+len(other.IDs))
	for _, ids := range [][]string{r.IDs, other.IDs} {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, id)
		}
	}
	sort.Strings(merged)
	return ResourceSet{IDs: merged}
}

// MarshalJSON encodes All as the literal "all" and finite sets as arrays
func (r ResourceSet) MarshalJSON() ([]byte, error) {
	if r.All {
		return json.Marshal("all")
	}
	if r.IDs == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal(r.IDs)
}

// UnmarshalJSON accepts "all" or an array of resource identifiers
func (r *ResourceSet) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "all" {
			return fmt.Errorf("resource set string must be %q, got %q", "all", s)
		}
		*r = AllResources()
		return nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("resource set must be %q or an array of identifiers", "all")
	}
	*r = ResourceSet{IDs: ids}
	return nil
}

// ServerAccessRule grants protocol methods and tools on a single server.
// The server field may name a virtual server path; virtual paths are matched
// literally and never expanded to the concrete servers behind them.
type ServerAccessRule struct {
	Server  string   `json:"server"`
	Methods []string `json:"methods"`
	Tools   ToolSet  `json:"tools"`
}

// AgentAccessRule grants actions on a single agent
type AgentAccessRule struct {
	Agent   string   `json:"agent"`
	Actions []string `json:"actions"`
}

// CurrentSchemaVersion is the scope document export schema version.
// Importers also accept legacy documents that omit the field.
const CurrentSchemaVersion = 1

// ScopeDocument is a named policy unit mapped to identity-provider groups.
// Documents are immutable snapshots once read from a store; every successful
// mutation produces a new per-document version.
type ScopeDocument struct {
	Name          string                        `json:"scope_name"`
	Description   string                        `json:"description"`
	ServerAccess  []ServerAccessRule            `json:"server_access"`
	GroupMappings []string                      `json:"group_mappings"`
	UIPermissions map[PermissionKey]ResourceSet `json:"ui_permissions"`
	AgentAccess   []AgentAccessRule             `json:"agent_access"`
	CreateInIDP   bool                          `json:"create_in_idp"`

	SchemaVersion int       `json:"schema_version,omitempty"`
	Version       int64     `json:"version,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// Clone returns a deep copy of the document
func (d *ScopeDocument) Clone() *ScopeDocument {
	if d == nil {
		return nil
	}
	out := *d
	out.ServerAccess = make([]ServerAccessRule, len(d.ServerAccess))
	for i, rule := range d.ServerAccess {
		out.ServerAccess[i] = ServerAccessRule{
			Server:  rule.Server,
			Methods: append([]string(nil), rule.Methods...),
			Tools:   ToolSet{Wildcard: rule.Tools.Wildcard, Names: append([]string(nil), rule.Tools.Names...)},
		}
	}
	out.GroupMappings = append([]string(nil), d.GroupMappings...)
	out.UIPermissions = make(map[PermissionKey]ResourceSet, len(d.UIPermissions))
	for k, v := range d.UIPermissions {
		out.UIPermissions[k] = ResourceSet{All: v.All, IDs: append([]string(nil), v.IDs...)}
	}
	out.AgentAccess = make([]AgentAccessRule, len(d.AgentAccess))
	for i, rule := range d.AgentAccess {
		out.AgentAccess[i] = AgentAccessRule{
			Agent:   rule.Agent,
			Actions: append([]string(nil), rule.Actions...),
		}
	}
	return &out
}

// MapsGroup reports whether the document is attached to the given group
func (d *ScopeDocument) MapsGroup(group string) bool {
	for _, g := range d.GroupMappings {
		if g == group {
			return true
		}
	}
	return false
}

// PrincipalKind distinguishes human users from machine-to-machine accounts
type PrincipalKind string

const (
	PrincipalHuman PrincipalKind = "human"
	PrincipalM2M   PrincipalKind = "m2m"
)

// Principal is an authenticated caller as reported by the auth collaborator.
// The engine never mutates principals; groups come from verified claims.
type Principal struct {
	Identity string        `json:"identity"`
	Kind     PrincipalKind `json:"kind"`
	Groups   []string      `json:"groups"`
}

// VersionVector maps document names to their last observed version.
// Deletions advance the entry rather than removing it, so cached permission
// sets that referenced the deleted document always fail their staleness check.
type VersionVector map[string]int64

// Clone returns a copy of the vector
func (v VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(v))
	for name, version := range v {
		out[name] = version
	}
	return out
}

// Covers reports whether every entry recorded in src still matches v.
// An entry missing from v counts as a mismatch.
func (v VersionVector) Covers(src VersionVector) bool {
	for name, version := range src {
		if v[name] != version {
			return false
		}
	}
	return true
}

// ServerGrant is the merged grant for a single server key
type ServerGrant struct {
	Methods map[string]struct{}
	Tools   ToolSet
}

// AllowsMethod reports whether the grant covers the protocol method
func (g *ServerGrant) AllowsMethod(method string) bool {
	_, ok := g.Methods[method]
	return ok
}

// EffectivePermissionSet is the immutable union of every scope document
// applicable to a principal's groups. Once computed it is never mutated;
// policy changes produce a fresh set through the resolver.
type EffectivePermissionSet struct {
	Servers map[string]*ServerGrant
	UI      map[PermissionKey]ResourceSet
	Agents  map[string]map[string]struct{}

	ComputedAt     time.Time
	SourceVersions VersionVector

	// Degraded marks a last-known-good set served while the backing
	// store was unreachable.
	Degraded bool
}

// AllowsServerCall reports whether the set grants method (and tool, when
// non-empty) on the named server. Virtual server paths are ordinary keys.
func (s *EffectivePermissionSet) AllowsServerCall(server, method, tool string) bool {
	grant, ok := s.Servers[server]
	if !ok {
		return false
	}
	if !grant.AllowsMethod(method) {
		return false
	}
	if tool == "" {
		return true
	}
	return grant.Tools.Contains(tool)
}

// AllowsUI reports whether the set grants the UI permission for the resource
func (s *EffectivePermissionSet) AllowsUI(key PermissionKey, resource string) bool {
	set, ok := s.UI[key]
	if !ok {
		return false
	}
	return set.Contains(resource)
}

// AllowsAgentAction reports whether the set grants the action on the agent
func (s *EffectivePermissionSet) AllowsAgentAction(agent, action string) bool {
	actions, ok := s.Agents[agent]
	if !ok {
		return false
	}
	_, ok = actions[action]
	return ok
}

// Empty reports whether the set carries no grants at all
func (s *EffectivePermissionSet) Empty() bool {
	return len(s.Servers) == 0 && len(s.UI) == 0 && len(s.Agents) == 0
}
