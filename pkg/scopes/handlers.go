package scopes

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"

	"github.com/mcpgate/mcpgate/pkg/audit"
	"github.com/mcpgate/mcpgate/pkg/contextkeys"
	"github.com/mcpgate/mcpgate/pkg/httputil"
	"github.com/mcpgate/mcpgate/pkg/observability"
)

// Handlers provides the administrative HTTP API for scope documents,
// virtual servers, and the gateway-facing decision endpoint
type Handlers struct {
	store     Store
	validator *Validator
	resolver  *Resolver
	cache     *PermissionCache
	decisions *DecisionPoint
	virtual   *VirtualServerResolver
	stats     *StatsService
	auditor   audit.Logger
	auditDB   *audit.DBLogger
	logger    *observability.Logger
}

// NewHandlers creates the admin API handlers. auditDB may be nil when audit
// persistence is file-only; the audit query routes are then not registered.
func NewHandlers(store Store, cache *PermissionCache, decisions *DecisionPoint, virtual *VirtualServerResolver, stats *StatsService, auditor audit.Logger, auditDB *audit.DBLogger, logger *observability.Logger) *Handlers {
	if auditor == nil {
		auditor = audit.NopLogger{}
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handlers{
		store:     store,
		validator: NewValidator(),
		resolver:  NewResolver(store),
		cache:     cache,
		decisions: decisions,
		virtual:   virtual,
		stats:     stats,
		auditor:   auditor,
		auditDB:   auditDB,
		logger:    logger,
	}
}

// RegisterRoutes registers all scope engine routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Decision endpoint for the gateway runtime
	router.HandleFunc("/access/check", h.Check).Methods("POST")

	// Diagnostic resolution; registered before the generic scope routes so
	// "effective" is not taken for a scope name
	router.HandleFunc("/scopes/effective", h.EffectivePermissions).Methods("GET")

	// Scope document management
	router.HandleFunc("/scopes", h.CreateScope).Methods("POST")
	router.HandleFunc("/scopes", h.ListScopes).Methods("GET")
	router.HandleFunc("/scopes/import", h.ImportScope).Methods("POST")
	router.HandleFunc("/scopes/{name:.+}/export", h.ExportScope).Methods("GET")
	router.HandleFunc("/scopes/{name:.+}/groups", h.AttachGroup).Methods("POST")
	router.HandleFunc("/scopes/{name:.+}/groups/{group}", h.DetachGroup).Methods("DELETE")
	router.HandleFunc("/scopes/{name:.+}", h.GetScope).Methods("GET")
	router.HandleFunc("/scopes/{name:.+}", h.UpdateScope).Methods("PUT")
	router.HandleFunc("/scopes/{name:.+}", h.DeleteScope).Methods("DELETE")

	// Virtual server registry
	router.HandleFunc("/virtual-servers", h.RegisterVirtualServer).Methods("POST")
	router.HandleFunc("/virtual-servers", h.ListVirtualServers).Methods("GET")
	router.HandleFunc("/virtual-servers/{path:.+}", h.GetVirtualServer).Methods("GET")
	router.HandleFunc("/virtual-servers/{path:.+}", h.DeregisterVirtualServer).Methods("DELETE")

	// System surfaces
	router.HandleFunc("/system/stats", h.SystemStats).Methods("GET")
	router.HandleFunc("/system/info", h.SystemInfo).Methods("GET")

	// Audit queries, only with a database-backed audit log
	if h.auditDB != nil {
		router.HandleFunc("/audit/events", h.QueryAuditEvents).Methods("GET")
		router.HandleFunc("/audit/events/export", h.ExportAuditEvents).Methods("GET")
		router.HandleFunc("/audit/filter-options", h.AuditFilterOptions).Methods("GET")
	}
}

// Check renders an access decision for the gateway runtime
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Principal Principal    `json:"principal"`
		Check     CheckRequest `json:"check"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}
	if body.Principal.Identity == "" {
		httputil.WriteBadRequest(w, "principal identity is required")
		return
	}
	if body.Check.Kind == "" || body.Check.ResourceID == "" {
		httputil.WriteBadRequest(w, "check resource_kind and resource_id are required")
		return
	}

	decision := h.decisions.Decide(r.Context(), &body.Principal, body.Check)
	httputil.WriteSuccess(w, decision)
}

// EffectivePermissions resolves the merged permission set for a group list
// without caching, for administrator diagnostics
func (h *Handlers) EffectivePermissions(w http.ResponseWriter, r *http.Request) {
	groupsParam := r.URL.Query().Get("groups")
	if groupsParam == "" {
		httputil.WriteBadRequest(w, "groups query parameter is required")
		return
	}
	groups := strings.Split(groupsParam, ",")

	set, err := h.resolver.Resolve(r.Context(), groups)
	if err != nil {
		if IsStoreUnavailable(err) {
			httputil.WriteServiceUnavailable(w, "scope store unavailable")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, effectiveView(set))
}

// CreateScope validates and stores a new scope document
func (h *Handlers) CreateScope(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.parseScopeBody(w, r)
	if !ok {
		return
	}

	stored, err := h.store.Put(r.Context(), doc, 0)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.logScopeEvent(r, audit.EventTypeScopeCreate, stored.Name)
	httputil.WriteCreated(w, stored)
}

// ListScopes returns all scope documents
func (h *Handlers) ListScopes(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.List(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if group := r.URL.Query().Get("group"); group != "" {
		filtered := docs[:0]
		for _, doc := range docs {
			if doc.MapsGroup(group) {
				filtered = append(filtered, doc)
			}
		}
		docs = filtered
	}
	httputil.WriteSuccess(w, docs)
}

// GetScope returns one scope document
func (h *Handlers) GetScope(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	doc, err := h.store.Get(r.Context(), name)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, doc)
}

// UpdateScope replaces a scope document. The document's version field is the
// expected version for optimistic concurrency; a stale version returns 409.
func (h *Handlers) UpdateScope(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	doc, ok := h.parseScopeBody(w, r)
	if !ok {
		return
	}
	if doc.Name != name {
		httputil.WriteBadRequest(w, fmt.Sprintf("scope_name %q does not match URL path %q", doc.Name, name))
		return
	}

	stored, err := h.store.Put(r.Context(), doc, doc.Version)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.logScopeEvent(r, audit.EventTypeScopeUpdate, stored.Name)
	httputil.WriteSuccess(w, stored)
}

// DeleteScope removes a scope document
func (h *Handlers) DeleteScope(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.store.Delete(r.Context(), name); err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.logScopeEvent(r, audit.EventTypeScopeDelete, name)
	httputil.WriteNoContent(w)
}

// ImportScope upserts a document from an exported JSON or YAML body
func (h *Handlers) ImportScope(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.parseScopeBody(w, r)
	if !ok {
		return
	}

	// Imports replace whatever revision currently exists; exported version
	// metadata is informational only.
	var expected int64
	if current, err := h.store.Get(r.Context(), doc.Name); err == nil {
		expected = current.Version
	}

	stored, err := h.store.Put(r.Context(), doc, expected)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.logScopeEvent(r, audit.EventTypeScopeImport, stored.Name)
	httputil.WriteSuccess(w, stored)
}

// ExportScope renders a document in normalized interchange form
func (h *Handlers) ExportScope(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	doc, err := h.store.Get(r.Context(), name)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	var data []byte
	var contentType string
	switch r.URL.Query().Get("format") {
	case "", "json":
		data, err = Export(doc)
		contentType = "application/json"
	case "yaml":
		data, err = ExportYAML(doc)
		contentType = "application/yaml"
	default:
		httputil.WriteBadRequest(w, "format must be json or yaml")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.logScopeEvent(r, audit.EventTypeScopeExport, name)
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// AttachGroup adds a group mapping to a document
func (h *Handlers) AttachGroup(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var body struct {
		Group string `json:"group"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Group == "" {
		httputil.WriteBadRequest(w, "group is required")
		return
	}

	doc, err := h.store.Get(r.Context(), name)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if doc.MapsGroup(body.Group) {
		httputil.WriteSuccess(w, doc)
		return
	}
	doc.GroupMappings = append(doc.GroupMappings, body.Group)

	stored, err := h.store.Put(r.Context(), Normalize(doc), doc.Version)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.logScopeEvent(r, audit.EventTypeScopeUpdate, name)
	httputil.WriteSuccess(w, stored)
}

// DetachGroup removes a group mapping from a document
func (h *Handlers) DetachGroup(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, group := vars["name"], vars["group"]

	doc, err := h.store.Get(r.Context(), name)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	mappings := make([]string, 0, len(doc.GroupMappings))
	for _, g := range doc.GroupMappings {
		if g != group {
			mappings = append(mappings, g)
		}
	}
	if len(mappings) == len(doc.GroupMappings) {
		httputil.WriteNotFoundError(w, fmt.Sprintf("group %q is not mapped to scope %q", group, name))
		return
	}
	doc.GroupMappings = mappings

	stored, err := h.store.Put(r.Context(), doc, doc.Version)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.logScopeEvent(r, audit.EventTypeScopeUpdate, name)
	httputil.WriteSuccess(w, stored)
}

// RegisterVirtualServer adds a virtual server alias
func (h *Handlers) RegisterVirtualServer(w http.ResponseWriter, r *http.Request) {
	var server VirtualServer
	if err := json.NewDecoder(r.Body).Decode(&server); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}

	if err := h.virtual.Register(r.Context(), &server); err != nil {
		if IsConflict(err) {
			httputil.WriteConflict(w, err.Error())
			return
		}
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	h.logResourceEvent(r, audit.EventTypeVirtualServerRegister, "server", server.Path)
	httputil.WriteCreated(w, server)
}

// ListVirtualServers returns all registered aliases
func (h *Handlers) ListVirtualServers(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.virtual.List(r.Context()))
}

// GetVirtualServer returns one alias registration
func (h *Handlers) GetVirtualServer(w http.ResponseWriter, r *http.Request) {
	path := "/" + mux.Vars(r)["path"]
	server, err := h.virtual.Lookup(r.Context(), path)
	if err != nil {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}
	httputil.WriteSuccess(w, server)
}

// DeregisterVirtualServer removes an alias
func (h *Handlers) DeregisterVirtualServer(w http.ResponseWriter, r *http.Request) {
	path := "/" + mux.Vars(r)["path"]
	if err := h.virtual.Deregister(r.Context(), path); err != nil {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}

	h.logResourceEvent(r, audit.EventTypeVirtualServerDeregister, "server", path)
	httputil.WriteNoContent(w)
}

// SystemStats returns decision, cache, and inventory statistics
func (h *Handlers) SystemStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, stats)
}

// SystemInfo returns static service information
func (h *Handlers) SystemInfo(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.stats.Info())
}

// QueryAuditEvents returns audit events matching query filters
func (h *Handlers) QueryAuditEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilterFromQuery(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	events, err := h.auditDB.Query(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, events)
}

// ExportAuditEvents streams matching events as newline-delimited JSON
func (h *Handlers) ExportAuditEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilterFromQuery(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-events.ndjson"`)
	if err := h.auditDB.ExportNDJSON(r.Context(), w, filter); err != nil {
		h.logger.WithError(err).Error("failed to export audit events")
	}
}

// AuditFilterOptions returns distinct principals and servers for filter UIs
func (h *Handlers) AuditFilterOptions(w http.ResponseWriter, r *http.Request) {
	options, err := h.auditDB.FilterOptions(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, options)
}

// parseScopeBody decodes and validates a scope document from JSON or YAML
// depending on Content-Type. Validation failures are written as a 400 with
// field-level detail.
func (h *Handlers) parseScopeBody(w http.ResponseWriter, r *http.Request) (*ScopeDocument, bool) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return nil, false
	}

	var doc *ScopeDocument
	var result *ValidationResult
	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "yaml") {
		doc, result = h.validator.ParseAndValidateYAML(raw)
	} else {
		doc, result = h.validator.ParseAndValidate(raw)
	}

	if !result.Valid {
		httputil.WriteJSONOrError(w, http.StatusBadRequest, result, "failed to write validation result")
		return nil, false
	}
	return doc, true
}

func (h *Handlers) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case IsNotFound(err):
		httputil.WriteNotFoundError(w, err.Error())
	case IsConflict(err):
		httputil.WriteConflict(w, err.Error())
	case IsStoreUnavailable(err):
		httputil.WriteServiceUnavailable(w, "scope store unavailable")
	default:
		httputil.WriteInternalError(w, err)
	}
}

// logScopeEvent emits an administrative audit event for a scope mutation
func (h *Handlers) logScopeEvent(r *http.Request, eventType audit.EventType, name string) {
	h.logResourceEvent(r, eventType, "scope", name)
}

func (h *Handlers) logResourceEvent(r *http.Request, eventType audit.EventType, kind, id string) {
	ctx := r.Context()

	event := audit.NewEvent(eventType)
	event.ResourceKind = kind
	event.ResourceID = id
	event.RequestID = contextkeys.GetRequestID(ctx)
	event.IPAddress = httputil.ClientIP(r)
	if principal := PrincipalFromContext(ctx); principal != nil {
		event.Principal = principal.Identity
		event.PrincipalKind = string(principal.Kind)
	}

	if err := h.auditor.Log(ctx, event); err != nil {
		h.logger.WithError(err).Warn("failed to emit admin audit event")
	}
}

// auditFilterFromQuery maps query parameters to a search filter
func auditFilterFromQuery(r *http.Request) (audit.SearchFilter, error) {
	var filter audit.SearchFilter
	q := r.URL.Query()

	filter.Principal = q.Get("principal")
	filter.ResourceKind = q.Get("resource_kind")
	filter.ResourceID = q.Get("resource_id")
	filter.Decision = q.Get("decision")
	for _, et := range q["event_type"] {
		filter.EventTypes = append(filter.EventTypes, audit.EventType(et))
	}

	if v := q.Get("limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &filter.Limit); err != nil {
			return filter, fmt.Errorf("invalid limit: %q", v)
		}
	}
	if v := q.Get("offset"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &filter.Offset); err != nil {
			return filter, fmt.Errorf("invalid offset: %q", v)
		}
	}
	return filter, nil
}

// effectiveServerView is the JSON shape of one merged server grant
type effectiveServerView struct {
	Server  string   `json:"server"`
	Methods []string `json:"methods"`
	Tools   ToolSet  `json:"tools"`
}

// effectivePermissionsView is the JSON shape of a resolved permission set
type effectivePermissionsView struct {
	Servers    []effectiveServerView         `json:"servers"`
	UI         map[PermissionKey]ResourceSet `json:"ui_permissions"`
	Agents     map[string][]string           `json:"agent_access"`
	ComputedAt string                        `json:"computed_at"`
	Degraded   bool                          `json:"degraded,omitempty"`
}

func effectiveView(set *EffectivePermissionSet) effectivePermissionsView {
	view := effectivePermissionsView{
		UI:         set.UI,
		Agents:     make(map[string][]string, len(set.Agents)),
		ComputedAt: set.ComputedAt.Format("2006-01-02T15:04:05Z07:00"),
		Degraded:   set.Degraded,
	}
	for server, grant := range set.Servers {
		methods := make([]string, 0, len(grant.Methods))
		for m := range grant.Methods {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		view.Servers = append(view.Servers, effectiveServerView{
			Server:  server,
			Methods: methods,
			Tools:   grant.Tools,
		})
	}
	sort.Slice(view.Servers, func(i, j int) bool { return view.Servers[i].Server < view.Servers[j].Server })
	for agent, actions := range set.Agents {
		list := make([]string, 0, len(actions))
		for a := range actions {
			list = append(list, a)
		}
		sort.Strings(list)
		view.Agents[agent] = list
	}
	return view
}
