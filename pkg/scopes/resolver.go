package scopes

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/mcpgate/mcpgate/pkg/scopes")

// Resolver computes effective permission sets by loading and merging the
// scope documents mapped to a principal's groups. Merge is union-only:
// the most permissive applicable grant wins and there is no deny rule.
type Resolver struct {
	store Store
}

// NewResolver creates a resolver backed by the given store
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve merges every document whose group_mappings intersect groups.
// Unknown or unmapped group names are skipped; a principal with no matching
// document resolves to an empty set, which is the fail-closed default.
// A store failure surfaces as StoreUnavailableError, never as an empty set.
func (r *Resolver) Resolve(ctx context.Context, groups []string) (*EffectivePermissionSet, error) {
	ctx, span := tracer.Start(ctx, "Resolver.Resolve")
	span.SetAttributes(attribute.Int("scopes.group_count", len(groups)))
	defer span.End()

	set := &EffectivePermissionSet{
		Servers:        make(map[string]*ServerGrant),
		UI:             make(map[PermissionKey]ResourceSet),
		Agents:         make(map[string]map[string]struct{}),
		SourceVersions: make(VersionVector),
	}

	consulted := make(map[string]struct{})
	for _, group := range groups {
		docs, err := r.store.ListByGroup(ctx, group)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "store read failed")
			if IsStoreUnavailable(err) {
				return nil, err
			}
			return nil, &StoreUnavailableError{Err: fmt.Errorf("listing documents for group %s: %w", group, err)}
		}
		for _, doc := range docs {
			if _, ok := consulted[doc.Name]; ok {
				continue
			}
			consulted[doc.Name] = struct{}{}
			mergeDocument(set, doc)
			set.SourceVersions[doc.Name] = doc.Version
		}
	}

	set.ComputedAt = time.Now().UTC()
	span.SetAttributes(attribute.Int("scopes.documents_merged", len(consulted)))
	return set, nil
}

// mergeDocument unions one document's grants into the accumulating set.
// Virtual server paths are ordinary server keys here: a rule naming a
// virtual path contributes only to that key, never to the concrete server
// it routes to, and vice versa.
func mergeDocument(set *EffectivePermissionSet, doc *ScopeDocument) {
	for _, rule := range doc.ServerAccess {
		grant, ok := set.Servers[rule.Server]
		if !ok {
			grant = &ServerGrant{Methods: make(map[string]struct{})}
			set.Servers[rule.Server] = grant
		}
		for _, method := range rule.Methods {
			grant.Methods[method] = struct{}{}
		}
		grant.Tools = grant.Tools.Union(rule.Tools)
	}

	for key, resources := range doc.UIPermissions {
		if existing, ok := set.UI[key]; ok {
			set.UI[key] = existing.Union(resources)
		} else {
			set.UI[key] = ResourceSet{}.Union(resources)
		}
	}

	for _, rule := range doc.AgentAccess {
		actions, ok := set.Agents[rule.Agent]
		if !ok {
			actions = make(map[string]struct{})
			set.Agents[rule.Agent] = actions
		}
		for _, action := range rule.Actions {
			actions[action] = struct{}{}
		}
	}
}
