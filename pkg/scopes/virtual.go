package scopes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// VirtualPathPrefix marks gateway-exposed alias paths. A virtual path is an
// ordinary server key in scope rules; the prefix only distinguishes it from
// concrete server identifiers in registries and diagnostics.
const VirtualPathPrefix = "/virtual/"

// IsVirtualPath reports whether the server key names a virtual server alias
func IsVirtualPath(server string) bool {
	return strings.HasPrefix(server, VirtualPathPrefix)
}

// VirtualServer is a gateway-exposed alias with its own access rules,
// independent of the concrete servers it routes requests to.
type VirtualServer struct {
	Path        string    `json:"path"`
	Description string    `json:"description,omitempty"`
	Targets     []string  `json:"targets,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// ScopeKey returns the server key scope rules must use to grant access to
// this alias. Granting a target concrete server never grants the alias, and
// granting the alias never grants its targets.
func (v *VirtualServer) ScopeKey() string {
	return v.Path
}

// VirtualServerResolver is the registry of virtual server aliases. It maps
// each alias path to its routing targets; access policy for an alias comes
// exclusively from scope rules naming the alias path itself.
type VirtualServerResolver struct {
	mu      sync.RWMutex
	servers map[string]*VirtualServer
}

// NewVirtualServerResolver creates an empty registry
func NewVirtualServerResolver() *VirtualServerResolver {
	return &VirtualServerResolver{
		servers: make(map[string]*VirtualServer),
	}
}

// Register adds a virtual server alias. The path must carry the virtual
// prefix and must not collide with an existing registration.
func (r *VirtualServerResolver) Register(ctx context.Context, server *VirtualServer) error {
	if !IsVirtualPath(server.Path) {
		return fmt.Errorf("virtual server path must start with %q, got %q", VirtualPathPrefix, server.Path)
	}
	for _, target := range server.Targets {
		if IsVirtualPath(target) {
			return fmt.Errorf("virtual server %q cannot target another virtual path %q", server.Path, target)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.servers[server.Path]; exists {
		return &ConflictError{Name: server.Path}
	}

	stored := &VirtualServer{
		Path:        server.Path,
		Description: server.Description,
		Targets:     append([]string(nil), server.Targets...),
		CreatedAt:   time.Now().UTC(),
	}
	r.servers[server.Path] = stored
	return nil
}

// Deregister removes a virtual server alias
func (r *VirtualServerResolver) Deregister(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.servers[path]; !ok {
		return &NotFoundError{Name: path}
	}
	delete(r.servers, path)
	return nil
}

// Lookup returns the registration for a virtual path
func (r *VirtualServerResolver) Lookup(ctx context.Context, path string) (*VirtualServer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	server, ok := r.servers[path]
	if !ok {
		return nil, &NotFoundError{Name: path}
	}
	return cloneVirtualServer(server), nil
}

// List returns all registered virtual servers sorted by path
func (r *VirtualServerResolver) List(ctx context.Context) []*VirtualServer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*VirtualServer, 0, len(r.servers))
	for _, server := range r.servers {
		out = append(out, cloneVirtualServer(server))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func cloneVirtualServer(v *VirtualServer) *VirtualServer {
	out := *v
	out.Targets = append([]string(nil), v.Targets...)
	return &out
}
