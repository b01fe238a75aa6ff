package site

import (
	"sort"
	"strings"
)

// Site is a registered target database queries can be executed against.
// IsMeta marks the per-site companion "meta" databases that cross-site
// executions can opt out of.
type Site struct {
	ID           int64
	Name         string
	Description  string
	DatabasePath string
	IsMeta       bool
}

// Registry is an immutable snapshot of the registered sites, safe for
// concurrent lookups. Rebuild and swap to pick up registration changes.
type Registry struct {
	byID    map[int64]Site
	byName  map[string]Site
	ordered []Site
}

func NewRegistry(sites []Site) *Registry {
	registry := &Registry{
		byID:    make(map[int64]Site, len(sites)),
		byName:  make(map[string]Site, len(sites)),
		ordered: make([]Site, len(sites)),
	}
	copy(registry.ordered, sites)
	sort.Slice(registry.ordered, func(i, j int) bool {
		return registry.ordered[i].ID < registry.ordered[j].ID
	})
	for _, entry := range registry.ordered {
		registry.byID[entry.ID] = entry
		registry.byName[strings.ToLower(entry.Name)] = entry
	}
	return registry
}

func (r *Registry) ByID(id int64) (Site, bool) {
	entry, ok := r.byID[id]
	return entry, ok
}

func (r *Registry) ByName(name string) (Site, bool) {
	entry, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return entry, ok
}

// All returns the registered sites ordered by ID.
func (r *Registry) All() []Site {
	sites := make([]Site, len(r.ordered))
	copy(sites, r.ordered)
	return sites
}

func (r *Registry) Len() int {
	return len(r.ordered)
}
