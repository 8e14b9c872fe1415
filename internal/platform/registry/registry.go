package registry

import (
	"sort"
	"sync"

	coreerrors "github.com/fhirstore/fhirstore/internal/platform/errors"
)

// StructureDefinitionRegistry holds CanonicalProfiles keyed by canonical
// URL and by base resource type. It is mutable only until Freeze is
// called, after which it is read-only (spec.md §3 Ownership:
// "Registries are immutable once built").
type StructureDefinitionRegistry struct {
	mu      sync.RWMutex
	byURL   map[string]*CanonicalProfile
	byType  map[string]*CanonicalProfile
	frozen  bool
}

// NewStructureDefinitionRegistry creates an empty, mutable registry.
func NewStructureDefinitionRegistry() *StructureDefinitionRegistry {
	return &StructureDefinitionRegistry{
		byURL:  make(map[string]*CanonicalProfile),
		byType: make(map[string]*CanonicalProfile),
	}
}

// Register adds a profile. It is an error to register after Freeze.
func (r *StructureDefinitionRegistry) Register(p *CanonicalProfile) error {
	if p == nil || p.URL == "" || p.ResourceType == "" {
		return coreerrors.New(coreerrors.InvalidSpec, "profile must have a URL and ResourceType")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return coreerrors.New(coreerrors.InternalError, "cannot register %s: registry is frozen", p.URL)
	}
	r.byURL[p.URL] = p
	if p.BaseProfile == "" {
		// A profile with no base is a base (unconstrained) resource definition.
		if _, exists := r.byType[p.ResourceType]; !exists {
			r.byType[p.ResourceType] = p
		}
	}
	return nil
}

// Freeze closes the registry to further registration.
func (r *StructureDefinitionRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get returns a profile by canonical URL.
func (r *StructureDefinitionRegistry) Get(url string) (*CanonicalProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byURL[url]
	if !ok {
		return nil, coreerrors.New(coreerrors.InvalidSpec, "StructureDefinition not found: %s", url)
	}
	return p, nil
}

// GetByType returns the base profile for a resource type.
func (r *StructureDefinitionRegistry) GetByType(resourceType string) (*CanonicalProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byType[resourceType]
	if !ok {
		return nil, coreerrors.New(coreerrors.InvalidSpec, "no base StructureDefinition for type: %s", resourceType)
	}
	return p, nil
}

// ResourceTypes returns every registered base resource type, sorted —
// the Schema Planner relies on this ordering for determinism (spec.md §4.1).
func (r *StructureDefinitionRegistry) ResourceTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// SearchParameterRegistry holds CanonicalSearchParameters keyed by
// (resourceType, code).
type SearchParameterRegistry struct {
	mu     sync.RWMutex
	byKey  map[string]*CanonicalSearchParameter // "ResourceType/code"
	frozen bool
}

// NewSearchParameterRegistry creates an empty, mutable registry.
func NewSearchParameterRegistry() *SearchParameterRegistry {
	return &SearchParameterRegistry{byKey: make(map[string]*CanonicalSearchParameter)}
}

func spKey(resourceType, code string) string { return resourceType + "/" + code }

// Register adds a search parameter. It is an error to register after Freeze.
func (r *SearchParameterRegistry) Register(sp *CanonicalSearchParameter) error {
	if sp == nil || sp.ResourceType == "" || sp.Code == "" {
		return coreerrors.New(coreerrors.InvalidSpec, "search parameter must have a ResourceType and Code")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return coreerrors.New(coreerrors.InternalError, "cannot register %s.%s: registry is frozen", sp.ResourceType, sp.Code)
	}
	r.byKey[spKey(sp.ResourceType, sp.Code)] = sp
	return nil
}

// Freeze closes the registry to further registration.
func (r *SearchParameterRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get returns the search parameter for (resourceType, code).
func (r *SearchParameterRegistry) Get(resourceType, code string) (*CanonicalSearchParameter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sp, ok := r.byKey[spKey(resourceType, code)]
	return sp, ok
}

// ForType returns every search parameter registered for resourceType,
// sorted by Code for deterministic iteration (spec.md §4.1 Determinism).
func (r *SearchParameterRegistry) ForType(resourceType string) []*CanonicalSearchParameter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*CanonicalSearchParameter
	for _, sp := range r.byKey {
		if sp.ResourceType == resourceType {
			out = append(out, sp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
