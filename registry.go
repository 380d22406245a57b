package toolagent

import (
	"sort"
)

// Registry is the static catalog of available capabilities. It is populated
// once at startup and read-only thereafter, so concurrent reads need no
// locking.
type Registry struct {
	capabilities map[string]Capability
	producers    map[Kind][]string // kind -> producing capability IDs, sorted
	defaults     map[Kind]string   // kind -> declared default producer
}

// RegistryEntry pairs a capability with its optional default-producer
// declarations. A capability declared DefaultFor a kind wins tie-breaks when
// several capabilities produce that kind.
type RegistryEntry struct {
	Capability Capability
	DefaultFor []Kind
}

// NewRegistry builds a registry from a fixed table of entries. It fails with
// a configuration error on duplicate capability IDs, conflicting default
// declarations, or a default declared for a kind the capability does not
// produce.
func NewRegistry(entries []RegistryEntry) (*Registry, error) {
	r := &Registry{
		capabilities: make(map[string]Capability, len(entries)),
		producers:    make(map[Kind][]string),
		defaults:     make(map[Kind]string),
	}
	for _, e := range entries {
		c := e.Capability
		if c.ID == "" {
			return nil, NewConfigurationError("capability with empty ID", nil)
		}
		if _, exists := r.capabilities[c.ID]; exists {
			return nil, NewConfigurationError("duplicate capability ID '"+c.ID+"'", nil)
		}
		if c.Produces == "" {
			return nil, NewConfigurationError("capability '"+c.ID+"' produces no kind", nil)
		}
		r.capabilities[c.ID] = c
		r.producers[c.Produces] = append(r.producers[c.Produces], c.ID)

		for _, kind := range e.DefaultFor {
			if kind != c.Produces {
				return nil, NewConfigurationError(
					"capability '"+c.ID+"' declared default for kind '"+string(kind)+"' it does not produce", nil)
			}
			if prev, exists := r.defaults[kind]; exists && prev != c.ID {
				return nil, NewConfigurationError(
					"kind '"+string(kind)+"' has conflicting default producers '"+prev+"' and '"+c.ID+"'", nil)
			}
			r.defaults[kind] = c.ID
		}
	}
	// Deterministic producer order so resolution tie-break errors are stable.
	for kind := range r.producers {
		sort.Strings(r.producers[kind])
	}
	return r, nil
}

// Lookup returns the capability registered under id.
func (r *Registry) Lookup(id string) (Capability, error) {
	c, ok := r.capabilities[id]
	if !ok {
		return Capability{}, NewNotFoundError(id)
	}
	return c, nil
}

// Producers returns the IDs of all capabilities producing kind, in
// lexicographic order.
func (r *Registry) Producers(kind Kind) []string {
	ids := r.producers[kind]
	cp := make([]string, len(ids))
	copy(cp, ids)
	return cp
}

// DefaultProducer returns the declared default producer for kind, if any.
func (r *Registry) DefaultProducer(kind Kind) (string, bool) {
	id, ok := r.defaults[kind]
	return id, ok
}

// List returns all registered capabilities sorted by ID.
func (r *Registry) List() []Capability {
	out := make([]Capability, 0, len(r.capabilities))
	for _, c := range r.capabilities {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int { return len(r.capabilities) }
