package source

import (
	"fmt"
	"sort"

	"github.com/carelens/carematch/internal/model"
)

// Registry holds the configured enrichment sources by name.
type Registry struct {
	sources     map[string]Source
	descriptors map[string]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources:     make(map[string]Source),
		descriptors: make(map[string]Descriptor),
	}
}

// Register adds a source with its descriptor. A duplicate name replaces the
// earlier registration.
func (r *Registry) Register(src Source, desc Descriptor) {
	r.sources[src.Name()] = src
	r.descriptors[src.Name()] = desc
}

// Get returns the named source.
func (r *Registry) Get(name string) (Source, Descriptor, bool) {
	src, ok := r.sources[name]
	if !ok {
		return nil, Descriptor{}, false
	}
	return src, r.descriptors[name], true
}

// Names returns all registered source names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns sources for the requested names, erroring on unknowns.
// An empty request resolves to every registered source.
func (r *Registry) Resolve(names []string) ([]Source, error) {
	if len(names) == 0 {
		names = r.Names()
	}
	sources := make([]Source, 0, len(names))
	for _, name := range names {
		src, _, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown source %q", name)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// BuildRegistry constructs a registry with the built-in adapters for every
// enabled source in the configuration.
func BuildRegistry(cfg *model.Config) (*Registry, error) {
	registry := NewRegistry()

	for _, sc := range cfg.Sources {
		if !sc.Enabled {
			continue
		}

		var src Source
		switch sc.Capability {
		case "regulator":
			src = NewRegulatorSource(sc)
		case "reviews":
			src = NewReviewsSource(sc)
		case "funding":
			src = NewFundingSource(sc)
		default:
			return nil, fmt.Errorf("source %q: unsupported capability %q", sc.Name, sc.Capability)
		}

		registry.Register(src, Descriptor{
			Name:       sc.Name,
			Capability: sc.Capability,
			Timeout:    sc.Timeout,
			CacheTTL:   sc.CacheTTL,
		})
	}

	if len(registry.sources) == 0 {
		return nil, fmt.Errorf("no enabled sources configured")
	}

	return registry, nil
}
