// Package registry holds the static catalog of selectable detection models.
package registry

import (
	"errors"
	"fmt"

	"github.com/divyadrishti/detection-engine/models"
)

// ErrUnknownModel is returned when a key is not in the catalog.
var ErrUnknownModel = errors.New("unknown model")

// Registry is a read-only mapping from profile key to ModelProfile. The
// display order is the order profiles were registered in.
type Registry struct {
	order      []string
	profiles   map[string]models.ModelProfile
	defaultKey string
}

// New builds a registry from profiles. Keys must be unique and the default key
// must name one of them.
func New(defaultKey string, profiles ...models.ModelProfile) (*Registry, error) {
	r := &Registry{
		order:    make([]string, 0, len(profiles)),
		profiles: make(map[string]models.ModelProfile, len(profiles)),
	}
	for _, p := range profiles {
		if p.Key == "" {
			return nil, fmt.Errorf("profile %q: empty key", p.Name)
		}
		if _, dup := r.profiles[p.Key]; dup {
			return nil, fmt.Errorf("profile %q: duplicate key", p.Key)
		}
		if !p.Type.Valid() {
			return nil, fmt.Errorf("profile %q: invalid type %q", p.Key, p.Type)
		}
		if p.Path == "" {
			return nil, fmt.Errorf("profile %q: empty path", p.Key)
		}
		r.order = append(r.order, p.Key)
		r.profiles[p.Key] = p.Clone()
	}
	if _, ok := r.profiles[defaultKey]; !ok {
		return nil, fmt.Errorf("default model %q: %w", defaultKey, ErrUnknownModel)
	}
	r.defaultKey = defaultKey
	return r, nil
}

// Lookup returns the profile registered under key.
func (r *Registry) Lookup(key string) (models.ModelProfile, error) {
	p, ok := r.profiles[key]
	if !ok {
		return models.ModelProfile{}, fmt.Errorf("%q: %w", key, ErrUnknownModel)
	}
	return p.Clone(), nil
}

// Has reports whether key is registered.
func (r *Registry) Has(key string) bool {
	_, ok := r.profiles[key]
	return ok
}

// All enumerates every profile in display order.
func (r *Registry) All() []models.ModelProfile {
	out := make([]models.ModelProfile, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.profiles[key].Clone())
	}
	return out
}

// DefaultKey is the configured default profile key.
func (r *Registry) DefaultKey() string {
	return r.defaultKey
}

// Default resolves the configured default profile.
func (r *Registry) Default() models.ModelProfile {
	return r.profiles[r.defaultKey].Clone()
}
