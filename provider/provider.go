// Package provider defines the adapter contract every upstream data source
// implements, plus the shared health registry and fallback chain selector
// the resolver uses to pick between them.
package provider

import (
	"context"
	"time"
)

// Payload is the normalized shape returned by all adapters: flat field
// values for one field-group plus the upstream timestamp. Adapters own URL
// construction, auth and parsing; nothing provider-specific leaks past
// this struct.
type Payload struct {
	Fields   map[string]interface{}
	Endpoint string
	AsOf     time.Time
}

// Adapter is the uniform capability each upstream service exposes.
type Adapter interface {
	Name() string
	// Groups lists the field-groups this adapter can serve.
	Groups() []string
	Fetch(ctx context.Context, group string, params map[string]string) (*Payload, error)
}

// Registry holds the configured adapters by name.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	return names
}
