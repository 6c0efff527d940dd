package provider

import "fmt"

// Registry maps provider names to constructed providers. It is built
// once (per process or per business snapshot), handed to the engine at
// construction, and read-only afterwards, so concurrent executions may
// share it without locking.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a named provider. Registering the same name twice is a
// wiring bug and returns an error.
func (r *Registry) Register(name string, p Provider) error {
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	if p == nil {
		return fmt.Errorf("provider %q is nil", name)
	}
	if _, ok := r.providers[name]; ok {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = p
	return nil
}

func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.providers[name]
	return ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
