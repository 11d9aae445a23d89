package tools

import "sync"

// Registry holds the tool descriptors offered to the model. Registering a
// name twice silently replaces the earlier descriptor.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Descriptor
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Descriptor)}
}

func (r *Registry) Register(d *Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[d.Name]; !exists {
		r.order = append(r.order, d.Name)
	}
	r.tools[d.Name] = d
}

func (r *Registry) RegisterMany(ds ...*Descriptor) {
	for _, d := range ds {
		r.Register(d)
	}
}

func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// All returns every descriptor in first-registration order.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
