package param

import (
	"errors"
	"slices"
	"sync"

	"vslib-go/errcode"
)

// Registry indexes components and parameters by fully-qualified name. It is
// populated once by Build; entries are never removed.
type Registry struct {
	mu     sync.RWMutex
	params map[string]Param
	comps  map[string]*Component
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		params: map[string]Param{},
		comps:  map[string]*Component{},
	}
}

// AddParameter inserts p under name. A name that is already present is a
// topology defect: the first entry is kept and errcode.DuplicateName is
// returned.
func (r *Registry) AddParameter(name string, p Param) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.params[name]; exists {
		return &errcode.E{C: errcode.DuplicateName, Op: "registry.AddParameter", Msg: name}
	}
	r.params[name] = p
	return nil
}

// AddComponent inserts c under name with the same rules as AddParameter.
func (r *Registry) AddComponent(name string, c *Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.comps[name]; exists {
		return &errcode.E{C: errcode.DuplicateName, Op: "registry.AddComponent", Msg: name}
	}
	r.comps[name] = c
	return nil
}

// Parameter looks up a parameter by fully-qualified name.
func (r *Registry) Parameter(name string) (Param, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.params[name]
	return p, ok
}

// Component looks up a component by fully-qualified name.
func (r *Registry) Component(name string) (*Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.comps[name]
	return c, ok
}

// ParameterNames returns every parameter name in ascending order.
func (r *Registry) ParameterNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.params))
	for n := range r.params {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Parameters returns every parameter ordered by name.
func (r *Registry) Parameters() []Param {
	names := r.ParameterNames()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Param, len(names))
	for i, n := range names {
		out[i] = r.params[n]
	}
	return out
}

// Components returns every component ordered by name.
func (r *Registry) Components() []*Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.comps))
	for n := range r.comps {
		names = append(names, n)
	}
	slices.Sort(names)
	out := make([]*Component, len(names))
	for i, n := range names {
		out[i] = r.comps[n]
	}
	return out
}

// Len returns the number of registered parameters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.params)
}

// Build walks the tree under root once and registers every component and
// parameter. All duplicate names are reported together; the registry keeps
// the first occurrence of each.
func Build(root *Root) (*Registry, error) {
	reg := NewRegistry()
	var errs []error
	root.Walk(func(c *Component) {
		full := c.FullName()
		if err := reg.AddComponent(full, c); err != nil {
			errs = append(errs, err)
		}
		for _, p := range c.params {
			if err := reg.AddParameter(full+"."+p.Name(), p); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return reg, errors.Join(errs...)
}

// MustBuild is Build for process start-up, where a duplicate name means the
// static topology is wrong and the process must not run.
func MustBuild(root *Root) *Registry {
	reg, err := Build(root)
	if err != nil {
		panic(err)
	}
	return reg
}
