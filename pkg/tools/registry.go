package tools

import (
	"fmt"
	"sort"
)

// Registry is a closed table of operations built once at startup. Lookups
// are exact: there are no aliases or prefix matches.
type Registry struct {
	ops map[string]Operation
}

// NewRegistry builds a registry. Duplicate ids are a programming error.
func NewRegistry(ops ...Operation) (*Registry, error) {
	r := &Registry{ops: make(map[string]Operation, len(ops))}
	for _, op := range ops {
		name := op.Name()
		if name == "" {
			return nil, fmt.Errorf("operation %T has no name", op)
		}
		if _, exists := r.ops[name]; exists {
			return nil, fmt.Errorf("operation %q registered twice", name)
		}
		r.ops[name] = op
	}
	return r, nil
}

// MustRegistry is NewRegistry that panics on error.
func MustRegistry(ops ...Operation) *Registry {
	r, err := NewRegistry(ops...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the operation registered under name.
func (r *Registry) Lookup(name string) (Operation, bool) {
	op, ok := r.ops[name]
	return op, ok
}

// Names returns the registered ids in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Operations returns every operation ordered by id.
func (r *Registry) Operations() []Operation {
	names := r.Names()
	ops := make([]Operation, 0, len(names))
	for _, name := range names {
		ops = append(ops, r.ops[name])
	}
	return ops
}
