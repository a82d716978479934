package component

import (
	"errors"
	"sync"
)

// ErrNotFound is returned by Registry.Name when given an ID that was
// never assigned by that Registry.
var ErrNotFound = errors.New("component: id not found in registry")

// Registry interns Identifiers to sequential uint32 IDs, the same
// dictionary shape as the teacher's per-chunk string dictionary,
// generalized to Identifier keys and made safe for concurrent store
// access (a chunk store registers components from many goroutines
// inserting chunks concurrently).
type Registry struct {
	mu     sync.RWMutex
	names  []Identifier
	ids    map[Identifier]uint32
	dtypes map[Identifier]Datatype
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		ids:    make(map[Identifier]uint32),
		dtypes: make(map[Identifier]Datatype),
	}
}

// Intern registers name with the given Datatype and returns its ID. A
// name already present returns its existing ID; dtype is ignored in that
// case (a component's datatype is fixed at first registration).
func (r *Registry) Intern(name Identifier, dtype Datatype) uint32 {
	r.mu.RLock()
	if id, ok := r.ids[name]; ok {
		r.mu.RUnlock()
		return id
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[name]; ok {
		return id
	}
	id := uint32(len(r.names))
	r.names = append(r.names, name)
	r.ids[name] = id
	r.dtypes[name] = dtype
	return id
}

// ID returns the ID for an already-interned name.
func (r *Registry) ID(name Identifier) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[name]
	return id, ok
}

// Name returns the Identifier for an ID previously returned by Intern.
func (r *Registry) Name(id uint32) (Identifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.names) {
		return "", ErrNotFound
	}
	return r.names[id], nil
}

// Datatype returns the Datatype a name was interned with.
func (r *Registry) Datatype(name Identifier) (Datatype, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dt, ok := r.dtypes[name]
	return dt, ok
}

// Len returns the number of distinct interned names.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
