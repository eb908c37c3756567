package permission

import (
	"errors"
	"sort"
	"sync"
)

// MaxBits is the width of every permission mask.
const MaxBits = 64

var (
	ErrRegistryFrozen      = errors.New("registry frozen")
	ErrEmptyPermission     = errors.New("permission name cannot be empty")
	ErrDuplicatePermission = errors.New("permission already registered")
	ErrPermissionLimit     = errors.New("permission limit exceeded")
)

// Registry maps permission names to bit positions within a [Mask64].
type Registry struct {
	rootReserved bool

	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

// NewRegistry creates a [Registry]. rootReserved keeps the highest bit for a
// super-admin permission that implies every other one.
func NewRegistry(rootReserved bool) *Registry {
	return &Registry{
		rootReserved: rootReserved,
		nameToBit:    make(map[string]int),
		bitToName:    make(map[int]string),
	}
}

// Register assigns the next available bit to the named permission and
// returns it. Must be called before [Registry.Freeze].
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, ErrRegistryFrozen
	}
	if name == "" {
		return -1, ErrEmptyPermission
	}
	if _, exists := r.nameToBit[name]; exists {
		return -1, ErrDuplicatePermission
	}

	nextBit := len(r.nameToBit)
	limit := MaxBits
	if r.rootReserved {
		limit = MaxBits - 1
	}
	if nextBit >= limit {
		return -1, ErrPermissionLimit
	}

	r.nameToBit[name] = nextBit
	r.bitToName[nextBit] = name
	return nextBit, nil
}

// Bit returns the bit index for the named permission, or false if not registered.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

// Name returns the permission name for the given bit index, or false if unassigned.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

// Names returns every registered permission in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.nameToBit))
	for name := range r.nameToBit {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Count returns the number of registered permissions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}

// RootReserved reports whether the highest bit is the root permission.
func (r *Registry) RootReserved() bool {
	return r.rootReserved
}
