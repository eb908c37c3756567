package permission

import (
	"errors"
	"sync"
)

// RoleManager holds the permission mask of every known role.
//
// RoleManager instances are configured during initialization and then treated as immutable.
type RoleManager struct {
	registry *Registry

	mu     sync.RWMutex
	roles  map[string]Mask64
	frozen bool
}

// NewRoleManager returns an empty manager bound to registry.
func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{
		registry: registry,
		roles:    make(map[string]Mask64),
	}
}

// RegisterRole composes the named permissions into roleName's mask.
// Every permission must already be registered.
func (rm *RoleManager) RegisterRole(roleName string, permissionNames []string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("role manager frozen")
	}
	if roleName == "" {
		return errors.New("role name empty")
	}
	if _, exists := rm.roles[roleName]; exists {
		return errors.New("role already registered")
	}

	var mask Mask64
	for _, perm := range permissionNames {
		bit, ok := rm.registry.Bit(perm)
		if !ok {
			return errors.New("permission not registered: " + perm)
		}
		mask.Set(bit)
	}

	rm.roles[roleName] = mask
	return nil
}

/*
====================================
LOOKUPS
*/

// GetMask returns the mask registered for roleName.
func (rm *RoleManager) GetMask(roleName string) (Mask64, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	mask, ok := rm.roles[roleName]
	return mask, ok
}

// Allows reports whether roleName holds the named permission. Unknown roles
// and unknown permissions are denied.
func (rm *RoleManager) Allows(roleName, permissionName string) bool {
	mask, ok := rm.GetMask(roleName)
	if !ok {
		return false
	}
	bit, ok := rm.registry.Bit(permissionName)
	if !ok {
		return false
	}
	return mask.Has(bit, rm.registry.RootReserved())
}

// Snapshot expands roleName's mask into a map holding every registered
// permission. An unknown role yields an all-false map.
func (rm *RoleManager) Snapshot(roleName string) map[string]bool {
	mask, _ := rm.GetMask(roleName)
	root := rm.registry.RootReserved()

	names := rm.registry.Names()
	out := make(map[string]bool, len(names))
	for _, name := range names {
		bit, _ := rm.registry.Bit(name)
		out[name] = mask.Has(bit, root)
	}
	return out
}

/*
====================================
FREEZE
*/

// Freeze prevents further role registrations.
func (rm *RoleManager) Freeze() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.frozen = true
}

// Count returns the number of registered roles.
func (rm *RoleManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.roles)
}
