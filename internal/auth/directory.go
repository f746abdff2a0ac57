package auth

import (
	"context"
	"strings"
	"sync"
)

// Directory resolves users, their permissions, and their contact groups.
// All permission checks the visibility resolution needs go through it.
type Directory interface {
	UserPermissions
	Find(ctx context.Context, id UserID) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	Authenticate(ctx context.Context, email, password string) (User, error)
}

// MemoryDirectory keeps the user table in process. The role-permission map
// and per-user overrides are resolved on every May call; both tables are
// read-mostly.
type MemoryDirectory struct {
	mu        sync.RWMutex
	users     map[UserID]*User
	rolePerms map[string]map[string]struct{}
	overrides map[UserID]map[string]bool // explicit per-user grant/deny, wins over roles
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:     make(map[UserID]*User),
		rolePerms: make(map[string]map[string]struct{}),
		overrides: make(map[UserID]map[string]bool),
	}
}

// PutUser inserts or replaces a user record.
func (d *MemoryDirectory) PutUser(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := u
	cp.Roles = dedupeRoles(u.Roles)
	d.users[u.ID] = &cp
}

// SetRolePermissions replaces the permission set granted by a role.
func (d *MemoryDirectory) SetRolePermissions(role string, perms []string) {
	role = strings.TrimSpace(strings.ToLower(role))
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		if p = strings.TrimSpace(p); p != "" {
			set[p] = struct{}{}
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rolePerms[role] = set
}

// GrantRolePermission adds one permission to a role, keeping existing grants.
func (d *MemoryDirectory) GrantRolePermission(role, permission string) {
	role = strings.TrimSpace(strings.ToLower(role))
	d.mu.Lock()
	defer d.mu.Unlock()
	set := d.rolePerms[role]
	if set == nil {
		set = make(map[string]struct{})
		d.rolePerms[role] = set
	}
	set[permission] = struct{}{}
}

// GrantDefaultRolePermissions installs the shipped role model for a visual kind.
func (d *MemoryDirectory) GrantDefaultRolePermissions(kind string) {
	for role, perms := range DefaultRolePermissions(kind) {
		d.mu.Lock()
		set := d.rolePerms[role]
		if set == nil {
			set = make(map[string]struct{})
			d.rolePerms[role] = set
		}
		for _, p := range perms {
			set[p] = struct{}{}
		}
		d.mu.Unlock()
	}
}

// SetUserPermission records an explicit per-user grant or denial. A denial
// strips a permission the user's roles would otherwise provide.
func (d *MemoryDirectory) SetUserPermission(user UserID, permission string, allowed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := d.overrides[user]
	if set == nil {
		set = make(map[string]bool)
		d.overrides[user] = set
	}
	set[permission] = allowed
}

// May reports whether the user holds the permission. Explicit overrides win
// over role grants.
func (d *MemoryDirectory) May(user UserID, permission string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if set, ok := d.overrides[user]; ok {
		if allowed, ok := set[permission]; ok {
			return allowed
		}
	}
	u, ok := d.users[user]
	if !ok {
		return false
	}
	for _, role := range u.Roles {
		if _, ok := d.rolePerms[role][permission]; ok {
			return true
		}
	}
	return false
}

// ContactGroupsOf returns the contact groups the user is a member of.
func (d *MemoryDirectory) ContactGroupsOf(user UserID) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[user]
	if !ok || len(u.ContactGroups) == 0 {
		return nil
	}
	out := make([]string, len(u.ContactGroups))
	copy(out, u.ContactGroups)
	return out
}

// Find returns the user record by ID.
func (d *MemoryDirectory) Find(ctx context.Context, id UserID) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return *u, nil
}

// FindByEmail returns the user record by normalized email.
func (d *MemoryDirectory) FindByEmail(ctx context.Context, email string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if strings.ToLower(u.Email) == email {
			return *u, nil
		}
	}
	return User{}, ErrNotFound
}

// Authenticate verifies credentials and returns the active user.
func (d *MemoryDirectory) Authenticate(ctx context.Context, email, password string) (User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return User{}, ErrUnauthorized
	}
	u, err := d.FindByEmail(ctx, email)
	if err != nil {
		return User{}, ErrUnauthorized
	}
	if u.Status != UserStatusActive {
		return User{}, ErrUnauthorized
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		return User{}, ErrUnauthorized
	}
	return u, nil
}

var _ Directory = (*MemoryDirectory)(nil)
