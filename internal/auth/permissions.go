package auth

import "fmt"

// General permission keys. Visual-kind specific keys are derived with the
// helpers below (kind is the plural form, e.g. "views", "dashboards").
const (
	PermEditForeignDashboards = "general.edit_foreign_dashboards"
	PermShareDashboards       = "general.share_dashboards"
)

// PermEdit allows creating own visuals of the kind and customizing builtins.
func PermEdit(kind string) string { return "general.edit_" + kind }

// PermPublish makes own visuals of the kind visible to other users.
func PermPublish(kind string) string { return "general.publish_" + kind }

// PermForce lets published visuals of the kind override builtins for everyone.
func PermForce(kind string) string { return "general.force_" + kind }

// PermSeeUser is needed to see visuals other users have published.
func PermSeeUser(kind string) string { return "general.see_user_" + kind }

// BuiltinVisualPermission is the per-visual key declared for every builtin
// visual ("view.allhosts", "dashboard.main", ...).
func BuiltinVisualPermission(kindSingular, name string) string {
	return fmt.Sprintf("%s.%s", kindSingular, name)
}

// UserPermissions answers permission and group questions about any user, not
// only the one bound to the current request.
type UserPermissions interface {
	// May reports whether the user holds the permission.
	May(user UserID, permission string) bool
	// ContactGroupsOf returns the contact groups the user is a member of.
	ContactGroupsOf(user UserID) []string
}

// PermissionRegistry records which permission keys were declared at startup.
// Only declared builtin-visual keys take part in the collision guard of the
// visibility resolution; an undeclared key is treated as granted.
type PermissionRegistry struct {
	keys map[string]struct{}
}

// NewPermissionRegistry builds an immutable registry from the declared keys.
func NewPermissionRegistry(keys []string) *PermissionRegistry {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		set[k] = struct{}{}
	}
	return &PermissionRegistry{keys: set}
}

// Declared reports whether the key was registered.
func (r *PermissionRegistry) Declared(key string) bool {
	if r == nil {
		return false
	}
	_, ok := r.keys[key]
	return ok
}

// DefaultRolePermissions maps the builtin roles to the general permissions
// they grant for a visual kind. Mirrors the shipped role model: regular users
// may edit and publish, only admins may force-override builtins or touch
// foreign dashboards, guests may only consume.
func DefaultRolePermissions(kind string) map[string][]string {
	return map[string][]string{
		"admin": {
			PermEdit(kind),
			PermPublish(kind),
			PermForce(kind),
			PermSeeUser(kind),
			PermEditForeignDashboards,
			PermShareDashboards,
		},
		"user": {
			PermEdit(kind),
			PermPublish(kind),
			PermSeeUser(kind),
			PermShareDashboards,
		},
		"guest": {
			PermSeeUser(kind),
		},
	}
}
