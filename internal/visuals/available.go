package visuals

import (
	"context"
	"sort"

	"sharedview.org/internal/auth"
)

// Resolver computes which visuals a user may see. It holds no state of its
// own; every call resolves against the tables and permissions it was given.
type Resolver struct {
	tables   Source
	perms    auth.UserPermissions
	registry *auth.PermissionRegistry
}

// NewResolver bundles the visuals source with the permission sources.
func NewResolver(tables Source, perms auth.UserPermissions, registry *auth.PermissionRegistry) *Resolver {
	return &Resolver{tables: tables, perms: perms, registry: registry}
}

// Permitted loads the full table for the kind and resolves it for the user.
func (r *Resolver) Permitted(ctx context.Context, kind string, user auth.UserID) (map[string]Visual, error) {
	all, err := r.tables.All(ctx, kind)
	if err != nil {
		return nil, err
	}
	return Available(kind, all, user, r.perms, r.registry), nil
}

// All exposes the unfiltered table. Only the foreign-dashboard admin path of
// the impersonation session may use it.
func (r *Resolver) All(ctx context.Context, kind string) (map[Key]Visual, error) {
	return r.tables.All(ctx, kind)
}

// Available computes the visuals of a kind the user may resolve by name.
// Four layers are applied in order and earlier layers are never overridden:
//
//  1. the user's own visuals, when allowed to edit the kind
//  2. visuals published by users allowed to force-override builtins
//  3. builtin visuals the user holds the per-visual permission for
//  4. visuals published by other users holding the publish permission,
//     when the user may see foreign visuals at all
//
// Layers 2 and 4 honor the per-visual permission of a same-named builtin: a
// published visual never resurrects access the user was explicitly stripped
// of.
func Available(kind string, all map[Key]Visual, user auth.UserID, perms auth.UserPermissions, registry *auth.PermissionRegistry) map[string]Visual {
	out := make(map[string]Visual)
	prefix := PermPrefix(kind)

	deniedBuiltinName := func(name string) bool {
		permName := auth.BuiltinVisualPermission(prefix, name)
		return registry.Declared(permName) && !perms.May(user, permName)
	}

	// 1. own visuals, when allowed to edit this kind
	if perms.May(user, auth.PermEdit(kind)) {
		for _, key := range sortedKeys(all) {
			if key.Owner == user {
				out[key.Name] = all[key]
			}
		}
	}

	// 2. visuals of users allowed to globally override builtins
	for _, key := range sortedKeys(all) {
		if _, ok := out[key.Name]; ok {
			continue
		}
		visual := all[key]
		if !visual.Public.PublishedTo(user, perms) {
			continue
		}
		if !perms.May(key.Owner, auth.PermForce(kind)) {
			continue
		}
		if deniedBuiltinName(key.Name) {
			continue
		}
		out[key.Name] = visual
	}

	// 3. builtin visuals the user is permitted
	for _, key := range sortedKeys(all) {
		if _, ok := out[key.Name]; ok {
			continue
		}
		if !key.Owner.IsBuiltin() {
			continue
		}
		if perms.May(user, auth.BuiltinVisualPermission(prefix, key.Name)) {
			out[key.Name] = all[key]
		}
	}

	// 4. other users' published visuals
	if perms.May(user, auth.PermSeeUser(kind)) {
		for _, key := range sortedKeys(all) {
			if _, ok := out[key.Name]; ok {
				continue
			}
			visual := all[key]
			if !visual.Public.PublishedTo(user, perms) {
				continue
			}
			if !perms.May(key.Owner, auth.PermPublish(kind)) {
				continue
			}
			if deniedBuiltinName(key.Name) {
				continue
			}
			out[key.Name] = visual
		}
	}

	return out
}

// sortedKeys gives a stable iteration order so that same-named visuals from
// different owners resolve deterministically within a layer.
func sortedKeys(all map[Key]Visual) []Key {
	keys := make([]Key, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Owner != keys[j].Owner {
			return keys[i].Owner < keys[j].Owner
		}
		return keys[i].Name < keys[j].Name
	})
	return keys
}
