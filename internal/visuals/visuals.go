package visuals

import (
	"strings"
	"time"

	"sharedview.org/internal/auth"
)

// Visual kinds. The plural form names the table and the general permissions,
// the singular form prefixes per-visual permission keys.
const (
	KindViews      = "views"
	KindDashboards = "dashboards"
)

// PermPrefix returns the singular permission prefix for a kind
// ("views" -> "view").
func PermPrefix(kind string) string {
	return strings.TrimSuffix(kind, "s")
}

// Key identifies a visual. The builtin owner is the empty UserID.
type Key struct {
	Owner auth.UserID
	Name  string
}

// Publication is the visibility policy of a visual: not published, published
// to everyone, or published to a set of contact groups.
type Publication struct {
	Public        bool     `json:"public"`
	ContactGroups []string `json:"contact_groups,omitempty"`
}

// PublishedTo reports whether the policy reaches the given user.
func (p Publication) PublishedTo(user auth.UserID, perms auth.UserPermissions) bool {
	if p.Public {
		return true
	}
	if len(p.ContactGroups) == 0 {
		return false
	}
	member := make(map[string]struct{})
	for _, g := range perms.ContactGroupsOf(user) {
		member[g] = struct{}{}
	}
	for _, g := range p.ContactGroups {
		if _, ok := member[g]; ok {
			return true
		}
	}
	return false
}

// Visual is a saved, named, ownable configuration object (view or dashboard)
// with a visibility policy.
type Visual struct {
	Owner  auth.UserID `json:"owner"`
	Name   string      `json:"name"`
	Title  string      `json:"title"`
	Public Publication `json:"public"`
	// Hidden suppresses linking even when the visual is visible.
	Hidden bool `json:"hidden"`
	// ModifiedAt is zero for builtin visuals; user visuals carry the time of
	// their last edit so token metadata can detect drift.
	ModifiedAt time.Time `json:"modified_at,omitzero"`
}
