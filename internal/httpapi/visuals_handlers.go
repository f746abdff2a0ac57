package httpapi

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"sharedview.org/internal/visuals"
)

type listVisualsResponse struct {
	Kind  string           `json:"kind"`
	Items []visuals.Visual `json:"items"`
	AsOf  time.Time        `json:"as_of"`
}

// handleVisuals lists the visuals of a kind the authenticated user may
// resolve, after the full layered visibility pass. Hidden visuals stay
// resolvable by name but are suppressed from the listing, so nothing offers
// them as link targets.
func (a *API) handleVisuals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	kind := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/visuals/"), "/")
	if kind != visuals.KindViews && kind != visuals.KindDashboards {
		writeError(w, r, http.StatusNotFound, "unknown visual kind")
		return
	}
	user, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	permitted, err := a.resolver.Permitted(r.Context(), kind, user)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]visuals.Visual, 0, len(permitted))
	for _, v := range permitted {
		if v.Hidden {
			continue
		}
		items = append(items, v)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	writeJSON(w, http.StatusOK, listVisualsResponse{
		Kind:  kind,
		Items: items,
		AsOf:  time.Now().UTC(),
	})
}
