package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"sharedview.org/internal/audit"
	"sharedview.org/internal/auth"
	"sharedview.org/internal/dashboard"
	"sharedview.org/internal/token"
	"sharedview.org/internal/visuals"
)

type issueTokenRequest struct {
	ExpiresAt *time.Time `json:"expires_at"`
	Comment   string     `json:"comment"`
}

type updateTokenRequest struct {
	Disabled  bool       `json:"disabled"`
	ExpiresAt *time.Time `json:"expires_at"`
	Comment   string     `json:"comment"`
}

type tokenResponse struct {
	TokenID    string     `json:"token_id"`
	Owner      string     `json:"owner"`
	Issuer     string     `json:"issuer"`
	IssuedAt   time.Time  `json:"issued_at"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	Disabled   bool       `json:"disabled"`
	Comment    string     `json:"comment"`
	SharedURL  string     `json:"shared_url"`
}

func tokenPayload(tok token.AuthToken) tokenResponse {
	resp := tokenResponse{
		TokenID:    tok.TokenID,
		Owner:      string(tok.Owner),
		Issuer:     string(tok.Issuer),
		IssuedAt:   tok.IssuedAt,
		ValidUntil: tok.ValidUntil,
		SharedURL:  "/shared/dashboard?" + sharedTokenParam + "=" + sharedTokenVersion + ":" + tok.TokenID,
	}
	if det, ok := tok.Details.(*token.DashboardToken); ok {
		resp.Disabled = det.Disabled
		resp.Comment = det.Comment
	}
	return resp
}

func (a *API) handleDashboardScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/dashboards/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 3 || parts[2] != "token" || parts[0] == "" || parts[1] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	owner, name := auth.UserID(parts[0]), parts[1]

	user, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	// only the dashboard owner and foreign-dashboard admins manage its token
	if user != owner && !a.directory.May(user, auth.PermEditForeignDashboards) {
		writeError(w, r, http.StatusForbidden, "not your dashboard")
		return
	}

	dash, err := a.dashboards.Get(r.Context(), visuals.Key{Owner: owner, Name: name})
	if err != nil {
		if errors.Is(err, visuals.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "dashboard not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	switch r.Method {
	case http.MethodPost:
		a.issueToken(w, r, user, &dash)
	case http.MethodPut:
		a.updateToken(w, r, user, &dash)
	case http.MethodDelete:
		a.revokeToken(w, r, &dash)
	case http.MethodGet:
		a.getToken(w, r, &dash)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodGet)
	}
}

func (a *API) issueToken(w http.ResponseWriter, r *http.Request, user auth.UserID, dash *dashboard.Dashboard) {
	if !a.ensurePermission(w, r, user, auth.PermShareDashboards) {
		return
	}
	var req issueTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	views, err := a.resolver.Permitted(r.Context(), visuals.KindViews, user)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	tok, err := a.authority.IssueDashboardToken(r.Context(), dash, user, views, req.ExpiresAt, req.Comment)
	if err != nil {
		handleTokenError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "token.issue",
		zap.String("token_id", tok.TokenID),
		zap.String("dashboard", dash.Name),
		zap.String("dashboard_owner", string(dash.Owner)),
	)
	w.Header().Set("Location", r.URL.Path)
	writeJSON(w, http.StatusCreated, tokenPayload(tok))
}

func (a *API) updateToken(w http.ResponseWriter, r *http.Request, user auth.UserID, dash *dashboard.Dashboard) {
	if !a.ensurePermission(w, r, user, auth.PermShareDashboards) {
		return
	}
	var req updateTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	views, err := a.resolver.Permitted(r.Context(), visuals.KindViews, user)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if err := a.authority.UpdateDashboardToken(r.Context(), dash, views, req.Disabled, req.ExpiresAt, req.Comment); err != nil {
		handleTokenError(w, r, err)
		return
	}
	tok, err := a.authority.DashboardToken(r.Context(), dash)
	if err != nil {
		handleTokenError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "token.update",
		zap.String("token_id", tok.TokenID),
		zap.String("dashboard", dash.Name),
		zap.Bool("disabled", req.Disabled),
	)
	writeJSON(w, http.StatusOK, tokenPayload(tok))
}

func (a *API) revokeToken(w http.ResponseWriter, r *http.Request, dash *dashboard.Dashboard) {
	tokenID := dash.PublicTokenID
	if err := a.authority.RevokeDashboardToken(r.Context(), dash); err != nil {
		handleTokenError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "token.revoke",
		zap.String("token_id", tokenID),
		zap.String("dashboard", dash.Name),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getToken(w http.ResponseWriter, r *http.Request, dash *dashboard.Dashboard) {
	tok, err := a.authority.DashboardToken(r.Context(), dash)
	if err != nil {
		handleTokenError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenPayload(tok))
}

func handleTokenError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, token.ErrInvalidExpiration):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, token.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, token.ErrInvalidReference):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, token.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
