package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"sharedview.org/internal/dashboard"
	"sharedview.org/internal/token"
)

type sharedWidgetInfo struct {
	WidgetID string `json:"widget_id"`
	Type     string `json:"type"`
	Name     string `json:"name,omitempty"`
	Text     string `json:"text,omitempty"`
}

type sharedDashboardResponse struct {
	Name    string             `json:"name"`
	Title   string             `json:"title"`
	Owner   string             `json:"owner"`
	Widgets []sharedWidgetInfo `json:"widgets"`
}

type sharedViewResponse struct {
	WidgetID string `json:"widget_id"`
	Name     string `json:"name"`
	Title    string `json:"title"`
	Owner    string `json:"owner"`
}

// handleSharedDashboard serves the dashboard a token references, resolved as
// the token's issuer.
func (a *API) handleSharedDashboard(w http.ResponseWriter, r *http.Request) {
	a.servePage(w, r, func(r *http.Request, s *dashboard.IssuerSession, det *token.DashboardToken) (PageOutcome, error) {
		dash, err := s.LoadDashboard(r.Context())
		if err != nil {
			return PageOutcome{}, err
		}
		if len(dash.Widgets) == 0 {
			return PageOutcome{}, fmt.Errorf("dashboard %q is empty: %w", dash.Name, ErrNoData)
		}

		resp := sharedDashboardResponse{
			Name:  dash.Name,
			Title: dash.Title,
			Owner: string(dash.Owner),
		}
		for i, widget := range dash.Widgets {
			resp.Widgets = append(resp.Widgets, sharedWidgetInfo{
				WidgetID: dashboard.WidgetID(dash.Name, i),
				Type:     widget.Type,
				Name:     widget.Name,
				Text:     widget.Text,
			})
		}
		return PageOutcome{Payload: resp}, nil
	})
}

// handleSharedWidget resolves one linked-view widget of the shared
// dashboard, applying the token's view consistency checks.
func (a *API) handleSharedWidget(w http.ResponseWriter, r *http.Request) {
	a.servePage(w, r, func(r *http.Request, s *dashboard.IssuerSession, det *token.DashboardToken) (PageOutcome, error) {
		widgetID := strings.TrimSpace(r.URL.Query().Get("widget_id"))
		if widgetID == "" {
			return PageOutcome{}, &dashboard.InvalidWidgetError{Reason: "widget_id is required"}
		}
		view, err := s.ViewSpecForWidget(r.Context(), widgetID)
		if err != nil {
			return PageOutcome{}, err
		}
		return PageOutcome{Payload: sharedViewResponse{
			WidgetID: widgetID,
			Name:     view.Name,
			Title:    view.Title,
			Owner:    string(view.Owner),
		}}, nil
	})
}
