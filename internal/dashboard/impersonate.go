package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"sharedview.org/internal/auth"
	"sharedview.org/internal/token"
	"sharedview.org/internal/visuals"
)

// ErrSessionReleased: the impersonation session was released; callers must
// not keep using it after the request that opened it finished.
var ErrSessionReleased = errors.New("dashboard: impersonation session released")

// IssuerSession answers "what would the token issuer see" for the duration
// of one shared-page request. It resolves everything as the issuer, never as
// the anonymous caller holding the token, and it resolves against the
// issuer's *current* permissions: access the issuer lost since the token was
// minted is not served, no matter what the token metadata says.
//
// The two expensive lookups (dashboard, permitted views) are cached per
// session. Release drops the caches and invalidates the session so nothing
// can read stale data past the request boundary.
type IssuerSession struct {
	issuer     auth.UserID
	details    *token.DashboardToken
	perms      auth.UserPermissions
	resolver   *visuals.Resolver
	dashboards Table

	mu       sync.Mutex
	released bool
	dash     *Dashboard
	views    map[string]visuals.Visual
}

// ImpersonateDashboardTokenIssuer opens a session acting as the token's
// issuer. The returned release func must be called on every exit path; it is
// idempotent.
func ImpersonateDashboardTokenIssuer(issuer auth.UserID, details *token.DashboardToken, perms auth.UserPermissions, resolver *visuals.Resolver, dashboards Table) (*IssuerSession, func()) {
	s := &IssuerSession{
		issuer:     issuer,
		details:    details,
		perms:      perms,
		resolver:   resolver,
		dashboards: dashboards,
	}
	return s, s.release
}

func (s *IssuerSession) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	s.dash = nil
	s.views = nil
}

// Issuer is the identity the session resolves as.
func (s *IssuerSession) Issuer() auth.UserID {
	return s.issuer
}

// LoadDashboard resolves the dashboard the token references. Issuers allowed
// to edit foreign dashboards look it up in the full table; everyone else only
// finds it through their own permitted set. A miss means the data behind the
// token is gone, so the caller is told to disable the token.
func (s *IssuerSession) LoadDashboard(ctx context.Context) (*Dashboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, ErrSessionReleased
	}
	if s.dash != nil {
		return s.dash, nil
	}

	key := visuals.Key{Owner: s.details.Owner, Name: s.details.DashboardName}
	if !s.perms.May(s.issuer, auth.PermEditForeignDashboards) {
		permitted, err := s.resolver.Permitted(ctx, visuals.KindDashboards, s.issuer)
		if err != nil {
			return nil, err
		}
		v, ok := permitted[key.Name]
		if !ok || v.Owner != key.Owner {
			return nil, &InvalidWidgetError{
				Reason:       fmt.Sprintf("dashboard %q of user %q is not accessible to the token issuer", key.Name, key.Owner),
				DisableToken: true,
			}
		}
	}
	dash, err := s.dashboards.Get(ctx, key)
	if errors.Is(err, visuals.ErrNotFound) {
		return nil, &InvalidWidgetError{
			Reason:       fmt.Sprintf("dashboard %q of user %q no longer exists", key.Name, key.Owner),
			DisableToken: true,
		}
	}
	if err != nil {
		return nil, err
	}
	s.dash = &dash
	return s.dash, nil
}

// LoadLinkedView resolves a view by name through the issuer's current
// permitted views. Resolution is deliberately by name, not by the owner
// recorded in the token: if ownership or permissions changed since issue
// time the lookup misses and the token gets disabled instead of serving
// stale data.
func (s *IssuerSession) LoadLinkedView(ctx context.Context, viewName string) (visuals.Visual, error) {
	views, err := s.permittedViews(ctx)
	if err != nil {
		return visuals.Visual{}, err
	}
	view, ok := views[viewName]
	if !ok {
		return visuals.Visual{}, &InvalidWidgetError{
			Reason:       fmt.Sprintf("view %q is not accessible to the token issuer", viewName),
			DisableToken: true,
		}
	}
	return view, nil
}

// ViewSpecForWidget resolves the view behind a linked-view widget, applying
// the token's consistency checks:
//
//   - a widget the token never recorded an owner for was not shareable when
//     the token was synced, so it stays forbidden without killing the token
//   - a view whose live owner differs from the recorded one, or that was
//     modified after the last sync, invalidates the token entirely
func (s *IssuerSession) ViewSpecForWidget(ctx context.Context, widgetID string) (visuals.Visual, error) {
	dash, err := s.LoadDashboard(ctx)
	if err != nil {
		return visuals.Visual{}, err
	}
	widget, err := dash.WidgetByID(widgetID)
	if err != nil {
		return visuals.Visual{}, err
	}
	if widget.Type != WidgetLinkedView {
		return visuals.Visual{}, &InvalidWidgetError{
			Reason: fmt.Sprintf("widget %q is not a linked view", widgetID),
		}
	}

	recordedOwner, ok := s.details.ViewOwners[widgetID]
	if !ok {
		return visuals.Visual{}, ErrWidgetForbidden
	}
	view, err := s.LoadLinkedView(ctx, widget.Name)
	if err != nil {
		return visuals.Visual{}, err
	}
	if view.Owner != recordedOwner {
		return visuals.Visual{}, &InvalidWidgetError{
			Reason:       fmt.Sprintf("view %q changed owner since the token was synced", widget.Name),
			DisableToken: true,
		}
	}
	if !view.ModifiedAt.IsZero() && view.ModifiedAt.After(s.details.SyncedAt) {
		return visuals.Visual{}, &InvalidWidgetError{
			Reason:       fmt.Sprintf("view %q was modified after the token was synced", widget.Name),
			DisableToken: true,
		}
	}
	return view, nil
}

func (s *IssuerSession) permittedViews(ctx context.Context) (map[string]visuals.Visual, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, ErrSessionReleased
	}
	if s.views != nil {
		return s.views, nil
	}
	views, err := s.resolver.Permitted(ctx, visuals.KindViews, s.issuer)
	if err != nil {
		return nil, err
	}
	s.views = views
	return views, nil
}
