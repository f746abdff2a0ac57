package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sharedview.org/internal/auth"
	"sharedview.org/internal/config"
	"sharedview.org/internal/token"
	"sharedview.org/internal/visuals"
)

// communityExpirationDays caps share-token lifetimes on the community
// edition. The ceiling is rounded up to the end of that day in UTC.
const communityExpirationDays = 31

// TokenAuthority issues, updates and revokes the share tokens of dashboards.
// All token mutations funnel through editDashboardToken so the store lock
// covers the full read-modify-persist sequence.
type TokenAuthority struct {
	store      token.Store
	dashboards Table
	edition    config.Edition
	now        func() time.Time
}

// AuthorityOption customizes a TokenAuthority.
type AuthorityOption func(*TokenAuthority)

// WithClock overrides the time source, used by tests to drive expiry.
func WithClock(now func() time.Time) AuthorityOption {
	return func(a *TokenAuthority) { a.now = now }
}

// WithEdition selects the product tier the expiration policy applies.
func WithEdition(e config.Edition) AuthorityOption {
	return func(a *TokenAuthority) { a.edition = e }
}

// NewTokenAuthority builds an authority over the given stores. The edition
// defaults to community, the stricter tier.
func NewTokenAuthority(store token.Store, dashboards Table, opts ...AuthorityOption) *TokenAuthority {
	a := &TokenAuthority{
		store:      store,
		dashboards: dashboards,
		edition:    config.EditionCommunity,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Now exposes the authority's clock so callers judging token validity agree
// with the clock that issued it.
func (a *TokenAuthority) Now() time.Time {
	return a.now().UTC()
}

// IssueDashboardToken creates the share token for a dashboard and records it
// as the dashboard's public token. permittedViews must be the view set of the
// requesting user, not the dashboard owner: the recorded view owners reflect
// what the sharing user could actually see.
func (a *TokenAuthority) IssueDashboardToken(ctx context.Context, dash *Dashboard, issuer auth.UserID, permittedViews map[string]visuals.Visual, expiration *time.Time, comment string) (token.AuthToken, error) {
	if dash.PublicTokenID != "" {
		return token.AuthToken{}, fmt.Errorf("dashboard %q of user %q already has token %s: %w",
			dash.Name, dash.Owner, dash.PublicTokenID, token.ErrAlreadyExists)
	}
	now := a.Now()
	if err := a.validateExpiration(now, expiration, false); err != nil {
		return token.AuthToken{}, err
	}

	details := &token.DashboardToken{
		Owner:         dash.Owner,
		DashboardName: dash.Name,
		Comment:       comment,
		ViewOwners:    linkedViewOwners(dash, permittedViews),
		SyncedAt:      now,
	}
	var validFor *time.Duration
	if expiration != nil {
		d := expiration.Sub(now)
		validFor = &d
	}
	tok, err := a.store.Issue(ctx, details, issuer, now, validFor)
	if err != nil {
		return token.AuthToken{}, err
	}

	// Conditional claim: a concurrent issuance on the same dashboard makes
	// exactly one of the writers win. The loser's token never became
	// reachable, disable it and report the conflict.
	key := visuals.Key{Owner: dash.Owner, Name: dash.Name}
	if err := a.dashboards.SetTokenID(ctx, key, "", tok.TokenID); err != nil {
		if errors.Is(err, ErrStaleTokenReference) {
			_ = a.DisableTokenByID(ctx, tok.TokenID)
			return token.AuthToken{}, fmt.Errorf("dashboard %q of user %q was shared concurrently: %w",
				dash.Name, dash.Owner, token.ErrAlreadyExists)
		}
		return token.AuthToken{}, fmt.Errorf("record token on dashboard: %w", err)
	}
	dash.PublicTokenID = tok.TokenID
	return tok, nil
}

// UpdateDashboardToken refreshes the token from the current dashboard state.
// Name, owner, view owners and sync time are always re-derived in full; a
// partial patch could leave the token describing a dashboard that no longer
// exists. Past expirations are accepted here, setting one is the way to
// force immediate expiry.
func (a *TokenAuthority) UpdateDashboardToken(ctx context.Context, dash *Dashboard, permittedViews map[string]visuals.Visual, disabled bool, expiration *time.Time, comment string) error {
	now := a.Now()
	if err := a.validateExpiration(now, expiration, true); err != nil {
		return err
	}
	return a.editDashboardToken(ctx, dash, func(tok *token.AuthToken, det *token.DashboardToken) error {
		det.Owner = dash.Owner
		det.DashboardName = dash.Name
		det.Comment = comment
		det.Disabled = disabled
		det.ViewOwners = linkedViewOwners(dash, permittedViews)
		det.SyncedAt = now
		if expiration == nil {
			tok.ValidUntil = nil
		} else {
			u := expiration.UTC()
			tok.ValidUntil = &u
		}
		return nil
	})
}

// DisableDashboardToken revokes the dashboard's token. Best-effort: an
// absent or mistyped token reference means there is nothing left to revoke,
// so both are swallowed and repeat calls are no-ops.
func (a *TokenAuthority) DisableDashboardToken(ctx context.Context, dash *Dashboard) error {
	err := a.editDashboardToken(ctx, dash, func(_ *token.AuthToken, det *token.DashboardToken) error {
		det.Disabled = true
		return nil
	})
	if errors.Is(err, token.ErrNotFound) || errors.Is(err, token.ErrInvalidReference) {
		return nil
	}
	return err
}

// RevokeDashboardToken disables the token and drops the dashboard's
// reference to it, allowing a fresh token to be issued later. The orphaned
// record stays in the store, disabled.
func (a *TokenAuthority) RevokeDashboardToken(ctx context.Context, dash *Dashboard) error {
	if err := a.DisableDashboardToken(ctx, dash); err != nil {
		return err
	}
	if dash.PublicTokenID == "" {
		return nil
	}
	key := visuals.Key{Owner: dash.Owner, Name: dash.Name}
	if err := a.dashboards.SetTokenID(ctx, key, dash.PublicTokenID, ""); err != nil {
		return err
	}
	dash.PublicTokenID = ""
	return nil
}

// DisableTokenByID disables a token without going through a dashboard. The
// shared pages use it when a token turns out to reference vanished data.
func (a *TokenAuthority) DisableTokenByID(ctx context.Context, tokenID string) error {
	err := a.store.Mutate(ctx, tokenID, func(tok *token.AuthToken) error {
		det, ok := tok.Details.(*token.DashboardToken)
		if !ok {
			return fmt.Errorf("token %s does not reference a dashboard: %w", tok.TokenID, token.ErrInvalidReference)
		}
		det.Disabled = true
		return nil
	})
	if errors.Is(err, token.ErrNotFound) || errors.Is(err, token.ErrInvalidReference) {
		return nil
	}
	return err
}

// DashboardToken reads the dashboard's current share token.
func (a *TokenAuthority) DashboardToken(ctx context.Context, dash *Dashboard) (token.AuthToken, error) {
	if dash.PublicTokenID == "" {
		return token.AuthToken{}, fmt.Errorf("dashboard %q of user %q has no shared token: %w",
			dash.Name, dash.Owner, token.ErrNotFound)
	}
	tok, found, err := a.store.Get(ctx, dash.PublicTokenID)
	if err != nil {
		return token.AuthToken{}, err
	}
	if !found {
		return token.AuthToken{}, fmt.Errorf("token %s: %w", dash.PublicTokenID, token.ErrNotFound)
	}
	if _, ok := tok.Details.(*token.DashboardToken); !ok {
		return token.AuthToken{}, fmt.Errorf("token %s does not reference a dashboard: %w", tok.TokenID, token.ErrInvalidReference)
	}
	return tok, nil
}

// editDashboardToken resolves the dashboard's token reference and runs fn on
// the live record inside the store lock. The type check guards against a
// reference pointing at a token of a different scope.
func (a *TokenAuthority) editDashboardToken(ctx context.Context, dash *Dashboard, fn func(*token.AuthToken, *token.DashboardToken) error) error {
	if dash.PublicTokenID == "" {
		return fmt.Errorf("dashboard %q of user %q has no shared token: %w",
			dash.Name, dash.Owner, token.ErrNotFound)
	}
	return a.store.Mutate(ctx, dash.PublicTokenID, func(tok *token.AuthToken) error {
		det, ok := tok.Details.(*token.DashboardToken)
		if !ok {
			return fmt.Errorf("token %s does not reference a dashboard: %w", tok.TokenID, token.ErrInvalidReference)
		}
		return fn(tok, det)
	})
}

func (a *TokenAuthority) validateExpiration(now time.Time, expiration *time.Time, allowPast bool) error {
	if expiration != nil && !allowPast && !expiration.After(now) {
		return fmt.Errorf("expiration %s is not in the future: %w",
			expiration.UTC().Format(time.RFC3339), token.ErrInvalidExpiration)
	}
	if a.edition != config.EditionCommunity {
		return nil
	}
	ceiling := endOfUTCDay(now.AddDate(0, 0, communityExpirationDays))
	if expiration == nil {
		return fmt.Errorf("the community edition requires an expiration no later than %s: %w",
			ceiling.Format(time.RFC3339), token.ErrInvalidExpiration)
	}
	if expiration.After(ceiling) {
		return fmt.Errorf("the community edition caps expiration at %s: %w",
			ceiling.Format(time.RFC3339), token.ErrInvalidExpiration)
	}
	return nil
}

func endOfUTCDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.UTC)
}

// linkedViewOwners records, per widget, who owned the linked view within the
// sharing user's permitted set. Views the sharing user cannot see are left
// out, so the shared pages refuse the widget instead of leaking it.
func linkedViewOwners(dash *Dashboard, permittedViews map[string]visuals.Visual) map[string]auth.UserID {
	owners := make(map[string]auth.UserID)
	for i, w := range dash.Widgets {
		if w.Type != WidgetLinkedView {
			continue
		}
		view, ok := permittedViews[w.Name]
		if !ok {
			continue
		}
		owners[WidgetID(dash.Name, i)] = view.Owner
	}
	return owners
}
