package dashboard

import "errors"

// ErrWidgetForbidden: the sharing user never had access to the view a widget
// links to, so the shared link must not expose it either.
var ErrWidgetForbidden = errors.New("dashboard: the token owner did not have access to this view")

// ErrStaleTokenReference: a conditional write of public_token_id found a
// different value than the caller's snapshot. Another request issued or
// revoked the dashboard's token in between.
var ErrStaleTokenReference = errors.New("dashboard: token reference changed")

// InvalidWidgetError: the token is valid but the widget, dashboard or view it
// points to is gone or inaccessible. When DisableToken is set the page shell
// disables the token as a corrective side effect, so a dangling shared link
// self-heals into "disabled" instead of erroring forever.
type InvalidWidgetError struct {
	Reason       string
	DisableToken bool
}

func (e *InvalidWidgetError) Error() string {
	if e.Reason == "" {
		return "dashboard: invalid widget"
	}
	return "dashboard: invalid widget: " + e.Reason
}
