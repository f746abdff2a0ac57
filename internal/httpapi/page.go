package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"sharedview.org/internal/audit"
	"sharedview.org/internal/dashboard"
	"sharedview.org/internal/ids"
	"sharedview.org/internal/obs"
	"sharedview.org/internal/token"
)

const (
	sharedTokenParam   = "cmk-token"
	sharedTokenVersion = "0"
)

// ErrNoData marks a "nothing to show" condition. The shared pages report it
// inside the error envelope but with severity success: an empty dashboard is
// not a failure the link holder can act on.
var ErrNoData = errors.New("no data found")

// errTokenRejected wraps every shared-token authentication failure so the
// shell can map them to one uniform response.
type errTokenRejected struct {
	reason string
	msg    string
}

func (e *errTokenRejected) Error() string { return e.msg }

// PageOutcome is the result of a shared page: either a JSON payload or a
// redirect, never both.
type PageOutcome struct {
	Payload  any
	Redirect string
}

type pageFunc func(r *http.Request, s *dashboard.IssuerSession, det *token.DashboardToken) (PageOutcome, error)

type envelope struct {
	ResultCode int    `json:"result_code"`
	Result     any    `json:"result"`
	Severity   string `json:"severity"`
}

func writeEnvelope(w http.ResponseWriter, status int, code int, result any, severity string) {
	writeJSON(w, status, envelope{ResultCode: code, Result: result, Severity: severity})
}

// servePage is the request shell shared by all token-authenticated pages:
// method check, token check, impersonated dispatch, then the uniform
// envelope. A page error carrying the disable flag revokes the token before
// the response goes out.
func (a *API) servePage(w http.ResponseWriter, r *http.Request, fn pageFunc) {
	// Routing-level rejection stays outside the result envelope.
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	tok, det, err := a.authenticateSharedToken(r)
	if err != nil {
		var rejected *errTokenRejected
		if errors.As(err, &rejected) {
			obs.TokenAuthFailure(rejected.reason)
			_ = audit.LogEvent(r.Context(), "shared.token.rejected",
				zap.String("reason", rejected.reason))
			writeEnvelope(w, http.StatusUnauthorized, 1, rejected.msg, "error")
			return
		}
		writeEnvelope(w, http.StatusInternalServerError, 1, a.publicError(err), "error")
		return
	}

	session, release := dashboard.ImpersonateDashboardTokenIssuer(tok.Issuer, det, a.directory, a.resolver, a.dashboards)
	defer release()

	outcome, err := fn(r, session, det)
	if err != nil {
		a.respondPageError(w, r, tok.TokenID, err)
		return
	}
	if outcome.Redirect != "" {
		http.Redirect(w, r, outcome.Redirect, http.StatusFound)
		return
	}
	writeEnvelope(w, http.StatusOK, 0, outcome.Payload, "success")
}

func (a *API) respondPageError(w http.ResponseWriter, r *http.Request, tokenID string, err error) {
	var iw *dashboard.InvalidWidgetError
	if errors.As(err, &iw) && iw.DisableToken {
		if derr := a.authority.DisableTokenByID(r.Context(), tokenID); derr != nil {
			obs.Logger().Error("disable token", zap.String("token_id", tokenID), zap.Error(derr))
		} else {
			obs.TokenDisabled()
			_ = audit.LogEvent(r.Context(), "shared.token.disabled",
				zap.String("token_id", tokenID),
				zap.String("reason", iw.Reason))
		}
	}

	severity := "error"
	if errors.Is(err, ErrNoData) {
		severity = "success"
	}
	writeEnvelope(w, http.StatusOK, 1, a.publicError(err), severity)
}

// publicError hides unexpected internals unless debug mode is on. Sentinel
// and widget errors articulate a user-actionable message and pass through.
func (a *API) publicError(err error) string {
	if a.debug {
		return err.Error()
	}
	var iw *dashboard.InvalidWidgetError
	switch {
	case errors.As(err, &iw),
		errors.Is(err, ErrNoData),
		errors.Is(err, dashboard.ErrWidgetForbidden),
		errors.Is(err, dashboard.ErrSessionReleased):
		return err.Error()
	default:
		return "internal error"
	}
}

func (a *API) authenticateSharedToken(r *http.Request) (token.AuthToken, *token.DashboardToken, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(sharedTokenParam))
	if raw == "" {
		return token.AuthToken{}, nil, &errTokenRejected{reason: "missing", msg: "token is required"}
	}
	version, tokenID, found := strings.Cut(raw, ":")
	if !found || version != sharedTokenVersion || !ids.Valid(tokenID) {
		return token.AuthToken{}, nil, &errTokenRejected{reason: "malformed", msg: "malformed token"}
	}

	tok, ok, err := a.tokens.Get(r.Context(), tokenID)
	if err != nil {
		return token.AuthToken{}, nil, fmt.Errorf("load token: %w", err)
	}
	if !ok {
		return token.AuthToken{}, nil, &errTokenRejected{reason: "not_found", msg: "unknown token"}
	}
	det, ok := tok.Details.(*token.DashboardToken)
	if !ok {
		return token.AuthToken{}, nil, &errTokenRejected{reason: "invalid_reference", msg: "invalid token"}
	}
	now := a.authority.Now()
	if det.Disabled {
		return token.AuthToken{}, nil, &errTokenRejected{reason: "disabled", msg: "token was disabled"}
	}
	if tok.Expired(now) {
		return token.AuthToken{}, nil, &errTokenRejected{reason: "expired", msg: "token expired"}
	}
	return tok, det, nil
}
