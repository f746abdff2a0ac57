package token

import (
	"encoding/json"
	"fmt"
	"time"

	"sharedview.org/internal/auth"
)

// DetailsTypeDashboard tags the dashboard token variant in persisted records.
const DetailsTypeDashboard = "dashboard"

// TokenDetails is the polymorphic payload describing what a token grants
// access to. The set of variants is closed; new grants are added as new
// types implementing the marker, not by loosening the decoding.
type TokenDetails interface {
	detailsType() string
	// TokenOwner is the principal the token acts on behalf of.
	TokenOwner() auth.UserID
	// IsDisabled reports whether the payload was revoked.
	IsDisabled() bool
}

// AuthToken is an opaque, persisted, revocable credential granting scoped,
// time-bounded access without a full login session.
type AuthToken struct {
	TokenID    string
	Owner      auth.UserID
	Issuer     auth.UserID
	IssuedAt   time.Time
	ValidUntil *time.Time // nil means no expiration
	Details    TokenDetails
}

// Expired reports whether the token's validity window has passed.
func (t AuthToken) Expired(now time.Time) bool {
	return t.ValidUntil != nil && now.After(*t.ValidUntil)
}

// Authorizes reports whether the token may grant access at the given time.
// A disabled payload never authorizes, even before expiration.
func (t AuthToken) Authorizes(now time.Time) bool {
	if t.Details == nil || t.Details.IsDisabled() {
		return false
	}
	return !t.Expired(now)
}

// DashboardToken grants access to one shared dashboard and the linked views
// its widgets reference.
type DashboardToken struct {
	Owner         auth.UserID `json:"owner"`
	DashboardName string      `json:"dashboard_name"`
	Comment       string      `json:"comment"`
	Disabled      bool        `json:"disabled"`
	// ViewOwners records, per widget ID, the owner of the linked view the
	// sharing user could see at issue/update time. Audit metadata only:
	// access-time resolution never trusts it (see IssuerSession).
	ViewOwners map[string]auth.UserID `json:"view_owners"`
	SyncedAt   time.Time              `json:"synced_at"`
}

func (d *DashboardToken) detailsType() string     { return DetailsTypeDashboard }
func (d *DashboardToken) TokenOwner() auth.UserID { return d.Owner }
func (d *DashboardToken) IsDisabled() bool        { return d.Disabled }

// persistedToken is the on-disk shape of a token record.
type persistedToken struct {
	TokenID    string          `json:"token_id"`
	Owner      string          `json:"owner"`
	Issuer     string          `json:"issuer"`
	IssuedAt   time.Time       `json:"issued_at"`
	ValidUntil *time.Time      `json:"valid_until,omitempty"`
	Details    json.RawMessage `json:"details"`
}

type persistedDetails struct {
	Type string `json:"type_"`
	*DashboardToken
}

// EncodeToken serializes a token for durable storage.
func EncodeToken(t AuthToken) ([]byte, error) {
	details, err := encodeDetails(t.Details)
	if err != nil {
		return nil, err
	}
	return json.Marshal(persistedToken{
		TokenID:    t.TokenID,
		Owner:      string(t.Owner),
		Issuer:     string(t.Issuer),
		IssuedAt:   t.IssuedAt.UTC(),
		ValidUntil: t.ValidUntil,
		Details:    details,
	})
}

// DecodeToken restores a token from its durable form.
func DecodeToken(raw []byte) (AuthToken, error) {
	var rec persistedToken
	if err := json.Unmarshal(raw, &rec); err != nil {
		return AuthToken{}, fmt.Errorf("token: decode record: %w", err)
	}
	details, err := decodeDetails(rec.Details)
	if err != nil {
		return AuthToken{}, err
	}
	return AuthToken{
		TokenID:    rec.TokenID,
		Owner:      auth.UserID(rec.Owner),
		Issuer:     auth.UserID(rec.Issuer),
		IssuedAt:   rec.IssuedAt,
		ValidUntil: rec.ValidUntil,
		Details:    details,
	}, nil
}

func encodeDetails(d TokenDetails) ([]byte, error) {
	switch v := d.(type) {
	case *DashboardToken:
		return json.Marshal(persistedDetails{Type: v.detailsType(), DashboardToken: v})
	default:
		return nil, fmt.Errorf("token: unknown details type %T", d)
	}
}

func decodeDetails(raw []byte) (TokenDetails, error) {
	var tag struct {
		Type string `json:"type_"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("token: decode details: %w", err)
	}
	switch tag.Type {
	case DetailsTypeDashboard:
		var d DashboardToken
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("token: decode dashboard details: %w", err)
		}
		return &d, nil
	default:
		return nil, fmt.Errorf("token: unknown details type %q", tag.Type)
	}
}

// cloneDetails deep-copies a payload so store snapshots cannot alias live data.
func cloneDetails(d TokenDetails) TokenDetails {
	switch v := d.(type) {
	case *DashboardToken:
		cp := *v
		if v.ViewOwners != nil {
			cp.ViewOwners = make(map[string]auth.UserID, len(v.ViewOwners))
			for k, owner := range v.ViewOwners {
				cp.ViewOwners[k] = owner
			}
		}
		return &cp
	default:
		return d
	}
}

func cloneToken(t AuthToken) AuthToken {
	cp := t
	if t.ValidUntil != nil {
		u := *t.ValidUntil
		cp.ValidUntil = &u
	}
	cp.Details = cloneDetails(t.Details)
	return cp
}
