package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"sharedview.org/internal/auth"
	"sharedview.org/internal/config"
	"sharedview.org/internal/dashboard"
	"sharedview.org/internal/token"
	"sharedview.org/internal/visuals"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

type testAPI struct {
	*apiClient
	dir        *auth.MemoryDirectory
	views      *visuals.MemoryTable
	dashboards *dashboard.MemoryTable
	tokens     *token.MemoryStore
}

func newTestAPI(t *testing.T) *testAPI {
	return newTestAPIWithEdition(t, config.EditionCommercial)
}

func newTestAPIWithEdition(t *testing.T, edition config.Edition) *testAPI {
	t.Helper()

	t.Setenv("SHAREDVIEW_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	dir := auth.NewMemoryDirectory()
	dir.GrantDefaultRolePermissions(visuals.KindViews)
	dir.GrantDefaultRolePermissions(visuals.KindDashboards)
	for _, u := range []struct {
		id    auth.UserID
		email string
		role  string
	}{
		{"alice", "alice@example.com", "user"},
		{"carol", "carol@example.com", "user"},
		{"root", "root@example.com", "admin"},
	} {
		hash, err := auth.HashPassword("pass-" + string(u.id))
		if err != nil {
			t.Fatal(err)
		}
		dir.PutUser(auth.User{
			ID:           u.id,
			Email:        u.email,
			PasswordHash: hash,
			Status:       auth.UserStatusActive,
			Roles:        []string{u.role},
		})
	}

	views := visuals.NewMemoryTable()
	if err := views.Put(context.Background(), visuals.KindViews, visuals.Visual{
		Owner:      "alice",
		Name:       "cpu",
		Title:      "CPU load",
		Public:     visuals.Publication{Public: true},
		ModifiedAt: time.Now().UTC().Add(-time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	dashboards := dashboard.NewMemoryTable()
	if err := dashboards.Put(context.Background(), dashboard.Dashboard{
		Visual: visuals.Visual{
			Owner:  "alice",
			Name:   "ops",
			Title:  "Operations",
			Public: visuals.Publication{Public: true},
		},
		Widgets: []dashboard.Widget{
			{Type: dashboard.WidgetLinkedView, Name: "cpu"},
			{Type: dashboard.WidgetStaticText, Text: "notes"},
		},
	}); err != nil {
		t.Fatal(err)
	}

	tokens := token.NewMemoryStore()
	source := &dashboard.VisualSource{Views: views, Dashboards: dashboards}
	registry := auth.NewPermissionRegistry(nil)
	resolver := visuals.NewResolver(source, dir, registry)
	authority := dashboard.NewTokenAuthority(tokens, dashboards,
		dashboard.WithEdition(edition))

	api := New(Deps{
		Directory:  dir,
		Registry:   registry,
		Resolver:   resolver,
		Dashboards: dashboards,
		Views:      views,
		Authority:  authority,
		Tokens:     tokens,
		Version:    "test",
		Edition:    edition,
		SessionTTL: 15 * time.Minute,
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testAPI{
		apiClient:  &apiClient{baseURL: srv.URL, client: srv.Client(), t: t},
		dir:        dir,
		views:      views,
		dashboards: dashboards,
		tokens:     tokens,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) login(user string) map[string]string {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/v1/auth/token", map[string]any{
		"email":    user + "@example.com",
		"password": "pass-" + user,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected login status: %d", resp.StatusCode)
	}
	var payload loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode login response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatal("empty session token issued")
	}
	return map[string]string{"Authorization": "Bearer " + payload.Token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

type testEnvelope struct {
	ResultCode int             `json:"result_code"`
	Result     json.RawMessage `json:"result"`
	Severity   string          `json:"severity"`
}

const tokenPath = "/v1/dashboards/alice/ops/token"

func TestTokenManagementFlow(t *testing.T) {
	api := newTestAPI(t)
	hdr := api.login("alice")

	resp := api.do(http.MethodPost, tokenPath, map[string]any{"comment": "weekly review"}, hdr)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue status: %d", resp.StatusCode)
	}
	issued := decode[tokenResponse](t, resp)
	if issued.TokenID == "" || issued.Comment != "weekly review" {
		t.Fatalf("unexpected issue payload: %#v", issued)
	}
	wantURL := "/shared/dashboard?cmk-token=0:" + issued.TokenID
	if issued.SharedURL != wantURL {
		t.Fatalf("shared url %q, want %q", issued.SharedURL, wantURL)
	}

	// second issue conflicts while the token is live
	resp = api.do(http.MethodPost, tokenPath, map[string]any{}, hdr)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("re-issue status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get(tokenPath, nil, hdr)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status: %d", resp.StatusCode)
	}
	if got := decode[tokenResponse](t, resp); got.TokenID != issued.TokenID {
		t.Fatalf("get returned %q, want %q", got.TokenID, issued.TokenID)
	}

	resp = api.do(http.MethodDelete, tokenPath, nil, hdr)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// revocation frees the dashboard for a fresh token
	resp = api.do(http.MethodPost, tokenPath, map[string]any{}, hdr)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue after revoke status: %d", resp.StatusCode)
	}
	second := decode[tokenResponse](t, resp)
	if second.TokenID == issued.TokenID {
		t.Fatal("expected a fresh token after revocation")
	}
}

func TestTokenManagementAuthorization(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodPost, tokenPath, map[string]any{}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// carol is neither the owner nor a foreign-dashboard admin
	resp = api.do(http.MethodPost, tokenPath, map[string]any{}, api.login("carol"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign user status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// admins may manage any dashboard's token
	resp = api.do(http.MethodPost, tokenPath, map[string]any{}, api.login("root"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("admin status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.do(http.MethodPost, "/v1/dashboards/alice/nope/token", map[string]any{}, api.login("alice"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing dashboard status: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCommunityEditionTokenFlow(t *testing.T) {
	api := newTestAPIWithEdition(t, config.EditionCommunity)
	hdr := api.login("alice")

	// no expiration is an issuance error under the community ceiling
	resp := api.do(http.MethodPost, tokenPath, map[string]any{"comment": "smoke"}, hdr)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("no-expiration status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// a date inside the ceiling issues and the shared link answers
	resp = api.do(http.MethodPost, tokenPath, map[string]any{
		"comment":    "smoke",
		"expires_at": time.Now().UTC().Add(7 * 24 * time.Hour),
	}, hdr)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue status: %d", resp.StatusCode)
	}
	issued := decode[tokenResponse](t, resp)

	resp = api.get("/shared/dashboard", sharedParams(issued.TokenID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("shared status: %d", resp.StatusCode)
	}
	env := decode[testEnvelope](t, resp)
	if env.ResultCode != 0 || env.Severity != "success" {
		t.Fatalf("unexpected envelope: %#v", env)
	}
}

func TestListVisuals(t *testing.T) {
	api := newTestAPI(t)

	// hidden views resolve but never show up as link targets
	if err := api.views.Put(context.Background(), visuals.KindViews, visuals.Visual{
		Owner:  "alice",
		Name:   "scratch",
		Public: visuals.Publication{Public: true},
		Hidden: true,
	}); err != nil {
		t.Fatal(err)
	}

	// alice published "cpu", so carol resolves it through the peer layer
	resp := api.get("/v1/visuals/views", nil, api.login("carol"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status: %d", resp.StatusCode)
	}
	list := decode[listVisualsResponse](t, resp)
	if len(list.Items) != 1 || list.Items[0].Name != "cpu" {
		t.Fatalf("unexpected listing: %#v", list.Items)
	}

	resp = api.get("/v1/visuals/widgets", nil, api.login("carol"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown kind status: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func (api *testAPI) issueToken(t *testing.T) tokenResponse {
	t.Helper()
	resp := api.do(http.MethodPost, tokenPath, map[string]any{}, api.login("alice"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue status: %d", resp.StatusCode)
	}
	return decode[tokenResponse](t, resp)
}

func sharedParams(tokenID string) url.Values {
	return url.Values{sharedTokenParam: []string{sharedTokenVersion + ":" + tokenID}}
}

func TestSharedDashboardPage(t *testing.T) {
	api := newTestAPI(t)
	issued := api.issueToken(t)

	resp := api.get("/shared/dashboard", sharedParams(issued.TokenID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("shared status: %d", resp.StatusCode)
	}
	env := decode[testEnvelope](t, resp)
	if env.ResultCode != 0 || env.Severity != "success" {
		t.Fatalf("unexpected envelope: %#v", env)
	}
	var dash sharedDashboardResponse
	if err := json.Unmarshal(env.Result, &dash); err != nil {
		t.Fatal(err)
	}
	if dash.Name != "ops" || len(dash.Widgets) != 2 {
		t.Fatalf("unexpected dashboard payload: %#v", dash)
	}
	if dash.Widgets[0].WidgetID != "ops-0" || dash.Widgets[0].Name != "cpu" {
		t.Fatalf("unexpected widget payload: %#v", dash.Widgets[0])
	}
}

func TestSharedWidgetPage(t *testing.T) {
	api := newTestAPI(t)
	issued := api.issueToken(t)

	params := sharedParams(issued.TokenID)
	params.Set("widget_id", "ops-0")
	resp := api.get("/shared/widget", params, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("widget status: %d", resp.StatusCode)
	}
	env := decode[testEnvelope](t, resp)
	if env.ResultCode != 0 {
		t.Fatalf("unexpected envelope: %#v", env)
	}
	var view sharedViewResponse
	if err := json.Unmarshal(env.Result, &view); err != nil {
		t.Fatal(err)
	}
	if view.Name != "cpu" || view.Owner != "alice" {
		t.Fatalf("unexpected view payload: %#v", view)
	}

	// a static text widget is not servable as a view, but does not kill the token
	params.Set("widget_id", "ops-1")
	resp = api.get("/shared/widget", params, nil)
	env = decode[testEnvelope](t, resp)
	if env.ResultCode != 1 || env.Severity != "error" {
		t.Fatalf("unexpected envelope for static widget: %#v", env)
	}

	resp = api.get("/shared/dashboard", sharedParams(issued.TokenID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token should still be live, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHiddenViewStillServesSharedWidget(t *testing.T) {
	api := newTestAPI(t)

	if err := api.views.Put(context.Background(), visuals.KindViews, visuals.Visual{
		Owner:      "alice",
		Name:       "scratch",
		Public:     visuals.Publication{Public: true},
		Hidden:     true,
		ModifiedAt: time.Now().UTC().Add(-time.Hour),
	}); err != nil {
		t.Fatal(err)
	}
	if err := api.dashboards.Put(context.Background(), dashboard.Dashboard{
		Visual:  visuals.Visual{Owner: "alice", Name: "notes"},
		Widgets: []dashboard.Widget{{Type: dashboard.WidgetLinkedView, Name: "scratch"}},
	}); err != nil {
		t.Fatal(err)
	}

	resp := api.do(http.MethodPost, "/v1/dashboards/alice/notes/token", map[string]any{}, api.login("alice"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue status: %d", resp.StatusCode)
	}
	issued := decode[tokenResponse](t, resp)

	params := sharedParams(issued.TokenID)
	params.Set("widget_id", "notes-0")
	resp = api.get("/shared/widget", params, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("widget status: %d", resp.StatusCode)
	}
	env := decode[testEnvelope](t, resp)
	if env.ResultCode != 0 {
		t.Fatalf("hidden view must stay resolvable by name: %#v", env)
	}
}

func TestSharedPageRejectsBadTokens(t *testing.T) {
	api := newTestAPI(t)

	cases := []struct {
		name  string
		query url.Values
	}{
		{"missing", url.Values{}},
		{"malformed", url.Values{sharedTokenParam: []string{"nonsense"}}},
		{"wrong version", url.Values{sharedTokenParam: []string{"1:abc"}}},
		{"unknown", sharedParams("01ARZ3NDEKTSV4RRFFQ69G5FAV")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := api.get("/shared/dashboard", tc.query, nil)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("status: %d", resp.StatusCode)
			}
			env := decode[testEnvelope](t, resp)
			if env.ResultCode != 1 || env.Severity != "error" {
				t.Fatalf("unexpected envelope: %#v", env)
			}
		})
	}
}

func TestSharedPageRejectsDisabledToken(t *testing.T) {
	api := newTestAPI(t)
	issued := api.issueToken(t)

	resp := api.do(http.MethodPut, tokenPath, map[string]any{"disabled": true}, api.login("alice"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/shared/dashboard", sharedParams(issued.TokenID), nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("disabled token status: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSharedWidgetDisablesTokenOnDrift(t *testing.T) {
	api := newTestAPI(t)
	issued := api.issueToken(t)

	// the linked view changes after the token was synced
	if err := api.views.Put(context.Background(), visuals.KindViews, visuals.Visual{
		Owner:      "alice",
		Name:       "cpu",
		Title:      "CPU load v2",
		Public:     visuals.Publication{Public: true},
		ModifiedAt: time.Now().UTC().Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	params := sharedParams(issued.TokenID)
	params.Set("widget_id", "ops-0")
	resp := api.get("/shared/widget", params, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("widget status: %d", resp.StatusCode)
	}
	if env := decode[testEnvelope](t, resp); env.ResultCode != 1 {
		t.Fatalf("unexpected envelope: %#v", env)
	}

	// the corrective side effect disabled the token for good
	resp = api.get("/shared/dashboard", sharedParams(issued.TokenID), nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("token should be disabled, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSharedPageMethodNotAllowed(t *testing.T) {
	api := newTestAPI(t)
	issued := api.issueToken(t)

	resp := api.do(http.MethodPost, "/shared/dashboard?"+sharedParams(issued.TokenID).Encode(), nil, nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != http.MethodGet {
		t.Fatalf("Allow header: %q", allow)
	}
	resp.Body.Close()
}

func TestEmptyDashboardSoftensSeverity(t *testing.T) {
	api := newTestAPI(t)
	if err := api.dashboards.Put(context.Background(), dashboard.Dashboard{
		Visual: visuals.Visual{Owner: "alice", Name: "blank", Public: visuals.Publication{Public: true}},
	}); err != nil {
		t.Fatal(err)
	}

	resp := api.do(http.MethodPost, "/v1/dashboards/alice/blank/token", map[string]any{}, api.login("alice"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue status: %d", resp.StatusCode)
	}
	issued := decode[tokenResponse](t, resp)

	resp = api.get("/shared/dashboard", sharedParams(issued.TokenID), nil)
	env := decode[testEnvelope](t, resp)
	if env.ResultCode != 1 || env.Severity != "success" {
		t.Fatalf("no-data must soften severity, got %#v", env)
	}
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := api.get(path, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status: %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}
