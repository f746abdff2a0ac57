package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

// Smoke client for a running sharedview-api with the in-memory seed:
// login, share the admin dashboard, fetch it anonymously through the token,
// disable the token and confirm the link dies.
func main() {
	base := os.Getenv("SHAREDVIEW_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	password := os.Getenv("SHAREDVIEW_DEMO_PASSWORD")
	if password == "" {
		password = "admin"
	}
	client := &http.Client{Timeout: 5 * time.Second}

	var login struct {
		Token string `json:"token"`
	}
	mustJSON(client, http.MethodPost, base+"/v1/auth/token", "", map[string]any{
		"email":    "admin@sharedview.local",
		"password": password,
	}, http.StatusOK, &login)

	tokenPath := base + "/v1/dashboards/admin/overview/token"

	// a leftover token from an earlier run would block issuance
	_ = request(client, http.MethodDelete, tokenPath, login.Token, nil, nil)

	var issued struct {
		TokenID   string `json:"token_id"`
		SharedURL string `json:"shared_url"`
	}
	// one week keeps the issuance valid under the community edition ceiling
	expiresAt := time.Now().UTC().Add(7 * 24 * time.Hour)
	mustJSON(client, http.MethodPost, tokenPath, login.Token, map[string]any{
		"comment":    "smoke",
		"expires_at": expiresAt,
	}, http.StatusCreated, &issued)

	var env struct {
		ResultCode int             `json:"result_code"`
		Result     json.RawMessage `json:"result"`
		Severity   string          `json:"severity"`
	}
	mustJSON(client, http.MethodGet, base+issued.SharedURL, "", nil, http.StatusOK, &env)
	if env.ResultCode != 0 || env.Severity != "success" {
		log.Fatalf("shared dashboard envelope: code=%d severity=%s", env.ResultCode, env.Severity)
	}

	var dash struct {
		Name    string `json:"name"`
		Widgets []struct {
			WidgetID string `json:"widget_id"`
			Type     string `json:"type"`
		} `json:"widgets"`
	}
	if err := json.Unmarshal(env.Result, &dash); err != nil {
		log.Fatalf("decode dashboard payload: %v", err)
	}
	if len(dash.Widgets) == 0 {
		log.Fatal("shared dashboard has no widgets")
	}

	widgetURL := fmt.Sprintf("%s/shared/widget?cmk-token=0:%s&widget_id=%s",
		base, issued.TokenID, dash.Widgets[0].WidgetID)
	mustJSON(client, http.MethodGet, widgetURL, "", nil, http.StatusOK, &env)
	if env.ResultCode != 0 {
		log.Fatalf("shared widget envelope: code=%d result=%s", env.ResultCode, env.Result)
	}

	mustJSON(client, http.MethodPut, tokenPath, login.Token, map[string]any{
		"disabled":   true,
		"comment":    "smoke",
		"expires_at": expiresAt,
	}, http.StatusOK, nil)

	resp := request(client, http.MethodGet, base+issued.SharedURL, "", nil, nil)
	if resp != http.StatusUnauthorized {
		log.Fatalf("disabled token still answers: status=%d", resp)
	}

	if status := request(client, http.MethodDelete, tokenPath, login.Token, nil, nil); status != http.StatusNoContent {
		log.Fatalf("revoke failed: status=%d", status)
	}

	fmt.Printf("✅ token smoke test passed: dashboard=%s token=%s\n", dash.Name, issued.TokenID)
}

func mustJSON(client *http.Client, method, url, bearer string, body any, wantStatus int, out any) {
	status := request(client, method, url, bearer, body, out)
	if status != wantStatus {
		log.Fatalf("%s %s: status=%d want=%d", method, url, status, wantStatus)
	}
}

func request(client *http.Client, method, url, bearer string, body, out any) int {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, payload)
	if err != nil {
		log.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			log.Fatalf("decode %s response: %v", url, err)
		}
	}
	return resp.StatusCode
}
