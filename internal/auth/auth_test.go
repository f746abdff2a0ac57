package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func withSecret(t *testing.T) {
	t.Helper()
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestSessionTokenRoundTrip(t *testing.T) {
	withSecret(t)

	signed, err := GenerateSessionToken("alice", []string{"User", "user", " admin "}, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ParseAndValidateSession(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "alice" {
		t.Fatalf("subject = %q", claims.Subject)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "user" || claims.Roles[1] != "admin" {
		t.Fatalf("roles not normalized: %v", claims.Roles)
	}
	if claims.ID == "" {
		t.Fatal("expected a token ID claim")
	}
}

func TestGenerateSessionTokenValidation(t *testing.T) {
	withSecret(t)

	if _, err := GenerateSessionToken("", []string{"user"}, time.Hour); err == nil {
		t.Fatal("expected error for empty user")
	}
	if _, err := GenerateSessionToken("alice", nil, 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestParseRejectsBadTokens(t *testing.T) {
	withSecret(t)

	expired, err := GenerateSessionToken("alice", nil, time.Millisecond)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	for name, tok := range map[string]string{
		"empty":     "",
		"garbage":   "not-a-jwt",
		"truncated": "eyJhbGciOiJIUzI1NiJ9.e30",
		"expired":   expired,
	} {
		if _, err := ParseAndValidateSession(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: got %v, want ErrInvalidToken", name, err)
		}
	}
}

func TestParseRejectsForeignSignature(t *testing.T) {
	t.Setenv(secretEnvVariable, "first-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	signed, err := GenerateSessionToken("alice", nil, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	t.Setenv(secretEnvVariable, "second-secret")
	ResetSecretForTests()

	if _, err := ParseAndValidateSession(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

func TestGenerateRequiresSecret(t *testing.T) {
	t.Setenv(secretEnvVariable, "")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateSessionToken("alice", nil, time.Hour); err == nil {
		t.Fatal("expected error when secret is not configured")
	}
}

func TestDirectoryPermissions(t *testing.T) {
	dir := NewMemoryDirectory()
	dir.GrantDefaultRolePermissions("dashboards")
	dir.PutUser(User{ID: "alice", Roles: []string{"user"}, Status: UserStatusActive})
	dir.PutUser(User{ID: "root", Roles: []string{"admin"}, Status: UserStatusActive})

	if !dir.May("alice", PermEdit("dashboards")) {
		t.Fatal("user role must grant edit")
	}
	if dir.May("alice", PermForce("dashboards")) {
		t.Fatal("user role must not grant force")
	}
	if !dir.May("root", PermEditForeignDashboards) {
		t.Fatal("admin role must grant foreign edit")
	}
	if dir.May("ghost", PermEdit("dashboards")) {
		t.Fatal("unknown user must hold nothing")
	}

	// An explicit denial strips a role grant; an explicit grant adds one.
	dir.SetUserPermission("alice", PermEdit("dashboards"), false)
	if dir.May("alice", PermEdit("dashboards")) {
		t.Fatal("denial override must win over roles")
	}
	dir.SetUserPermission("alice", PermForce("dashboards"), true)
	if !dir.May("alice", PermForce("dashboards")) {
		t.Fatal("grant override must win over roles")
	}
}

func TestDirectoryContactGroups(t *testing.T) {
	dir := NewMemoryDirectory()
	dir.PutUser(User{ID: "alice", ContactGroups: []string{"noc", "oncall"}, Status: UserStatusActive})

	groups := dir.ContactGroupsOf("alice")
	if len(groups) != 2 || groups[0] != "noc" {
		t.Fatalf("groups = %v", groups)
	}
	groups[0] = "mutated"
	if dir.ContactGroupsOf("alice")[0] != "noc" {
		t.Fatal("returned slice must not alias the stored record")
	}
	if dir.ContactGroupsOf("ghost") != nil {
		t.Fatal("unknown user has no groups")
	}
}

func TestAuthenticate(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	dir := NewMemoryDirectory()
	dir.PutUser(User{ID: "alice", Email: "Alice@Example.com", PasswordHash: hash, Status: UserStatusActive})
	dir.PutUser(User{ID: "bob", Email: "bob@example.com", PasswordHash: hash, Status: UserStatusDisabled})

	u, err := dir.Authenticate(context.Background(), "alice@example.com", "s3cret")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if u.ID != "alice" {
		t.Fatalf("user = %q", u.ID)
	}

	cases := []struct {
		name, email, password string
	}{
		{"wrong password", "alice@example.com", "nope"},
		{"unknown user", "carol@example.com", "s3cret"},
		{"disabled user", "bob@example.com", "s3cret"},
		{"blank credentials", "", ""},
	}
	for _, tc := range cases {
		if _, err := dir.Authenticate(context.Background(), tc.email, tc.password); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("%s: got %v, want ErrUnauthorized", tc.name, err)
		}
	}
}

func TestPermissionRegistry(t *testing.T) {
	reg := NewPermissionRegistry([]string{
		BuiltinVisualPermission("view", "allhosts"),
		"",
		"dashboard.main",
	})
	if !reg.Declared("view.allhosts") || !reg.Declared("dashboard.main") {
		t.Fatal("declared keys missing")
	}
	if reg.Declared("") || reg.Declared("view.custom") {
		t.Fatal("undeclared keys must not report as declared")
	}
	var nilReg *PermissionRegistry
	if nilReg.Declared("view.allhosts") {
		t.Fatal("nil registry declares nothing")
	}
}

func TestPermissionKeys(t *testing.T) {
	if got := PermSeeUser("views"); got != "general.see_user_views" {
		t.Fatalf("see_user key = %q", got)
	}
	if got := BuiltinVisualPermission("dashboard", "main"); !strings.HasPrefix(got, "dashboard.") {
		t.Fatalf("builtin key = %q", got)
	}
}
