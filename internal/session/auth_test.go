package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestAuthStore_RoundTrip(t *testing.T) {
	a := NewAuthStore(t.TempDir())

	creds, err := a.Load("t1")
	if err != nil || creds != nil {
		t.Fatalf("expected no creds, got %s %v", creds, err)
	}

	if err := a.Save("t1", json.RawMessage(`{"id":1}`)); err != nil {
		t.Fatal(err)
	}
	creds, err = a.Load("t1")
	if err != nil {
		t.Fatal(err)
	}
	if string(creds) != `{"id":1}` {
		t.Errorf("unexpected creds %s", creds)
	}

	info, err := os.Stat(filepath.Join(a.Root(), "t1", credsFile))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected 0600, got %04o", perm)
	}
}

func TestAuthStore_TenantsAndDelete(t *testing.T) {
	a := NewAuthStore(filepath.Join(t.TempDir(), "auth"))

	tenants, err := a.Tenants()
	if err != nil || len(tenants) != 0 {
		t.Fatalf("missing root should list nothing, got %v %v", tenants, err)
	}

	for _, id := range []string{"b", "a"} {
		if err := a.Save(id, json.RawMessage(`{}`)); err != nil {
			t.Fatal(err)
		}
	}
	tenants, _ = a.Tenants()
	if len(tenants) != 2 || tenants[0] != "a" {
		t.Errorf("expected sorted tenants, got %v", tenants)
	}

	if err := a.Delete("a"); err != nil {
		t.Fatal(err)
	}
	if a.Exists("a") {
		t.Error("expected a to be deleted")
	}
	if err := a.Delete("a"); err != nil {
		t.Errorf("deleting twice should succeed: %v", err)
	}
}

func TestAuthStore_RejectsPathTenants(t *testing.T) {
	a := NewAuthStore(t.TempDir())
	for _, id := range []string{"", "..", "a/b", `a\b`} {
		if err := a.Save(id, json.RawMessage(`{}`)); err == nil {
			t.Errorf("expected error for tenant %q", id)
		}
	}
}
