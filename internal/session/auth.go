package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const credsFile = "creds.json"

// AuthStore persists opaque per-tenant credential material, one directory
// per tenant under root.
type AuthStore struct {
	root string
}

func NewAuthStore(root string) *AuthStore {
	return &AuthStore{root: root}
}

// Root returns the directory holding every tenant's auth material.
func (a *AuthStore) Root() string { return a.root }

func (a *AuthStore) dir(tenantID string) (string, error) {
	if tenantID == "" || tenantID == "." || tenantID == ".." ||
		strings.ContainsAny(tenantID, `/\`) {
		return "", fmt.Errorf("invalid tenant id %q", tenantID)
	}
	return filepath.Join(a.root, tenantID), nil
}

// Load returns the stored credentials, or nil when the tenant has none.
func (a *AuthStore) Load(tenantID string) (json.RawMessage, error) {
	dir, err := a.dir(tenantID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, credsFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read creds for %s: %w", tenantID, err)
	}
	return json.RawMessage(data), nil
}

// Save atomically replaces the tenant's credentials.
func (a *AuthStore) Save(tenantID string, creds json.RawMessage) error {
	dir, err := a.dir(tenantID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create auth dir: %w", err)
	}
	tmp := filepath.Join(dir, credsFile+".tmp")
	if err := os.WriteFile(tmp, creds, 0o600); err != nil {
		return fmt.Errorf("write creds for %s: %w", tenantID, err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, credsFile)); err != nil {
		return fmt.Errorf("replace creds for %s: %w", tenantID, err)
	}
	return nil
}

// Delete wipes the tenant's auth material. Missing material is not an error.
func (a *AuthStore) Delete(tenantID string) error {
	dir, err := a.dir(tenantID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove auth dir for %s: %w", tenantID, err)
	}
	return nil
}

// Exists reports whether the tenant has persisted auth material.
func (a *AuthStore) Exists(tenantID string) bool {
	dir, err := a.dir(tenantID)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// Tenants lists tenants with persisted auth material, sorted.
func (a *AuthStore) Tenants() ([]string, error) {
	entries, err := os.ReadDir(a.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read auth root: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
