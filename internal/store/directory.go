package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

// ---- Contacts --------------------------------------------------------------

func (d *DB) ListContacts(ctx context.Context, tenantID string) ([]Contact, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, phone FROM contacts WHERE tenant_id = $1 ORDER BY name ASC, id ASC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	out := []Contact{}
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Phone); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *DB) CreateContact(ctx context.Context, c *Contact) error {
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO contacts (tenant_id, name, phone) VALUES ($1, $2, $3) RETURNING id`,
		c.TenantID, c.Name, c.Phone,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

func (d *DB) DeleteContact(ctx context.Context, tenantID string, id int64) error {
	return d.deleteOwned(ctx, "contacts", tenantID, id)
}

// ---- Templates -------------------------------------------------------------

func (d *DB) ListTemplates(ctx context.Context, tenantID string) ([]Template, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, content FROM templates WHERE tenant_id = $1 ORDER BY id ASC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	out := []Template{}
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Name, &t.Content); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (d *DB) GetTemplate(ctx context.Context, tenantID string, id int64) (*Template, error) {
	var t Template
	err := d.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, content FROM templates WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	).Scan(&t.ID, &t.TenantID, &t.Name, &t.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get template %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get template %d: %w", id, err)
	}
	return &t, nil
}

func (d *DB) CreateTemplate(ctx context.Context, t *Template) error {
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO templates (tenant_id, name, content) VALUES ($1, $2, $3) RETURNING id`,
		t.TenantID, t.Name, t.Content,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// ---- Settings --------------------------------------------------------------

// Settings returns every key/value pair.
func (d *DB) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// SetSetting upserts one key.
func (d *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// ---- Auto-replies ----------------------------------------------------------

// ListAutoReplies returns all rules in id order, enabled or not.
func (d *DB) ListAutoReplies(ctx context.Context) ([]AutoReply, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, keyword, reply, enabled FROM auto_replies ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list auto-replies: %w", err)
	}
	defer rows.Close()

	out := []AutoReply{}
	for rows.Next() {
		var r AutoReply
		if err := rows.Scan(&r.ID, &r.Keyword, &r.Reply, &r.Enabled); err != nil {
			return nil, fmt.Errorf("scan auto-reply: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *DB) CreateAutoReply(ctx context.Context, r *AutoReply) error {
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO auto_replies (keyword, reply, enabled) VALUES ($1, $2, $3) RETURNING id`,
		r.Keyword, r.Reply, r.Enabled,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("insert auto-reply: %w", err)
	}
	return nil
}

func (d *DB) SetAutoReplyEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE auto_replies SET enabled = $1 WHERE id = $2`, enabled, id)
	if err != nil {
		return fmt.Errorf("toggle auto-reply %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("toggle auto-reply %d: %w", id, ErrNotFound)
	}
	return nil
}

func (d *DB) DeleteAutoReply(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM auto_replies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete auto-reply %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete auto-reply %d: %w", id, ErrNotFound)
	}
	return nil
}

// ---- API keys --------------------------------------------------------------

// APIKeyPrefix marks generated keys so they are recognisable in logs and
// config files.
const APIKeyPrefix = "wag_"

// GenerateAPIKey returns a new random plaintext key.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(b), nil
}

// HashAPIKey is the stored form of a plaintext key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// CreateAPIKey stores the hash of plaintext for tenantID.
func (d *DB) CreateAPIKey(ctx context.Context, tenantID, name, plaintext string) (*APIKey, error) {
	k := &APIKey{TenantID: tenantID, Name: name, CreatedAt: d.now()}
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO api_keys (tenant_id, name, key_hash, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		tenantID, name, HashAPIKey(plaintext), k.CreatedAt,
	).Scan(&k.ID)
	if err != nil {
		return nil, fmt.Errorf("insert api key: %w", err)
	}
	return k, nil
}

// TenantByAPIKey resolves a plaintext key to its tenant.
func (d *DB) TenantByAPIKey(ctx context.Context, plaintext string) (string, error) {
	var tenant string
	err := d.db.QueryRowContext(ctx,
		`SELECT tenant_id FROM api_keys WHERE key_hash = $1`, HashAPIKey(plaintext),
	).Scan(&tenant)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup api key: %w", err)
	}
	return tenant, nil
}

func (d *DB) ListAPIKeys(ctx context.Context, tenantID string) ([]APIKey, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, created_at FROM api_keys WHERE tenant_id = $1 ORDER BY id ASC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	out := []APIKey{}
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		k.CreatedAt = k.CreatedAt.UTC()
		out = append(out, k)
	}
	return out, rows.Err()
}

func (d *DB) DeleteAPIKey(ctx context.Context, tenantID string, id int64) error {
	return d.deleteOwned(ctx, "api_keys", tenantID, id)
}

// Tenants lists every tenant that owns an API key.
func (d *DB) Tenants(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM api_keys ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// deleteOwned removes a tenant-scoped row. table is never user input.
func (d *DB) deleteOwned(ctx context.Context, table, tenantID string, id int64) error {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete from %s %d: %w", table, id, ErrNotFound)
	}
	return nil
}
