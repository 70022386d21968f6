package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const campaignColumns = `id, tenant_id, name, message, template_id, numbers, start_at,
	throttle_min_ms, throttle_max_ms, status, created_at`

// CreateCampaign stores c in the scheduled state and sets c.ID.
func (d *DB) CreateCampaign(ctx context.Context, c *Campaign) error {
	now := d.now()
	if c.ScheduledAt.IsZero() {
		c.ScheduledAt = now
	}
	c.Status = CampaignScheduled
	c.CreatedAt = now
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO campaigns (tenant_id, name, message, template_id, numbers, start_at,
			throttle_min_ms, throttle_max_ms, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING id`,
		c.TenantID, c.Name, c.MessageBody, nullInt64(c.TemplateID),
		strings.Join(c.Recipients, "\n"), c.ScheduledAt.UTC(),
		c.ThrottleMinMs, c.ThrottleMaxMs, string(c.Status), now,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

// ListCampaigns returns a tenant's campaigns, newest first.
func (d *DB) ListCampaigns(ctx context.Context, tenantID string) ([]Campaign, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE tenant_id = $1 ORDER BY id DESC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return collectCampaigns(rows)
}

// GetCampaign returns one campaign by id.
func (d *DB) GetCampaign(ctx context.Context, id int64) (*Campaign, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if err != nil {
		return nil, fmt.Errorf("get campaign %d: %w", id, err)
	}
	return c, nil
}

// DueCampaigns returns scheduled campaigns whose start time is at or before now.
func (d *DB) DueCampaigns(ctx context.Context, now time.Time) ([]Campaign, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns
		WHERE status = $1 AND start_at <= $2 ORDER BY start_at ASC, id ASC`,
		string(CampaignScheduled), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("due campaigns: %w", err)
	}
	return collectCampaigns(rows)
}

// ClaimCampaign moves a campaign from scheduled to running. It reports false
// when another poller claimed it first or it is no longer scheduled.
func (d *DB) ClaimCampaign(ctx context.Context, id int64) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(CampaignRunning), d.now(), id, string(CampaignScheduled))
	if err != nil {
		return false, fmt.Errorf("claim campaign %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim campaign %d: %w", id, err)
	}
	return n == 1, nil
}

// UpdateCampaignStatus sets the terminal status of a campaign.
func (d *DB) UpdateCampaignStatus(ctx context.Context, id int64, status CampaignStatus) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), d.now(), id)
	if err != nil {
		return fmt.Errorf("update campaign %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update campaign %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanCampaign(s scanner) (*Campaign, error) {
	var (
		c        Campaign
		template sql.NullInt64
		numbers  string
		status   string
	)
	err := s.Scan(&c.ID, &c.TenantID, &c.Name, &c.MessageBody, &template, &numbers,
		&c.ScheduledAt, &c.ThrottleMinMs, &c.ThrottleMaxMs, &status, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if template.Valid {
		id := template.Int64
		c.TemplateID = &id
	}
	c.Recipients = ParseRecipients(numbers)
	c.Status = CampaignStatus(status)
	c.ScheduledAt = c.ScheduledAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func collectCampaigns(rows *sql.Rows) ([]Campaign, error) {
	defer rows.Close()
	out := []Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
