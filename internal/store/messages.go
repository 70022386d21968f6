package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const messageColumns = `id, tenant_id, chat_jid, sender, sender_jid, body, direction, ts,
	stanza_id, raw_payload, reply_to_id, quoted_body, quoted_sender`

// InsertMessage appends m and sets m.ID. A zero Timestamp is stamped with now.
func (d *DB) InsertMessage(ctx context.Context, m *Message) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = d.now()
	}
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO messages (tenant_id, chat_jid, sender, sender_jid, body, direction, ts,
			stanza_id, raw_payload, reply_to_id, quoted_body, quoted_sender)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		m.TenantID, m.ConversationID, m.Sender, m.SenderIdentity, m.Body, string(m.Direction),
		m.Timestamp.UTC(), nullString(m.StanzaID), nullString(string(m.RawPayload)),
		nullInt64(m.ReplyToID), m.QuotedBody, m.QuotedSender,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage returns the message with id when it belongs to tenantID.
func (d *DB) GetMessage(ctx context.Context, tenantID string, id int64) (*Message, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1 AND tenant_id = $2`,
		id, tenantID)
	m, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	return m, nil
}

// FindMessageByStanzaID resolves a protocol message id to the stored record.
func (d *DB) FindMessageByStanzaID(ctx context.Context, tenantID, stanzaID string) (*Message, error) {
	if stanzaID == "" {
		return nil, ErrNotFound
	}
	row := d.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE tenant_id = $1 AND stanza_id = $2`,
		tenantID, stanzaID)
	m, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("find message by stanza %s: %w", stanzaID, err)
	}
	return m, nil
}

// ListChats returns the latest message of every conversation, newest first.
func (d *DB) ListChats(ctx context.Context, tenantID string) ([]Message, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages m
		WHERE m.tenant_id = $1
		  AND m.id = (SELECT MAX(id) FROM messages x WHERE x.tenant_id = $1 AND x.chat_jid = m.chat_jid)
		ORDER BY m.ts DESC, m.id DESC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return collectMessages(rows)
}

// ListConversation returns one conversation's messages oldest first.
// limit <= 0 returns everything.
func (d *DB) ListConversation(ctx context.Context, tenantID, chatJID string, limit int) ([]Message, error) {
	q := `SELECT ` + messageColumns + ` FROM messages
		WHERE tenant_id = $1 AND chat_jid = $2 ORDER BY ts ASC, id ASC`
	args := []any{tenantID, chatJID}
	if limit > 0 {
		// Keep the newest `limit` rows while still returning them oldest first.
		q = `SELECT ` + messageColumns + ` FROM (
			SELECT ` + messageColumns + ` FROM messages
			WHERE tenant_id = $1 AND chat_jid = $2 ORDER BY ts DESC, id DESC LIMIT $3
		) recent ORDER BY ts ASC, id ASC`
		args = append(args, limit)
	}
	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	return collectMessages(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*Message, error) {
	var (
		m         Message
		direction string
		stanza    sql.NullString
		raw       sql.NullString
		replyTo   sql.NullInt64
	)
	err := s.Scan(&m.ID, &m.TenantID, &m.ConversationID, &m.Sender, &m.SenderIdentity, &m.Body,
		&direction, &m.Timestamp, &stanza, &raw, &replyTo, &m.QuotedBody, &m.QuotedSender)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Direction = Direction(direction)
	m.Timestamp = m.Timestamp.UTC()
	m.StanzaID = stanza.String
	if raw.Valid {
		m.RawPayload = []byte(raw.String)
	}
	if replyTo.Valid {
		id := replyTo.Int64
		m.ReplyToID = &id
	}
	return &m, nil
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	out := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
