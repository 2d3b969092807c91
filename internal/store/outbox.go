package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/wppadmin/internal/model"
)

// ClaimOutbox moves a queued entry to sending. It reports false when another
// worker already claimed it.
func (s *Store) ClaimOutbox(ctx context.Context, messageID string) (bool, error) {
	res, err := s.exec(ctx, s.db,
		`UPDATE outbox SET status = 'sending', updated_at = ? WHERE message_id = ? AND status = 'queued'`,
		time.Now().UnixMilli(), messageID)
	if err != nil {
		return false, fmt.Errorf("claim outbox: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim outbox: %w", err)
	}
	return n == 1, nil
}

// MarkOutboxSent records a successful delivery.
func (s *Store) MarkOutboxSent(ctx context.Context, messageID string) error {
	_, err := s.exec(ctx, s.db,
		`UPDATE outbox SET status = 'sent', error_message = '', updated_at = ? WHERE message_id = ?`,
		time.Now().UnixMilli(), messageID)
	return err
}

// MarkOutboxFailed records a failed delivery. Failed entries are not retried.
func (s *Store) MarkOutboxFailed(ctx context.Context, messageID, errMsg string) error {
	_, err := s.exec(ctx, s.db,
		`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE message_id = ?`,
		errMsg, time.Now().UnixMilli(), messageID)
	return err
}

// PendingOutbox returns queued entries, oldest first, with their recipient.
func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]model.OutboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT m.id, m.contact_id, m.sender_type, m.content_type, m.text_content, m.attachment_url, m.sent_at,
		       c.platform, c.platform_user_id, o.status, o.error_message
		FROM outbox o
		JOIN messages m ON m.id = o.message_id
		JOIN contacts c ON c.id = m.contact_id
		WHERE o.status = 'queued'
		ORDER BY o.created_at ASC
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("pending outbox: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.OutboxEntry
	for rows.Next() {
		var (
			e          model.OutboxEntry
			text, url  sql.NullString
			sentMillis int64
		)
		m := &e.Message
		if err := rows.Scan(&m.ID, &m.ContactID, &m.SenderType, &m.ContentType, &text, &url, &sentMillis,
			&e.Platform, &e.PlatformUserID, &e.Status, &e.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		if text.Valid {
			m.TextContent = &text.String
		}
		if url.Valid {
			m.AttachmentURL = &url.String
		}
		m.SentAt = fromMillis(sentMillis)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// OutboxStatusOf returns the delivery state of an agent message.
func (s *Store) OutboxStatusOf(ctx context.Context, messageID string) (model.OutboxStatus, string, error) {
	var (
		status model.OutboxStatus
		errMsg string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT status, error_message FROM outbox WHERE message_id = ?`), messageID).Scan(&status, &errMsg)
	if err != nil {
		return "", "", fmt.Errorf("outbox status: %w", err)
	}
	return status, errMsg, nil
}
