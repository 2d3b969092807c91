package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wppadmin/internal/model"
)

const messageColumns = `id, contact_id, sender_type, content_type, text_content, attachment_url, sent_at`

func scanMessage(row rowScanner) (*model.Message, error) {
	var (
		m          model.Message
		text, url  sql.NullString
		sentMillis int64
	)
	if err := row.Scan(&m.ID, &m.ContactID, &m.SenderType, &m.ContentType, &text, &url, &sentMillis); err != nil {
		return nil, err
	}
	if text.Valid {
		m.TextContent = &text.String
	}
	if url.Valid {
		m.AttachmentURL = &url.String
	}
	m.SentAt = fromMillis(sentMillis)
	return &m, nil
}

// ListMessages returns a contact's thread in send order.
func (s *Store) ListMessages(ctx context.Context, contactID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+messageColumns+` FROM messages WHERE contact_id = ? ORDER BY sent_at ASC, id ASC`), contactID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	msgs := []model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// GetMessage returns ErrNotFound for unknown ids.
func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+messageColumns+` FROM messages WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// InsertMessage stores m and updates the owning contact in one transaction.
// It is idempotent on m.ID: a repeated id reports inserted=false and leaves
// the contact untouched. Missing ID and SentAt are filled in.
func (s *Store) InsertMessage(ctx context.Context, m *model.Message) (inserted bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		inserted, err = s.insertMessageTx(ctx, tx, m)
		return err
	})
	return inserted, err
}

// InsertOutgoing stores an agent message and queues it for bot delivery.
func (s *Store) InsertOutgoing(ctx context.Context, m *model.Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		inserted, err := s.insertMessageTx(ctx, tx, m)
		if err != nil {
			return err
		}
		if !inserted {
			return fmt.Errorf("message %s already exists", m.ID)
		}
		now := time.Now().UnixMilli()
		if _, err := s.exec(ctx, tx, `
			INSERT INTO outbox (message_id, status, error_message, created_at, updated_at)
			VALUES (?, 'queued', '', ?, ?)`, m.ID, now, now); err != nil {
			return fmt.Errorf("queue outbox: %w", err)
		}
		return nil
	})
}

func (s *Store) insertMessageTx(ctx context.Context, tx *sql.Tx, m *model.Message) (bool, error) {
	if err := validateMessage(m); err != nil {
		return false, err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now().UTC()
	}
	sentMillis := m.SentAt.UnixMilli()
	m.SentAt = fromMillis(sentMillis)

	if _, err := s.getContact(ctx, tx, m.ContactID); err != nil {
		return false, err
	}

	res, err := s.exec(ctx, tx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		m.ID, m.ContactID, m.SenderType, m.ContentType, m.TextContent, m.AttachmentURL, sentMillis)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if m.SenderType == model.SenderUser {
		if _, err := s.exec(ctx, tx, `UPDATE contacts SET unread_count = unread_count + 1 WHERE id = ?`, m.ContactID); err != nil {
			return false, fmt.Errorf("bump unread count: %w", err)
		}
	}
	// Late arrivals keep the newer preview.
	if _, err := s.exec(ctx, tx, `
		UPDATE contacts SET last_message_preview = ?, last_interaction_at = ?
		WHERE id = ? AND last_interaction_at <= ?`,
		model.Preview(m), sentMillis, m.ContactID, sentMillis); err != nil {
		return false, fmt.Errorf("update contact preview: %w", err)
	}
	return true, nil
}

func validateMessage(m *model.Message) error {
	switch {
	case m.ContactID == "":
		return errors.New("contact id is required")
	case !m.SenderType.Valid():
		return fmt.Errorf("invalid sender type %q", m.SenderType)
	case !m.ContentType.Valid():
		return fmt.Errorf("invalid content type %q", m.ContentType)
	case m.ContentType == model.ContentText && (m.TextContent == nil || *m.TextContent == ""):
		return errors.New("text message needs text_content")
	case m.ContentType != model.ContentText && (m.AttachmentURL == nil || *m.AttachmentURL == ""):
		return fmt.Errorf("%s message needs attachment_url", m.ContentType)
	}
	return nil
}
