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

const contactColumns = `id, name, platform, platform_user_id, ai_enabled, unread_count, last_message_preview, last_interaction_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (*model.Contact, error) {
	var (
		c       model.Contact
		name    sql.NullString
		lastAt  int64
		enabled bool
	)
	if err := row.Scan(&c.ID, &name, &c.Platform, &c.PlatformUserID, &enabled, &c.UnreadCount, &c.LastMessagePreview, &lastAt); err != nil {
		return nil, err
	}
	if name.Valid {
		c.Name = &name.String
	}
	c.AIEnabled = enabled
	c.LastInteractionAt = fromMillis(lastAt)
	return &c, nil
}

// ListContacts returns every contact, most recent interaction first.
func (s *Store) ListContacts(ctx context.Context) ([]model.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+contactColumns+` FROM contacts ORDER BY last_interaction_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	contacts := []model.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}

// GetContact returns ErrNotFound for unknown ids.
func (s *Store) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	return s.getContact(ctx, s.db, id)
}

func (s *Store) getContact(ctx context.Context, q execer, id string) (*model.Contact, error) {
	c, err := scanContact(q.QueryRowContext(ctx, s.rebind(`SELECT `+contactColumns+` FROM contacts WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

// UpdateContactName sets the display name. An empty name clears it.
func (s *Store) UpdateContactName(ctx context.Context, id, name string) error {
	var v any
	if name != "" {
		v = name
	}
	return s.updateOne(ctx, "update contact name", `UPDATE contacts SET name = ? WHERE id = ?`, v, id)
}

// SetAIEnabled toggles automated replies for a contact.
func (s *Store) SetAIEnabled(ctx context.Context, id string, enabled bool) error {
	return s.updateOne(ctx, "set ai enabled", `UPDATE contacts SET ai_enabled = ? WHERE id = ?`, enabled, id)
}

// MarkChatAsRead resets the unread counter of one contact.
func (s *Store) MarkChatAsRead(ctx context.Context, id string) error {
	return s.updateOne(ctx, "mark chat as read", `UPDATE contacts SET unread_count = 0 WHERE id = ?`, id)
}

// DeleteContact removes a contact and, by cascade, its messages.
func (s *Store) DeleteContact(ctx context.Context, id string) error {
	return s.updateOne(ctx, "delete contact", `DELETE FROM contacts WHERE id = ?`, id)
}

func (s *Store) updateOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.exec(ctx, s.db, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// BulkUpdateReadStatus marks the given contacts read (unread_count = 0) or
// unread (unread_count at least 1). Returns how many contacts matched.
func (s *Store) BulkUpdateReadStatus(ctx context.Context, ids []string, status model.ReadStatus) (int, error) {
	args := uniqueIDs(ids)
	if len(args) == 0 {
		return 0, nil
	}
	var set string
	switch status {
	case model.StatusRead:
		set = `unread_count = 0`
	case model.StatusUnread:
		set = `unread_count = CASE WHEN unread_count = 0 THEN 1 ELSE unread_count END`
	default:
		return 0, fmt.Errorf("invalid read status %q", status)
	}
	res, err := s.exec(ctx, s.db, `UPDATE contacts SET `+set+` WHERE id IN (`+placeholders(len(args))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk update read status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk update read status: %w", err)
	}
	return int(n), nil
}

// BulkDeleteContacts deletes the given contacts and their messages. Returns
// how many contacts were actually removed.
func (s *Store) BulkDeleteContacts(ctx context.Context, ids []string) (int, error) {
	args := uniqueIDs(ids)
	if len(args) == 0 {
		return 0, nil
	}
	res, err := s.exec(ctx, s.db, `DELETE FROM contacts WHERE id IN (`+placeholders(len(args))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk delete contacts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk delete contacts: %w", err)
	}
	return int(n), nil
}

// UpsertContactByPlatform returns the contact for (platform, platformUserID),
// creating it when missing. An existing admin-set name is never overwritten.
// New contacts have no interaction until their first message is stored.
func (s *Store) UpsertContactByPlatform(ctx context.Context, platform model.Platform, platformUserID string, name *string) (*model.Contact, error) {
	if !platform.Valid() {
		return nil, fmt.Errorf("invalid platform %q", platform)
	}
	if platformUserID == "" {
		return nil, errors.New("platform user id is required")
	}
	now := time.Now().UnixMilli()
	_, err := s.exec(ctx, s.db, `
		INSERT INTO contacts (id, name, platform, platform_user_id, ai_enabled, unread_count, last_message_preview, last_interaction_at, created_at)
		VALUES (?, ?, ?, ?, TRUE, 0, '', 0, ?)
		ON CONFLICT (platform, platform_user_id) DO UPDATE SET
			name = COALESCE(contacts.name, excluded.name)`,
		uuid.NewString(), name, platform, platformUserID, now)
	if err != nil {
		return nil, fmt.Errorf("upsert contact: %w", err)
	}
	c, err := scanContact(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+contactColumns+` FROM contacts WHERE platform = ? AND platform_user_id = ?`),
		platform, platformUserID))
	if err != nil {
		return nil, fmt.Errorf("load upserted contact: %w", err)
	}
	return c, nil
}

// ListContactsForBackup returns name and platform user id of every contact on
// platform, oldest first.
func (s *Store) ListContactsForBackup(ctx context.Context, platform model.Platform) ([]model.BackupContact, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT name, platform_user_id FROM contacts WHERE platform = ? ORDER BY created_at ASC, id ASC`), platform)
	if err != nil {
		return nil, fmt.Errorf("list backup contacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.BackupContact{}
	for rows.Next() {
		var (
			bc   model.BackupContact
			name sql.NullString
		)
		if err := rows.Scan(&name, &bc.PlatformUserID); err != nil {
			return nil, fmt.Errorf("scan backup contact: %w", err)
		}
		if name.Valid {
			bc.Name = &name.String
		}
		out = append(out, bc)
	}
	return out, rows.Err()
}
