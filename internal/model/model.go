// Package model holds the contact and message types shared by the server,
// the HTTP API and the client sync layer.
package model

import (
	"fmt"
	"time"
)

type Platform string

const (
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
)

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformWhatsApp, PlatformFacebook, PlatformInstagram:
		return true
	}
	return false
}

type SenderType string

const (
	SenderUser  SenderType = "user"
	SenderAgent SenderType = "agent"
	SenderAI    SenderType = "ai"
)

func (s SenderType) Valid() bool {
	return s == SenderUser || s == SenderAgent || s == SenderAI
}

type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentAudio ContentType = "audio"
)

func (c ContentType) Valid() bool {
	return c == ContentText || c == ContentImage || c == ContentAudio
}

// ReadStatus is the target of a bulk read-state change.
type ReadStatus string

const (
	StatusRead   ReadStatus = "read"
	StatusUnread ReadStatus = "unread"
)

func ParseReadStatus(s string) (ReadStatus, error) {
	switch ReadStatus(s) {
	case StatusRead, StatusUnread:
		return ReadStatus(s), nil
	}
	return "", fmt.Errorf("invalid read status %q", s)
}

// Contact is an external user on one platform.
type Contact struct {
	ID                 string    `json:"id"`
	Name               *string   `json:"name"`
	Platform           Platform  `json:"platform"`
	PlatformUserID     string    `json:"platform_user_id"`
	AIEnabled          bool      `json:"ai_enabled"`
	UnreadCount        int       `json:"unread_count"`
	LastMessagePreview string    `json:"last_message_preview"`
	LastInteractionAt  time.Time `json:"last_interaction_at"`
}

// Message is immutable once stored.
type Message struct {
	ID            string      `json:"id"`
	ContactID     string      `json:"contact_id"`
	SenderType    SenderType  `json:"sender_type"`
	ContentType   ContentType `json:"content_type"`
	TextContent   *string     `json:"text_content"`
	AttachmentURL *string     `json:"attachment_url"`
	SentAt        time.Time   `json:"sent_at"`
}

// BackupContact is the projection used by contact exports.
type BackupContact struct {
	Name           *string `json:"name"`
	PlatformUserID string  `json:"platform_user_id"`
}

type OutboxStatus string

const (
	OutboxQueued  OutboxStatus = "queued"
	OutboxSending OutboxStatus = "sending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// OutboxEntry is an agent message waiting for delivery through the bot,
// joined with the recipient it must reach.
type OutboxEntry struct {
	Message        Message
	Platform       Platform
	PlatformUserID string
	Status         OutboxStatus
	ErrorMessage   string
}

// Preview is the contact list snippet for a message.
func Preview(m *Message) string {
	switch {
	case m.TextContent != nil && *m.TextContent != "":
		return truncateRunes(*m.TextContent, 100)
	case m.ContentType == ContentImage:
		return "[image]"
	case m.ContentType == ContentAudio:
		return "[audio]"
	}
	return ""
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
