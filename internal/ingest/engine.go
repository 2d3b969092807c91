// Package ingest stores messages reported by the bot (inbound user messages
// and AI replies) and announces them to realtime subscribers.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/wppadmin/internal/bus"
	"github.com/matheus3301/wppadmin/internal/metrics"
	"github.com/matheus3301/wppadmin/internal/model"
	"go.uber.org/zap"
)

// ErrInvalidMessage marks a rejected payload, as opposed to a storage failure.
var ErrInvalidMessage = errors.New("invalid message")

// Store is the persistence the engine needs.
type Store interface {
	UpsertContactByPlatform(ctx context.Context, platform model.Platform, platformUserID string, name *string) (*model.Contact, error)
	InsertMessage(ctx context.Context, m *model.Message) (bool, error)
}

// InboundMessage is one message as reported by the bot webhook.
type InboundMessage struct {
	ID             string            `json:"id"`
	Platform       model.Platform    `json:"platform"`
	PlatformUserID string            `json:"platform_user_id"`
	Name           *string           `json:"name"`
	SenderType     model.SenderType  `json:"sender_type"`
	ContentType    model.ContentType `json:"content_type"`
	TextContent    *string           `json:"text_content"`
	AttachmentURL  *string           `json:"attachment_url"`
	SentAt         *time.Time        `json:"sent_at"`
}

// Result reports what happened to one inbound message.
type Result struct {
	Message  model.Message `json:"message"`
	Inserted bool          `json:"inserted"`
}

// Engine ingests idempotently: a message id seen before is a no-op.
type Engine struct {
	store   Store
	bus     bus.Publisher
	metrics *metrics.Metrics
	logger  *zap.Logger
	// publish is false when the database announces inserts itself.
	publish bool
}

func NewEngine(s Store, b bus.Publisher, m *metrics.Metrics, logger *zap.Logger, publishInserts bool) *Engine {
	return &Engine{
		store:   s,
		bus:     b,
		metrics: m,
		logger:  logger.Named("ingest"),
		publish: publishInserts,
	}
}

// Ingest stores one message, creating its contact on first contact.
func (e *Engine) Ingest(ctx context.Context, in InboundMessage) (*Result, error) {
	if in.SenderType == "" {
		in.SenderType = model.SenderUser
	}
	if in.ContentType == "" {
		in.ContentType = model.ContentText
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	contact, err := e.store.UpsertContactByPlatform(ctx, in.Platform, in.PlatformUserID, in.Name)
	if err != nil {
		return nil, fmt.Errorf("upsert contact: %w", err)
	}

	msg := &model.Message{
		ID:            in.ID,
		ContactID:     contact.ID,
		SenderType:    in.SenderType,
		ContentType:   in.ContentType,
		TextContent:   in.TextContent,
		AttachmentURL: in.AttachmentURL,
	}
	if in.SentAt != nil {
		msg.SentAt = *in.SentAt
	}

	inserted, err := e.store.InsertMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if !inserted {
		e.logger.Debug("duplicate message ignored", zap.String("msg_id", msg.ID))
		return &Result{Message: *msg, Inserted: false}, nil
	}

	if e.metrics != nil {
		e.metrics.MessagesIngested.WithLabelValues(string(msg.SenderType)).Inc()
	}
	if e.publish {
		e.bus.Publish(bus.Event{Kind: bus.KindMessageInserted, Timestamp: time.Now(), Payload: *msg})
	}
	return &Result{Message: *msg, Inserted: true}, nil
}

func (in *InboundMessage) validate() error {
	switch {
	case !in.Platform.Valid():
		return fmt.Errorf("%w: unsupported platform %q", ErrInvalidMessage, in.Platform)
	case in.PlatformUserID == "":
		return fmt.Errorf("%w: platform_user_id is required", ErrInvalidMessage)
	case in.SenderType == model.SenderAgent:
		return fmt.Errorf("%w: agent messages are sent through the admin API", ErrInvalidMessage)
	case !in.SenderType.Valid():
		return fmt.Errorf("%w: invalid sender type %q", ErrInvalidMessage, in.SenderType)
	case !in.ContentType.Valid():
		return fmt.Errorf("%w: invalid content type %q", ErrInvalidMessage, in.ContentType)
	case in.ContentType == model.ContentText && (in.TextContent == nil || *in.TextContent == ""):
		return fmt.Errorf("%w: text message needs text_content", ErrInvalidMessage)
	case in.ContentType != model.ContentText && (in.AttachmentURL == nil || *in.AttachmentURL == ""):
		return fmt.Errorf("%w: %s message needs attachment_url", ErrInvalidMessage, in.ContentType)
	}
	return nil
}

// IngestBatch ingests messages in order and stops at the first failure.
func (e *Engine) IngestBatch(ctx context.Context, batch []InboundMessage) ([]Result, error) {
	results := make([]Result, 0, len(batch))
	for i, in := range batch {
		r, err := e.Ingest(ctx, in)
		if err != nil {
			return results, fmt.Errorf("message %d: %w", i, err)
		}
		results = append(results, *r)
	}
	inserted := 0
	for _, r := range results {
		if r.Inserted {
			inserted++
		}
	}
	e.logger.Info("batch ingested", zap.Int("messages", len(batch)), zap.Int("inserted", inserted))
	return results, nil
}
