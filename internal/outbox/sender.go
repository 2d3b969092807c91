// Package outbox persists agent messages and hands them to the bot for
// delivery. Each message gets exactly one delivery attempt.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/wppadmin/internal/botapi"
	"github.com/matheus3301/wppadmin/internal/bus"
	"github.com/matheus3301/wppadmin/internal/metrics"
	"github.com/matheus3301/wppadmin/internal/model"
	"go.uber.org/zap"
)

// Deliverer sends one message through the bot.
type Deliverer interface {
	Send(ctx context.Context, req botapi.SendRequest) error
}

// Store is the persistence the outbox needs.
type Store interface {
	InsertOutgoing(ctx context.Context, m *model.Message) error
	PendingOutbox(ctx context.Context, limit int) ([]model.OutboxEntry, error)
	ClaimOutbox(ctx context.Context, messageID string) (bool, error)
	MarkOutboxSent(ctx context.Context, messageID string) error
	MarkOutboxFailed(ctx context.Context, messageID, errMsg string) error
}

// Delivery is the payload of outbox.sent and outbox.failed events.
type Delivery struct {
	MessageID string
	ContactID string
	Error     string
}

// Sender drains queued entries every interval, or immediately after Enqueue.
type Sender struct {
	store     Store
	deliverer Deliverer
	bus       bus.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	publish   bool
	interval  time.Duration

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSender creates a sender. publishInserts is false when the database
// announces inserted rows on its own.
func NewSender(s Store, d Deliverer, b bus.Publisher, m *metrics.Metrics, logger *zap.Logger, publishInserts bool) *Sender {
	return &Sender{
		store:     s,
		deliverer: d,
		bus:       b,
		metrics:   m,
		logger:    logger.Named("outbox"),
		publish:   publishInserts,
		interval:  500 * time.Millisecond,
		kick:      make(chan struct{}, 1),
	}
}

// Enqueue stores an agent message with its outbox entry and wakes the loop.
// The returned message carries the assigned id and timestamp.
func (s *Sender) Enqueue(ctx context.Context, m *model.Message) error {
	m.SenderType = model.SenderAgent
	if err := s.store.InsertOutgoing(ctx, m); err != nil {
		return err
	}
	if s.publish {
		s.bus.Publish(bus.Event{Kind: bus.KindMessageInserted, Timestamp: time.Now(), Payload: *m})
	}
	select {
	case s.kick <- struct{}{}:
	default:
	}
	return nil
}

// Start begins polling the outbox.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop stops the loop and waits for an in-flight batch to finish.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sender) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-s.kick:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.store.PendingOutbox(ctx, 50)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("failed to read outbox", zap.Error(err))
		}
		return
	}

	for _, entry := range pending {
		id := entry.Message.ID
		claimed, err := s.store.ClaimOutbox(ctx, id)
		if err != nil {
			s.logger.Error("failed to claim outbox entry", zap.Error(err), zap.String("msg_id", id))
			continue
		}
		if !claimed {
			continue
		}
		s.deliver(ctx, entry)
	}
}

func (s *Sender) deliver(ctx context.Context, entry model.OutboxEntry) {
	m := entry.Message
	req := botapi.SendRequest{
		MessageID:   m.ID,
		Platform:    string(entry.Platform),
		To:          entry.PlatformUserID,
		ContentType: string(m.ContentType),
	}
	if m.TextContent != nil {
		req.Text = *m.TextContent
	}
	if m.AttachmentURL != nil {
		req.AttachmentURL = *m.AttachmentURL
	}

	if err := s.deliverer.Send(ctx, req); err != nil {
		s.logger.Error("failed to deliver message", zap.Error(err), zap.String("msg_id", m.ID))
		if markErr := s.store.MarkOutboxFailed(context.WithoutCancel(ctx), m.ID, err.Error()); markErr != nil {
			s.logger.Error("failed to mark failed", zap.Error(markErr), zap.String("msg_id", m.ID))
		}
		s.count(model.OutboxFailed)
		s.bus.Publish(bus.Event{
			Kind:      bus.KindOutboxFailed,
			Timestamp: time.Now(),
			Payload:   Delivery{MessageID: m.ID, ContactID: m.ContactID, Error: err.Error()},
		})
		return
	}

	if err := s.store.MarkOutboxSent(context.WithoutCancel(ctx), m.ID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("msg_id", m.ID))
	}
	s.count(model.OutboxSent)
	s.logger.Info("message delivered", zap.String("msg_id", m.ID), zap.String("platform", req.Platform))
	s.bus.Publish(bus.Event{
		Kind:      bus.KindOutboxSent,
		Timestamp: time.Now(),
		Payload:   Delivery{MessageID: m.ID, ContactID: m.ContactID},
	})
}

func (s *Sender) count(status model.OutboxStatus) {
	if s.metrics != nil {
		s.metrics.OutboxDeliveries.WithLabelValues(string(status)).Inc()
	}
}
