package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/matheus3301/wppadmin/internal/bus"
	"github.com/matheus3301/wppadmin/internal/model"
)

// Source opens a stream of inserted messages for one contact.
type Source interface {
	Subscribe(ctx context.Context, contactID string) (Subscription, error)
}

// Subscription delivers inserted rows until closed. Close waits for the
// delivering goroutine to exit and may be called more than once.
type Subscription interface {
	Events() <-chan model.Message
	Close() error
}

const eventBuffer = 64

// Endpoint resolves where and how to dial for a contact's stream.
type Endpoint interface {
	RealtimeURL(contactID string) string
	AuthHeader() http.Header
}

// WebsocketSource streams inserts from the admin server.
type WebsocketSource struct {
	endpoint Endpoint
	logger   *zap.Logger
}

func NewWebsocketSource(endpoint Endpoint, logger *zap.Logger) *WebsocketSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebsocketSource{endpoint: endpoint, logger: logger.Named("ws-source")}
}

func (s *WebsocketSource) Subscribe(ctx context.Context, contactID string) (Subscription, error) {
	url := s.endpoint.RealtimeURL(contactID)
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: s.endpoint.AuthHeader()})
	if err != nil {
		return nil, fmt.Errorf("dial realtime stream: %w", err)
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &wsSubscription{
		conn:   conn,
		events: make(chan model.Message, eventBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.readLoop(ctx, s.logger.With(zap.String("contact_id", contactID)))
	return sub, nil
}

type wsSubscription struct {
	conn   *websocket.Conn
	events chan model.Message
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *wsSubscription) Events() <-chan model.Message { return s.events }

func (s *wsSubscription) readLoop(ctx context.Context, logger *zap.Logger) {
	defer close(s.done)
	defer close(s.events)
	for {
		var m model.Message
		if err := wsjson.Read(ctx, s.conn, &m); err != nil {
			if ctx.Err() == nil {
				logger.Warn("realtime stream ended", zap.Error(err))
			}
			return
		}
		select {
		case s.events <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (s *wsSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.conn.Close(websocket.StatusNormalClosure, "")
		<-s.done
	})
	return err
}

// BusSource streams inserts published on an in-process bus.
type BusSource struct {
	bus *bus.Bus
}

func NewBusSource(b *bus.Bus) *BusSource {
	return &BusSource{bus: b}
}

func (s *BusSource) Subscribe(ctx context.Context, contactID string) (Subscription, error) {
	ch, unsub := s.bus.Subscribe(bus.KindMessageInserted, eventBuffer)
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &busSubscription{
		events: make(chan model.Message, eventBuffer),
		unsub:  unsub,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.forward(ctx, ch, contactID)
	return sub, nil
}

type busSubscription struct {
	events chan model.Message
	unsub  func()
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *busSubscription) Events() <-chan model.Message { return s.events }

func (s *busSubscription) forward(ctx context.Context, ch <-chan bus.Event, contactID string) {
	defer close(s.done)
	defer close(s.events)
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			m, ok := messageOf(evt.Payload)
			if !ok || m.ContactID != contactID {
				continue
			}
			select {
			case s.events <- m:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *busSubscription) Close() error {
	s.once.Do(func() {
		s.unsub()
		s.cancel()
		<-s.done
	})
	return nil
}

func messageOf(payload any) (model.Message, bool) {
	switch m := payload.(type) {
	case model.Message:
		return m, true
	case *model.Message:
		if m != nil {
			return *m, true
		}
	}
	return model.Message{}, false
}
