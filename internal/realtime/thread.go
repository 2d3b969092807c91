package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/wppadmin/internal/bus"
	"github.com/matheus3301/wppadmin/internal/client"
	"github.com/matheus3301/wppadmin/internal/model"
	"github.com/matheus3301/wppadmin/internal/querycache"
)

// Thread is the active-thread switcher. At most one listener exists at a
// time and the previous one is fully closed before the next subscribes.
type Thread struct {
	mu       sync.Mutex
	source   Source
	cache    *querycache.Cache
	gw       Gateway
	focused  func() bool
	bus      bus.Publisher
	logger   *zap.Logger
	active   string
	listener *Listener
}

func NewThread(src Source, cache *querycache.Cache, gw Gateway, focused func() bool, b bus.Publisher, logger *zap.Logger) *Thread {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Thread{source: src, cache: cache, gw: gw, focused: focused, bus: b, logger: logger}
}

// Active returns the current contact id, "" when none.
func (t *Thread) Active() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Listener returns the live listener, nil when none.
func (t *Thread) Listener() *Listener {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listener
}

// SetActive switches to contactID. An empty id leaves no listener. When the
// new subscription fails the thread stays active without a listener.
func (t *Thread) SetActive(ctx context.Context, contactID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if contactID == t.active && (contactID == "" || t.listener != nil) {
		return nil
	}
	if t.listener != nil {
		if err := t.listener.Close(); err != nil {
			t.logger.Debug("close listener", zap.Error(err))
		}
		t.listener = nil
	}
	t.active = contactID
	if contactID == "" {
		return nil
	}
	l := NewListener(contactID, t.source, t.cache, t.gw, t.focused, t.bus, t.logger)
	if err := l.Start(ctx); err != nil {
		return err
	}
	t.listener = l
	return nil
}

// Close drops the active listener.
func (t *Thread) Close() error {
	return t.SetActive(context.Background(), "")
}

// Load returns the active thread through the cache. A load from the server
// also marks the chat read and invalidates the contact list.
func (t *Thread) Load(ctx context.Context) ([]model.Message, error) {
	id := t.Active()
	if id == "" {
		return nil, ErrNoActiveThread
	}
	return querycache.Get(ctx, t.cache, querycache.MessagesKey(id), func(ctx context.Context) ([]model.Message, error) {
		msgs, err := t.gw.ListMessages(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := t.gw.MarkChatAsRead(ctx, id); err != nil {
			t.logger.Warn("mark chat as read failed", zap.String("contact_id", id), zap.Error(err))
		}
		t.cache.Invalidate(querycache.KeyContacts)
		return msgs, nil
	})
}

// Send posts a message and appends the stored copy to the cached thread.
// The realtime echo of the same row is dropped by id.
func (t *Thread) Send(ctx context.Context, req client.SendRequest) (*model.Message, error) {
	if req.ContactID == "" {
		req.ContactID = t.Active()
	}
	if req.ContactID == "" {
		return nil, ErrNoActiveThread
	}
	msg, err := t.gw.SendMessage(ctx, req)
	if err != nil {
		t.logger.Error("send message failed", zap.String("contact_id", req.ContactID), zap.Error(err))
		return nil, err
	}
	appendMessage(t.cache, msg.ContactID, *msg)
	t.cache.Invalidate(querycache.KeyContacts)
	return msg, nil
}
