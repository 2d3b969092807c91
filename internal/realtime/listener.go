// Package realtime merges pushed message inserts into the query cache for
// the thread currently on screen.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/wppadmin/internal/bus"
	"github.com/matheus3301/wppadmin/internal/client"
	"github.com/matheus3301/wppadmin/internal/model"
	"github.com/matheus3301/wppadmin/internal/querycache"
)

// AppliedCapacity bounds the per-listener set of ids already merged.
const AppliedCapacity = 256

var ErrNoActiveThread = errors.New("no active thread")

// Gateway is the subset of the admin API the thread needs.
type Gateway interface {
	ListMessages(ctx context.Context, contactID string) ([]model.Message, error)
	MarkChatAsRead(ctx context.Context, contactID string) error
	SendMessage(ctx context.Context, req client.SendRequest) (*model.Message, error)
}

// appliedSet is a FIFO set that forgets its oldest id once full.
type appliedSet struct {
	ring []string
	next int
	ids  map[string]struct{}
}

func newAppliedSet(capacity int) *appliedSet {
	return &appliedSet{ring: make([]string, capacity), ids: make(map[string]struct{}, capacity)}
}

func (a *appliedSet) Has(id string) bool {
	_, ok := a.ids[id]
	return ok
}

func (a *appliedSet) Add(id string) {
	if a.Has(id) {
		return
	}
	if old := a.ring[a.next]; old != "" {
		delete(a.ids, old)
	}
	a.ring[a.next] = id
	a.ids[id] = struct{}{}
	a.next = (a.next + 1) % len(a.ring)
}

func (a *appliedSet) Len() int { return len(a.ids) }

// Listener owns one subscription for one contact.
type Listener struct {
	contactID string
	source    Source
	cache     *querycache.Cache
	gw        Gateway
	focused   func() bool
	logger    *zap.Logger
	machine   *Machine

	applied *appliedSet
	sub     Subscription
	cancel  context.CancelFunc
	done    chan struct{}
	closeMu sync.Mutex
}

// NewListener builds an unsubscribed listener. focused reports whether the
// thread view currently has focus; nil means never.
func NewListener(contactID string, src Source, cache *querycache.Cache, gw Gateway, focused func() bool, b bus.Publisher, logger *zap.Logger) *Listener {
	if focused == nil {
		focused = func() bool { return false }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		contactID: contactID,
		source:    src,
		cache:     cache,
		gw:        gw,
		focused:   focused,
		logger:    logger.Named("realtime").With(zap.String("contact_id", contactID)),
		machine:   NewMachine(contactID, b),
		applied:   newAppliedSet(AppliedCapacity),
	}
}

func (l *Listener) ContactID() string { return l.contactID }

func (l *Listener) State() State { return l.machine.Current() }

// Start subscribes and begins merging events.
func (l *Listener) Start(ctx context.Context) error {
	if err := l.machine.Transition(Subscribed); err != nil {
		return err
	}
	sub, err := l.source.Subscribe(ctx, l.contactID)
	if err != nil {
		_ = l.machine.Transition(Unsubscribed)
		return fmt.Errorf("subscribe %s: %w", l.contactID, err)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.sub = sub
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(runCtx)
	return nil
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)
	events := l.sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-events:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			l.apply(ctx, m)
		}
	}
}

// apply merges one inserted row. Duplicates are dropped.
func (l *Listener) apply(ctx context.Context, m model.Message) {
	if m.ContactID != l.contactID || m.ID == "" {
		return
	}
	if l.applied.Has(m.ID) {
		return
	}
	l.applied.Add(m.ID)
	if !appendMessage(l.cache, l.contactID, m) {
		return
	}
	if l.focused() {
		if err := l.gw.MarkChatAsRead(ctx, l.contactID); err != nil {
			l.logger.Warn("mark chat as read failed", zap.Error(err))
		}
	}
	l.cache.Invalidate(querycache.KeyContacts)
}

// Close tears the subscription down and waits for the merge goroutine.
// No event is applied after Close returns.
func (l *Listener) Close() error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.machine.Current() != Subscribed {
		return nil
	}
	l.cancel()
	err := l.sub.Close()
	<-l.done
	if terr := l.machine.Transition(Unsubscribed); terr != nil {
		return terr
	}
	return err
}

// appendMessage adds m to the cached thread unless an entry with the same
// id is already there. It reports whether the cache changed.
func appendMessage(cache *querycache.Cache, contactID string, m model.Message) bool {
	key := querycache.MessagesKey(contactID)
	if snap, ok := cache.Peek(key); ok {
		if msgs, _ := snap.Data.([]model.Message); containsMessage(msgs, m.ID) {
			return false
		}
	}
	changed := false
	cache.Write(key, func(old any, ok bool) any {
		msgs, _ := old.([]model.Message)
		if containsMessage(msgs, m.ID) {
			return msgs
		}
		changed = true
		out := make([]model.Message, len(msgs), len(msgs)+1)
		copy(out, msgs)
		return append(out, m)
	})
	return changed
}

func containsMessage(msgs []model.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}
