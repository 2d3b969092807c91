package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wppadmin/internal/botapi"
	"github.com/matheus3301/wppadmin/internal/bus"
	"github.com/matheus3301/wppadmin/internal/model"
	"github.com/matheus3301/wppadmin/internal/store"
	"go.uber.org/zap"
)

type mockDeliverer struct {
	mu    sync.Mutex
	calls []botapi.SendRequest
	err   error
}

func (m *mockDeliverer) Send(_ context.Context, req botapi.SendRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	return m.err
}

func (m *mockDeliverer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func seed(t *testing.T, s *store.Store) *model.Contact {
	t.Helper()
	c, err := s.UpsertContactByPlatform(context.Background(), model.PlatformWhatsApp, "5511999", nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func waitFor(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return bus.Event{}
}

func TestEnqueueDeliversOnce(t *testing.T) {
	s := testStore(t)
	c := seed(t, s)
	b := bus.New()
	inserted, unsubIns := b.Subscribe(bus.KindMessageInserted, 10)
	defer unsubIns()
	acks, unsubAck := b.Subscribe(bus.KindOutboxSent, 10)
	defer unsubAck()

	d := &mockDeliverer{}
	sender := NewSender(s, d, b, nil, zap.NewNop(), true)
	sender.Start(context.Background())
	defer sender.Stop()

	m := &model.Message{ContactID: c.ID, SenderType: model.SenderUser, ContentType: model.ContentText, TextContent: strPtr("hello")}
	if err := sender.Enqueue(context.Background(), m); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if m.ID == "" || m.SenderType != model.SenderAgent {
		t.Errorf("enqueued message = %+v, want id and agent sender", m)
	}

	evt := waitFor(t, inserted)
	if got := evt.Payload.(model.Message); got.ID != m.ID {
		t.Errorf("inserted event id = %s, want %s", got.ID, m.ID)
	}
	evt = waitFor(t, acks)
	if got := evt.Payload.(Delivery); got.MessageID != m.ID || got.ContactID != c.ID {
		t.Errorf("ack = %+v", got)
	}

	time.Sleep(700 * time.Millisecond)
	if n := d.count(); n != 1 {
		t.Fatalf("got %d deliveries, want exactly 1", n)
	}
	if d.calls[0].To != "5511999" || d.calls[0].Text != "hello" || d.calls[0].Platform != "whatsapp" {
		t.Errorf("request = %+v", d.calls[0])
	}
	status, _, err := s.OutboxStatusOf(context.Background(), m.ID)
	if err != nil || status != model.OutboxSent {
		t.Errorf("status = %s, %v; want sent", status, err)
	}
}

func TestFailedDeliveryIsNotRetried(t *testing.T) {
	s := testStore(t)
	c := seed(t, s)
	b := bus.New()
	failures, unsub := b.Subscribe(bus.KindOutboxFailed, 10)
	defer unsub()

	d := &mockDeliverer{err: errors.New("bot offline")}
	sender := NewSender(s, d, b, nil, zap.NewNop(), true)
	sender.Start(context.Background())
	defer sender.Stop()

	m := &model.Message{ContactID: c.ID, ContentType: model.ContentImage, AttachmentURL: strPtr("https://cdn.example/x.png")}
	if err := sender.Enqueue(context.Background(), m); err != nil {
		t.Fatal(err)
	}

	evt := waitFor(t, failures)
	if got := evt.Payload.(Delivery); got.Error != "bot offline" {
		t.Errorf("failure = %+v", got)
	}

	time.Sleep(1200 * time.Millisecond)
	if n := d.count(); n != 1 {
		t.Errorf("got %d delivery attempts, want 1", n)
	}
	if d.calls[0].AttachmentURL != "https://cdn.example/x.png" || d.calls[0].ContentType != "image" {
		t.Errorf("request = %+v", d.calls[0])
	}
	status, msg, _ := s.OutboxStatusOf(context.Background(), m.ID)
	if status != model.OutboxFailed || msg != "bot offline" {
		t.Errorf("status = %s %q", status, msg)
	}
	// The message itself stays in the thread.
	if _, err := s.GetMessage(context.Background(), m.ID); err != nil {
		t.Errorf("message missing after failed delivery: %v", err)
	}
}

func TestEnqueueUnknownContact(t *testing.T) {
	s := testStore(t)
	sender := NewSender(s, &mockDeliverer{}, bus.New(), nil, zap.NewNop(), true)

	err := sender.Enqueue(context.Background(), &model.Message{ContactID: "ghost", ContentType: model.ContentText, TextContent: strPtr("x")})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Enqueue() error = %v, want ErrNotFound", err)
	}
}

type cancellingDeliverer struct {
	cancel context.CancelFunc
}

func (d *cancellingDeliverer) Send(context.Context, botapi.SendRequest) error {
	d.cancel()
	return nil
}

func TestDeliveryRecordedWhenStoppedMidSend(t *testing.T) {
	s := testStore(t)
	c := seed(t, s)
	m := &model.Message{ContactID: c.ID, SenderType: model.SenderAgent, ContentType: model.ContentText, TextContent: strPtr("hi")}
	if err := s.InsertOutgoing(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	entries, err := s.PendingOutbox(context.Background(), 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("pending = %d, %v", len(entries), err)
	}
	if ok, err := s.ClaimOutbox(context.Background(), m.ID); !ok || err != nil {
		t.Fatalf("claim = %v, %v", ok, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sender := NewSender(s, &cancellingDeliverer{cancel: cancel}, bus.New(), nil, zap.NewNop(), false)
	sender.deliver(ctx, entries[0])

	status, _, err := s.OutboxStatusOf(context.Background(), m.ID)
	if err != nil || status != model.OutboxSent {
		t.Errorf("status = %s, %v; want sent", status, err)
	}
}
