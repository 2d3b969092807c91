package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/wppadmin/internal/bus"
	"github.com/matheus3301/wppadmin/internal/model"
	"github.com/matheus3301/wppadmin/internal/store"
	"go.uber.org/zap"
)

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

func TestIngestCreatesContactAndPublishes(t *testing.T) {
	s := testStore(t)
	b := bus.New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()
	e := NewEngine(s, b, nil, zap.NewNop(), true)

	res, err := e.Ingest(context.Background(), InboundMessage{
		ID:             "wamid.1",
		Platform:       model.PlatformWhatsApp,
		PlatformUserID: "5511999",
		Name:           strPtr("Ana"),
		TextContent:    strPtr("olá"),
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if !res.Inserted {
		t.Fatal("expected Inserted = true")
	}
	if res.Message.SenderType != model.SenderUser {
		t.Errorf("SenderType = %q, want user default", res.Message.SenderType)
	}

	select {
	case evt := <-ch:
		m, ok := evt.Payload.(model.Message)
		if !ok || m.ID != "wamid.1" {
			t.Errorf("payload = %#v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no message.inserted event")
	}

	contacts, _ := s.ListContacts(context.Background())
	if len(contacts) != 1 || contacts[0].UnreadCount != 1 || contacts[0].LastMessagePreview != "olá" {
		t.Errorf("contacts = %+v", contacts)
	}
}

func TestIngestDuplicateIsSilent(t *testing.T) {
	s := testStore(t)
	b := bus.New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()
	e := NewEngine(s, b, nil, zap.NewNop(), true)
	in := InboundMessage{ID: "dup", Platform: model.PlatformFacebook, PlatformUserID: "psid", TextContent: strPtr("x")}

	if _, err := e.Ingest(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	<-ch
	res, err := e.Ingest(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted {
		t.Error("duplicate reported as inserted")
	}
	select {
	case evt := <-ch:
		t.Errorf("duplicate published %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIngestWithoutPublishing(t *testing.T) {
	s := testStore(t)
	b := bus.New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()
	e := NewEngine(s, b, nil, zap.NewNop(), false)

	if _, err := e.Ingest(context.Background(), InboundMessage{Platform: model.PlatformInstagram, PlatformUserID: "ig", TextContent: strPtr("x")}); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		t.Errorf("engine published %v although the database notifies", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIngestRejects(t *testing.T) {
	e := NewEngine(testStore(t), bus.New(), nil, zap.NewNop(), true)
	tests := []struct {
		name string
		in   InboundMessage
	}{
		{"agent sender", InboundMessage{Platform: model.PlatformWhatsApp, PlatformUserID: "1", SenderType: model.SenderAgent, TextContent: strPtr("x")}},
		{"unknown platform", InboundMessage{Platform: "telegram", PlatformUserID: "1", TextContent: strPtr("x")}},
		{"missing user id", InboundMessage{Platform: model.PlatformWhatsApp, TextContent: strPtr("x")}},
		{"empty text", InboundMessage{Platform: model.PlatformWhatsApp, PlatformUserID: "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Ingest(context.Background(), tt.in); !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("err = %v, want ErrInvalidMessage", err)
			}
		})
	}
}

func TestIngestBatch(t *testing.T) {
	s := testStore(t)
	e := NewEngine(s, bus.New(), nil, zap.NewNop(), true)
	at := time.Now().Add(-time.Minute)

	results, err := e.IngestBatch(context.Background(), []InboundMessage{
		{ID: "a", Platform: model.PlatformWhatsApp, PlatformUserID: "1", TextContent: strPtr("hi"), SentAt: &at},
		{ID: "b", Platform: model.PlatformWhatsApp, PlatformUserID: "1", SenderType: model.SenderAI, TextContent: strPtr("hello, how can I help?")},
		{ID: "a", Platform: model.PlatformWhatsApp, PlatformUserID: "1", TextContent: strPtr("hi"), SentAt: &at},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 || !results[0].Inserted || !results[1].Inserted || results[2].Inserted {
		t.Errorf("results = %+v", results)
	}
	contacts, _ := s.ListContacts(context.Background())
	if contacts[0].LastMessagePreview != "hello, how can I help?" {
		t.Errorf("preview = %q", contacts[0].LastMessagePreview)
	}
}
