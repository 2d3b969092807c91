package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/matheus3301/wppadmin/internal/bus"
	"github.com/matheus3301/wppadmin/internal/client"
	"github.com/matheus3301/wppadmin/internal/model"
	"github.com/matheus3301/wppadmin/internal/querycache"
)

type fakeGateway struct {
	mu       sync.Mutex
	messages map[string][]model.Message
	reads    map[string]int
	sent     int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{messages: map[string][]model.Message{}, reads: map[string]int{}}
}

func (g *fakeGateway) ListMessages(_ context.Context, id string) ([]model.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]model.Message(nil), g.messages[id]...), nil
}

func (g *fakeGateway) MarkChatAsRead(_ context.Context, id string) error {
	g.mu.Lock()
	g.reads[id]++
	g.mu.Unlock()
	return nil
}

func (g *fakeGateway) SendMessage(_ context.Context, req client.SendRequest) (*model.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent++
	return &model.Message{
		ID:          fmt.Sprintf("sent-%d", g.sent),
		ContactID:   req.ContactID,
		SenderType:  model.SenderAgent,
		ContentType: req.ContentType,
		TextContent: req.TextContent,
		SentAt:      time.Now(),
	}, nil
}

func (g *fakeGateway) readCount(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reads[id]
}

func msg(contact, id string) model.Message {
	return model.Message{ID: id, ContactID: contact, SenderType: model.SenderUser, ContentType: model.ContentText, SentAt: time.Now()}
}

func cachedIDs(c *querycache.Cache, contactID string) []string {
	snap, _ := c.Peek(querycache.MessagesKey(contactID))
	msgs, _ := snap.Data.([]model.Message)
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRepeatedInsertsAppliedOnce(t *testing.T) {
	b := bus.New()
	cache := querycache.New(nil, nil)
	th := NewThread(NewBusSource(b), cache, newFakeGateway(), nil, nil, nil)
	if err := th.SetActive(context.Background(), "A"); err != nil {
		t.Fatal(err)
	}
	defer th.Close()

	for _, id := range []string{"m1", "m2", "m1", "m3", "m2", "m1"} {
		b.Emit(bus.KindMessageInserted, msg("A", id))
	}
	waitFor(t, func() bool { return len(cachedIDs(cache, "A")) == 3 })
	time.Sleep(50 * time.Millisecond)

	got := cachedIDs(cache, "A")
	if strings.Join(got, ",") != "m1,m2,m3" {
		t.Errorf("cached ids = %v, want m1,m2,m3 in arrival order", got)
	}
}

func TestDuplicateOfCachedEntryIgnored(t *testing.T) {
	b := bus.New()
	cache := querycache.New(nil, nil)
	cache.Write(querycache.MessagesKey("A"), func(any, bool) any { return []model.Message{msg("A", "m1")} })
	th := NewThread(NewBusSource(b), cache, newFakeGateway(), nil, nil, nil)
	th.SetActive(context.Background(), "A")
	defer th.Close()

	b.Emit(bus.KindMessageInserted, msg("A", "m1"))
	b.Emit(bus.KindMessageInserted, msg("A", "m2"))
	waitFor(t, func() bool { return len(cachedIDs(cache, "A")) == 2 })
	time.Sleep(50 * time.Millisecond)
	if got := cachedIDs(cache, "A"); len(got) != 2 {
		t.Errorf("cached ids = %v", got)
	}
}

func TestSwitchTearsDownPrevious(t *testing.T) {
	b := bus.New()
	cache := querycache.New(nil, nil)
	th := NewThread(NewBusSource(b), cache, newFakeGateway(), nil, nil, nil)
	ctx := context.Background()

	if err := th.SetActive(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	first := th.Listener()
	b.Emit(bus.KindMessageInserted, msg("A", "a1"))
	waitFor(t, func() bool { return len(cachedIDs(cache, "A")) == 1 })

	if err := th.SetActive(ctx, "B"); err != nil {
		t.Fatal(err)
	}
	defer th.Close()
	if first.State() != Unsubscribed {
		t.Errorf("previous listener state = %s", first.State())
	}
	if b.Subscribers() != 1 {
		t.Errorf("bus subscribers = %d, want 1", b.Subscribers())
	}

	b.Emit(bus.KindMessageInserted, msg("A", "a2"))
	b.Emit(bus.KindMessageInserted, msg("B", "b1"))
	waitFor(t, func() bool { return len(cachedIDs(cache, "B")) == 1 })
	time.Sleep(50 * time.Millisecond)

	if got := cachedIDs(cache, "A"); len(got) != 1 {
		t.Errorf("A mutated after switch: %v", got)
	}
}

func TestEventsForOtherContactIgnored(t *testing.T) {
	b := bus.New()
	cache := querycache.New(nil, nil)
	src := NewBusSource(b)
	l := NewListener("A", src, cache, newFakeGateway(), nil, nil, nil)
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	l.apply(context.Background(), msg("B", "x"))
	if _, ok := cache.Peek(querycache.MessagesKey("B")); ok {
		t.Error("foreign event created a cache entry")
	}
	if _, ok := cache.Peek(querycache.MessagesKey("A")); ok {
		t.Error("foreign event touched the listener thread")
	}
	l.Close()
}

func TestFocusMarksRead(t *testing.T) {
	for _, focused := range []bool{true, false} {
		t.Run(fmt.Sprint("focused=", focused), func(t *testing.T) {
			b := bus.New()
			cache := querycache.New(nil, nil)
			cache.Write(querycache.KeyContacts, func(any, bool) any { return []model.Contact{} })
			gw := newFakeGateway()
			var focus atomic.Bool
			focus.Store(focused)
			th := NewThread(NewBusSource(b), cache, gw, focus.Load, nil, nil)
			th.SetActive(context.Background(), "A")
			defer th.Close()

			b.Emit(bus.KindMessageInserted, msg("A", "m1"))
			waitFor(t, func() bool {
				snap, _ := cache.Peek(querycache.KeyContacts)
				return snap.Invalidated
			})
			want := 0
			if focused {
				want = 1
			}
			if got := gw.readCount("A"); got != want {
				t.Errorf("mark read calls = %d, want %d", got, want)
			}
		})
	}
}

func TestCloseStopsMerging(t *testing.T) {
	b := bus.New()
	cache := querycache.New(nil, nil)
	th := NewThread(NewBusSource(b), cache, newFakeGateway(), nil, nil, nil)
	th.SetActive(context.Background(), "A")
	if err := th.Close(); err != nil {
		t.Fatal(err)
	}
	if th.Active() != "" || th.Listener() != nil {
		t.Fatal("listener left after Close")
	}
	b.Emit(bus.KindMessageInserted, msg("A", "late"))
	time.Sleep(30 * time.Millisecond)
	if got := cachedIDs(cache, "A"); len(got) != 0 {
		t.Errorf("closed thread mutated cache: %v", got)
	}
}

func TestSendDedupsEcho(t *testing.T) {
	b := bus.New()
	cache := querycache.New(nil, nil)
	th := NewThread(NewBusSource(b), cache, newFakeGateway(), nil, nil, nil)
	th.SetActive(context.Background(), "A")
	defer th.Close()

	text := "hello"
	sent, err := th.Send(context.Background(), client.SendRequest{ContentType: model.ContentText, TextContent: &text})
	if err != nil {
		t.Fatal(err)
	}
	b.Emit(bus.KindMessageInserted, *sent)
	b.Emit(bus.KindMessageInserted, msg("A", "after"))
	waitFor(t, func() bool { return len(cachedIDs(cache, "A")) == 2 })
	time.Sleep(30 * time.Millisecond)
	if got := cachedIDs(cache, "A"); strings.Join(got, ",") != sent.ID+",after" {
		t.Errorf("cached ids = %v", got)
	}
}

func TestLoadMarksRead(t *testing.T) {
	gw := newFakeGateway()
	gw.messages["A"] = []model.Message{msg("A", "m1"), msg("A", "m2")}
	cache := querycache.New(nil, nil)
	cache.Write(querycache.KeyContacts, func(any, bool) any { return []model.Contact{} })
	th := NewThread(NewBusSource(bus.New()), cache, gw, nil, nil, nil)

	if _, err := th.Load(context.Background()); err != ErrNoActiveThread {
		t.Fatalf("err = %v, want ErrNoActiveThread", err)
	}
	th.SetActive(context.Background(), "A")
	defer th.Close()

	msgs, err := th.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Errorf("len = %d", len(msgs))
	}
	if gw.readCount("A") != 1 {
		t.Errorf("mark read calls = %d", gw.readCount("A"))
	}
	if snap, _ := cache.Peek(querycache.KeyContacts); !snap.Invalidated {
		t.Error("contacts not invalidated")
	}
}

func TestAppliedSetEvicts(t *testing.T) {
	a := newAppliedSet(3)
	for _, id := range []string{"a", "b", "c", "a", "d"} {
		a.Add(id)
	}
	if a.Has("a") || !a.Has("b") || !a.Has("d") || a.Len() != 3 {
		t.Errorf("unexpected contents: a=%v b=%v d=%v len=%d", a.Has("a"), a.Has("b"), a.Has("d"), a.Len())
	}
}

func TestMachineTransitions(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("realtime.", 4)
	defer unsub()

	m := NewMachine("A", b)
	if err := m.Transition(Unsubscribed); err == nil {
		t.Error("UNSUBSCRIBED -> UNSUBSCRIBED should fail")
	}
	if err := m.Transition(Subscribed); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Subscribed); err == nil {
		t.Error("SUBSCRIBED -> SUBSCRIBED should fail")
	}
	select {
	case evt := <-ch:
		sc := evt.Payload.(StateChange)
		if sc.From != Unsubscribed || sc.To != Subscribed || sc.ContactID != "A" {
			t.Errorf("payload = %+v", sc)
		}
	case <-time.After(time.Second):
		t.Fatal("no state event")
	}
}

type testEndpoint struct{ url string }

func (e testEndpoint) RealtimeURL(id string) string { return e.url + "?contact_id=" + id }
func (e testEndpoint) AuthHeader() http.Header {
	return http.Header{"Authorization": []string{"Bearer t"}}
}

func TestWebsocketSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		id := r.URL.Query().Get("contact_id")
		for _, mid := range []string{"w1", "w1", "w2"} {
			if err := wsjson.Write(r.Context(), conn, msg(id, mid)); err != nil {
				return
			}
		}
		<-conn.CloseRead(context.Background()).Done()
	}))
	defer srv.Close()

	src := NewWebsocketSource(testEndpoint{url: "ws" + strings.TrimPrefix(srv.URL, "http")}, nil)
	cache := querycache.New(nil, nil)
	th := NewThread(src, cache, newFakeGateway(), nil, nil, nil)
	if err := th.SetActive(context.Background(), "A"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(cachedIDs(cache, "A")) == 2 })
	if err := th.Close(); err != nil {
		t.Logf("close: %v", err)
	}
	if got := cachedIDs(cache, "A"); strings.Join(got, ",") != "w1,w2" {
		t.Errorf("cached ids = %v", got)
	}
}
