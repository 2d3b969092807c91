package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/wppadmin/internal/bus"
	"github.com/matheus3301/wppadmin/internal/client"
	"github.com/matheus3301/wppadmin/internal/model"
	"github.com/matheus3301/wppadmin/internal/querycache"
	"github.com/matheus3301/wppadmin/internal/realtime"
	"github.com/matheus3301/wppadmin/internal/views"
)

// cmdWatch follows one thread: the cached history first, then every message
// merged in by the realtime listener. Lines typed on stdin are sent.
func (c *cli) cmdWatch(args []string) {
	if len(args) != 1 {
		fatalf("usage: wppadminctl watch <contact>")
	}
	contactID := args[0]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.New()
	events, unsub := b.Subscribe(bus.KindCacheUpdated, 64)
	defer unsub()

	cache := querycache.New(b, c.logger)
	thread := realtime.NewThread(realtime.NewWebsocketSource(c.client, c.logger), cache, c.client,
		func() bool { return true }, b, c.logger)
	defer func() { _ = thread.Close() }()

	contacts, err := loadContacts(ctx, cache, c.client)
	check(err)
	ct, ok := views.FindContact(contacts, contactID)
	if !ok {
		fatalf("error: contact %s not found", contactID)
	}
	if !c.jsonOut {
		fmt.Printf("%s (%s %s)\n", views.DisplayName(ct), ct.Platform, ct.PlatformUserID)
	}

	check(thread.SetActive(ctx, contactID))
	msgs, err := thread.Load(ctx)
	check(err)

	printed := make(map[string]bool)
	printNew := func(msgs []model.Message) {
		var fresh []model.Message
		for _, m := range msgs {
			if !printed[m.ID] {
				printed[m.ID] = true
				fresh = append(fresh, m)
			}
		}
		for _, l := range views.MessageLines(fresh, time.Local) {
			if c.jsonOut {
				outputJSON(l)
				continue
			}
			fmt.Println(l)
		}
	}
	printNew(msgs)

	go c.readComposer(ctx, thread)

	key := querycache.MessagesKey(contactID)
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			u, ok := evt.Payload.(querycache.Update)
			if !ok {
				continue
			}
			if u.Key == querycache.KeyContacts {
				// The listener invalidates the list on every insert; the refetch
				// also reveals a contact deleted elsewhere.
				contacts, err := loadContacts(ctx, cache, c.client)
				if err == nil && views.ReconcileActive(contacts, contactID) == "" {
					fmt.Fprintln(os.Stderr, "contact was deleted")
					return
				}
				continue
			}
			if u.Key != key {
				continue
			}
			if snap, ok := cache.Peek(key); ok {
				if m, ok := snap.Data.([]model.Message); ok {
					printNew(m)
				}
			}
		}
	}
}

func loadContacts(ctx context.Context, cache *querycache.Cache, api *client.Client) ([]model.Contact, error) {
	return querycache.Get(ctx, cache, querycache.KeyContacts, api.ListContacts)
}

func (c *cli) readComposer(ctx context.Context, thread *realtime.Thread) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		_, err := thread.Send(ctx, client.SendRequest{ContentType: model.ContentText, TextContent: &text})
		if err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		}
	}
}
