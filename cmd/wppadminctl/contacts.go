package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/matheus3301/wppadmin/internal/backup"
	"github.com/matheus3301/wppadmin/internal/client"
	"github.com/matheus3301/wppadmin/internal/model"
	"github.com/matheus3301/wppadmin/internal/views"
)

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ExitOnError)
}

func parseFlags(fs *flag.FlagSet, args []string) {
	_ = fs.Parse(args)
}

func (c *cli) cmdContacts(ctx context.Context, args []string) {
	fs := newFlagSet("contacts")
	search := fs.String("search", "", "filter by name or user id")
	platform := fs.String("platform", views.PlatformAll, "whatsapp, facebook, instagram or all")
	page := fs.Int("page", 1, "page number")
	parseFlags(fs, args)

	all, err := c.client.ListContacts(ctx)
	check(err)
	filtered := views.FilterContacts(all, *search, *platform)
	p := views.ClampPage(*page, len(filtered))
	rows := views.Paginate(filtered, p)

	if c.jsonOut {
		outputJSON(rows)
		return
	}
	if len(rows) == 0 {
		fmt.Println("No contacts")
		return
	}
	for _, ct := range rows {
		ai := "  "
		if ct.AIEnabled {
			ai = "AI"
		}
		unread := ""
		if ct.UnreadCount > 0 {
			unread = fmt.Sprintf("(%d)", ct.UnreadCount)
		}
		fmt.Printf("%s  %-9s %s %-28s %-5s %s\n",
			ct.ID, ct.Platform, ai, truncate(views.DisplayName(ct), 28), unread, ct.LastMessagePreview)
	}
	fmt.Printf("Page %d of %d, %d contacts\n", p, views.PageCount(len(filtered)), len(filtered))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func (c *cli) cmdMessages(ctx context.Context, args []string) {
	if len(args) != 1 {
		fatalf("usage: wppadminctl messages <contact>")
	}
	msgs, err := c.client.ListMessages(ctx, args[0])
	check(err)
	// Opening a thread reads it.
	if err := c.client.MarkChatAsRead(ctx, args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "warning: mark read failed: %v\n", err)
	}
	if c.jsonOut {
		outputJSON(msgs)
		return
	}
	for _, l := range views.MessageLines(msgs, time.Local) {
		fmt.Println(l)
	}
}

func (c *cli) cmdSend(ctx context.Context, args []string) {
	fs := newFlagSet("send")
	image := fs.String("image", "", "send an image by URL")
	parseFlags(fs, args)
	rest := fs.Args()
	if len(rest) < 1 {
		fatalf("usage: wppadminctl send [-image url] <contact> [text]")
	}

	req := client.SendRequest{ContactID: rest[0], ContentType: model.ContentText}
	text := strings.Join(rest[1:], " ")
	if text != "" {
		req.TextContent = &text
	}
	if *image != "" {
		req.ContentType = model.ContentImage
		req.AttachmentURL = image
	} else if text == "" {
		fatalf("error: message text is required")
	}

	msg, err := c.client.SendMessage(ctx, req)
	check(err)
	if c.jsonOut {
		outputJSON(msg)
		return
	}
	fmt.Printf("Queued %s\n", msg.ID)
}

func (c *cli) cmdRename(ctx context.Context, args []string) {
	if len(args) < 2 {
		fatalf("usage: wppadminctl rename <contact> <name>")
	}
	ct, err := c.client.UpdateContactName(ctx, args[0], strings.Join(args[1:], " "))
	check(err)
	if c.jsonOut {
		outputJSON(ct)
		return
	}
	fmt.Printf("Renamed %s to %s\n", ct.ID, views.DisplayName(*ct))
}

func (c *cli) cmdAI(ctx context.Context, args []string) {
	if len(args) != 2 {
		fatalf("usage: wppadminctl ai <contact> <on|off>")
	}
	var enabled bool
	switch args[1] {
	case "on", "true":
		enabled = true
	case "off", "false":
	default:
		fatalf("error: expected on or off, got %q", args[1])
	}
	ct, err := c.client.SetAIEnabled(ctx, args[0], enabled)
	check(err)
	if c.jsonOut {
		outputJSON(ct)
		return
	}
	fmt.Printf("AI replies for %s: %v\n", views.DisplayName(*ct), ct.AIEnabled)
}

// selectContacts builds the bulk selection from ids, dropping ids the server
// does not know.
func (c *cli) selectContacts(ctx context.Context, ids []string) *views.Selection {
	all, err := c.client.ListContacts(ctx)
	check(err)
	sel := views.NewSelection()
	sel.SelectMany(ids)
	if n := sel.Prune(views.ContactIDs(all)); n > 0 {
		fmt.Fprintf(os.Stderr, "warning: %d unknown contact(s) skipped\n", n)
	}
	if sel.Len() == 0 {
		fatalf("error: no contacts selected")
	}
	return sel
}

func (c *cli) cmdReadStatus(ctx context.Context, cmd string, args []string) {
	if len(args) == 0 {
		fatalf("usage: wppadminctl %s <contact>...", cmd)
	}
	status, err := model.ParseReadStatus(cmd)
	check(err)

	sel := c.selectContacts(ctx, args)
	if status == model.StatusRead && sel.Len() == 1 {
		check(c.client.MarkChatAsRead(ctx, sel.IDs()[0]))
		fmt.Println("Marked 1 contact read")
		return
	}
	n, err := c.client.BulkUpdateReadStatus(ctx, sel.IDs(), status)
	check(err)
	sel.Clear()
	if c.jsonOut {
		outputJSON(map[string]int{"updated_count": n})
		return
	}
	fmt.Printf("Marked %d contact(s) %s\n", n, status)
}

func (c *cli) cmdDelete(ctx context.Context, args []string) {
	if len(args) == 0 {
		fatalf("usage: wppadminctl delete <contact>...")
	}
	sel := c.selectContacts(ctx, args)
	if sel.Len() == 1 {
		check(c.client.DeleteContact(ctx, sel.IDs()[0]))
		fmt.Println("Deleted 1 contact")
		return
	}
	n, err := c.client.BulkDeleteContacts(ctx, sel.IDs())
	check(err)
	sel.Clear()
	if c.jsonOut {
		outputJSON(map[string]int{"deleted_count": n})
		return
	}
	fmt.Printf("Deleted %d contact(s)\n", n)
}

func (c *cli) cmdBackup(ctx context.Context, args []string) {
	fs := newFlagSet("backup")
	formatFlag := fs.String("format", string(backup.FormatCSV), "csv, txt_detailed, txt_numbers_only, txt_number_name or json")
	out := fs.String("o", "", "output file (default: generated name in the current dir, - for stdout)")
	parseFlags(fs, args)

	f, err := backup.ParseFormat(*formatFlag)
	check(err)
	contacts, err := c.client.BackupContacts(ctx)
	check(err)
	file, err := backup.Render(f, contacts, time.Now())
	if errors.Is(err, backup.ErrNoContacts) {
		fatalf("%v", err)
	}
	check(err)

	switch *out {
	case "-":
		_, _ = os.Stdout.Write(file.Content)
		return
	case "":
		*out = file.Name
	}
	if err := os.WriteFile(*out, file.Content, 0600); err != nil {
		fatalf("error: write %s: %v", *out, err)
	}
	fmt.Printf("Backed up %d contacts to %s\n", len(contacts), *out)
}
