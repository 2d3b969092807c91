package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/matheus3301/wppadmin/internal/client"
	"github.com/matheus3301/wppadmin/internal/config"
	"github.com/matheus3301/wppadmin/internal/paths"
)

const defaultServerURL = "http://localhost:8080"

type cli struct {
	profile string
	client  *client.Client
	jsonOut bool
	logger  *zap.Logger
}

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	serverFlag := flag.String("server", "", "admin server URL (overrides profile)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	verboseFlag := flag.Bool("verbose", false, "log requests to stderr")
	flag.Parse()

	profile := paths.ResolveProfile(*profileFlag)
	if err := paths.ValidateName(profile); err != nil {
		fatalf("error: %v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	logger := zap.NewNop()
	if *verboseFlag {
		if l, err := zap.NewDevelopment(); err == nil {
			logger = l
		}
	}

	token, err := paths.LoadToken(profile)
	if err != nil {
		fatalf("error: read token: %v", err)
	}

	c := &cli{
		profile: profile,
		client:  client.New(resolveServer(*serverFlag, profile), token, logger),
		jsonOut: *jsonFlag,
		logger:  logger,
	}

	// watch runs until interrupted and manages its own context.
	if args[0] == "watch" {
		c.cmdWatch(args[1:])
		return
	}

	// No deadline: calls run until they answer or the user interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "login":
		c.cmdLogin(ctx)
	case "logout":
		c.cmdLogout(ctx)
	case "health":
		c.cmdHealth(ctx)
	case "pair":
		c.cmdPair(ctx, args[1:])
	case "contacts":
		c.cmdContacts(ctx, args[1:])
	case "messages":
		c.cmdMessages(ctx, args[1:])
	case "send":
		c.cmdSend(ctx, args[1:])
	case "rename":
		c.cmdRename(ctx, args[1:])
	case "ai":
		c.cmdAI(ctx, args[1:])
	case "read", "unread":
		c.cmdReadStatus(ctx, args[0], args[1:])
	case "delete":
		c.cmdDelete(ctx, args[1:])
	case "backup":
		c.cmdBackup(ctx, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

// resolveServer picks the target: --server, then the profile's server_url,
// then the local default.
func resolveServer(flagOverride, profile string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg, err := config.LoadFile(paths.ConfigPath()); err == nil {
		if u, ok := cfg.ProfileURL(profile); ok {
			return u
		}
	}
	return defaultServerURL
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wppadminctl [--profile <name>] [--server <url>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  login                          Exchange the access password for a session")
	fmt.Fprintln(os.Stderr, "  logout                         Revoke the session")
	fmt.Fprintln(os.Stderr, "  health                         Show WhatsApp bot health")
	fmt.Fprintln(os.Stderr, "  pair [-png file] [-size n]     Start the bot and show the pairing QR code")
	fmt.Fprintln(os.Stderr, "  contacts [-search s] [-platform p] [-page n]")
	fmt.Fprintln(os.Stderr, "                                 List contacts, 50 per page")
	fmt.Fprintln(os.Stderr, "  messages <contact>             Show a thread and mark it read")
	fmt.Fprintln(os.Stderr, "  send [-image url] <contact> [text]")
	fmt.Fprintln(os.Stderr, "                                 Send a text or image message")
	fmt.Fprintln(os.Stderr, "  rename <contact> <name>        Rename a contact")
	fmt.Fprintln(os.Stderr, "  ai <contact> <on|off>          Toggle AI replies")
	fmt.Fprintln(os.Stderr, "  read <contact>...              Mark contacts read")
	fmt.Fprintln(os.Stderr, "  unread <contact>...            Mark contacts unread")
	fmt.Fprintln(os.Stderr, "  delete <contact>...            Delete contacts and their messages")
	fmt.Fprintln(os.Stderr, "  backup [-format f] [-o file]   Export WhatsApp contacts")
	fmt.Fprintln(os.Stderr, "  watch <contact>                Follow a thread live")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// check exits on err, pointing at login when the session is missing or expired.
func check(err error) {
	if err == nil {
		return
	}
	if client.IsUnauthorized(err) {
		fatalf("error: not logged in or session expired, run: wppadminctl login")
	}
	fatalf("error: %v", err)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatalf("error: %v", err)
	}
}
