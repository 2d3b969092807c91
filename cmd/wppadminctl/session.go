package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/skip2/go-qrcode"
	"golang.org/x/term"

	"github.com/matheus3301/wppadmin/internal/paths"
)

const passwordEnv = "WPPADMIN_PASSWORD"

func readPassword() (string, error) {
	if p := os.Getenv(passwordEnv); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *cli) cmdLogin(ctx context.Context) {
	password, err := readPassword()
	if err != nil {
		fatalf("error: read password: %v", err)
	}
	token, err := c.client.Login(ctx, password)
	check(err)
	if err := paths.SaveToken(c.profile, token); err != nil {
		fatalf("error: save token: %v", err)
	}
	fmt.Printf("Logged in to %s (profile %s)\n", c.client.BaseURL(), c.profile)
}

func (c *cli) cmdLogout(ctx context.Context) {
	if c.client.Token() != "" {
		if err := c.client.Logout(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: server logout failed: %v\n", err)
		}
	}
	if err := paths.RemoveToken(c.profile); err != nil {
		fatalf("error: remove token: %v", err)
	}
	fmt.Println("Logged out")
}

func (c *cli) cmdHealth(ctx context.Context) {
	h, err := c.client.BotHealth(ctx)
	check(err)
	if c.jsonOut {
		os.Stdout.Write(h.Body)
		fmt.Println()
		return
	}
	state := "healthy"
	if !h.OK() {
		state = "unhealthy"
	}
	fmt.Printf("Bot:    %s (HTTP %d)\n", state, h.StatusCode)
	if len(h.Body) > 0 {
		fmt.Printf("Answer: %s\n", strings.TrimSpace(string(h.Body)))
	}
	if !h.OK() {
		os.Exit(1)
	}
}

func (c *cli) cmdPair(ctx context.Context, args []string) {
	fs := newFlagSet("pair")
	pngPath := fs.String("png", "", "write the QR code as PNG to this file")
	size := fs.Int("size", 256, "PNG size in pixels")
	parseFlags(fs, args)

	if *pngPath != "" {
		data, err := c.client.BotStartPNG(ctx, *size)
		check(err)
		if err := os.WriteFile(*pngPath, data, 0600); err != nil {
			fatalf("error: write %s: %v", *pngPath, err)
		}
		fmt.Printf("QR code written to %s\n", *pngPath)
		return
	}

	payload, err := c.client.BotStart(ctx)
	check(err)
	if c.jsonOut {
		outputJSON(map[string]string{"qrCode": payload})
		return
	}
	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		fatalf("error: render QR code: %v", err)
	}
	fmt.Print(qr.ToSmallString(false))
	fmt.Println("Scan with WhatsApp > Linked devices")
}
