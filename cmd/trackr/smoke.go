package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"trackr/cmd/internal/app"
	"trackr/cmd/internal/realtime/rtclient"

	"github.com/urfave/cli/v2"
)

func smokeCommand() *cli.Command {
	return &cli.Command{
		Name:  "smoke",
		Usage: "dial the realtime gateway, join workspaces and print events",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "gateway WebSocket URL",
				EnvVars: []string{"TRACKR_SMOKE_URL"},
				Value:   app.GatewayURL("127.0.0.1:8080"),
			},
			&cli.StringFlag{
				Name:     "token",
				Usage:    "access assertion from /auth/login",
				EnvVars:  []string{"TRACKR_SMOKE_TOKEN"},
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:     "workspace",
				Aliases:  []string{"w"},
				Usage:    "workspace id to join (repeatable)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "origin",
				Usage: "Origin header for the handshake (empty to omit)",
				Value: "http://localhost",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "dial and ack timeout",
				Value: 7 * time.Second,
			},
			&cli.DurationFlag{
				Name:  "listen",
				Usage: "how long to print events after joining (0 until interrupted)",
				Value: 30 * time.Second,
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "stop after this many events (0 for no limit)",
			},
		},
		Action: smoke,
	}
}

func smoke(c *cli.Context) error {
	wsURL := c.String("url")
	origin := strings.TrimSpace(c.String("origin"))
	if err := validateWSURL(wsURL); err != nil {
		return fmt.Errorf("invalid --url: %w", err)
	}
	if err := validateOrigin(origin); err != nil {
		return fmt.Errorf("invalid --origin: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	timeout := c.Duration("timeout")
	opts := []rtclient.Option{rtclient.WithAckTimeout(timeout)}
	if origin != "" {
		opts = append(opts, rtclient.WithOrigin(origin))
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	client, resp, err := rtclient.Dial(dialCtx, wsURL, c.String("token"), opts...)
	cancel()
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial refused: HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = client.Close() }()

	out := c.App.Writer
	for _, ws := range c.StringSlice("workspace") {
		if err := client.JoinWorkspace(ctx, ws); err != nil {
			var ack *rtclient.AckError
			if errors.As(err, &ack) {
				return fmt.Errorf("join %s: %s", ws, ack.Message)
			}
			return fmt.Errorf("join %s: %w", ws, err)
		}
		_, _ = fmt.Fprintf(out, "joined %s\n", ws)
	}

	if d := c.Duration("listen"); d > 0 {
		var cancelListen context.CancelFunc
		ctx, cancelListen = context.WithTimeout(ctx, d)
		defer cancelListen()
	}

	limit := c.Int("count")
	seen := 0
	enc := json.NewEncoder(out)
	for limit == 0 || seen < limit {
		select {
		case <-ctx.Done():
			_, _ = fmt.Fprintf(out, "OK: %d events\n", seen)
			return nil
		case ev, ok := <-client.Events():
			if !ok {
				return fmt.Errorf("connection closed: %w", client.Err())
			}
			if err := enc.Encode(ev); err != nil {
				return err
			}
			seen++
		}
	}
	_, _ = fmt.Fprintf(out, "OK: %d events\n", seen)
	return nil
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}
