package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"potluck/internal/auth"
	"potluck/internal/client"
	"potluck/internal/model"
	"potluck/internal/reconciler"
)

// TailCommand streams pushed events as NDJSON on stdout, e.g.
//
//	potluck tail | jq -r 'select(.type=="new_message") | .message.content'
//
// The stream reconnects with jittered exponential backoff until interrupted.
func TailCommand() *cli.Command {
	return &cli.Command{
		Name:  "tail",
		Usage: "Stream realtime chat events (NDJSON)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "origin",
				Usage: "Origin header sent on the websocket upgrade",
			},
			&cli.StringFlag{
				Name:  "auto-select",
				Usage: "Open the chat of an incoming message: always (even over the open chat), when-idle (only with no chat open) or never",
				Value: reconciler.AutoSelectAlways.String(),
			},
			&cli.DurationFlag{
				Name:  "initial-backoff",
				Usage: "Initial reconnect backoff",
				Value: 1 * time.Second,
			},
			&cli.DurationFlag{
				Name:  "max-backoff",
				Usage: "Maximum reconnect backoff",
				Value: 30 * time.Second,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			policy, ok := reconciler.ParseAutoSelect(c.String("auto-select"))
			if !ok {
				return fmt.Errorf("unknown --auto-select %q", c.String("auto-select"))
			}
			opts := tailOptions{
				server:         c.String("server"),
				token:          c.String("token"),
				origin:         c.String("origin"),
				policy:         policy,
				initialBackoff: c.Duration("initial-backoff"),
				maxBackoff:     c.Duration("max-backoff"),
				stdout:         os.Stdout,
				stderr:         os.Stderr,
			}
			return tail(ctx, opts)
		},
	}
}

type tailOptions struct {
	server         string
	token          string
	origin         string
	policy         reconciler.AutoSelect
	initialBackoff time.Duration
	maxBackoff     time.Duration
	stdout         io.Writer
	stderr         io.Writer
}

func tail(ctx context.Context, opts tailOptions) error {
	if opts.token == "" {
		return errors.New("no token provided (flag --token or POTLUCK_TOKEN required)")
	}

	userID, err := auth.UserIDFromToken(opts.token)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}

	api := client.NewHTTPAPI(opts.server, opts.token)
	view := reconciler.New(api, userID, opts.policy)
	enc := json.NewEncoder(opts.stdout)

	consumer := client.NewConsumer(opts.server, opts.token, func(ev model.Event) {
		view.Apply(ctx, ev)
		_ = enc.Encode(ev)
	})
	consumer.Origin = opts.origin
	consumer.InitialBackoff = opts.initialBackoff
	consumer.MaxBackoff = opts.maxBackoff
	consumer.OnConnect = func() {
		_, _ = fmt.Fprintf(opts.stderr, "Tail: connected to %s (backoff reset)\n", opts.server)
		if err := view.Load(ctx); err != nil {
			_, _ = fmt.Fprintf(opts.stderr, "Tail: chat list unavailable: %v\n", err)
			return
		}
		_, _ = fmt.Fprintf(opts.stderr, "Tail: %d chats\n", len(view.Chats()))
	}

	_, _ = fmt.Fprintf(opts.stderr, "Tail: connecting to %s\n", opts.server)
	err = consumer.Run(ctx)
	view.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
