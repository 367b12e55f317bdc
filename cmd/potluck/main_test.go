package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"potluck/internal/auth"
)

func TestTokenCommand(t *testing.T) {
	req := require.New(t)
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out

	err := app.Run(context.Background(), []string{"potluck", "token", "--user", "7", "--secret", "s3cret", "--ttl", "1m"})
	req.NoError(err)

	userID, ok := auth.NewJWT("s3cret").Verify(strings.TrimSpace(out.String()))
	req.True(ok)
	req.Equal(int64(7), userID)
}

func TestTail_RequiresToken(t *testing.T) {
	req := require.New(t)

	err := tail(context.Background(), tailOptions{server: "http://localhost:1"})

	req.ErrorContains(err, "no token provided")
}

func TestTail_RetriesUntilDeadline(t *testing.T) {
	req := require.New(t)
	token, err := auth.NewJWT("client-side").GenerateToken(3, time.Hour)
	req.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var stderr bytes.Buffer
	err = tail(ctx, tailOptions{
		server:         "http://127.0.0.1:1",
		token:          token,
		initialBackoff: 10 * time.Millisecond,
		maxBackoff:     20 * time.Millisecond,
		stdout:         &bytes.Buffer{},
		stderr:         &stderr,
	})

	// Nothing listens on port 1: the tail keeps retrying until the deadline.
	req.ErrorIs(err, context.DeadlineExceeded)
	req.Contains(stderr.String(), "Tail: connecting to http://127.0.0.1:1")
}
