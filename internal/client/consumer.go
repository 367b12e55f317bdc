package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"potluck/internal/apperr"
	"potluck/internal/model"
)

// Consumer holds one event subscription open, reconnecting with exponential
// backoff and full jitter when the stream drops.
type Consumer struct {
	// BaseURL is the server's http(s) root.
	BaseURL string
	Token   string
	// Origin is sent on the upgrade request when set.
	Origin string

	Dialer         *websocket.Dialer
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// OnEvent receives every normalized event of a known type, in stream order.
	OnEvent func(model.Event)
	// OnConnect is called after each successful dial.
	OnConnect func()

	// jitter returns a duration in [0, d]. Replaced in tests.
	jitter func(d time.Duration) time.Duration
}

// NewConsumer returns a consumer with the default 1s to 30s backoff.
func NewConsumer(baseURL, token string, onEvent func(model.Event)) *Consumer {
	return &Consumer{
		BaseURL:        baseURL,
		Token:          token,
		Dialer:         websocket.DefaultDialer,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		OnEvent:        onEvent,
	}
}

func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return rand.N(d + 1)
}

// streamURL builds the websocket URL. Every dial carries a fresh cache
// busting parameter.
func (c *Consumer) streamURL() (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	q := u.Query()
	q.Set("token", c.Token)
	q.Set("_", strconv.FormatInt(time.Now().UnixNano(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run consumes the stream until ctx is done. Authentication failures are
// returned immediately since retrying cannot fix them.
func (c *Consumer) Run(ctx context.Context) error {
	initial, maxBackoff := c.InitialBackoff, c.MaxBackoff
	if initial <= 0 {
		initial = time.Second
	}
	if maxBackoff < initial {
		maxBackoff = 30 * time.Second
	}
	jitter := c.jitter
	if jitter == nil {
		jitter = fullJitter
	}
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	backoff := initial
	for {
		connected, err := c.connect(ctx, dialer)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, apperr.ErrUnauthenticated) {
			return err
		}
		if connected {
			backoff = initial
		}

		wait := jitter(backoff)
		log.Printf("[Consumer] %v, reconnecting in %s", err, wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// connect dials once and streams until the connection drops. connected
// reports whether the dial succeeded.
func (c *Consumer) connect(ctx context.Context, dialer *websocket.Dialer) (connected bool, err error) {
	target, err := c.streamURL()
	if err != nil {
		return false, err
	}
	header := http.Header{}
	if c.Origin != "" {
		header.Set("Origin", c.Origin)
	}

	ws, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return false, fmt.Errorf("dial: %w", apperr.ErrUnauthenticated)
		}
		return false, fmt.Errorf("%w: dial: %v", apperr.ErrTransport, err)
	}
	if c.OnConnect != nil {
		c.OnConnect()
	}
	return true, c.stream(ctx, ws)
}

func (c *Consumer) stream(ctx context.Context, ws *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-stop:
		}
	}()
	defer ws.Close()

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: read: %v", apperr.ErrTransport, err)
		}

		ev, err := Normalize(frame)
		if err != nil {
			log.Printf("[Consumer] ❌ dropped frame: %v", err)
			continue
		}
		if !Known(ev.Type) {
			log.Printf("[Consumer] ignoring unknown event type %q", ev.Type)
			continue
		}
		if ev.Type == model.EventPing || ev.Type == model.EventConnected {
			continue
		}
		if c.OnEvent != nil {
			c.OnEvent(ev)
		}
	}
}
