package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"potluck/internal/hub"
	"potluck/internal/model"
	"potluck/internal/poller"
)

const writeWait = 10 * time.Second

var errStreamClosed = errors.New("stream closed")

// createUpgrader creates a WebSocket upgrader with the given allowed origins.
// Requests without an Origin header come from non-browser clients, which are
// authenticated by token alone.
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowedMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedMap[origin] = true
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowedMap[origin]
		},
	}
}

type wsSink struct {
	conn *websocket.Conn
}

func (s wsSink) WriteEvent(ev model.Event) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(ev)
}

func (s wsSink) Close() error { return s.conn.Close() }

// ndjsonSink writes one JSON event per line to a streaming response.
type ndjsonSink struct {
	rc  *http.ResponseController
	enc *json.Encoder

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newNDJSONSink(w http.ResponseWriter) *ndjsonSink {
	return &ndjsonSink{
		rc:   http.NewResponseController(w),
		enc:  json.NewEncoder(w),
		done: make(chan struct{}),
	}
}

func (s *ndjsonSink) WriteEvent(ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	s.rc.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.enc.Encode(ev); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *ndjsonSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// HandleWebSocket handles GET /ws
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authenticate(r)
	if err != nil {
		writeError(w, "GET /ws", err)
		return
	}

	upgrader := createUpgrader(h.Config.AllowedOrigins)
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] ❌ upgrade error for user=%d: %v", userID, err)
		return
	}

	h.serveStream(r.Context(), userID, wsSink{conn: ws}, func(context.Context) {
		// Inbound frames only keep the connection alive.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
}

// HandleEvents handles GET /events, the same stream as newline-delimited JSON.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authenticate(r)
	if err != nil {
		writeError(w, "GET /events", err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sink := newNDJSONSink(w)
	h.serveStream(r.Context(), userID, sink, func(ctx context.Context) {
		select {
		case <-ctx.Done():
		case <-sink.done:
		}
	})
}

// serveStream runs one connection from registration to teardown. wait blocks
// until the transport is gone.
func (h *Handler) serveStream(ctx context.Context, userID int64, sink hub.Sink, wait func(context.Context)) {
	// Presence announcements outlive the request context.
	bg := context.WithoutCancel(ctx)

	conn := h.Registry.Register(userID, sink)
	p := poller.New(userID, h.Source, func(ev model.Event) bool {
		return h.Registry.SendConn(conn, ev)
	}, conn.Wakeups(), h.pollerConfig())

	if err := p.Init(ctx); err != nil {
		log.Printf("[Stream user=%d] ❌ %v", userID, err)
		h.Registry.Unregister(userID, conn.ID)
		conn.Close()
		return
	}
	if !h.Registry.SendConn(conn, model.Connected()) {
		return
	}
	h.Service.Connected(bg, userID)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
		// A poller that stopped on its own means the transport is dead.
		conn.Close()
	}()

	wait(ctx)
	cancel()
	<-done

	h.Registry.Unregister(userID, conn.ID)
	conn.Close()
	if !h.Registry.Online(userID) {
		h.Service.Disconnected(bg, userID)
	}
	log.Printf("[Stream user=%d] closed %s", userID, conn.ID)
}
