package handler

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"potluck/internal/auth"
	"potluck/internal/config"
	"potluck/internal/database/dbtest"
	"potluck/internal/hub"
	"potluck/internal/messaging"
	"potluck/internal/model"
	"potluck/internal/notify"
	"potluck/internal/store"
)

const testSecret = "handler-test-secret"

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

// setupTestDB テスト用データベース: user 1 (Ada) と user 2 (Grace) のチャット、user 3 は別チャット
func setupTestDB(t *testing.T) (*sql.DB, int64, int64) {
	t.Helper()
	testDB := dbtest.New(t)
	dbtest.Profile(t, testDB, 1, "Ada", "")
	dbtest.Profile(t, testDB, 2, "Grace", "")
	dbtest.Profile(t, testDB, 3, "Linus", "")
	shared := dbtest.Chat(t, testDB, "private", "", 1, 2)
	other := dbtest.Chat(t, testDB, "private", "", 2, 3)
	return testDB, shared, other
}

// newTestHandler テスト用のHandlerを生成
func newTestHandler(testDB *sql.DB) *Handler {
	reg := hub.NewRegistry()
	st := store.New(testDB)
	svc := messaging.NewService(st, hub.NewDispatcher(reg, nil), notify.Local{Conns: reg})
	cfg := config.Config{
		AllowedOrigins:      []string{"http://localhost:8080", "http://127.0.0.1:8080"},
		MessagePollInterval: 50 * time.Millisecond,
		ReceiptPollInterval: 50 * time.Millisecond,
		KeepaliveInterval:   time.Minute,
	}
	return New(cfg, svc, reg, st, auth.NewJWT(testSecret))
}

func bearer(t *testing.T, userID int64) string {
	t.Helper()
	token, err := auth.NewJWT(testSecret).GenerateToken(userID, time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	return token
}

func postJSON(t *testing.T, router http.Handler, path string, userID int64, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest("POST", path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+bearer(t, userID))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func dialWS(t *testing.T, server *httptest.Server, userID int64) *websocket.Conn {
	t.Helper()
	url := strings.Replace(server.URL, "http://", "ws://", 1) + "/ws?token=" + bearer(t, userID)
	header := http.Header{}
	header.Set("Origin", "http://localhost:8080")

	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	if ev := readUntil(t, ws, model.EventConnected); ev.Type != model.EventConnected {
		t.Fatalf("Expected connected frame first, got %s", ev.Type)
	}
	return ws
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, ws *websocket.Conn, want model.EventType) model.Event {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var ev model.Event
		if err := ws.ReadJSON(&ev); err != nil {
			t.Fatalf("Failed waiting for %s: %v", want, err)
		}
		if ev.Type == want {
			return ev
		}
	}
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var errResp map[string]string
	json.Unmarshal(w.Body.Bytes(), &errResp)
	return errResp["error"]
}

// TestCreateMessage_Success メッセージ作成成功テスト
func TestCreateMessage_Success(t *testing.T) {
	testDB, chatID, _ := setupTestDB(t)
	router := newTestHandler(testDB).SetupRouter()

	w := postJSON(t, router, "/messages", 1, map[string]any{"chatId": chatID, "content": "Hello, World!"})

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Expected Content-Type: application/json, got %s", w.Header().Get("Content-Type"))
	}

	var msg model.Message
	json.Unmarshal(w.Body.Bytes(), &msg)
	if msg.ID == 0 {
		t.Error("Expected auto-generated ID")
	}
	if msg.Content != "Hello, World!" || msg.SenderName != "Ada" || msg.ChatID != chatID {
		t.Errorf("Unexpected ack payload: %+v", msg)
	}
}

func TestCreateMessage_ContentLimit(t *testing.T) {
	testDB, chatID, _ := setupTestDB(t)
	router := newTestHandler(testDB).SetupRouter()

	w := postJSON(t, router, "/messages", 1, map[string]any{"chatId": chatID, "content": strings.Repeat("x", 1000)})
	if w.Code != http.StatusCreated {
		t.Errorf("1000 characters should be accepted, got %d", w.Code)
	}

	w = postJSON(t, router, "/messages", 1, map[string]any{"chatId": chatID, "content": strings.Repeat("x", 1001)})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if got := errorOf(t, w); !strings.Contains(got, "at most 1000 characters") {
		t.Errorf("Unexpected error %q", got)
	}

	if n := dbtest.Count(t, testDB, "messages"); n != 1 {
		t.Errorf("Expected 1 stored message, got %d", n)
	}
}

// TestCreateMessage_MissingContent Content 必須チェック
func TestCreateMessage_MissingContent(t *testing.T) {
	testDB, chatID, _ := setupTestDB(t)
	router := newTestHandler(testDB).SetupRouter()

	w := postJSON(t, router, "/messages", 1, map[string]any{"chatId": chatID, "content": "   "})

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if got := errorOf(t, w); !strings.Contains(got, "content is required") {
		t.Errorf("Expected error 'content is required', got %s", got)
	}
}

// TestCreateMessage_InvalidJSON JSON パース失敗
func TestCreateMessage_InvalidJSON(t *testing.T) {
	testDB, _, _ := setupTestDB(t)
	router := newTestHandler(testDB).SetupRouter()

	req := httptest.NewRequest("POST", "/messages", strings.NewReader("invalid json"))
	req.Header.Set("Authorization", "Bearer "+bearer(t, 1))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if got := errorOf(t, w); !strings.Contains(got, "Invalid request body") {
		t.Errorf("Expected 'Invalid request body' error, got %s", got)
	}
}

func TestCreateMessage_Unauthenticated(t *testing.T) {
	testDB, chatID, _ := setupTestDB(t)
	router := newTestHandler(testDB).SetupRouter()

	body, _ := json.Marshal(map[string]any{"chatId": chatID, "content": "hi"})
	req := httptest.NewRequest("POST", "/messages", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
	if n := dbtest.Count(t, testDB, "messages"); n != 0 {
		t.Errorf("Expected no stored message, got %d", n)
	}
}

func TestCreateMessage_NotParticipant(t *testing.T) {
	testDB, _, otherChat := setupTestDB(t)
	router := newTestHandler(testDB).SetupRouter()

	w := postJSON(t, router, "/messages", 1, map[string]any{"chatId": otherChat, "content": "let me in"})

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status %d, got %d", http.StatusForbidden, w.Code)
	}
	if n := dbtest.Count(t, testDB, "messages"); n != 0 {
		t.Errorf("Expected no stored message, got %d", n)
	}
}

// TestCreateMessage_OversizedBody 1MB 超のリクエストは拒否
func TestCreateMessage_OversizedBody(t *testing.T) {
	testDB, chatID, _ := setupTestDB(t)
	router := newTestHandler(testDB).SetupRouter()

	w := postJSON(t, router, "/messages", 1, map[string]any{"chatId": chatID, "content": strings.Repeat("a", 2<<20)})

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestCreateImageMessage(t *testing.T) {
	testDB, chatID, _ := setupTestDB(t)
	router := newTestHandler(testDB).SetupRouter()

	send := func(contentType string, data []byte) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		mw.WriteField("chatId", fmt.Sprint(chatID))
		part, _ := mw.CreatePart(textproto.MIMEHeader{
			"Content-Disposition": {`form-data; name="file"; filename="pic"`},
			"Content-Type":        {contentType},
		})
		part.Write(data)
		mw.Close()

		req := httptest.NewRequest("POST", "/messages/image", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+bearer(t, 1))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := send("image/png", pngHeader)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	var msg model.Message
	json.Unmarshal(w.Body.Bytes(), &msg)
	if msg.MessageType != model.MessageImage || !strings.HasPrefix(msg.ImageData, "data:image/png;base64,") {
		t.Errorf("Unexpected image message: %+v", msg)
	}

	if w := send("application/pdf", pngHeader); w.Code != http.StatusBadRequest {
		t.Errorf("Non-image declared type should be rejected, got %d", w.Code)
	}
	if w := send("image/png", []byte("plain text")); w.Code != http.StatusBadRequest {
		t.Errorf("Non-image content should be rejected, got %d", w.Code)
	}
}

func TestListChatsAndMarkRead(t *testing.T) {
	testDB, chatID, _ := setupTestDB(t)
	h := newTestHandler(testDB)
	router := h.SetupRouter()

	postJSON(t, router, "/messages", 1, map[string]any{"chatId": chatID, "content": "one"})
	postJSON(t, router, "/messages", 1, map[string]any{"chatId": chatID, "content": "two"})

	shared := func(chats []model.ChatSummary) model.ChatSummary {
		for _, c := range chats {
			if c.ID == chatID {
				return c
			}
		}
		t.Fatalf("Chat %d missing from %+v", chatID, chats)
		return model.ChatSummary{}
	}
	listChats := func() []model.ChatSummary {
		req := httptest.NewRequest("GET", "/chats", nil)
		req.Header.Set("Authorization", "Bearer "+bearer(t, 2))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
		}
		var chats []model.ChatSummary
		json.Unmarshal(w.Body.Bytes(), &chats)
		return chats
	}

	chats := listChats()
	if len(chats) != 2 || shared(chats).UnreadCount != 2 {
		t.Fatalf("Unexpected chat list: %+v", chats)
	}

	w := postJSON(t, router, fmt.Sprintf("/chats/%d/read", chatID), 2, map[string]any{})
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status %d, got %d", http.StatusNoContent, w.Code)
	}
	if got := shared(listChats()).UnreadCount; got != 0 {
		t.Errorf("Expected unread 0 after mark read, got %d", got)
	}

	req := httptest.NewRequest("GET", fmt.Sprintf("/chats/%d/messages?limit=1", chatID), nil)
	req.Header.Set("Authorization", "Bearer "+bearer(t, 2))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var history []model.Message
	json.Unmarshal(rec.Body.Bytes(), &history)
	if len(history) != 1 || history[0].Content != "two" || !history[0].IsRead {
		t.Errorf("Unexpected history: %+v", history)
	}

	req = httptest.NewRequest("GET", fmt.Sprintf("/chats/%d/messages", chatID), nil)
	req.Header.Set("Authorization", "Bearer "+bearer(t, 3))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("Non-participant history should be %d, got %d", http.StatusForbidden, rec.Code)
	}
}

// TestWebSocketConnection WebSocket 接続テスト
func TestWebSocketConnection(t *testing.T) {
	testDB, _, _ := setupTestDB(t)
	h := newTestHandler(testDB)

	server := httptest.NewServer(h.SetupRouter())
	defer server.Close()

	ws := dialWS(t, server, 1)

	if !h.Registry.Online(1) {
		t.Error("WebSocket client should be registered")
	}

	// キープアライブメッセージ送信
	ws.WriteJSON(map[string]string{"type": "ping"})

	ws.Close()
	deadline := time.Now().Add(2 * time.Second)
	for h.Registry.Online(1) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.Registry.Online(1) {
		t.Error("Closed WebSocket should be unregistered")
	}
}

func TestWebSocket_RejectsMissingToken(t *testing.T) {
	testDB, _, _ := setupTestDB(t)
	server := httptest.NewServer(newTestHandler(testDB).SetupRouter())
	defer server.Close()

	url := strings.Replace(server.URL, "http://", "ws://", 1)
	_, resp, err := websocket.DefaultDialer.Dial(url+"/ws", nil)
	if err == nil {
		t.Fatal("WebSocket connection without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 before upgrade, got %v", resp)
	}
}

// TestWebSocketOriginCheck Origin チェックテスト
func TestWebSocketOriginCheck(t *testing.T) {
	testDB, _, _ := setupTestDB(t)
	server := httptest.NewServer(newTestHandler(testDB).SetupRouter())
	defer server.Close()

	url := strings.Replace(server.URL, "http://", "ws://", 1)

	// 許可されていない Origin で接続試行
	header := http.Header{}
	header.Set("Origin", "http://forbidden.example.com")

	_, _, err := websocket.DefaultDialer.Dial(url+"/ws?token="+bearer(t, 1), header)
	if err == nil {
		t.Error("WebSocket connection from forbidden origin should fail")
	}
}

func TestWebSocket_PushesToPeerNotSender(t *testing.T) {
	testDB, chatID, _ := setupTestDB(t)
	h := newTestHandler(testDB)
	server := httptest.NewServer(h.SetupRouter())
	defer server.Close()

	grace := dialWS(t, server, 2)
	ada := dialWS(t, server, 1)

	if ev := readUntil(t, grace, model.EventPresenceOnline); ev.UserID != 1 {
		t.Errorf("Expected presence_online for user 1, got %+v", ev)
	}

	w := postJSON(t, h.SetupRouter(), "/messages", 1, map[string]any{"chatId": chatID, "content": "dinner at 8"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d", http.StatusCreated, w.Code)
	}

	ev := readUntil(t, grace, model.EventNewMessage)
	if ev.Message == nil || ev.Message.Content != "dinner at 8" || ev.Message.SenderName != "Ada" || ev.Message.IsRead {
		t.Fatalf("Unexpected push payload: %+v", ev.Message)
	}

	// The reader's receipt reaches the author's stream.
	w = postJSON(t, h.SetupRouter(), fmt.Sprintf("/chats/%d/read", chatID), 2, map[string]any{"messageIds": []int64{ev.Message.ID}})
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status %d, got %d", http.StatusNoContent, w.Code)
	}

	// The author never receives its own message, only the receipt.
	ada.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var got model.Event
		if err := ada.ReadJSON(&got); err != nil {
			t.Fatalf("Failed waiting for message_read: %v", err)
		}
		if got.Type == model.EventNewMessage {
			t.Fatal("Sender should not receive its own message")
		}
		if got.Type == model.EventMessageRead {
			if got.MessageID != ev.Message.ID || got.ReaderID != 2 {
				t.Errorf("Unexpected receipt: %+v", got)
			}
			break
		}
	}
}

func TestWebSocket_SecondTabSupersedes(t *testing.T) {
	testDB, _, _ := setupTestDB(t)
	h := newTestHandler(testDB)
	server := httptest.NewServer(h.SetupRouter())
	defer server.Close()

	first := dialWS(t, server, 2)
	dialWS(t, server, 2)

	first.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				t.Fatalf("First tab should be closed by the server, got %v", err)
			}
			break
		}
	}

	if h.Registry.Len() != 1 || !h.Registry.Online(2) {
		t.Errorf("Expected the second tab to stay registered, got %d connections", h.Registry.Len())
	}
}

func TestEvents_NDJSONStream(t *testing.T) {
	testDB, chatID, _ := setupTestDB(t)
	h := newTestHandler(testDB)
	server := httptest.NewServer(h.SetupRouter())
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url := fmt.Sprintf("%s/events?token=%s&_=%d", server.URL, bearer(t, 2), time.Now().UnixNano())
	req, _ := http.NewRequestWithContext(ctx, "GET", url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to open event stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Expected application/x-ndjson, got %s", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	next := func() model.Event {
		if !lines.Scan() {
			t.Fatalf("Stream ended early: %v", lines.Err())
		}
		var ev model.Event
		if err := json.Unmarshal(lines.Bytes(), &ev); err != nil {
			t.Fatalf("Invalid frame %q: %v", lines.Text(), err)
		}
		return ev
	}

	if ev := next(); ev.Type != model.EventConnected {
		t.Fatalf("Expected connected frame first, got %s", ev.Type)
	}

	postJSON(t, h.SetupRouter(), "/messages", 1, map[string]any{"chatId": chatID, "content": "over ndjson"})

	for {
		ev := next()
		if ev.Type == model.EventNewMessage {
			if ev.Message.Content != "over ndjson" {
				t.Errorf("Unexpected message %+v", ev.Message)
			}
			break
		}
	}
}

func TestGetPresence(t *testing.T) {
	testDB, _, _ := setupTestDB(t)
	h := newTestHandler(testDB)
	server := httptest.NewServer(h.SetupRouter())
	defer server.Close()

	dialWS(t, server, 2)

	req := httptest.NewRequest("GET", "/presence/2", nil)
	req.Header.Set("Authorization", "Bearer "+bearer(t, 1))
	w := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(w, req)

	var got presenceResponse
	json.Unmarshal(w.Body.Bytes(), &got)
	if w.Code != http.StatusOK || !got.Online || got.UserID != 2 {
		t.Errorf("Expected user 2 online, got %d %+v", w.Code, got)
	}
}

// TestOverflowingPathIDs 数値として読めないパスIDは 400
func TestOverflowingPathIDs(t *testing.T) {
	testDB, _, _ := setupTestDB(t)
	router := newTestHandler(testDB).SetupRouter()
	huge := "99999999999999999999"

	for _, tc := range []struct{ method, path string }{
		{"GET", "/chats/" + huge + "/messages"},
		{"POST", "/chats/" + huge + "/read"},
		{"GET", "/presence/" + huge},
	} {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader("{}"))
		req.Header.Set("Authorization", "Bearer "+bearer(t, 1))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("%s %s: expected status %d, got %d", tc.method, tc.path, http.StatusBadRequest, w.Code)
		}
	}
}
