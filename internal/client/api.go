package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"potluck/internal/apperr"
	"potluck/internal/model"
)

// HTTPAPI is the REST side of the chat server.
type HTTPAPI struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPAPI(baseURL, token string) *HTTPAPI {
	return &HTTPAPI{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// ListChats returns the caller's chats with unread counts.
func (a *HTTPAPI) ListChats(ctx context.Context) ([]model.ChatSummary, error) {
	var chats []model.ChatSummary
	err := a.do(ctx, http.MethodGet, "/chats", nil, &chats)
	return chats, err
}

// ListMessages returns the latest history of a chat in ascending id order.
func (a *HTTPAPI) ListMessages(ctx context.Context, chatID int64, limit int) ([]model.Message, error) {
	path := fmt.Sprintf("/chats/%d/messages", chatID)
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var msgs []model.Message
	err := a.do(ctx, http.MethodGet, path, nil, &msgs)
	return msgs, err
}

// MarkRead records receipts for the given inbound messages.
func (a *HTTPAPI) MarkRead(ctx context.Context, chatID int64, messageIDs []int64) error {
	body := map[string][]int64{"messageIds": messageIDs}
	return a.do(ctx, http.MethodPost, fmt.Sprintf("/chats/%d/read", chatID), body, nil)
}

// SendMessage posts a text message and returns the stored row.
func (a *HTTPAPI) SendMessage(ctx context.Context, chatID int64, content string) (model.Message, error) {
	var msg model.Message
	body := map[string]any{"chatId": chatID, "content": content}
	err := a.do(ctx, http.MethodPost, "/messages", body, &msg)
	return msg, err
}

func (a *HTTPAPI) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", apperr.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// statusError maps an error response back onto the apperr classes.
func statusError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
	if payload.Error == "" {
		payload.Error = resp.Status
	}

	var class error
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		class = apperr.ErrUnauthenticated
	case http.StatusBadRequest:
		class = apperr.ErrInvalid
	case http.StatusForbidden:
		class = apperr.ErrForbidden
	case http.StatusNotFound:
		class = apperr.ErrNotFound
	default:
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("%w: %s", class, payload.Error)
}
