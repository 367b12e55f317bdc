package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"potluck/internal/apperr"
	"potluck/internal/messaging"
	"potluck/internal/model"
)

// maxMultipartOverhead leaves room for the form fields around the file.
const maxMultipartOverhead = 1 << 20

// pathID parses a numeric route variable.
func pathID(raw, name string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("%s %q is invalid", name, raw)
	}
	return id, nil
}

// CreateMessage handles POST /messages
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	const route = "POST /messages"
	userID, err := h.authenticate(r)
	if err != nil {
		writeError(w, route, err)
		return
	}

	// リクエストボディサイズを1MBに制限
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req messaging.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, route, apperr.Invalid("Invalid request body"))
		return
	}

	msg, err := h.Service.AcceptMessage(r.Context(), req.ChatID, userID, req.Content)
	if err != nil {
		writeError(w, route, err)
		return
	}

	log.Printf("[%s] ✅ Created message: ID=%d, Chat=%d, Sender=%d", route, msg.ID, msg.ChatID, msg.SenderID)
	writeJSON(w, http.StatusCreated, msg)
}

// CreateImageMessage handles POST /messages/image
func (h *Handler) CreateImageMessage(w http.ResponseWriter, r *http.Request) {
	const route = "POST /messages/image"
	userID, err := h.authenticate(r)
	if err != nil {
		writeError(w, route, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, messaging.MaxImageBytes+maxMultipartOverhead)
	if err := r.ParseMultipartForm(maxMultipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, route, apperr.Invalid("file exceeds %d bytes", messaging.MaxImageBytes))
			return
		}
		writeError(w, route, apperr.Invalid("Invalid multipart body"))
		return
	}

	chatID, err := strconv.ParseInt(r.FormValue("chatId"), 10, 64)
	if err != nil {
		writeError(w, route, apperr.Invalid("chatId is required"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, route, apperr.Invalid("file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, messaging.MaxImageBytes+1))
	if err != nil {
		writeError(w, route, err)
		return
	}

	msg, err := h.Service.AcceptImage(r.Context(), chatID, userID, header.Header.Get("Content-Type"), data)
	if err != nil {
		writeError(w, route, err)
		return
	}

	log.Printf("[%s] ✅ Created image message: ID=%d, Chat=%d, Bytes=%d", route, msg.ID, msg.ChatID, len(data))
	writeJSON(w, http.StatusCreated, msg)
}

// ListChats handles GET /chats
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	const route = "GET /chats"
	userID, err := h.authenticate(r)
	if err != nil {
		writeError(w, route, err)
		return
	}

	chats, err := h.Service.ListChats(r.Context(), userID)
	if err != nil {
		writeError(w, route, err)
		return
	}
	if chats == nil {
		chats = []model.ChatSummary{}
	}

	log.Printf("[%s] ✅ Returned %d chats for user=%d", route, len(chats), userID)
	writeJSON(w, http.StatusOK, chats)
}

// ListMessages handles GET /chats/{id}/messages
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	route := "GET /chats/" + id + "/messages"
	userID, err := h.authenticate(r)
	if err != nil {
		writeError(w, route, err)
		return
	}

	chatID, err := pathID(id, "chat id")
	if err != nil {
		writeError(w, route, err)
		return
	}
	limit := messaging.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			writeError(w, route, apperr.Invalid("limit must be a number"))
			return
		}
	}

	msgs, err := h.Service.ListMessages(r.Context(), chatID, userID, limit)
	if err != nil {
		writeError(w, route, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}

	log.Printf("[%s] ✅ Returned %d messages", route, len(msgs))
	writeJSON(w, http.StatusOK, msgs)
}

type markReadRequest struct {
	MessageIDs []int64 `json:"messageIds"`
}

// MarkRead handles POST /chats/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	route := "POST /chats/" + id + "/read"
	userID, err := h.authenticate(r)
	if err != nil {
		writeError(w, route, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	// An empty body marks every inbound message of the chat.
	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, route, apperr.Invalid("Invalid request body"))
		return
	}

	chatID, err := pathID(id, "chat id")
	if err != nil {
		writeError(w, route, err)
		return
	}
	n, err := h.Service.MarkRead(r.Context(), chatID, userID, req.MessageIDs)
	if err != nil {
		writeError(w, route, err)
		return
	}

	log.Printf("[%s] ✅ user=%d recorded %d receipts", route, userID, n)
	w.WriteHeader(http.StatusNoContent)
}

type presenceResponse struct {
	UserID int64 `json:"userId"`
	Online bool  `json:"online"`
}

// GetPresence handles GET /presence/{userId}
func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["userId"]
	route := "GET /presence/" + id
	if _, err := h.authenticate(r); err != nil {
		writeError(w, route, err)
		return
	}

	target, err := pathID(id, "user id")
	if err != nil {
		writeError(w, route, err)
		return
	}
	online, err := h.Service.IsOnline(r.Context(), target)
	if err != nil {
		writeError(w, route, err)
		return
	}
	writeJSON(w, http.StatusOK, presenceResponse{UserID: target, Online: online})
}
