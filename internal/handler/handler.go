package handler

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"potluck/internal/apperr"
	"potluck/internal/auth"
	"potluck/internal/config"
	"potluck/internal/hub"
	"potluck/internal/messaging"
	"potluck/internal/poller"
)

// Handler holds application dependencies
type Handler struct {
	Config   config.Config
	Service  *messaging.Service
	Registry *hub.Registry
	Source   poller.Source
	Verifier auth.Verifier
}

// New creates a new Handler with the given dependencies
func New(cfg config.Config, svc *messaging.Service, reg *hub.Registry, src poller.Source, verifier auth.Verifier) *Handler {
	return &Handler{
		Config:   cfg,
		Service:  svc,
		Registry: reg,
		Source:   src,
		Verifier: verifier,
	}
}

// SetupRouter configures and returns the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()

	// REST API
	r.HandleFunc("/messages", h.CreateMessage).Methods("POST")
	r.HandleFunc("/messages/image", h.CreateImageMessage).Methods("POST")
	r.HandleFunc("/chats", h.ListChats).Methods("GET")
	r.HandleFunc("/chats/{id:[0-9]+}/messages", h.ListMessages).Methods("GET")
	r.HandleFunc("/chats/{id:[0-9]+}/read", h.MarkRead).Methods("POST")
	r.HandleFunc("/presence/{userId:[0-9]+}", h.GetPresence).Methods("GET")

	// Event streams
	r.HandleFunc("/ws", h.HandleWebSocket).Methods("GET")
	r.HandleFunc("/events", h.HandleEvents).Methods("GET")

	return r
}

func (h *Handler) pollerConfig() poller.Config {
	return poller.Config{
		MessageInterval:   h.Config.MessagePollInterval,
		ReceiptInterval:   h.Config.ReceiptPollInterval,
		KeepaliveInterval: h.Config.KeepaliveInterval,
	}
}

// authenticate resolves the caller from the bearer token.
func (h *Handler) authenticate(r *http.Request) (int64, error) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		return 0, apperr.ErrUnauthenticated
	}
	userID, ok := h.Verifier.Verify(token)
	if !ok {
		return 0, apperr.ErrUnauthenticated
	}
	return userID, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] ❌ encode response: %v", err)
	}
}

// writeError answers with the status of err's class. Internal failures are
// logged in full and reported generically.
func writeError(w http.ResponseWriter, route string, err error) {
	status := apperr.Status(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	log.Printf("[%s] ❌ %d: %v", route, status, err)
	writeJSON(w, status, map[string]string{"error": message})
}
