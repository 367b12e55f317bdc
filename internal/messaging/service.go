package messaging

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"reflect"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"potluck/internal/apperr"
	"potluck/internal/model"
	"potluck/internal/notify"
)

const (
	// MaxContentLength is counted in characters, not bytes.
	MaxContentLength = 1000
	MaxImageBytes    = 5 << 20
	HistoryLimit     = 100
	imagePlaceholder = "[image]"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	return v
}

// SendRequest is the body of POST /messages.
type SendRequest struct {
	ChatID  int64  `json:"chatId" validate:"required,gt=0"`
	Content string `json:"content" validate:"required,max=1000"`
}

// Store is the persistence the send path needs.
type Store interface {
	IsParticipant(ctx context.Context, chatID, userID int64) (bool, error)
	Participants(ctx context.Context, chatID int64) ([]int64, error)
	CoParticipants(ctx context.Context, userID int64) ([]int64, error)
	Profile(ctx context.Context, userID int64) (model.Profile, error)
	CreateMessage(ctx context.Context, m model.Message) (model.Message, error)
	ListChats(ctx context.Context, userID int64) ([]model.ChatSummary, error)
	ListMessages(ctx context.Context, chatID, viewerID int64, limit int) ([]model.Message, error)
	MarkRead(ctx context.Context, chatID, readerID int64, messageIDs []int64) (int, error)
}

// Dispatcher fans work out to the participants of a chat.
type Dispatcher interface {
	Wake(participants []int64, origin int64) int
	Broadcast(participants []int64, origin int64, ev model.Event) int
}

// Service is the synchronous send path plus the reads a chat client needs.
type Service struct {
	store      Store
	dispatcher Dispatcher
	presence   notify.Presence
}

func NewService(store Store, dispatcher Dispatcher, presence notify.Presence) *Service {
	return &Service{store: store, dispatcher: dispatcher, presence: presence}
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Invalid("%v", err)
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return apperr.Invalid("%s is required", field)
	case "max":
		return apperr.Invalid("%s must be at most %s characters", field, fe.Param())
	default:
		return apperr.Invalid("%s is invalid", field)
	}
}

func (s *Service) requireParticipant(ctx context.Context, chatID, userID int64) error {
	ok, err := s.store.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("user %d is not a participant of chat %d", userID, chatID)
	}
	return nil
}

// AcceptMessage validates and persists a text message, wakes every other
// participant's stream and returns the stored row to the sender.
func (s *Service) AcceptMessage(ctx context.Context, chatID, senderID int64, content string) (model.Message, error) {
	req := SendRequest{ChatID: chatID, Content: strings.TrimSpace(content)}
	if err := validate.Struct(req); err != nil {
		return model.Message{}, validationError(err)
	}

	return s.accept(ctx, model.Message{
		ChatID:      req.ChatID,
		SenderID:    senderID,
		Content:     req.Content,
		MessageType: model.MessageText,
	})
}

// AcceptImage is AcceptMessage for an image attachment. The image is stored
// and delivered as a data URL.
func (s *Service) AcceptImage(ctx context.Context, chatID, senderID int64, declaredType string, data []byte) (model.Message, error) {
	if chatID <= 0 {
		return model.Message{}, apperr.Invalid("chatId is required")
	}
	if !strings.HasPrefix(strings.ToLower(declaredType), "image/") {
		return model.Message{}, apperr.Invalid("file must be an image, got %q", declaredType)
	}
	if len(data) == 0 {
		return model.Message{}, apperr.Invalid("file is empty")
	}
	if len(data) > MaxImageBytes {
		return model.Message{}, apperr.Invalid("file exceeds %d bytes", MaxImageBytes)
	}

	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return model.Message{}, apperr.Invalid("file content is %s, not an image", detected.String())
	}

	return s.accept(ctx, model.Message{
		ChatID:      chatID,
		SenderID:    senderID,
		Content:     imagePlaceholder,
		MessageType: model.MessageImage,
		ImageData:   "data:" + detected.String() + ";base64," + base64.StdEncoding.EncodeToString(data),
	})
}

func (s *Service) accept(ctx context.Context, m model.Message) (model.Message, error) {
	if err := s.requireParticipant(ctx, m.ChatID, m.SenderID); err != nil {
		return model.Message{}, err
	}

	profile, err := s.store.Profile(ctx, m.SenderID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return model.Message{}, err
	}
	if profile.DisplayName == "" {
		profile.DisplayName = fmt.Sprintf("User %d", m.SenderID)
	}
	m.SenderName = profile.DisplayName
	m.SenderAvatar = profile.AvatarURL
	m.CreatedAt = time.Now()

	saved, err := s.store.CreateMessage(ctx, m)
	if err != nil {
		return model.Message{}, err
	}

	// The row is committed; pollers deliver it on their next tick even if
	// the wake-up below cannot be sent.
	participants, err := s.store.Participants(ctx, saved.ChatID)
	if err != nil {
		log.Printf("[Send] ❌ resolve participants of chat %d: %v", saved.ChatID, err)
		return saved, nil
	}
	s.dispatcher.Wake(participants, saved.SenderID)

	return saved, nil
}

// ListChats returns the user's chats, most recently active first.
func (s *Service) ListChats(ctx context.Context, userID int64) ([]model.ChatSummary, error) {
	return s.store.ListChats(ctx, userID)
}

// ListMessages returns the latest history of a chat the user belongs to.
func (s *Service) ListMessages(ctx context.Context, chatID, userID int64, limit int) ([]model.Message, error) {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > HistoryLimit {
		limit = HistoryLimit
	}
	return s.store.ListMessages(ctx, chatID, userID, limit)
}

// MarkRead records read receipts for inbound messages. Authors observe
// them through their receipt poll loop.
func (s *Service) MarkRead(ctx context.Context, chatID, readerID int64, messageIDs []int64) (int, error) {
	if err := s.requireParticipant(ctx, chatID, readerID); err != nil {
		return 0, err
	}
	return s.store.MarkRead(ctx, chatID, readerID, messageIDs)
}

// Connected marks the user online and tells everyone sharing a chat.
func (s *Service) Connected(ctx context.Context, userID int64) {
	s.announce(ctx, userID, true)
}

// Disconnected marks the user offline and tells everyone sharing a chat.
func (s *Service) Disconnected(ctx context.Context, userID int64) {
	s.announce(ctx, userID, false)
}

func (s *Service) announce(ctx context.Context, userID int64, online bool) {
	if err := s.presence.SetOnline(ctx, userID, online); err != nil {
		log.Printf("[Presence] ❌ user=%d online=%t: %v", userID, online, err)
	}
	if !online {
		// Another instance may still hold a connection for the user.
		if still, err := s.presence.IsOnline(ctx, userID); err == nil && still {
			return
		}
	}
	peers, err := s.store.CoParticipants(ctx, userID)
	if err != nil {
		log.Printf("[Presence] ❌ resolve peers of user=%d: %v", userID, err)
		return
	}
	s.dispatcher.Broadcast(peers, userID, model.Presence(userID, online))
}

// IsOnline reports the user's presence.
func (s *Service) IsOnline(ctx context.Context, userID int64) (bool, error) {
	return s.presence.IsOnline(ctx, userID)
}
