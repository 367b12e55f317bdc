package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"potluck/internal/apperr"
	"potluck/internal/model"
)

// field names a value that may arrive in camelCase or as the raw
// snake_case column name.
type field struct{ camel, snake string }

func (f field) from(obj map[string]any) (any, bool) {
	if v, ok := obj[f.camel]; ok && v != nil {
		return v, true
	}
	v, ok := obj[f.snake]
	return v, ok && v != nil
}

var (
	fID           = field{"id", "id"}
	fChatID       = field{"chatId", "chat_id"}
	fSenderID     = field{"senderId", "sender_id"}
	fSenderName   = field{"senderName", "sender_name"}
	fSenderAvatar = field{"senderAvatar", "sender_avatar"}
	fContent      = field{"content", "content"}
	fMessageType  = field{"messageType", "message_type"}
	fImageData    = field{"imageData", "image_data"}
	fCreatedAt    = field{"createdAt", "created_at"}
	fIsRead       = field{"isRead", "is_read"}
	fMessageID    = field{"messageId", "message_id"}
	fReaderID     = field{"readerId", "reader_id"}
	fUserID       = field{"userId", "user_id"}
)

// Normalize decodes one stream frame. It accepts the camelCase wire schema
// and the snake_case row shape, with numbers sent either as JSON numbers or
// numeric strings. A frame whose required ids cannot be read is rejected
// with apperr.ErrInvalid.
func Normalize(raw []byte) (model.Event, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return model.Event{}, apperr.Invalid("malformed frame: %v", err)
	}

	typ, _ := obj["type"].(string)
	ev := model.Event{Type: model.EventType(typ)}

	switch ev.Type {
	case model.EventNewMessage:
		body, ok := obj["message"].(map[string]any)
		if !ok {
			// Row pushed without an envelope.
			body = obj
		}
		msg, err := normalizeMessage(body)
		if err != nil {
			return model.Event{}, err
		}
		ev.Message = &msg

	case model.EventMessageRead:
		var err error
		if ev.MessageID, err = requireID(obj, fMessageID); err != nil {
			return model.Event{}, err
		}
		ev.ChatID, _ = optionalID(obj, fChatID)
		ev.ReaderID, _ = optionalID(obj, fReaderID)

	case model.EventPresenceOnline, model.EventPresenceOffline:
		var err error
		if ev.UserID, err = requireID(obj, fUserID); err != nil {
			return model.Event{}, err
		}
	}

	return ev, nil
}

func normalizeMessage(obj map[string]any) (model.Message, error) {
	var (
		m   model.Message
		err error
	)
	if m.ID, err = requireID(obj, fID); err != nil {
		return m, err
	}
	if m.ChatID, err = requireID(obj, fChatID); err != nil {
		return m, err
	}
	if m.SenderID, err = requireID(obj, fSenderID); err != nil {
		return m, err
	}

	m.SenderName = str(obj, fSenderName)
	m.SenderAvatar = str(obj, fSenderAvatar)
	m.Content = str(obj, fContent)
	m.ImageData = str(obj, fImageData)
	m.MessageType = model.MessageType(str(obj, fMessageType))
	if m.MessageType == "" {
		m.MessageType = model.MessageText
	}
	m.CreatedAt = timestamp(obj, fCreatedAt)
	if v, ok := fIsRead.from(obj); ok {
		m.IsRead = truthy(v)
	}
	return m, nil
}

func requireID(obj map[string]any, f field) (int64, error) {
	id, ok := optionalID(obj, f)
	if !ok || id <= 0 {
		return 0, apperr.Invalid("%s is not a valid id", f.camel)
	}
	return id, nil
}

func optionalID(obj map[string]any, f field) (int64, bool) {
	v, ok := f.from(obj)
	if !ok {
		return 0, false
	}
	return toInt64(v)
}

// toInt64 coerces JSON numbers and numeric strings. Fractions are rejected.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func str(obj map[string]any, f field) string {
	v, ok := f.from(obj)
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case json.Number:
		return b.String() != "0"
	case string:
		parsed, _ := strconv.ParseBool(b)
		return parsed
	default:
		return false
	}
}

// timestamp reads RFC 3339 or SQL datetime strings and Unix milliseconds. Unreadable values
// yield the zero time.
func timestamp(obj map[string]any, f field) time.Time {
	v, ok := f.from(obj)
	if !ok {
		return time.Time{}
	}
	if s, ok := v.(string); ok {
		for _, layout := range []string{time.RFC3339Nano, time.DateTime} {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
	}
	if ms, ok := toInt64(v); ok {
		return time.UnixMilli(ms)
	}
	return time.Time{}
}

// Known reports whether the consumer handles events of type t.
func Known(t model.EventType) bool {
	switch t {
	case model.EventConnected, model.EventPing, model.EventNewMessage,
		model.EventMessageRead, model.EventPresenceOnline, model.EventPresenceOffline:
		return true
	}
	return false
}
