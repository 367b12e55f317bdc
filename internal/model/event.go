package model

// EventType names a frame on the realtime stream.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventPing            EventType = "ping"
	EventNewMessage      EventType = "new_message"
	EventMessageRead     EventType = "message_read"
	EventPresenceOnline  EventType = "presence_online"
	EventPresenceOffline EventType = "presence_offline"
)

// Event is the single wire schema for stream frames.
type Event struct {
	Type      EventType `json:"type"`
	Message   *Message  `json:"message,omitempty"`
	MessageID int64     `json:"messageId,omitempty"`
	ChatID    int64     `json:"chatId,omitempty"`
	ReaderID  int64     `json:"readerId,omitempty"`
	UserID    int64     `json:"userId,omitempty"`
}

func Connected() Event { return Event{Type: EventConnected} }

func Ping() Event { return Event{Type: EventPing} }

// NewMessage wraps a persisted message for push delivery. Push deliveries
// are always unread for the recipient.
func NewMessage(m Message) Event {
	m.IsRead = false
	return Event{Type: EventNewMessage, Message: &m}
}

func MessageRead(r ReadReceipt) Event {
	return Event{Type: EventMessageRead, MessageID: r.MessageID, ChatID: r.ChatID, ReaderID: r.ReaderID}
}

func Presence(userID int64, online bool) Event {
	if online {
		return Event{Type: EventPresenceOnline, UserID: userID}
	}
	return Event{Type: EventPresenceOffline, UserID: userID}
}
