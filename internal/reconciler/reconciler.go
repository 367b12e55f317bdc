// Package reconciler keeps a client's view of chats and the open
// conversation consistent with pushed events and REST reads.
package reconciler

import (
	"cmp"
	"context"
	"log"
	"maps"
	"slices"
	"sync"

	"github.com/samber/lo"

	"potluck/internal/model"
)

// HistoryLimit is how many messages a selection loads.
const HistoryLimit = 100

// API is the server surface the reconciler reads from.
type API interface {
	ListChats(ctx context.Context) ([]model.ChatSummary, error)
	ListMessages(ctx context.Context, chatID int64, limit int) ([]model.Message, error)
	MarkRead(ctx context.Context, chatID int64, messageIDs []int64) error
	SendMessage(ctx context.Context, chatID int64, content string) (model.Message, error)
}

// AutoSelect decides whether an inbound message opens its chat. It applies
// to chats already in the list and to chats learned through a refresh.
type AutoSelect int

const (
	// AutoSelectAlways switches to the message's chat even if another is open.
	AutoSelectAlways AutoSelect = iota
	// AutoSelectWhenIdle switches only when no chat is open.
	AutoSelectWhenIdle
	AutoSelectNever
)

func (a AutoSelect) String() string {
	switch a {
	case AutoSelectAlways:
		return "always"
	case AutoSelectWhenIdle:
		return "when-idle"
	case AutoSelectNever:
		return "never"
	default:
		return "unknown"
	}
}

// ParseAutoSelect is the inverse of AutoSelect.String.
func ParseAutoSelect(s string) (AutoSelect, bool) {
	for _, a := range []AutoSelect{AutoSelectAlways, AutoSelectWhenIdle, AutoSelectNever} {
		if a.String() == s {
			return a, true
		}
	}
	return AutoSelectAlways, false
}

// Reconciler is safe for concurrent use. Network calls are made without
// holding its lock.
type Reconciler struct {
	api    API
	userID int64
	policy AutoSelect

	mu         sync.Mutex
	chats      []model.ChatSummary
	selected   int64
	messages   []model.Message
	generation uint64
	online     map[int64]bool
	counted    map[int64]int64 // message id to chat id, for unread pushes
	refetching bool
	pending    []model.Message

	tasks sync.WaitGroup
}

func New(api API, userID int64, policy AutoSelect) *Reconciler {
	return &Reconciler{
		api:     api,
		userID:  userID,
		policy:  policy,
		online:  make(map[int64]bool),
		counted: make(map[int64]int64),
	}
}

// Load replaces the chat list with the server's.
func (r *Reconciler) Load(ctx context.Context) error {
	chats, err := r.api.ListChats(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setChatsLocked(chats)
	return nil
}

func (r *Reconciler) setChatsLocked(chats []model.ChatSummary) {
	r.chats = slices.Clone(chats)
	// The server's counts now include every message counted so far.
	clear(r.counted)
	if i := r.chatIndexLocked(r.selected); i >= 0 {
		r.chats[i].UnreadCount = 0
	}
	r.sortChatsLocked()
}

func (r *Reconciler) chatIndexLocked(chatID int64) int {
	if chatID == 0 {
		return -1
	}
	return slices.IndexFunc(r.chats, func(c model.ChatSummary) bool { return c.ID == chatID })
}

// sortChatsLocked orders chats by last activity, most recent first.
func (r *Reconciler) sortChatsLocked() {
	slices.SortStableFunc(r.chats, func(a, b model.ChatSummary) int {
		if c := b.LastActivity.Compare(a.LastActivity); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}

// Select opens a chat: its unread count drops to zero immediately, its
// history replaces the message list and its unread inbound messages are
// marked read in the background. A fetch superseded by a later selection
// is discarded.
func (r *Reconciler) Select(ctx context.Context, chatID int64) error {
	r.mu.Lock()
	gen := r.beginSelectLocked(chatID)
	r.mu.Unlock()
	return r.loadSelection(ctx, chatID, gen)
}

// beginSelectLocked switches the view to chatID and returns the generation
// its history fetch must match.
func (r *Reconciler) beginSelectLocked(chatID int64) uint64 {
	r.generation++
	r.selected = chatID
	r.messages = nil
	if i := r.chatIndexLocked(chatID); i >= 0 {
		r.chats[i].UnreadCount = 0
	}
	maps.DeleteFunc(r.counted, func(_, c int64) bool { return c == chatID })
	return r.generation
}

// opensLocked reports whether an inbound message for chatID should open it.
func (r *Reconciler) opensLocked(chatID int64) bool {
	switch r.policy {
	case AutoSelectAlways:
		return chatID != r.selected
	case AutoSelectWhenIdle:
		return r.selected == 0
	default:
		return false
	}
}

func (r *Reconciler) loadSelection(ctx context.Context, chatID int64, gen uint64) error {
	history, err := r.api.ListMessages(ctx, chatID, HistoryLimit)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		return nil
	}
	// Pushes that raced the fetch are kept.
	merged := slices.Clone(history)
	for _, m := range r.messages {
		if !containsMessage(merged, m.ID) {
			merged = append(merged, m)
		}
	}
	slices.SortFunc(merged, func(a, b model.Message) int { return cmp.Compare(a.ID, b.ID) })

	var unread []int64
	for i := range merged {
		if merged[i].SenderID != r.userID && !merged[i].IsRead {
			unread = append(unread, merged[i].ID)
			merged[i].IsRead = true
		}
	}
	r.messages = merged
	r.mu.Unlock()

	if len(unread) > 0 {
		r.markReadAsync(ctx, chatID, unread)
	}
	return nil
}

func (r *Reconciler) markReadAsync(ctx context.Context, chatID int64, ids []int64) {
	r.tasks.Add(1)
	go func() {
		defer r.tasks.Done()
		if err := r.api.MarkRead(context.WithoutCancel(ctx), chatID, ids); err != nil {
			log.Printf("[Reconciler] ❌ mark read chat=%d: %v", chatID, err)
		}
	}()
}

// Deselect closes the open chat.
func (r *Reconciler) Deselect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	r.selected = 0
	r.messages = nil
}

// Apply folds one pushed event into the view.
func (r *Reconciler) Apply(ctx context.Context, ev model.Event) {
	switch ev.Type {
	case model.EventNewMessage:
		if ev.Message != nil {
			r.applyMessage(ctx, *ev.Message)
		}
	case model.EventMessageRead:
		r.mu.Lock()
		for i := range r.messages {
			if r.messages[i].ID == ev.MessageID {
				r.messages[i].IsRead = true
			}
		}
		r.mu.Unlock()
	case model.EventPresenceOnline, model.EventPresenceOffline:
		r.mu.Lock()
		if ev.Type == model.EventPresenceOnline {
			r.online[ev.UserID] = true
		} else {
			delete(r.online, ev.UserID)
		}
		r.mu.Unlock()
	}
}

func (r *Reconciler) applyMessage(ctx context.Context, m model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.chatIndexLocked(m.ChatID) < 0 {
		r.pending = append(r.pending, m)
		if !r.refetching {
			r.refetching = true
			r.tasks.Add(1)
			go r.refetch(ctx)
		}
		return
	}
	if m.SenderID != r.userID && r.opensLocked(m.ChatID) {
		gen := r.beginSelectLocked(m.ChatID)
		r.applyKnownLocked(m, false)
		r.tasks.Add(1)
		go func() {
			defer r.tasks.Done()
			if err := r.loadSelection(ctx, m.ChatID, gen); err != nil {
				log.Printf("[Reconciler] ❌ open chat %d: %v", m.ChatID, err)
			}
		}()
		return
	}
	r.applyKnownLocked(m, true)
}

// applyKnownLocked records m against a chat present in the list.
// countUnread is false when the server's unread count already includes m.
func (r *Reconciler) applyKnownLocked(m model.Message, countUnread bool) {
	i := r.chatIndexLocked(m.ChatID)

	if m.ChatID == r.selected {
		if !containsMessage(r.messages, m.ID) {
			r.messages = append(r.messages, m)
			slices.SortStableFunc(r.messages, func(a, b model.Message) int { return cmp.Compare(a.ID, b.ID) })
		}
	} else if countUnread && m.SenderID != r.userID {
		if _, seen := r.counted[m.ID]; !seen {
			r.counted[m.ID] = m.ChatID
			r.chats[i].UnreadCount++
		}
	}

	if m.CreatedAt.After(r.chats[i].LastActivity) {
		r.chats[i].LastActivity = m.CreatedAt
	}
	r.sortChatsLocked()
}

// refetch reloads the chat list once for every message that arrived for an
// unknown chat in the meantime, then replays them.
func (r *Reconciler) refetch(ctx context.Context) {
	defer r.tasks.Done()

	chats, err := r.api.ListChats(ctx)

	r.mu.Lock()
	r.refetching = false
	if err != nil {
		// Pending messages wait for the next unknown-chat event to retry.
		r.mu.Unlock()
		log.Printf("[Reconciler] ❌ refresh chat list: %v", err)
		return
	}
	r.setChatsLocked(chats)

	pending := r.pending
	r.pending = nil
	var target int64
	for _, m := range pending {
		if r.chatIndexLocked(m.ChatID) < 0 {
			log.Printf("[Reconciler] dropping message %d for unknown chat %d", m.ID, m.ChatID)
			continue
		}
		r.applyKnownLocked(m, false)
		if m.SenderID != r.userID {
			target = m.ChatID
		}
	}
	if target != 0 && !r.opensLocked(target) {
		target = 0
	}
	r.mu.Unlock()

	if target != 0 {
		if err := r.Select(ctx, target); err != nil {
			log.Printf("[Reconciler] ❌ open chat %d: %v", target, err)
		}
	}
}

// Send posts a message and applies the stored row locally.
func (r *Reconciler) Send(ctx context.Context, chatID int64, content string) (model.Message, error) {
	m, err := r.api.SendMessage(ctx, chatID, content)
	if err != nil {
		return model.Message{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chatIndexLocked(chatID) >= 0 {
		r.applyKnownLocked(m, false)
	}
	return m, nil
}

// Chats returns the chat list, most recently active first.
func (r *Reconciler) Chats() []model.ChatSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.chats)
}

// Messages returns the open chat's messages in ascending id order.
func (r *Reconciler) Messages() []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.messages)
}

// Selected returns the open chat, or 0.
func (r *Reconciler) Selected() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

// Online returns the users currently announced online, ascending.
func (r *Reconciler) Online() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := lo.Keys(r.online)
	slices.Sort(ids)
	return ids
}

// Wait blocks until background refreshes and read receipts have finished.
func (r *Reconciler) Wait() {
	r.tasks.Wait()
}

func containsMessage(msgs []model.Message, id int64) bool {
	return lo.ContainsBy(msgs, func(m model.Message) bool { return m.ID == id })
}
