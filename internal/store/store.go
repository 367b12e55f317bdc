package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"potluck/internal/apperr"
	"potluck/internal/database"
	"potluck/internal/model"
)

// Store reads and writes the chat tables.
type Store struct {
	DB *sql.DB
	// CommitGrace hides rows younger than this from the poll reads. MySQL
	// can commit concurrent inserts out of id order; a row becomes visible
	// to pollers only once every lower id has had time to commit.
	CommitGrace time.Duration
}

// New creates a Store over an open database.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

const messageColumns = `m.id, m.chat_id, m.sender_id, m.sender_name, m.sender_avatar,
	m.content, m.message_type, m.image_data, m.created_at`

func scanMessage(scan func(dest ...any) error, extra ...any) (model.Message, error) {
	var (
		m         model.Message
		createdAt int64
	)
	dest := []any{&m.ID, &m.ChatID, &m.SenderID, &m.SenderName, &m.SenderAvatar,
		&m.Content, &m.MessageType, &m.ImageData, &createdAt}
	if err := scan(append(dest, extra...)...); err != nil {
		return model.Message{}, err
	}
	m.CreatedAt = time.UnixMilli(createdAt)
	return m, nil
}

// IsParticipant reports whether userID is a member of chatID.
func (s *Store) IsParticipant(ctx context.Context, chatID, userID int64) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id = ? AND user_id = ?)",
		chatID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return exists, nil
}

// Participants returns every member of a chat.
func (s *Store) Participants(ctx context.Context, chatID int64) ([]int64, error) {
	return s.userIDs(ctx, "SELECT user_id FROM chat_participants WHERE chat_id = ? ORDER BY user_id", chatID)
}

// CoParticipants returns every user sharing at least one chat with userID.
func (s *Store) CoParticipants(ctx context.Context, userID int64) ([]int64, error) {
	return s.userIDs(ctx, `SELECT DISTINCT other.user_id
		FROM chat_participants mine
		JOIN chat_participants other ON other.chat_id = mine.chat_id
		WHERE mine.user_id = ? AND other.user_id <> ?
		ORDER BY other.user_id`, userID, userID)
}

func (s *Store) userIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Profile loads the display attributes of a user.
func (s *Store) Profile(ctx context.Context, userID int64) (model.Profile, error) {
	p := model.Profile{UserID: userID}
	err := s.DB.QueryRowContext(ctx, "SELECT display_name, avatar_url FROM profiles WHERE id = ?", userID).
		Scan(&p.DisplayName, &p.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("profile %d: %w", userID, apperr.ErrNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("load profile: %w", err)
	}
	return p, nil
}

// CreateMessage persists m and bumps the chat's last activity in one
// transaction. The returned message carries the assigned id.
func (s *Store) CreateMessage(ctx context.Context, m model.Message) (model.Message, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.Message{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	created := m.CreatedAt.UnixMilli()
	res, err := tx.ExecContext(ctx, `INSERT INTO messages
		(chat_id, sender_id, sender_name, sender_avatar, content, message_type, image_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ChatID, m.SenderID, m.SenderName, m.SenderAvatar, m.Content, m.MessageType, m.ImageData, created)
	if err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return model.Message{}, fmt.Errorf("message id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE chats SET last_activity_at = ? WHERE id = ?", created, m.ChatID); err != nil {
		return model.Message{}, fmt.Errorf("touch chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Message{}, fmt.Errorf("commit: %w", err)
	}
	m.CreatedAt = time.UnixMilli(created)
	return m, nil
}

// MaxMessageID returns the current message watermark horizon.
func (s *Store) MaxMessageID(ctx context.Context) (int64, error) {
	return maxID(ctx, s.DB, "messages")
}

// MaxReceiptID returns the current read-receipt watermark horizon.
func (s *Store) MaxReceiptID(ctx context.Context) (int64, error) {
	return maxID(ctx, s.DB, "message_reads")
}

// visibleBefore is the newest timestamp, in Unix milliseconds, a poll read
// may return.
func (s *Store) visibleBefore() int64 {
	return time.Now().Add(-s.CommitGrace).UnixMilli()
}

func maxID(ctx context.Context, q database.Querier, table string) (int64, error) {
	var id int64
	if err := q.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM "+table).Scan(&id); err != nil {
		return 0, fmt.Errorf("max id of %s: %w", table, err)
	}
	return id, nil
}

// MessagesSince returns messages with id > afterID in chats userID
// participates in, ascending by id. Rows authored by userID are included so
// the caller can advance past them.
func (s *Store) MessagesSince(ctx context.Context, userID, afterID int64, limit int) ([]model.Message, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+messageColumns+`
		FROM messages m
		JOIN chat_participants p ON p.chat_id = m.chat_id AND p.user_id = ?
		WHERE m.id > ? AND m.created_at <= ?
		ORDER BY m.id ASC
		LIMIT ?`, userID, afterID, s.visibleBefore(), limit)
	if err != nil {
		return nil, fmt.Errorf("messages since %d: %w", afterID, err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ReceiptsSince returns read receipts with id > afterID on messages authored
// by userID, ascending by id.
func (s *Store) ReceiptsSince(ctx context.Context, userID, afterID int64, limit int) ([]model.ReadReceipt, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT r.id, r.message_id, m.chat_id, r.reader_id, r.read_at
		FROM message_reads r
		JOIN messages m ON m.id = r.message_id
		WHERE m.sender_id = ? AND r.id > ? AND r.read_at <= ?
		ORDER BY r.id ASC
		LIMIT ?`, userID, afterID, s.visibleBefore(), limit)
	if err != nil {
		return nil, fmt.Errorf("receipts since %d: %w", afterID, err)
	}
	defer rows.Close()

	var out []model.ReadReceipt
	for rows.Next() {
		var (
			r      model.ReadReceipt
			readAt int64
		)
		if err := rows.Scan(&r.ID, &r.MessageID, &r.ChatID, &r.ReaderID, &readAt); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		r.ReadAt = time.UnixMilli(readAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
