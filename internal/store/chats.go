package store

import (
	"context"
	"fmt"
	"time"

	"potluck/internal/model"
)

// ListChats returns the chats userID belongs to with their unread inbound
// counts, most recently active first.
func (s *Store) ListChats(ctx context.Context, userID int64) ([]model.ChatSummary, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT c.id, c.kind, c.name, c.last_activity_at,
		(SELECT COUNT(*) FROM messages m
			WHERE m.chat_id = c.id AND m.sender_id <> ?
			AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.reader_id = ?)
		) AS unread
		FROM chats c
		JOIN chat_participants p ON p.chat_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.last_activity_at DESC, c.id DESC`, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	chats := []model.ChatSummary{}
	for rows.Next() {
		var (
			c            model.ChatSummary
			lastActivity int64
		)
		if err := rows.Scan(&c.ID, &c.Kind, &c.Name, &lastActivity, &c.UnreadCount); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		c.LastActivity = time.UnixMilli(lastActivity)
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// ListMessages returns the latest limit messages of a chat in ascending id
// order. IsRead is relative to viewerID: inbound messages are read once the
// viewer has a receipt, outbound ones once anyone else does.
func (s *Store) ListMessages(ctx context.Context, chatID, viewerID int64, limit int) ([]model.Message, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT * FROM (
		SELECT `+messageColumns+`,
			CASE WHEN m.sender_id = ?
				THEN EXISTS(SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.reader_id <> ?)
				ELSE EXISTS(SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.reader_id = ?)
			END AS is_read
		FROM messages m
		WHERE m.chat_id = ?
		ORDER BY m.id DESC
		LIMIT ?
	) recent ORDER BY recent.id ASC`, viewerID, viewerID, viewerID, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	msgs := []model.Message{}
	for rows.Next() {
		var isRead int64
		m, err := scanMessage(rows.Scan, &isRead)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.IsRead = isRead != 0
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkRead records receipts by readerID for inbound messages of chatID.
// An empty messageIDs marks every unread inbound message. Already read and
// outbound messages are skipped. It returns the number of receipts written.
func (s *Store) MarkRead(ctx context.Context, chatID, readerID int64, messageIDs []int64) (int, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	const insert = `INSERT INTO message_reads (message_id, reader_id, read_at)
		SELECT m.id, ?, ? FROM messages m
		WHERE m.chat_id = ? AND m.sender_id <> ? %s
		AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.reader_id = ?)
		ORDER BY m.id`

	var written int64
	if len(messageIDs) == 0 {
		res, err := tx.ExecContext(ctx, fmt.Sprintf(insert, ""), readerID, now, chatID, readerID, readerID)
		if err != nil {
			return 0, fmt.Errorf("mark chat read: %w", err)
		}
		written, _ = res.RowsAffected()
	}
	for _, id := range messageIDs {
		res, err := tx.ExecContext(ctx, fmt.Sprintf(insert, "AND m.id = ?"), readerID, now, chatID, readerID, id, readerID)
		if err != nil {
			return 0, fmt.Errorf("mark message %d read: %w", id, err)
		}
		n, _ := res.RowsAffected()
		written += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(written), nil
}
