// Package dbtest provides throwaway SQLite databases with the chat schema
// for package tests.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"potluck/internal/database"
)

// New returns a migrated database that is closed when the test ends.
func New(t testing.TB) *sql.DB {
	t.Helper()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "potluck.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(context.Background(), db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Profile inserts a user profile.
func Profile(t testing.TB, db *sql.DB, userID int64, name, avatar string) {
	t.Helper()
	if _, err := db.Exec("INSERT INTO profiles (id, display_name, avatar_url) VALUES (?, ?, ?)",
		userID, name, avatar); err != nil {
		t.Fatalf("insert profile: %v", err)
	}
}

// Chat inserts a chat with the given members and returns its id.
func Chat(t testing.TB, db *sql.DB, kind, name string, members ...int64) int64 {
	t.Helper()
	now := time.Now().UnixMilli()
	res, err := db.Exec("INSERT INTO chats (kind, name, last_activity_at, created_at) VALUES (?, ?, ?, ?)",
		kind, name, now, now)
	if err != nil {
		t.Fatalf("insert chat: %v", err)
	}
	chatID, _ := res.LastInsertId()
	for _, userID := range members {
		if _, err := db.Exec("INSERT INTO chat_participants (chat_id, user_id) VALUES (?, ?)", chatID, userID); err != nil {
			t.Fatalf("insert participant: %v", err)
		}
	}
	return chatID
}

// Message inserts a raw text message row bypassing the send path.
func Message(t testing.TB, db *sql.DB, chatID, senderID int64, content string) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO messages
		(chat_id, sender_id, sender_name, sender_avatar, content, message_type, image_data, created_at)
		VALUES (?, ?, ?, '', ?, 'text', '', ?)`,
		chatID, senderID, "user", content, time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("insert message: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

// Count returns the row count of a table.
func Count(t testing.TB, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
