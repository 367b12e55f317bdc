package database

// Timestamps are Unix milliseconds so the same queries run on both drivers.

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id BIGINT PRIMARY KEY,
		display_name VARCHAR(255) NOT NULL,
		avatar_url VARCHAR(1024) NOT NULL DEFAULT ''
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS chats (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		kind VARCHAR(16) NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		last_activity_at BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS chat_participants (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		chat_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		UNIQUE KEY uq_chat_user (chat_id, user_id),
		KEY idx_participant_user (user_id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS messages (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		chat_id BIGINT NOT NULL,
		sender_id BIGINT NOT NULL,
		sender_name VARCHAR(255) NOT NULL,
		sender_avatar VARCHAR(1024) NOT NULL,
		content TEXT NOT NULL,
		message_type VARCHAR(16) NOT NULL,
		image_data MEDIUMTEXT NOT NULL,
		created_at BIGINT NOT NULL,
		KEY idx_message_chat (chat_id, id),
		KEY idx_message_sender (sender_id, id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS message_reads (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		message_id BIGINT NOT NULL,
		reader_id BIGINT NOT NULL,
		read_at BIGINT NOT NULL,
		UNIQUE KEY uq_message_reader (message_id, reader_id)
	) ENGINE=InnoDB`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id INTEGER PRIMARY KEY,
		display_name TEXT NOT NULL,
		avatar_url TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS chats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		last_activity_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_participants (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		UNIQUE (chat_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id INTEGER NOT NULL,
		sender_id INTEGER NOT NULL,
		sender_name TEXT NOT NULL,
		sender_avatar TEXT NOT NULL,
		content TEXT NOT NULL,
		message_type TEXT NOT NULL,
		image_data TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_message_chat ON messages (chat_id, id)`,
	`CREATE TABLE IF NOT EXISTS message_reads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id INTEGER NOT NULL,
		reader_id INTEGER NOT NULL,
		read_at INTEGER NOT NULL,
		UNIQUE (message_id, reader_id)
	)`,
}
