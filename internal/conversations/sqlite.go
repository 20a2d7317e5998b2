package conversations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/adze-dev/adze/pkg/models"
)

// SQLiteStore implements the Store interface on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// SQLiteConfig holds configuration for the SQLite connection.
type SQLiteConfig struct {
	Path        string
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns default configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:        "adze.db",
		BusyTimeout: 5 * time.Second,
	}
}

// NewSQLiteStore opens the database at config.Path and ensures the schema.
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		config.Path, config.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; a single pooled connection also keeps
	// in-memory databases stable across calls.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// DB exposes the underlying database connection for related stores.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			usage_json TEXT,
			created_at TIMESTAMP NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS messages_conv_seq ON messages(conversation_id, seq);
		CREATE TABLE IF NOT EXISTS bookmarks (
			conversation_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (conversation_id, key)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv == nil {
		return errors.New("conversation is required")
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}
	conv.UpdatedAt = conv.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, conv.ID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	for key, value := range conv.Bookmarks {
		if err := s.SetBookmark(ctx, conv.ID, key, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?
	`, id).Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	bm, err := s.Bookmarks(ctx, id)
	if err != nil {
		return nil, err
	}
	conv.Bookmarks = bm
	return &conv, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_at, updated_at FROM conversations ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, &conv)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM bookmarks WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete bookmarks: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) SetTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?
	`, title, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set title: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check conversation: %w", err)
	}

	var (
		lastID      string
		lastRole    string
		lastContent string
		lastSeq     int64
		lastCreated time.Time
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, role, content, seq, created_at FROM messages
		WHERE conversation_id = ? ORDER BY seq DESC LIMIT 1
	`, conversationID).Scan(&lastID, &lastRole, &lastContent, &lastSeq, &lastCreated)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read last message: %w", err)
	}
	hasLast := err == nil

	now := time.Now()
	if hasLast && msg.Role == models.RoleAssistant && lastRole == string(models.RoleAssistant) {
		merged := mergeContent(lastContent, msg.Content)
		if _, err := tx.ExecContext(ctx, `UPDATE messages SET content = ? WHERE id = ?`, merged, lastID); err != nil {
			return fmt.Errorf("failed to merge assistant message: %w", err)
		}
		msg.ID = lastID
		msg.ConversationID = conversationID
		msg.Content = merged
		msg.CreatedAt = lastCreated
	} else {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		msg.ConversationID = conversationID
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		usageJSON, err := marshalUsage(msg.Usage)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, seq, role, content, usage_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, msg.ID, conversationID, lastSeq+1, string(msg.Role), msg.Content, usageJSON, msg.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID); err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Messages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, usage_json, created_at FROM messages
		WHERE conversation_id = ? ORDER BY seq
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows, conversationID)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LastMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, role, content, usage_json, created_at FROM messages
		WHERE conversation_id = ? ORDER BY seq DESC LIMIT 1
	`, conversationID)
	msg, err := scanMessage(row, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return msg, err
}

func (s *SQLiteStore) UpdateUsage(ctx context.Context, conversationID, messageID string, usage *models.TokenUsage) error {
	if usage == nil {
		return errors.New("usage is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin usage update: %w", err)
	}
	defer tx.Rollback()

	var existing sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT usage_json FROM messages WHERE conversation_id = ? AND id = ?
	`, conversationID, messageID).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read usage: %w", err)
	}
	if existing.Valid && existing.String != "" {
		return ErrUsageAlreadySet
	}

	usageJSON, err := marshalUsage(usage)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET usage_json = ? WHERE conversation_id = ? AND id = ?
	`, usageJSON, conversationID, messageID); err != nil {
		return fmt.Errorf("failed to update usage: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) SetBookmark(ctx context.Context, conversationID, key, value string) error {
	if key == "" {
		return errors.New("bookmark key is required")
	}
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check conversation: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bookmarks (conversation_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT (conversation_id, key) DO UPDATE SET value = excluded.value
	`, conversationID, key, value)
	if err != nil {
		return fmt.Errorf("failed to set bookmark: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Bookmarks(ctx context.Context, conversationID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value FROM bookmarks WHERE conversation_id = ?
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan bookmark: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner, conversationID string) (*models.Message, error) {
	var (
		msg       models.Message
		role      string
		usageJSON sql.NullString
	)
	if err := row.Scan(&msg.ID, &role, &msg.Content, &usageJSON, &msg.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	msg.ConversationID = conversationID
	msg.Role = models.Role(role)
	if usageJSON.Valid && usageJSON.String != "" {
		var usage models.TokenUsage
		if err := json.Unmarshal([]byte(usageJSON.String), &usage); err != nil {
			return nil, fmt.Errorf("failed to decode usage: %w", err)
		}
		msg.Usage = &usage
	}
	return &msg, nil
}

func marshalUsage(usage *models.TokenUsage) (any, error) {
	if usage == nil {
		return nil, nil
	}
	raw, err := json.Marshal(usage)
	if err != nil {
		return nil, fmt.Errorf("failed to encode usage: %w", err)
	}
	return string(raw), nil
}
