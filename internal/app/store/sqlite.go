package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"forumdm/internal/app/db"
	"forumdm/internal/app/user"
)

// SQLite is a single-node Store on mattn/go-sqlite3. Timestamps are stored
// as unix milliseconds.
type SQLite struct {
	db *sql.DB
}

// NewSQLite wraps a handle opened with db.OpenSQLite.
func NewSQLite(sqlDB *sql.DB) *SQLite {
	return &SQLite{db: sqlDB}
}

const liteMessageColumns = `id, sender_id, recipient_id, content, COALESCE(correlation_token, ''), created_at, is_read`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLiteMessage(row rowScanner) (Message, error) {
	var (
		m       Message
		created int64
	)
	if err := row.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.CorrelationToken, &created, &m.IsRead); err != nil {
		return Message{}, err
	}
	m.CreatedAt = time.UnixMilli(created).UTC()
	return m, nil
}

func nullTime(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.UnixMilli(ms.Int64).UTC()
	return &t
}

// SaveMessage implements Store.
func (s *SQLite) SaveMessage(ctx context.Context, nm NewMessage) (Message, bool, error) {
	var token any
	if nm.CorrelationToken != "" {
		token = nm.CorrelationToken
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (sender_id, recipient_id, content, correlation_token, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 RETURNING `+liteMessageColumns,
		nm.SenderID, nm.RecipientID, nm.Content, token, nm.CreatedAt.UnixMilli(),
	)

	msg, err := scanLiteMessage(row)
	if err == nil {
		return msg, false, nil
	}
	if !db.IsUniqueViolation(err) {
		return Message{}, false, fmt.Errorf("insert message: %w", err)
	}

	existing, err := scanLiteMessage(s.db.QueryRowContext(ctx,
		`SELECT `+liteMessageColumns+` FROM messages WHERE sender_id = ? AND correlation_token = ?`,
		nm.SenderID, nm.CorrelationToken,
	))
	if err != nil {
		return Message{}, false, fmt.Errorf("load duplicated message: %w", err)
	}
	return existing, true, nil
}

func (s *SQLite) History(ctx context.Context, viewer, counterpart int64, offset, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+liteMessageColumns+` FROM messages
		 WHERE (sender_id = ?1 AND recipient_id = ?2) OR (sender_id = ?2 AND recipient_id = ?1)
		 ORDER BY id DESC
		 LIMIT ?3 OFFSET ?4`,
		viewer, counterpart, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		m, err := scanLiteMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) MarkRead(ctx context.Context, reader, counterpart int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = 1 WHERE recipient_id = ? AND sender_id = ? AND is_read = 0`,
		reader, counterpart,
	)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) GetUser(ctx context.Context, id int64) (user.User, error) {
	var u user.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, avatar_key FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.DisplayName, &u.AvatarKey)
	if errors.Is(err, sql.ErrNoRows) {
		return user.User{}, ErrUserNotFound
	}
	if err != nil {
		return user.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *SQLite) UpsertUser(ctx context.Context, u user.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name, avatar_key) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET display_name = excluded.display_name, avatar_key = excluded.avatar_key`,
		u.ID, u.DisplayName, u.AvatarKey,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *SQLite) ListUsers(ctx context.Context, viewer int64) ([]UserSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.display_name, u.avatar_key, u.last_seen,
		        (SELECT m.content FROM messages m
		          WHERE (m.sender_id = u.id AND m.recipient_id = ?1) OR (m.sender_id = ?1 AND m.recipient_id = u.id)
		          ORDER BY m.id DESC LIMIT 1) AS last_content,
		        (SELECT m.created_at FROM messages m
		          WHERE (m.sender_id = u.id AND m.recipient_id = ?1) OR (m.sender_id = ?1 AND m.recipient_id = u.id)
		          ORDER BY m.id DESC LIMIT 1) AS last_at,
		        (SELECT COUNT(*) FROM messages m
		          WHERE m.sender_id = u.id AND m.recipient_id = ?1 AND m.is_read = 0) AS unread
		 FROM users u
		 WHERE u.id <> ?1
		 ORDER BY last_at IS NULL, last_at DESC, u.display_name, u.id`,
		viewer,
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []UserSummary
	for rows.Next() {
		var (
			s        UserSummary
			lastSeen sql.NullInt64
			content  sql.NullString
			lastAt   sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.DisplayName, &s.AvatarKey, &lastSeen, &content, &lastAt, &s.UnreadCount); err != nil {
			return nil, fmt.Errorf("scan user summary: %w", err)
		}
		s.LastSeen = nullTime(lastSeen)
		s.LastMessageAt = nullTime(lastAt)
		if content.Valid {
			s.LastMessagePreview = preview(content.String)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (s *SQLite) Contacts(ctx context.Context, id int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT CASE WHEN sender_id = ?1 THEN recipient_id ELSE sender_id END
		 FROM messages
		 WHERE (sender_id = ?1 OR recipient_id = ?1) AND sender_id <> recipient_id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("contacts: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var other int64
		if err := rows.Scan(&other); err != nil {
			return nil, err
		}
		out = append(out, other)
	}
	return out, rows.Err()
}

func (s *SQLite) TouchLastSeen(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET last_seen = ? WHERE id = ?`, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("touch last seen: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
