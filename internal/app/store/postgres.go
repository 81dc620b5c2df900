package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"forumdm/internal/app/db"
	"forumdm/internal/app/user"
)

// Postgres is the production Store backed by a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an already migrated pool (see db.NewPool).
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const pgMessageColumns = `id, sender_id, recipient_id, content, COALESCE(correlation_token, ''), created_at, is_read`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.CorrelationToken, &m.CreatedAt, &m.IsRead)
	return m, err
}

func nullableToken(token string) *string {
	if token == "" {
		return nil
	}
	return &token
}

// SaveMessage implements Store. A replayed token hits the unique index
// and returns the row stored the first time.
func (p *Postgres) SaveMessage(ctx context.Context, nm NewMessage) (Message, bool, error) {
	row := p.pool.QueryRow(ctx,
		`INSERT INTO messages (sender_id, recipient_id, content, correlation_token, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+pgMessageColumns,
		nm.SenderID, nm.RecipientID, nm.Content, nullableToken(nm.CorrelationToken), nm.CreatedAt,
	)

	msg, err := scanMessage(row)
	if err == nil {
		return msg, false, nil
	}
	if !db.IsUniqueViolation(err) {
		return Message{}, false, fmt.Errorf("insert message: %w", err)
	}

	existing, err := scanMessage(p.pool.QueryRow(ctx,
		`SELECT `+pgMessageColumns+` FROM messages WHERE sender_id = $1 AND correlation_token = $2`,
		nm.SenderID, nm.CorrelationToken,
	))
	if err != nil {
		return Message{}, false, fmt.Errorf("load duplicated message: %w", err)
	}
	return existing, true, nil
}

func (p *Postgres) History(ctx context.Context, viewer, counterpart int64, offset, limit int) ([]Message, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+pgMessageColumns+` FROM messages
		 WHERE (sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1)
		 ORDER BY id DESC
		 LIMIT $3 OFFSET $4`,
		viewer, counterpart, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkRead(ctx context.Context, reader, counterpart int64) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE messages SET is_read = TRUE
		 WHERE recipient_id = $1 AND sender_id = $2 AND NOT is_read`,
		reader, counterpart,
	)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) GetUser(ctx context.Context, id int64) (user.User, error) {
	var u user.User
	err := p.pool.QueryRow(ctx,
		`SELECT id, display_name, avatar_key FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.DisplayName, &u.AvatarKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return user.User{}, ErrUserNotFound
	}
	if err != nil {
		return user.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (p *Postgres) UpsertUser(ctx context.Context, u user.User) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO users (id, display_name, avatar_key) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, avatar_key = EXCLUDED.avatar_key`,
		u.ID, u.DisplayName, u.AvatarKey,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (p *Postgres) ListUsers(ctx context.Context, viewer int64) ([]UserSummary, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT u.id, u.display_name, u.avatar_key, u.last_seen,
		        lm.content, lm.created_at, COALESCE(uc.cnt, 0)
		 FROM users u
		 LEFT JOIN LATERAL (
		     SELECT m.content, m.created_at FROM messages m
		     WHERE (m.sender_id = u.id AND m.recipient_id = $1)
		        OR (m.sender_id = $1 AND m.recipient_id = u.id)
		     ORDER BY m.id DESC LIMIT 1
		 ) lm ON TRUE
		 LEFT JOIN LATERAL (
		     SELECT COUNT(*) AS cnt FROM messages m
		     WHERE m.sender_id = u.id AND m.recipient_id = $1 AND NOT m.is_read
		 ) uc ON TRUE
		 WHERE u.id <> $1
		 ORDER BY lm.created_at DESC NULLS LAST, u.display_name, u.id`,
		viewer,
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []UserSummary
	for rows.Next() {
		var (
			s       UserSummary
			content *string
			unread  int64
		)
		if err := rows.Scan(&s.ID, &s.DisplayName, &s.AvatarKey, &s.LastSeen, &content, &s.LastMessageAt, &unread); err != nil {
			return nil, fmt.Errorf("scan user summary: %w", err)
		}
		if content != nil {
			s.LastMessagePreview = preview(*content)
		}
		s.UnreadCount = int(unread)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) Contacts(ctx context.Context, id int64) ([]int64, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT DISTINCT CASE WHEN sender_id = $1 THEN recipient_id ELSE sender_id END
		 FROM messages
		 WHERE (sender_id = $1 OR recipient_id = $1) AND sender_id <> recipient_id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("contacts: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (p *Postgres) TouchLastSeen(ctx context.Context, id int64, at time.Time) error {
	tag, err := p.pool.Exec(ctx, `UPDATE users SET last_seen = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch last seen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
