/*
Package store persists direct messages and the user directory behind the
MessageStore and UserDirectory interfaces. The hub is the only writer of
messages; HTTP handlers read history and user lists through the same Store.

Three backends implement Store: Memory for tests and development,
Postgres for production, and SQLite for single-node deployments.
*/
package store

import (
	"context"
	"errors"
	"time"

	"forumdm/internal/app/user"
)

var (
	// ErrUserNotFound is returned when a user id does not resolve.
	ErrUserNotFound = errors.New("store: user not found")

	// ErrClosed is returned by a store after Close.
	ErrClosed = errors.New("store: closed")
)

// Message is a persisted direct message. ID is assigned once, by the store,
// and increases monotonically in persistence order.
type Message struct {
	ID               int64
	SenderID         int64
	RecipientID      int64
	Content          string
	CorrelationToken string
	CreatedAt        time.Time
	IsRead           bool
}

// NewMessage is the input to SaveMessage.
type NewMessage struct {
	SenderID         int64
	RecipientID      int64
	Content          string
	CorrelationToken string
	CreatedAt        time.Time
}

// UserSummary is a user as listed for a particular viewer.
type UserSummary struct {
	user.User
	LastSeen           *time.Time
	LastMessagePreview string
	LastMessageAt      *time.Time
	UnreadCount        int
}

// MessageStore persists and queries direct messages.
type MessageStore interface {
	// SaveMessage persists m and returns it with its durable id. When m has a
	// correlation token already stored for the same sender, the original
	// message is returned with duplicated set and nothing new is written.
	SaveMessage(ctx context.Context, m NewMessage) (saved Message, duplicated bool, err error)

	// History returns up to limit messages exchanged between viewer and
	// counterpart, newest first, skipping the offset newest.
	History(ctx context.Context, viewer, counterpart int64, offset, limit int) ([]Message, error)

	// MarkRead marks every unread message from counterpart to reader as read
	// and returns how many changed.
	MarkRead(ctx context.Context, reader, counterpart int64) (int64, error)
}

// UserDirectory resolves and lists forum users.
type UserDirectory interface {
	GetUser(ctx context.Context, id int64) (user.User, error)
	UpsertUser(ctx context.Context, u user.User) error

	// ListUsers returns every user except viewer, most recent conversation
	// first, then by display name.
	ListUsers(ctx context.Context, viewer int64) ([]UserSummary, error)

	// Contacts returns the ids of users that have exchanged at least one message with id.
	Contacts(ctx context.Context, id int64) ([]int64, error)

	TouchLastSeen(ctx context.Context, id int64, at time.Time) error
}

// Store is the full persistence surface.
type Store interface {
	MessageStore
	UserDirectory
	Close() error
}

// previewLimit caps lastMessagePreview in runes.
const previewLimit = 80

func preview(content string) string {
	r := []rune(content)
	if len(r) <= previewLimit {
		return content
	}
	return string(r[:previewLimit-1]) + "…"
}
