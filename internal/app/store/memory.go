package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"forumdm/internal/app/user"
)

type tokenKey struct {
	sender int64
	token  string
}

type memUser struct {
	user     user.User
	lastSeen *time.Time
}

// Memory is an in-process Store.
type Memory struct {
	mu       sync.RWMutex
	users    map[int64]*memUser
	messages []Message // persistence order, ids ascending
	byToken  map[tokenKey]int
	nextID   int64
	closed   bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:   make(map[int64]*memUser),
		byToken: make(map[tokenKey]int),
		nextID:  1,
	}
}

// SaveMessage implements Store.
func (m *Memory) SaveMessage(ctx context.Context, nm NewMessage) (Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Message{}, false, ErrClosed
	}
	if _, ok := m.users[nm.SenderID]; !ok {
		return Message{}, false, ErrUserNotFound
	}
	if _, ok := m.users[nm.RecipientID]; !ok {
		return Message{}, false, ErrUserNotFound
	}

	key := tokenKey{sender: nm.SenderID, token: nm.CorrelationToken}
	if nm.CorrelationToken != "" {
		if idx, ok := m.byToken[key]; ok {
			return m.messages[idx], true, nil
		}
	}

	msg := Message{
		ID:               m.nextID,
		SenderID:         nm.SenderID,
		RecipientID:      nm.RecipientID,
		Content:          nm.Content,
		CorrelationToken: nm.CorrelationToken,
		CreatedAt:        nm.CreatedAt,
	}
	m.nextID++
	m.messages = append(m.messages, msg)
	if nm.CorrelationToken != "" {
		m.byToken[key] = len(m.messages) - 1
	}

	return msg, false, nil
}

func (m *Memory) History(ctx context.Context, viewer, counterpart int64, offset, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	page := make([]Message, 0, limit)
	skipped := 0
	for i := len(m.messages) - 1; i >= 0 && len(page) < limit; i-- {
		msg := m.messages[i]
		if !inPair(msg, viewer, counterpart) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		page = append(page, msg)
	}
	return page, nil
}

func (m *Memory) MarkRead(ctx context.Context, reader, counterpart int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	var n int64
	for i := range m.messages {
		msg := &m.messages[i]
		if msg.SenderID == counterpart && msg.RecipientID == reader && !msg.IsRead {
			msg.IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetUser(ctx context.Context, id int64) (user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return user.User{}, ErrClosed
	}
	u, ok := m.users[id]
	if !ok {
		return user.User{}, ErrUserNotFound
	}
	return u.user, nil
}

func (m *Memory) UpsertUser(ctx context.Context, u user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if existing, ok := m.users[u.ID]; ok {
		existing.user = u
		return nil
	}
	m.users[u.ID] = &memUser{user: u}
	return nil
}

func (m *Memory) ListUsers(ctx context.Context, viewer int64) ([]UserSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	out := make([]UserSummary, 0, len(m.users))
	for id, u := range m.users {
		if id == viewer {
			continue
		}
		s := UserSummary{User: u.user, LastSeen: u.lastSeen}
		for i := len(m.messages) - 1; i >= 0; i-- {
			msg := m.messages[i]
			if !inPair(msg, viewer, id) {
				continue
			}
			if s.LastMessageAt == nil {
				at := msg.CreatedAt
				s.LastMessageAt = &at
				s.LastMessagePreview = preview(msg.Content)
			}
			if msg.SenderID == id && !msg.IsRead {
				s.UnreadCount++
			}
		}
		out = append(out, s)
	}

	sortSummaries(out)
	return out, nil
}

func (m *Memory) Contacts(ctx context.Context, id int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	seen := make(map[int64]struct{})
	var out []int64
	for _, msg := range m.messages {
		var other int64
		switch id {
		case msg.SenderID:
			other = msg.RecipientID
		case msg.RecipientID:
			other = msg.SenderID
		default:
			continue
		}
		if _, ok := seen[other]; ok || other == id {
			continue
		}
		seen[other] = struct{}{}
		out = append(out, other)
	}
	return out, nil
}

func (m *Memory) TouchLastSeen(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.lastSeen = &at
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func inPair(msg Message, a, b int64) bool {
	return (msg.SenderID == a && msg.RecipientID == b) || (msg.SenderID == b && msg.RecipientID == a)
}

func sortSummaries(s []UserSummary) {
	sort.SliceStable(s, func(i, j int) bool {
		a, b := s[i].LastMessageAt, s[j].LastMessageAt
		switch {
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		}
		if s[i].DisplayName != s[j].DisplayName {
			return s[i].DisplayName < s[j].DisplayName
		}
		return s[i].ID < s[j].ID
	})
}
