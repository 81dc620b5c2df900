package client

import (
	"sort"
	"time"

	"forumdm/internal/protocol"
)

// PresenceTracker holds the rendered user list: who is online, the last
// message preview, and unread counts. It is not safe for concurrent use.
type PresenceTracker struct {
	users map[int64]*protocol.UserEntry
}

// NewPresenceTracker returns an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{users: make(map[int64]*protocol.UserEntry)}
}

// Load replaces the list with a fresh server snapshot, discarding any drift.
func (t *PresenceTracker) Load(entries []protocol.UserEntry) {
	t.users = make(map[int64]*protocol.UserEntry, len(entries))
	for i := range entries {
		e := entries[i]
		t.users[e.ID] = &e
	}
}

// Apply records a status update. It returns false for a user the list does
// not know, which means the list itself is stale.
func (t *PresenceTracker) Apply(ev protocol.StatusUpdate, now time.Time) bool {
	u, ok := t.users[ev.UserID]
	if !ok {
		return false
	}
	if u.IsOnline && !ev.IsOnline {
		seen := now
		u.LastSeen = &seen
	}
	u.IsOnline = ev.IsOnline
	return true
}

// IsOnline reports the last known status of userID.
func (t *PresenceTracker) IsOnline(userID int64) bool {
	u, ok := t.users[userID]
	return ok && u.IsOnline
}

// NoteMessage updates the counterpart's preview and, for incoming messages
// outside the open conversation, its unread count.
func (t *PresenceTracker) NoteMessage(a protocol.MessageAck, self, openCounterpart int64) {
	other := a.RecipientID
	if a.SenderID != self {
		other = a.SenderID
	}
	u, ok := t.users[other]
	if !ok {
		return
	}
	u.LastMessagePreview = previewOf(a.Content)
	at := a.CreatedAt
	u.LastMessageAt = &at
	if a.SenderID != self && other != openCounterpart {
		u.UnreadCount++
	}
}

// ClearUnread zeroes the unread count of userID, as when their conversation opens.
func (t *PresenceTracker) ClearUnread(userID int64) {
	if u, ok := t.users[userID]; ok {
		u.UnreadCount = 0
	}
}

// Users returns the list ordered like the server orders it: most recent
// conversation first, then by display name.
func (t *PresenceTracker) Users() []protocol.UserEntry {
	out := make([]protocol.UserEntry, 0, len(t.users))
	for _, u := range t.users {
		out = append(out, *u)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out
}

const previewRunes = 80

func previewOf(content string) string {
	r := []rune(content)
	if len(r) <= previewRunes {
		return content
	}
	return string(r[:previewRunes-1]) + "…"
}
