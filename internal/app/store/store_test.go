package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumdm/internal/app/db"
	"forumdm/internal/app/user"
)

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type backend struct {
	name string
	open func(t *testing.T) Store
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) Store { return NewMemory() }},
		{"sqlite", func(t *testing.T) Store {
			sqlDB, err := db.OpenSQLite(filepath.Join(t.TempDir(), "dm.db"))
			require.NoError(t, err)
			return NewSQLite(sqlDB)
		}},
		{"postgres", func(t *testing.T) Store {
			dsn := os.Getenv("FORUMDM_TEST_DATABASE_URL")
			if dsn == "" {
				t.Skip("FORUMDM_TEST_DATABASE_URL not set")
			}
			pool, err := db.NewPool(context.Background(), dsn)
			if err != nil {
				t.Skipf("postgres unavailable: %v", err)
			}
			_, err = pool.Exec(context.Background(), `TRUNCATE messages, users RESTART IDENTITY`)
			require.NoError(t, err)
			return NewPostgres(pool)
		}},
	}
}

// seed opens a store with users 1 (ada), 2 (bob) and 3 (cyd).
func seed(t *testing.T, b backend) Store {
	t.Helper()
	s := b.open(t)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	for _, u := range []user.User{
		{ID: 1, DisplayName: "ada"},
		{ID: 2, DisplayName: "bob"},
		{ID: 3, DisplayName: "cyd", AvatarKey: "avatars/3.png"},
	} {
		require.NoError(t, s.UpsertUser(ctx, u))
	}
	return s
}

func send(t *testing.T, s Store, from, to int64, content, token string, at time.Time) Message {
	t.Helper()
	m, dup, err := s.SaveMessage(context.Background(), NewMessage{
		SenderID: from, RecipientID: to, Content: content, CorrelationToken: token, CreatedAt: at,
	})
	require.NoError(t, err)
	require.False(t, dup)
	return m
}

func TestStoreConformance(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			t.Run("save assigns increasing ids", func(t *testing.T) {
				s := seed(t, b)
				m1 := send(t, s, 1, 2, "hi", "t1", base)
				m2 := send(t, s, 2, 1, "hey", "", base.Add(time.Second))

				assert.Greater(t, m2.ID, m1.ID)
				assert.Equal(t, "t1", m1.CorrelationToken)
				assert.Equal(t, "", m2.CorrelationToken)
				assert.True(t, m1.CreatedAt.Equal(base))
				assert.False(t, m1.IsRead)
			})

			t.Run("replayed token returns original", func(t *testing.T) {
				s := seed(t, b)
				first := send(t, s, 1, 2, "hi", "t1", base)

				again, dup, err := s.SaveMessage(context.Background(), NewMessage{
					SenderID: 1, RecipientID: 2, Content: "hi", CorrelationToken: "t1", CreatedAt: base.Add(time.Minute),
				})
				require.NoError(t, err)
				assert.True(t, dup)
				assert.Equal(t, first.ID, again.ID)

				// Same token from a different sender is a different message.
				other := send(t, s, 2, 1, "yo", "t1", base)
				assert.NotEqual(t, first.ID, other.ID)

				page, err := s.History(context.Background(), 1, 2, 0, 10)
				require.NoError(t, err)
				assert.Len(t, page, 2)
			})

			t.Run("history is newest first and paged", func(t *testing.T) {
				s := seed(t, b)
				var ids []int64
				for i := 0; i < 15; i++ {
					from, to := int64(1), int64(2)
					if i%2 == 1 {
						from, to = 2, 1
					}
					ids = append(ids, send(t, s, from, to, "m", "", base.Add(time.Duration(i)*time.Second)).ID)
				}
				send(t, s, 1, 3, "elsewhere", "", base)

				page1, err := s.History(context.Background(), 1, 2, 0, 10)
				require.NoError(t, err)
				require.Len(t, page1, 10)
				assert.Equal(t, ids[14], page1[0].ID)
				assert.Equal(t, ids[5], page1[9].ID)

				page2, err := s.History(context.Background(), 2, 1, 10, 10)
				require.NoError(t, err)
				require.Len(t, page2, 5)
				assert.Equal(t, ids[4], page2[0].ID)
				assert.Equal(t, ids[0], page2[4].ID)

				page3, err := s.History(context.Background(), 1, 2, 15, 10)
				require.NoError(t, err)
				assert.Empty(t, page3)
			})

			t.Run("mark read is idempotent", func(t *testing.T) {
				s := seed(t, b)
				send(t, s, 1, 2, "a", "", base)
				send(t, s, 1, 2, "b", "", base)
				send(t, s, 2, 1, "c", "", base)

				n, err := s.MarkRead(context.Background(), 2, 1)
				require.NoError(t, err)
				assert.Equal(t, int64(2), n)

				n, err = s.MarkRead(context.Background(), 2, 1)
				require.NoError(t, err)
				assert.Zero(t, n)

				page, err := s.History(context.Background(), 1, 2, 0, 10)
				require.NoError(t, err)
				for _, m := range page {
					assert.Equal(t, m.SenderID == 1, m.IsRead, "message %d", m.ID)
				}
			})

			t.Run("list users carries preview and unread", func(t *testing.T) {
				s := seed(t, b)
				send(t, s, 1, 2, "hi", "t1", base)
				send(t, s, 3, 2, strings.Repeat("x", 200), "", base.Add(time.Minute))
				send(t, s, 3, 2, "later", "", base.Add(2*time.Minute))

				list, err := s.ListUsers(context.Background(), 2)
				require.NoError(t, err)
				require.Len(t, list, 2)

				assert.Equal(t, int64(3), list[0].ID)
				assert.Equal(t, "later", list[0].LastMessagePreview)
				assert.Equal(t, 2, list[0].UnreadCount)
				assert.Equal(t, "avatars/3.png", list[0].AvatarKey)

				assert.Equal(t, int64(1), list[1].ID)
				assert.Equal(t, "hi", list[1].LastMessagePreview)
				assert.Equal(t, 1, list[1].UnreadCount)

				// Sender's own messages never count as unread for them.
				list, err = s.ListUsers(context.Background(), 1)
				require.NoError(t, err)
				require.Len(t, list, 2)
				assert.Equal(t, int64(2), list[0].ID)
				assert.Zero(t, list[0].UnreadCount)
				assert.Equal(t, int64(3), list[1].ID)
				assert.Nil(t, list[1].LastMessageAt)
			})

			t.Run("contacts and last seen", func(t *testing.T) {
				s := seed(t, b)
				send(t, s, 1, 2, "hi", "", base)
				send(t, s, 2, 1, "hi", "", base)

				contacts, err := s.Contacts(context.Background(), 1)
				require.NoError(t, err)
				assert.Equal(t, []int64{2}, contacts)

				contacts, err = s.Contacts(context.Background(), 3)
				require.NoError(t, err)
				assert.Empty(t, contacts)

				require.NoError(t, s.TouchLastSeen(context.Background(), 3, base))
				assert.ErrorIs(t, s.TouchLastSeen(context.Background(), 99, base), ErrUserNotFound)

				list, err := s.ListUsers(context.Background(), 1)
				require.NoError(t, err)
				for _, u := range list {
					if u.ID == 3 {
						require.NotNil(t, u.LastSeen)
						assert.True(t, u.LastSeen.Equal(base))
					}
				}
			})

			t.Run("get user", func(t *testing.T) {
				s := seed(t, b)
				u, err := s.GetUser(context.Background(), 3)
				require.NoError(t, err)
				assert.Equal(t, "cyd", u.DisplayName)

				_, err = s.GetUser(context.Background(), 42)
				assert.ErrorIs(t, err, ErrUserNotFound)

				require.NoError(t, s.UpsertUser(context.Background(), user.User{ID: 3, DisplayName: "cyd2"}))
				u, err = s.GetUser(context.Background(), 3)
				require.NoError(t, err)
				assert.Equal(t, "cyd2", u.DisplayName)
			})
		})
	}
}

func TestMemoryClosed(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Close())

	_, _, err := s.SaveMessage(context.Background(), NewMessage{SenderID: 1, RecipientID: 2, Content: "x"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short"))
	long := preview(strings.Repeat("é", 100))
	assert.Equal(t, previewLimit, len([]rune(long)))
	assert.True(t, strings.HasSuffix(long, "…"))
}
