package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumdm/internal/app/store"
	"forumdm/internal/app/user"
	"forumdm/internal/pkg/auth/jwt"
)

func TestResolverAuthenticate(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	ada := user.User{ID: 1, DisplayName: "ada"}
	require.NoError(t, mem.UpsertUser(ctx, ada))

	r := NewResolver("secret", mem)

	valid, err := r.Issue(ada)
	require.NoError(t, err)
	ghost, err := r.Issue(user.User{ID: 42, DisplayName: "ghost"})
	require.NoError(t, err)
	foreign, err := jwt.GenerateToken(&jwt.Payload{UserID: 1}, "other-secret", time.Hour)
	require.NoError(t, err)
	expired, err := jwt.GenerateToken(&jwt.Payload{UserID: 1}, "secret", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		want    user.User
		wantErr error
	}{
		{name: "valid", token: valid, want: ada},
		{name: "empty", token: "", wantErr: jwt.ErrInvalidToken},
		{name: "deleted user", token: ghost, wantErr: ErrUnknownUser},
		{name: "wrong secret", token: foreign},
		{name: "expired", token: expired},
		{name: "garbage", token: "not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Authenticate(ctx, tt.token)
			if tt.want.ID != 0 {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
