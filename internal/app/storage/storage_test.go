package storage

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticAvatars(t *testing.T) {
	tests := []struct {
		name string
		base string
		key  string
		want string
	}{
		{"empty key", "https://cdn.example.com", "", ""},
		{"no base passes through", "", "avatars/1.png", "avatars/1.png"},
		{"joins", "https://cdn.example.com/", "/avatars/1.png", "https://cdn.example.com/avatars%2F1.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StaticAvatars{BaseURL: tt.base}.AvatarURL(context.Background(), tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewAvatarResolverFallsBackToStatic(t *testing.T) {
	r, err := NewAvatarResolver(context.Background(), ServiceConfig{AvatarBaseURL: "https://cdn.example.com"})
	require.NoError(t, err)
	assert.IsType(t, StaticAvatars{}, r)
}

func TestS3AvatarsPresign(t *testing.T) {
	ctx := context.Background()
	r, err := NewAvatarResolver(ctx, ServiceConfig{
		S3BucketName:      "forum-avatars",
		S3Endpoint:        "http://127.0.0.1:9000",
		S3Region:          "us-east-1",
		S3AccessKeyID:     "test-key",
		S3SecretAccessKey: "test-secret",
	})
	require.NoError(t, err)

	empty, err := r.AvatarURL(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, empty)

	raw, err := r.AvatarURL(ctx, "users/1.png")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", u.Host)
	assert.Equal(t, "/forum-avatars/users/1.png", u.Path)
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
}
