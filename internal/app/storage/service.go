// Package storage turns stored avatar keys into URLs the browser can load.
package storage

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// ServiceConfig holds the configuration required to resolve avatar references.
// With S3BucketName empty, references are built from AvatarBaseURL instead.
type ServiceConfig struct {
	S3BucketName      string
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// URLExpiry is the lifetime of a presigned avatar URL.
	URLExpiry time.Duration

	AvatarBaseURL string
}

// AvatarResolver maps an avatar key to a loadable reference.
type AvatarResolver interface {
	// AvatarURL returns "" for an empty key.
	AvatarURL(ctx context.Context, key string) (string, error)
}

// NewAvatarResolver is the factory function for AvatarResolver.
func NewAvatarResolver(ctx context.Context, cfg ServiceConfig) (AvatarResolver, error) {
	if cfg.S3BucketName == "" {
		return StaticAvatars{BaseURL: cfg.AvatarBaseURL}, nil
	}
	return newS3Avatars(ctx, cfg)
}

// StaticAvatars serves avatars from a public base URL, or passes keys through
// unchanged when BaseURL is empty.
type StaticAvatars struct {
	BaseURL string
}

// AvatarURL joins key onto BaseURL.
func (s StaticAvatars) AvatarURL(_ context.Context, key string) (string, error) {
	if key == "" || s.BaseURL == "" {
		return key, nil
	}
	return strings.TrimRight(s.BaseURL, "/") + "/" + url.PathEscape(strings.TrimLeft(key, "/")), nil
}
