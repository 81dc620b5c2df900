package storage

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"forumdm/internal/pkg/logx"
)

const defaultURLExpiry = 15 * time.Minute

// S3Avatars presigns GET URLs for avatar objects in an S3-compatible bucket.
type S3Avatars struct {
	bucket  string
	expiry  time.Duration
	presign *s3.PresignClient
}

// newS3Avatars initializes the S3 client using a custom configuration that supports S3-compatible endpoints.
func newS3Avatars(ctx context.Context, cfg ServiceConfig) (*S3Avatars, error) {
	region := cfg.S3Region
	if region == "" {
		region = "auto"
	}

	sdkCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKeyID,
			cfg.S3SecretAccessKey,
			"",
		)),
		config.WithRegion(region),
	)
	if err != nil {
		logx.Error(err, "Failed to load AWS SDK config")
		return nil, errors.New("failed to initialize S3 client configuration")
	}

	client := s3.NewFromConfig(sdkCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = true
	})

	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = defaultURLExpiry
	}

	return &S3Avatars{
		bucket:  cfg.S3BucketName,
		expiry:  expiry,
		presign: s3.NewPresignClient(client),
	}, nil
}

// AvatarURL generates a presigned URL for downloading the avatar object.
func (c *S3Avatars) AvatarURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}

	resp, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(c.expiry))
	if err != nil {
		logx.Logger().Error().Err(err).Str("key", key).Msg("Failed to generate presigned avatar URL")
		return "", errors.New("failed to generate presigned URL")
	}

	return resp.URL, nil
}
