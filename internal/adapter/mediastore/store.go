// Package mediastore caches Instagram avatars and attachments in an
// S3-compatible bucket so their URLs outlive Meta's signed CDN links.
package mediastore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const cacheControl = "public, max-age=31536000"

type Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, for MinIO or R2; forces path-style addressing
	PublicURL string // optional; defaults to Endpoint/Bucket
}

type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Store struct {
	api       putter
	bucket    string
	publicURL string
}

// New loads AWS credentials from the default chain.
func New(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	return newStore(client, cfg), nil
}

func newStore(api putter, cfg Config) *Store {
	public := cfg.PublicURL
	if public == "" {
		public = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return &Store{api: api, bucket: cfg.Bucket, publicURL: strings.TrimRight(public, "/")}
}

// Put upserts the object and returns its public URL.
func (s *Store) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String(cacheControl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return s.URL(key), nil
}

func (s *Store) URL(key string) string {
	return s.publicURL + "/" + key
}

// AvatarKey stores profile pictures as png or jpg only.
func AvatarKey(integrationID, participantID, contentType string) string {
	ext := "jpg"
	if strings.Contains(contentType, "png") {
		ext = "png"
	}
	return fmt.Sprintf("avatars/%s/%s.%s", integrationID, participantID, ext)
}

func MessageMediaKey(conversationID, messageID, contentType string) string {
	return fmt.Sprintf("messages/%s/%s.%s", conversationID, messageID, MediaExtension(contentType))
}

func MediaExtension(contentType string) string {
	switch {
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		return "jpg"
	case strings.Contains(contentType, "png"):
		return "png"
	case strings.Contains(contentType, "gif"):
		return "gif"
	case strings.Contains(contentType, "mp4"):
		return "mp4"
	case strings.Contains(contentType, "webp"):
		return "webp"
	default:
		return "bin"
	}
}

// FallbackContentType is used when the CDN omits Content-Type.
func FallbackContentType(mediaType string) string {
	if mediaType == "" {
		mediaType = "image"
	}
	return mediaType + "/jpeg"
}
