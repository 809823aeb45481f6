package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// AssetKind partitions uploads by media type; each kind gets its own key
// prefix and accepted content types.
type AssetKind string

const (
	AssetImage AssetKind = "image"
	AssetAudio AssetKind = "audio"
	AssetVideo AssetKind = "video"
)

func (k AssetKind) Valid() bool {
	switch k {
	case AssetImage, AssetAudio, AssetVideo:
		return true
	}
	return false
}

type Config struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
	UsePathStyle  bool
	Prefix        string
}

// Uploader stores workflow node assets in S3-compatible storage and returns
// public URLs the generation vendor can fetch.
type Uploader struct {
	cfg    Config
	client *s3.Client
}

func NewUploader(cfg Config) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, fmt.Errorf("s3 public base url is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "assets"
	}

	options := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return &Uploader{cfg: cfg, client: s3.New(options)}, nil
}

// Upload stores the asset and returns its public URL. The content type must
// match the declared kind.
func (u *Uploader) Upload(ctx context.Context, kind AssetKind, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("no data to upload")
	}
	if !kind.Valid() {
		return "", fmt.Errorf("unknown asset kind %q", kind)
	}
	ext, ok := extensionFor(kind, contentType)
	if !ok {
		return "", fmt.Errorf("content type %q not allowed for %s assets", contentType, kind)
	}

	key := u.generateKey(kind, ext)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}
	return strings.TrimRight(u.cfg.PublicBaseURL, "/") + "/" + key, nil
}

func (u *Uploader) generateKey(kind AssetKind, ext string) string {
	now := time.Now().UTC()
	prefix := strings.Trim(u.cfg.Prefix, "/")
	return path.Join(prefix, string(kind), fmt.Sprintf("%04d/%02d/%02d", now.Year(), now.Month(), now.Day()), uuid.NewString()+ext)
}

func extensionFor(kind AssetKind, contentType string) (string, bool) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch kind {
	case AssetImage:
		switch ct {
		case "image/png":
			return ".png", true
		case "image/jpeg", "image/jpg":
			return ".jpg", true
		case "image/webp":
			return ".webp", true
		}
	case AssetAudio:
		switch ct {
		case "audio/mpeg", "audio/mp3":
			return ".mp3", true
		case "audio/wav", "audio/x-wav":
			return ".wav", true
		case "audio/ogg":
			return ".ogg", true
		}
	case AssetVideo:
		switch ct {
		case "video/mp4":
			return ".mp4", true
		case "video/webm":
			return ".webm", true
		case "video/quicktime":
			return ".mov", true
		}
	}
	return "", false
}
