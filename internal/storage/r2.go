package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"parking-occupancy-service/internal/capture"
	"parking-occupancy-service/internal/config"
)

var ErrNotConfigured = errors.New("r2 storage is not configured")

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// R2Client stores frames that produced status transitions in an
// S3-compatible bucket.
type R2Client struct {
	client        putObjectAPI
	bucket        string
	endpoint      string
	publicBaseURL string
	keyPrefix     string
}

func NewR2Client(cfg config.R2Config) (*R2Client, error) {
	if cfg.Endpoint == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.Bucket == "" {
		return nil, ErrNotConfigured
	}

	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	return &R2Client{
		client:        client,
		bucket:        cfg.Bucket,
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		publicBaseURL: cfg.PublicBaseURL,
		keyPrefix:     cfg.KeyPrefix,
	}, nil
}

func (r *R2Client) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	if r == nil || r.client == nil {
		return "", ErrNotConfigured
	}
	if size <= 0 {
		return "", fmt.Errorf("empty file")
	}
	input := &s3.PutObjectInput{
		Bucket:        &r.bucket,
		Key:           &key,
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	}
	if _, err := r.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("r2 upload failed: %w", err)
	}
	return r.objectURL(key), nil
}

// UploadSnapshot stores one captured frame and returns its URL.
func (r *R2Client) UploadSnapshot(ctx context.Context, cameraID string, frame capture.Frame) (string, error) {
	if r == nil || r.client == nil {
		return "", ErrNotConfigured
	}
	contentType := frame.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	key := SnapshotKey(r.keyPrefix, cameraID, frame)
	return r.Upload(ctx, key, bytes.NewReader(frame.Data), int64(len(frame.Data)), contentType)
}

// SnapshotKey lays out objects as <prefix>/<camera>/<yyyy>/<mm>/<dd>/<hhmmss>-<seq>.<ext>.
func SnapshotKey(prefix, cameraID string, frame capture.Frame) string {
	ts := frame.CapturedAt.UTC()
	name := fmt.Sprintf("%s/%s-%06d.%s", ts.Format("2006/01/02"), ts.Format("150405"), frame.Seq, extension(frame.ContentType))
	parts := []string{}
	if prefix != "" {
		parts = append(parts, strings.Trim(prefix, "/"))
	}
	parts = append(parts, cameraID, name)
	return strings.Join(parts, "/")
}

func extension(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0])) {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		return "jpg"
	}
}

func (r *R2Client) objectURL(key string) string {
	trimmedKey := strings.TrimLeft(key, "/")
	if r.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", r.publicBaseURL, r.bucket, trimmedKey)
	}
	return fmt.Sprintf("%s/%s/%s", r.endpoint, r.bucket, trimmedKey)
}
