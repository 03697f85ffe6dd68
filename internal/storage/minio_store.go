package storage

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"context"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig holds the connection settings for the artifact bucket.
type MinIOConfig struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	Bucket      string
	Region      string
	UseSSL      bool
	MaxGetBytes int64
}

const defaultMaxGetBytes = 32 << 20

type MinIOStore struct {
	client      *minio.Client
	bucketName  string
	region      string
	maxGetBytes int64
	initOnce    sync.Once
	initErr     error
}

// NewMinIOStore creates an ArtifactStore backed by a MinIO or S3-compatible bucket.
func NewMinIOStore(cfg MinIOConfig) (*MinIOStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("minio access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init minio client: %w", err)
	}

	maxGet := cfg.MaxGetBytes
	if maxGet <= 0 {
		maxGet = defaultMaxGetBytes
	}

	return &MinIOStore{
		client:      client,
		bucketName:  bucket,
		region:      region,
		maxGetBytes: maxGet,
	}, nil
}

func (s *MinIOStore) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucketName)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

func (s *MinIOStore) Put(ctx context.Context, input PutInput, progress ProgressFunc) (string, error) {
	if strings.TrimSpace(input.TeacherID) == "" {
		return "", fmt.Errorf("teacher id is required")
	}
	if len(input.Data) == 0 {
		return "", fmt.Errorf("artifact payload is empty")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("failed to ensure bucket: %w", err)
	}

	contentType := input.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	locator := buildLocator(input.TeacherID, input.StudentHint)
	total := int64(len(input.Data))
	body := newProgressReader(bytes.NewReader(input.Data), total, progress)

	_, err := s.client.PutObject(ctx, s.bucketName, locator, body, total, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to store artifact: %w", err)
	}
	return locator, nil
}

func (s *MinIOStore) PutDerived(ctx context.Context, locator string, data []byte, contentType string) error {
	if strings.TrimSpace(locator) == "" {
		return fmt.Errorf("locator is required")
	}
	if len(data) == 0 {
		return fmt.Errorf("derived payload is empty")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure bucket: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, s.bucketName, locator, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to store derived object: %w", err)
	}
	return nil
}

func (s *MinIOStore) Get(ctx context.Context, locator string) ([]byte, error) {
	if strings.TrimSpace(locator) == "" {
		return nil, fmt.Errorf("locator is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket: %w", err)
	}

	obj, err := s.client.GetObject(ctx, s.bucketName, locator, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, s.maxGetBytes+1))
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NoSuchBucket" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	if int64(len(data)) > s.maxGetBytes {
		return nil, ErrObjectTooLarge
	}
	return data, nil
}

// Delete removes the artifact; an already-missing object counts as success.
func (s *MinIOStore) Delete(ctx context.Context, locator string) error {
	if strings.TrimSpace(locator) == "" {
		return nil
	}
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure bucket: %w", err)
	}

	err := s.client.RemoveObject(ctx, s.bucketName, locator, minio.RemoveObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

func (s *MinIOStore) PresignedURL(ctx context.Context, locator string, expiry time.Duration) (string, error) {
	if strings.TrimSpace(locator) == "" {
		return "", fmt.Errorf("locator is required")
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, locator, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign artifact url: %w", err)
	}
	return u.String(), nil
}

var locatorHintPattern = regexp.MustCompile(`[^a-zA-Z0-9.\-_]+`)

// buildLocator yields keys like artifacts/<teacher>/20260830/<hint>-<uuid>.webp
func buildLocator(teacherID, studentHint string) string {
	datePart := time.Now().UTC().Format("20060102")
	hint := locatorHintPattern.ReplaceAllString(strings.TrimSpace(studentHint), "_")
	if hint == "" {
		hint = "scan"
	}
	return fmt.Sprintf("artifacts/%s/%s/%s-%s.webp", teacherID, datePart, hint, uuid.New().String())
}

type progressReader struct {
	inner    io.Reader
	total    int64
	written  int64
	progress ProgressFunc
}

func newProgressReader(inner io.Reader, total int64, progress ProgressFunc) io.Reader {
	if progress == nil {
		return inner
	}
	return &progressReader{inner: inner, total: total, progress: progress}
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if n > 0 {
		r.written += int64(n)
		r.progress(r.written, r.total)
	}
	return n, err
}
