package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a locator resolves to no stored artifact.
var ErrNotFound = errors.New("artifact not found")

// ErrObjectTooLarge is returned by Get when a stored object exceeds the
// configured read cap.
var ErrObjectTooLarge = errors.New("artifact exceeds read size cap")

// ProgressFunc reports bytes written so far against the payload total.
type ProgressFunc func(written, total int64)

// PutInput describes one artifact payload to persist.
type PutInput struct {
	TeacherID   string
	StudentHint string
	Data        []byte
	ContentType string
}

// ArtifactStore persists compressed scan images addressed by opaque locators.
// Delete of an absent locator is a no-op so retried cleanups stay safe.
type ArtifactStore interface {
	Put(ctx context.Context, input PutInput, progress ProgressFunc) (locator string, err error)
	// PutDerived stores a secondary object (such as a preview) under a key
	// derived from an existing locator.
	PutDerived(ctx context.Context, locator string, data []byte, contentType string) error
	Get(ctx context.Context, locator string) ([]byte, error)
	Delete(ctx context.Context, locator string) error
	PresignedURL(ctx context.Context, locator string, expiry time.Duration) (string, error)
}

// ThumbnailLocator derives the preview object key for an artifact locator.
func ThumbnailLocator(locator string) string {
	return "thumb/" + locator
}
