package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestMemoryStore_PutGetDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var lastWritten, lastTotal int64
	locator, err := store.Put(ctx, PutInput{
		TeacherID:   "teacher-1",
		StudentHint: "STU-0042",
		Data:        []byte("webp-bytes"),
		ContentType: "image/webp",
	}, func(written, total int64) {
		lastWritten, lastTotal = written, total
	})
	if err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if !strings.HasPrefix(locator, "artifacts/teacher-1/") {
		t.Errorf("locator %q missing teacher prefix", locator)
	}
	if !strings.Contains(locator, "STU-0042") {
		t.Errorf("locator %q missing student hint", locator)
	}
	if lastWritten != lastTotal || lastTotal != int64(len("webp-bytes")) {
		t.Errorf("progress reported %d/%d, want full payload", lastWritten, lastTotal)
	}

	data, err := store.Get(ctx, locator)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if string(data) != "webp-bytes" {
		t.Errorf("Get returned %q", data)
	}

	if err := store.Delete(ctx, locator); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := store.Get(ctx, locator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}

	// deleting again must stay a no-op
	if err := store.Delete(ctx, locator); err != nil {
		t.Fatalf("second Delete returned error: %v", err)
	}
}

func TestMemoryStore_PutDerived(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	locator, err := store.Put(ctx, PutInput{
		TeacherID:   "teacher-1",
		StudentHint: "STU-0042",
		Data:        []byte("webp-bytes"),
		ContentType: "image/webp",
	}, nil)
	if err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	thumbLocator := ThumbnailLocator(locator)
	if err := store.PutDerived(ctx, thumbLocator, []byte("thumb-bytes"), "image/webp"); err != nil {
		t.Fatalf("PutDerived returned error: %v", err)
	}

	data, err := store.Get(ctx, thumbLocator)
	if err != nil {
		t.Fatalf("Get thumbnail returned error: %v", err)
	}
	if string(data) != "thumb-bytes" {
		t.Errorf("Get thumbnail returned %q", data)
	}

	if err := store.PutDerived(ctx, " ", []byte("d"), ""); err == nil {
		t.Error("expected error for blank locator")
	}
	if err := store.PutDerived(ctx, thumbLocator, nil, ""); err == nil {
		t.Error("expected error for empty payload")
	}
}

func TestMemoryStore_PutValidation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Put(ctx, PutInput{StudentHint: "x", Data: []byte("d")}, nil); err == nil {
		t.Error("expected error for missing teacher id")
	}
	if _, err := store.Put(ctx, PutInput{TeacherID: "t", StudentHint: "x"}, nil); err == nil {
		t.Error("expected error for empty payload")
	}
}

func TestBuildLocator_SanitizesHint(t *testing.T) {
	locator := buildLocator("teacher-1", "weird hint/../etc")
	if strings.Contains(locator, "/../") {
		t.Errorf("locator %q contains path traversal", locator)
	}
	if !strings.HasSuffix(locator, ".webp") {
		t.Errorf("locator %q missing webp suffix", locator)
	}
}
