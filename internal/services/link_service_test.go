package services

import (
	"context"
	"errors"
	"testing"

	"github.com/classkit/scanlink-service/internal/models"
	"github.com/classkit/scanlink-service/internal/storage"
)

type linkFixture struct {
	repo    *MockRepository
	store   *MockArtifactStore
	service LinkService
}

func newLinkFixture(t *testing.T) *linkFixture {
	t.Helper()
	repo := NewMockRepository()
	store := NewMockArtifactStore()
	service := NewLinkService(repo, store, nil, testLogger(), nil)
	return &linkFixture{repo: repo, store: store, service: service}
}

func (f *linkFixture) seedStudent(t *testing.T, teacherID string) *models.StudentRecord {
	t.Helper()
	student := &models.StudentRecord{
		FullName:  "Amina Diallo",
		ScanCode:  "STU-0001",
		IsActive:  true,
		TeacherID: teacherID,
	}
	if err := f.repo.StudentRepo.Create(context.Background(), nil, student); err != nil {
		t.Fatalf("failed to seed student: %v", err)
	}
	return student
}

func (f *linkFixture) putBlob(t *testing.T, teacherID string) string {
	t.Helper()
	locator, err := f.store.Put(context.Background(), storage.PutInput{
		TeacherID:   teacherID,
		StudentHint: "STU-0001",
		Data:        []byte("webp bytes"),
		ContentType: "image/webp",
	}, nil)
	if err != nil {
		t.Fatalf("failed to seed blob: %v", err)
	}
	return locator
}

func TestLinkService_AddArtifactKeepsInvariants(t *testing.T) {
	ctx := context.Background()
	fixture := newLinkFixture(t)
	student := fixture.seedStudent(t, "teacher-1")

	first, err := fixture.service.AddArtifact(ctx, student.ID, "artifacts/teacher-1/a.webp")
	if err != nil {
		t.Fatalf("AddArtifact failed: %v", err)
	}
	if first.ArtifactCount != 1 || !first.ConsistentArtifacts() {
		t.Errorf("after first link: count=%d consistent=%v", first.ArtifactCount, first.ConsistentArtifacts())
	}
	if first.LastArtifactAt == nil {
		t.Error("LastArtifactAt should be stamped on first link")
	}

	second, err := fixture.service.AddArtifact(ctx, student.ID, "artifacts/teacher-1/b.webp")
	if err != nil {
		t.Fatalf("AddArtifact failed: %v", err)
	}
	if second.ArtifactCount != 2 || !second.ConsistentArtifacts() {
		t.Errorf("after second link: count=%d consistent=%v", second.ArtifactCount, second.ConsistentArtifacts())
	}
	if second.ArtifactLocators[0] != "artifacts/teacher-1/a.webp" {
		t.Error("locators should keep upload order")
	}
}

func TestLinkService_AddArtifactIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fixture := newLinkFixture(t)
	student := fixture.seedStudent(t, "teacher-1")

	if _, err := fixture.service.AddArtifact(ctx, student.ID, "artifacts/teacher-1/a.webp"); err != nil {
		t.Fatalf("AddArtifact failed: %v", err)
	}
	repeat, err := fixture.service.AddArtifact(ctx, student.ID, "artifacts/teacher-1/a.webp")
	if err != nil {
		t.Fatalf("repeated AddArtifact failed: %v", err)
	}
	if repeat.ArtifactCount != 1 {
		t.Errorf("repeated link changed count to %d", repeat.ArtifactCount)
	}
}

func TestLinkService_AddArtifactValidation(t *testing.T) {
	ctx := context.Background()
	fixture := newLinkFixture(t)

	var missingID *MissingStudentIDError
	if _, err := fixture.service.AddArtifact(ctx, 0, "artifacts/x.webp"); !errors.As(err, &missingID) {
		t.Errorf("zero student id = %v, want MissingStudentIDError", err)
	}

	var notFound *RecordNotFoundError
	if _, err := fixture.service.AddArtifact(ctx, 42, "artifacts/x.webp"); !errors.As(err, &notFound) {
		t.Errorf("unknown student = %v, want RecordNotFoundError", err)
	}
}

func TestLinkService_FailedCommitLeavesRecordUntouched(t *testing.T) {
	ctx := context.Background()
	fixture := newLinkFixture(t)
	student := fixture.seedStudent(t, "teacher-1")
	fixture.repo.StudentRepo.FailUpdateArtifacts = true

	_, err := fixture.service.AddArtifact(ctx, student.ID, "artifacts/teacher-1/a.webp")
	var writeErr *RecordWriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("AddArtifact = %v, want RecordWriteError", err)
	}

	stored, err := fixture.repo.StudentRepo.GetByID(ctx, nil, student.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.ArtifactCount != 0 || len(stored.ArtifactLocators) != 0 || stored.LastArtifactAt != nil {
		t.Errorf("failed commit mutated the record: %+v", stored)
	}
}

func TestLinkService_RemoveArtifact(t *testing.T) {
	ctx := context.Background()
	fixture := newLinkFixture(t)
	student := fixture.seedStudent(t, "teacher-1")

	for _, locator := range []string{"artifacts/a.webp", "artifacts/b.webp"} {
		if _, err := fixture.service.AddArtifact(ctx, student.ID, locator); err != nil {
			t.Fatalf("AddArtifact failed: %v", err)
		}
	}

	updated, err := fixture.service.RemoveArtifact(ctx, student.ID, "artifacts/a.webp")
	if err != nil {
		t.Fatalf("RemoveArtifact failed: %v", err)
	}
	if updated.ArtifactCount != 1 || !updated.ConsistentArtifacts() {
		t.Errorf("after remove: count=%d consistent=%v", updated.ArtifactCount, updated.ConsistentArtifacts())
	}
	if updated.LastArtifactAt == nil {
		t.Error("timestamp should remain while artifacts are left")
	}

	updated, err = fixture.service.RemoveArtifact(ctx, student.ID, "artifacts/b.webp")
	if err != nil {
		t.Fatalf("RemoveArtifact failed: %v", err)
	}
	if updated.ArtifactCount != 0 || updated.LastArtifactAt != nil {
		t.Errorf("last remove should clear count and timestamp: count=%d", updated.ArtifactCount)
	}
}

func TestLinkService_RemoveArtifactAbsentLocatorIsNoOp(t *testing.T) {
	ctx := context.Background()
	fixture := newLinkFixture(t)
	student := fixture.seedStudent(t, "teacher-1")
	if _, err := fixture.service.AddArtifact(ctx, student.ID, "artifacts/a.webp"); err != nil {
		t.Fatalf("AddArtifact failed: %v", err)
	}

	updated, err := fixture.service.RemoveArtifact(ctx, student.ID, "artifacts/never-linked.webp")
	if err != nil {
		t.Fatalf("RemoveArtifact of absent locator failed: %v", err)
	}
	if updated.ArtifactCount != 1 {
		t.Errorf("no-op remove changed count to %d", updated.ArtifactCount)
	}
}

func TestLinkService_RemoveAllArtifacts(t *testing.T) {
	ctx := context.Background()
	fixture := newLinkFixture(t)
	student := fixture.seedStudent(t, "teacher-1")

	for i := 0; i < 2; i++ {
		locator := fixture.putBlob(t, "teacher-1")
		if _, err := fixture.service.AddArtifact(ctx, student.ID, locator); err != nil {
			t.Fatalf("AddArtifact failed: %v", err)
		}
	}

	result, err := fixture.service.RemoveAllArtifacts(ctx, student.ID, "teacher-1")
	if err != nil {
		t.Fatalf("RemoveAllArtifacts failed: %v", err)
	}
	if result.Removed != 2 || len(result.Failed) != 0 {
		t.Errorf("removed=%d failed=%v, want 2/none", result.Removed, result.Failed)
	}
	if fixture.store.Len() != 0 {
		t.Errorf("store still holds %d blobs", fixture.store.Len())
	}

	stored, err := fixture.repo.StudentRepo.GetByID(ctx, nil, student.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.ArtifactCount != 0 || !stored.ConsistentArtifacts() {
		t.Errorf("record not cleared: count=%d", stored.ArtifactCount)
	}
}

func TestLinkService_RemoveAllArtifactsCollectsFailures(t *testing.T) {
	ctx := context.Background()
	fixture := newLinkFixture(t)
	student := fixture.seedStudent(t, "teacher-1")
	locator := fixture.putBlob(t, "teacher-1")
	if _, err := fixture.service.AddArtifact(ctx, student.ID, locator); err != nil {
		t.Fatalf("AddArtifact failed: %v", err)
	}
	fixture.store.FailDelete = true

	result, err := fixture.service.RemoveAllArtifacts(ctx, student.ID, "teacher-1")
	if err != nil {
		t.Fatalf("RemoveAllArtifacts failed: %v", err)
	}
	if result.Removed != 0 || len(result.Failed) != 1 {
		t.Errorf("removed=%d failed=%v, want 0/1", result.Removed, result.Failed)
	}
	// the undeleted blob must stay linked so it can be retried
	stored, _ := fixture.repo.StudentRepo.GetByID(ctx, nil, student.ID)
	if stored.ArtifactCount != 1 {
		t.Errorf("failed delete unlinked the artifact anyway, count=%d", stored.ArtifactCount)
	}
}

func TestLinkService_RemoveAllArtifactsOwnership(t *testing.T) {
	ctx := context.Background()
	fixture := newLinkFixture(t)
	student := fixture.seedStudent(t, "teacher-1")

	var permErr *PermissionError
	if _, err := fixture.service.RemoveAllArtifacts(ctx, student.ID, "teacher-2"); !errors.As(err, &permErr) {
		t.Errorf("foreign teacher = %v, want PermissionError", err)
	}
}

func TestLinkService_GetArtifact(t *testing.T) {
	ctx := context.Background()
	fixture := newLinkFixture(t)
	student := fixture.seedStudent(t, "teacher-1")
	locator := fixture.putBlob(t, "teacher-1")
	if _, err := fixture.service.AddArtifact(ctx, student.ID, locator); err != nil {
		t.Fatalf("AddArtifact failed: %v", err)
	}

	data, err := fixture.service.GetArtifact(ctx, student.ID, "teacher-1", locator)
	if err != nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	if string(data) != "webp bytes" {
		t.Errorf("GetArtifact returned %q", data)
	}

	// a locator the record never linked must not be readable through it
	stray := fixture.putBlob(t, "teacher-1")
	if _, err := fixture.service.GetArtifact(ctx, student.ID, "teacher-1", stray); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("GetArtifact on unlinked locator = %v, want ErrArtifactNotFound", err)
	}

	var permErr *PermissionError
	if _, err := fixture.service.GetArtifact(ctx, student.ID, "teacher-2", locator); !errors.As(err, &permErr) {
		t.Fatalf("GetArtifact for foreign teacher = %v, want PermissionError", err)
	}
}

func TestLinkService_ListArtifacts(t *testing.T) {
	ctx := context.Background()
	fixture := newLinkFixture(t)
	student := fixture.seedStudent(t, "teacher-1")
	locator := fixture.putBlob(t, "teacher-1")
	if _, err := fixture.service.AddArtifact(ctx, student.ID, locator); err != nil {
		t.Fatalf("AddArtifact failed: %v", err)
	}
	// a locator whose blob is gone still lists, just without a URL
	if _, err := fixture.service.AddArtifact(ctx, student.ID, "artifacts/teacher-1/gone.webp"); err != nil {
		t.Fatalf("AddArtifact failed: %v", err)
	}

	artifacts, err := fixture.service.ListArtifacts(ctx, student.ID, "teacher-1")
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("artifacts = %d, want 2", len(artifacts))
	}
	if artifacts[0].Locator != locator || artifacts[0].Position != 0 {
		t.Errorf("artifact 0 = %+v", artifacts[0])
	}
	if artifacts[0].URL == "" {
		t.Error("stored artifact should carry a download url")
	}
	if artifacts[1].URL != "" {
		t.Error("missing blob should list without a url")
	}
}
