package services

import (
	"context"
	"errors"
	"testing"

	"github.com/classkit/scanlink-service/internal/events"
	"github.com/classkit/scanlink-service/internal/models"
	"github.com/classkit/scanlink-service/internal/repositories"
	"github.com/classkit/scanlink-service/internal/validator"
)

type rosterFixture struct {
	repo      *MockRepository
	publisher *events.MockEventPublisher
	service   RosterService
}

func newRosterFixture(t *testing.T) *rosterFixture {
	t.Helper()
	repo := NewMockRepository()
	publisher := events.NewMockEventPublisher(testLogger())
	service := NewRosterService(repo, testLogger(), validator.New(), publisher)
	return &rosterFixture{repo: repo, publisher: publisher, service: service}
}

func validCreateRequest() *CreateStudentRequest {
	return &CreateStudentRequest{
		FullName:  "Amina Diallo",
		ScanCode:  "STU-2026-0042",
		Classroom: "3A",
	}
}

func TestRosterService_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	fixture := newRosterFixture(t)

	created, err := fixture.service.Create(ctx, validCreateRequest(), "teacher-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("created student has no id")
	}
	if !created.IsActive {
		t.Error("new students should be active")
	}
	if !created.CanDelete {
		t.Error("student without artifacts should be deletable")
	}

	student, ok, err := fixture.service.Lookup(ctx, "teacher-1", "stu-2026-0042")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !ok || student.ID != created.ID {
		t.Errorf("lookup after create missed, ok=%v", ok)
	}

	found := false
	for _, event := range fixture.publisher.GetPublishedEvents() {
		if event.Type == events.EventStudentCreated {
			found = true
		}
	}
	if !found {
		t.Error("create should publish a student_created event")
	}
}

func TestRosterService_CreateNormalizesScanCode(t *testing.T) {
	ctx := context.Background()
	fixture := newRosterFixture(t)

	req := validCreateRequest()
	req.ScanCode = "  stu-2026-0042 "
	created, err := fixture.service.Create(ctx, req, "teacher-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ScanCode != "STU-2026-0042" {
		t.Errorf("scan code = %q, want normalized uppercase", created.ScanCode)
	}
}

func TestRosterService_CreateRejectsDuplicateScanCode(t *testing.T) {
	ctx := context.Background()
	fixture := newRosterFixture(t)

	if _, err := fixture.service.Create(ctx, validCreateRequest(), "teacher-1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	req := validCreateRequest()
	req.FullName = "Ben Carter"
	if _, err := fixture.service.Create(ctx, req, "teacher-1"); !errors.Is(err, ErrScanCodeTaken) {
		t.Errorf("duplicate scan code = %v, want ErrScanCodeTaken", err)
	}
}

func TestRosterService_CreateValidation(t *testing.T) {
	ctx := context.Background()
	fixture := newRosterFixture(t)

	req := validCreateRequest()
	req.FullName = ""
	_, err := fixture.service.Create(ctx, req, "teacher-1")
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Errorf("missing name = %v, want ValidationErrors", err)
	}
}

func TestRosterService_Ownership(t *testing.T) {
	ctx := context.Background()
	fixture := newRosterFixture(t)
	created, err := fixture.service.Create(ctx, validCreateRequest(), "teacher-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var permErr *PermissionError
	if _, err := fixture.service.GetByID(ctx, created.ID, "teacher-2"); !errors.As(err, &permErr) {
		t.Errorf("foreign GetByID = %v, want PermissionError", err)
	}
	if err := fixture.service.Delete(ctx, created.ID, "teacher-2"); !errors.As(err, &permErr) {
		t.Errorf("foreign Delete = %v, want PermissionError", err)
	}
	if _, err := fixture.service.GetByID(ctx, 999, "teacher-1"); !errors.Is(err, ErrStudentNotFound) {
		t.Errorf("unknown id = %v, want ErrStudentNotFound", err)
	}
}

func TestRosterService_UpdateChangesScanCodeAndIndex(t *testing.T) {
	ctx := context.Background()
	fixture := newRosterFixture(t)
	created, err := fixture.service.Create(ctx, validCreateRequest(), "teacher-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	newCode := "stu-2026-0099"
	updated, err := fixture.service.Update(ctx, created.ID, &UpdateStudentRequest{ScanCode: &newCode}, "teacher-1")
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.ScanCode != "STU-2026-0099" {
		t.Errorf("scan code = %q", updated.ScanCode)
	}

	if _, ok, _ := fixture.service.Lookup(ctx, "teacher-1", "STU-2026-0042"); ok {
		t.Error("old scan code still resolves after update")
	}
	if _, ok, _ := fixture.service.Lookup(ctx, "teacher-1", "STU-2026-0099"); !ok {
		t.Error("new scan code does not resolve after update")
	}
}

func TestRosterService_DeleteRemovesFromIndex(t *testing.T) {
	ctx := context.Background()
	fixture := newRosterFixture(t)
	created, err := fixture.service.Create(ctx, validCreateRequest(), "teacher-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := fixture.service.Delete(ctx, created.ID, "teacher-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := fixture.service.Lookup(ctx, "teacher-1", created.ScanCode); ok {
		t.Error("deleted student still resolves through the index")
	}
}

func TestRosterService_LookupFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	fixture := newRosterFixture(t)
	if _, err := fixture.service.Create(ctx, validCreateRequest(), "teacher-1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// warm the snapshot, then enroll behind its back
	if _, ok, err := fixture.service.Lookup(ctx, "teacher-1", "STU-2026-0042"); err != nil || !ok {
		t.Fatalf("warm lookup: ok=%v err=%v", ok, err)
	}
	late := &models.StudentRecord{
		FullName:  "Ben Okafor",
		ScanCode:  "STU-2026-0099",
		IsActive:  true,
		TeacherID: "teacher-1",
	}
	if err := fixture.repo.StudentRepo.Create(ctx, nil, late); err != nil {
		t.Fatalf("failed to seed student: %v", err)
	}

	record, ok, err := fixture.service.Lookup(ctx, "teacher-1", " stu-2026-0099 ")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !ok || record.ID != late.ID {
		t.Errorf("stale snapshot should fall back to the store: ok=%v record=%+v", ok, record)
	}
}

func TestRosterService_LookupIsScopedToTeacher(t *testing.T) {
	ctx := context.Background()
	fixture := newRosterFixture(t)
	if _, err := fixture.service.Create(ctx, validCreateRequest(), "teacher-1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, ok, err := fixture.service.Lookup(ctx, "teacher-2", "STU-2026-0042"); err != nil || ok {
		t.Errorf("another teacher's code resolved: ok=%v err=%v", ok, err)
	}
}

func TestRosterService_List(t *testing.T) {
	ctx := context.Background()
	fixture := newRosterFixture(t)
	for _, code := range []string{"STU-0001", "STU-0002", "STU-0003"} {
		req := validCreateRequest()
		req.ScanCode = code
		if _, err := fixture.service.Create(ctx, req, "teacher-1"); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	list, err := fixture.service.List(ctx, repositories.StudentFilters{}, "teacher-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if list.Total != 3 || len(list.Students) != 3 {
		t.Errorf("total=%d students=%d, want 3/3", list.Total, len(list.Students))
	}
}

func TestRosterService_GetStats(t *testing.T) {
	ctx := context.Background()
	fixture := newRosterFixture(t)
	if _, err := fixture.service.Create(ctx, validCreateRequest(), "teacher-1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	stats, err := fixture.service.GetStats(ctx, "teacher-1")
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalStudents != 1 || stats.ActiveStudents != 1 || stats.StudentsNoUpload != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.LastUploadAt != nil {
		t.Error("LastUploadAt should be nil before any upload")
	}
}

func TestRosterService_GetStatsReportsLastUpload(t *testing.T) {
	ctx := context.Background()
	fixture := newRosterFixture(t)
	created, err := fixture.service.Create(ctx, validCreateRequest(), "teacher-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	linker := NewLinkService(fixture.repo, NewMockArtifactStore(), nil, testLogger(), nil)
	if _, err := linker.AddArtifact(ctx, created.ID, "artifacts/teacher-1/a.webp"); err != nil {
		t.Fatalf("AddArtifact failed: %v", err)
	}

	stats, err := fixture.service.GetStats(ctx, "teacher-1")
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalArtifacts != 1 || stats.StudentsNoUpload != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.LastUploadAt == nil {
		t.Fatal("LastUploadAt should be stamped after a linked upload")
	}
}
