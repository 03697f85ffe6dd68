package services

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"context"

	"github.com/classkit/scanlink-service/internal/events"
	"github.com/classkit/scanlink-service/internal/models"
	"github.com/classkit/scanlink-service/internal/repositories"
	"github.com/classkit/scanlink-service/internal/validator"
)

type rosterService struct {
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher

	mu      sync.Mutex
	indexes map[string]*RosterIndex
}

func NewRosterService(repo repositories.Repository, logger *slog.Logger, v *validator.Validator, publisher events.EventPublisher) RosterService {
	return &rosterService{
		repo:      repo,
		logger:    logger,
		validator: v,
		publisher: publisher,
		indexes:   make(map[string]*RosterIndex),
	}
}

// ===== CORE CRUD OPERATIONS =====

func (s *rosterService) Create(ctx context.Context, req *CreateStudentRequest, teacherID string) (*StudentResponse, error) {
	s.logger.Info("Creating student record", "teacher_id", teacherID, "scan_code", req.ScanCode)

	// codes are stored and compared uppercase
	scanCode := strings.ToUpper(strings.TrimSpace(req.ScanCode))
	req.ScanCode = scanCode

	if errs := s.validator.Validate(req); errs.HasErrors() {
		return nil, errs
	}

	exists, err := s.repo.Student().ExistsByScanCode(ctx, nil, teacherID, scanCode)
	if err != nil {
		return nil, fmt.Errorf("failed to check scan code uniqueness: %w", err)
	}
	if exists {
		return nil, ErrScanCodeTaken
	}

	student := &models.StudentRecord{
		FullName:     strings.TrimSpace(req.FullName),
		ExternalCode: strings.TrimSpace(req.ExternalCode),
		ScanCode:     scanCode,
		Classroom:    strings.TrimSpace(req.Classroom),
		Cohort:       strings.TrimSpace(req.Cohort),
		IsActive:     true,
		TeacherID:    teacherID,
	}
	if req.Notes != nil {
		student.Notes = *req.Notes
	}

	if err := s.repo.Student().Create(ctx, nil, student); err != nil {
		return nil, fmt.Errorf("failed to create student record: %w", err)
	}

	if err := s.Refresh(ctx, teacherID); err != nil {
		s.logger.Warn("Failed to refresh roster index after create", "teacher_id", teacherID, "error", err)
	}
	s.publishEvent(ctx, events.EventStudentCreated, student)

	s.logger.Info("Student record created", "student_id", student.ID, "teacher_id", teacherID)
	return s.toResponse(student), nil
}

func (s *rosterService) GetByID(ctx context.Context, id uint, teacherID string) (*StudentResponse, error) {
	student, err := s.ownedStudent(ctx, id, teacherID)
	if err != nil {
		return nil, err
	}
	return s.toResponse(student), nil
}

func (s *rosterService) Update(ctx context.Context, id uint, req *UpdateStudentRequest, teacherID string) (*StudentResponse, error) {
	s.logger.Info("Updating student record", "student_id", id, "teacher_id", teacherID)

	if req.ScanCode != nil {
		normalized := strings.ToUpper(strings.TrimSpace(*req.ScanCode))
		req.ScanCode = &normalized
	}
	if errs := s.validator.Validate(req); errs.HasErrors() {
		return nil, errs
	}

	student, err := s.ownedStudent(ctx, id, teacherID)
	if err != nil {
		return nil, err
	}

	if req.ScanCode != nil {
		newCode := strings.ToUpper(strings.TrimSpace(*req.ScanCode))
		if newCode != student.ScanCode {
			exists, err := s.repo.Student().ExistsByScanCode(ctx, nil, teacherID, newCode)
			if err != nil {
				return nil, fmt.Errorf("failed to check scan code uniqueness: %w", err)
			}
			if exists {
				return nil, ErrScanCodeTaken
			}
			student.ScanCode = newCode
		}
	}
	if req.FullName != nil {
		student.FullName = strings.TrimSpace(*req.FullName)
	}
	if req.ExternalCode != nil {
		student.ExternalCode = strings.TrimSpace(*req.ExternalCode)
	}
	if req.Classroom != nil {
		student.Classroom = strings.TrimSpace(*req.Classroom)
	}
	if req.Cohort != nil {
		student.Cohort = strings.TrimSpace(*req.Cohort)
	}
	if req.Notes != nil {
		student.Notes = *req.Notes
	}
	if req.IsActive != nil {
		student.IsActive = *req.IsActive
	}

	if err := s.repo.Student().Update(ctx, nil, student); err != nil {
		return nil, fmt.Errorf("failed to update student record: %w", err)
	}

	if err := s.Refresh(ctx, teacherID); err != nil {
		s.logger.Warn("Failed to refresh roster index after update", "teacher_id", teacherID, "error", err)
	}
	s.publishEvent(ctx, events.EventStudentUpdated, student)

	return s.toResponse(student), nil
}

func (s *rosterService) Delete(ctx context.Context, id uint, teacherID string) error {
	s.logger.Info("Soft-deleting student record", "student_id", id, "teacher_id", teacherID)

	student, err := s.ownedStudent(ctx, id, teacherID)
	if err != nil {
		return err
	}

	if err := s.repo.Student().SoftDelete(ctx, nil, student.ID); err != nil {
		return fmt.Errorf("failed to soft-delete student record: %w", err)
	}

	if err := s.Refresh(ctx, teacherID); err != nil {
		s.logger.Warn("Failed to refresh roster index after delete", "teacher_id", teacherID, "error", err)
	}
	s.publishEvent(ctx, events.EventStudentRemoved, map[string]interface{}{
		"student_id": student.ID,
		"teacher_id": teacherID,
	})
	return nil
}

// ===== LIST AND SEARCH OPERATIONS =====

func (s *rosterService) List(ctx context.Context, filters repositories.StudentFilters, teacherID string) (*RosterListResponse, error) {
	filters.TeacherID = &teacherID

	students, total, err := s.repo.Student().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}

	responses := make([]*StudentResponse, 0, len(students))
	for _, student := range students {
		responses = append(responses, s.toResponse(student))
	}

	size := filters.Limit
	if size <= 0 {
		size = len(responses)
	}
	page := 1
	if size > 0 {
		page = filters.Offset/size + 1
	}

	return &RosterListResponse{
		Students: responses,
		Total:    total,
		Page:     page,
		Size:     size,
	}, nil
}

func (s *rosterService) Search(ctx context.Context, query string, teacherID string) ([]*models.StudentRecord, error) {
	index, err := s.indexFor(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	return index.Search(query), nil
}

// ===== CODE INDEX OPERATIONS =====

func (s *rosterService) Lookup(ctx context.Context, teacherID, scanCode string) (*models.StudentRecord, bool, error) {
	index, err := s.indexFor(ctx, teacherID)
	if err != nil {
		return nil, false, err
	}
	if record, ok := index.Lookup(scanCode); ok {
		return record, true, nil
	}

	// the snapshot can trail a concurrent enrollment; check the store before
	// declaring a miss
	code := strings.ToUpper(strings.TrimSpace(scanCode))
	record, err := s.repo.Student().GetByScanCode(ctx, nil, teacherID, code)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to look up scan code: %w", err)
	}
	if !record.IsActive {
		return nil, false, nil
	}

	if err := s.Refresh(ctx, teacherID); err != nil {
		s.logger.Warn("Failed to refresh roster index after lookup fallback", "error", err)
	}
	return record, true, nil
}

// Refresh rebuilds the teacher's code index from the durable roster. The
// rebuild happens only after the read succeeds, so a failing backend never
// clobbers the last good snapshot.
func (s *rosterService) Refresh(ctx context.Context, teacherID string) error {
	students, err := s.repo.Student().ListByTeacher(ctx, nil, teacherID)
	if err != nil {
		return fmt.Errorf("failed to load roster for index rebuild: %w", err)
	}

	s.index(teacherID).Rebuild(students)
	s.logger.Debug("Roster index rebuilt", "teacher_id", teacherID, "students", len(students))
	return nil
}

// ===== STATISTICS =====

func (s *rosterService) GetStats(ctx context.Context, teacherID string) (*repositories.RosterStats, error) {
	stats, err := s.repo.Student().GetStats(ctx, nil, teacherID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roster stats: %w", err)
	}
	return stats, nil
}

// ===== HELPERS =====

func (s *rosterService) index(teacherID string) *RosterIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, ok := s.indexes[teacherID]
	if !ok {
		index = NewRosterIndex()
		s.indexes[teacherID] = index
	}
	return index
}

// indexFor returns the teacher's index, building it on first use.
func (s *rosterService) indexFor(ctx context.Context, teacherID string) (*RosterIndex, error) {
	s.mu.Lock()
	index, ok := s.indexes[teacherID]
	s.mu.Unlock()
	if ok && index.Len() > 0 {
		return index, nil
	}
	if err := s.Refresh(ctx, teacherID); err != nil {
		return nil, err
	}
	return s.index(teacherID), nil
}

func (s *rosterService) ownedStudent(ctx context.Context, id uint, teacherID string) (*models.StudentRecord, error) {
	student, err := s.repo.Student().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to load student record: %w", err)
	}
	if student.TeacherID != teacherID {
		return nil, NewPermissionError(teacherID, "student", "access", "record belongs to another teacher")
	}
	return student, nil
}

func (s *rosterService) toResponse(student *models.StudentRecord) *StudentResponse {
	return &StudentResponse{
		StudentRecord: student,
		CanEdit:       true,
		CanDelete:     student.ArtifactCount == 0,
	}
}

func (s *rosterService) publishEvent(ctx context.Context, eventType string, data interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, eventType, data); err != nil {
		s.logger.Warn("Failed to publish roster event", "event_type", eventType, "error", err)
	}
}
