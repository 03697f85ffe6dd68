package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/classkit/scanlink-service/internal/events"
	"github.com/classkit/scanlink-service/internal/models"
	"github.com/classkit/scanlink-service/internal/repositories"
	"github.com/classkit/scanlink-service/internal/storage"
)

// rosterCache is the slice of RosterService the linker needs to keep the
// in-memory index in step with committed record changes.
type rosterCache interface {
	Refresh(ctx context.Context, teacherID string) error
}

type linkService struct {
	repo      repositories.Repository
	store     storage.ArtifactStore
	roster    rosterCache
	logger    *slog.Logger
	publisher events.EventPublisher
}

func NewLinkService(repo repositories.Repository, store storage.ArtifactStore, roster rosterCache, logger *slog.Logger, publisher events.EventPublisher) LinkService {
	return &linkService{
		repo:      repo,
		store:     store,
		roster:    roster,
		logger:    logger,
		publisher: publisher,
	}
}

// AddArtifact appends the locator to the student's artifact list, bumps the
// counter and stamps the upload time, committing all three as one unit. The
// roster index is refreshed only after the commit succeeds.
func (s *linkService) AddArtifact(ctx context.Context, studentID uint, locator string) (*models.StudentRecord, error) {
	if studentID == 0 {
		return nil, NewMissingStudentIDError()
	}
	if locator == "" {
		return nil, NewValidationError("locator", "is required", locator)
	}

	var updated *models.StudentRecord
	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		student, err := txRepo.Student().GetByIDForUpdate(ctx, nil, studentID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return NewRecordNotFoundError(studentID)
			}
			return NewRecordWriteError(studentID, err)
		}

		if student.HasArtifact(locator) {
			updated = student
			return nil
		}

		now := time.Now().UTC()
		student.ArtifactLocators = append(student.ArtifactLocators, locator)
		student.ArtifactCount = len(student.ArtifactLocators)
		student.LastArtifactAt = &now

		if err := txRepo.Student().UpdateArtifacts(ctx, nil, student); err != nil {
			return NewRecordWriteError(studentID, err)
		}
		updated = student
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.refreshAfterCommit(ctx, updated.TeacherID)
	s.publishEvent(ctx, events.EventArtifactLinked, map[string]interface{}{
		"student_id": updated.ID,
		"teacher_id": updated.TeacherID,
		"locator":    locator,
	})

	s.logger.Info("Artifact linked", "student_id", updated.ID, "artifact_count", updated.ArtifactCount)
	return updated, nil
}

// RemoveArtifact detaches the locator if present. Removing an absent locator
// is a no-op; the counter never goes negative.
func (s *linkService) RemoveArtifact(ctx context.Context, studentID uint, locator string) (*models.StudentRecord, error) {
	if studentID == 0 {
		return nil, NewMissingStudentIDError()
	}

	var updated *models.StudentRecord
	var changed bool
	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		student, err := txRepo.Student().GetByIDForUpdate(ctx, nil, studentID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return NewRecordNotFoundError(studentID)
			}
			return NewRecordWriteError(studentID, err)
		}

		if !student.HasArtifact(locator) {
			updated = student
			return nil
		}

		remaining := student.ArtifactLocators[:0]
		for _, l := range student.ArtifactLocators {
			if l != locator {
				remaining = append(remaining, l)
			}
		}
		student.ArtifactLocators = remaining
		student.ArtifactCount = len(remaining)
		if student.ArtifactCount == 0 {
			student.LastArtifactAt = nil
		}

		if err := txRepo.Student().UpdateArtifacts(ctx, nil, student); err != nil {
			return NewRecordWriteError(studentID, err)
		}
		updated = student
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		if delErr := s.store.Delete(ctx, locator); delErr != nil {
			s.logger.Warn("Failed to delete unlinked artifact blob", "student_id", studentID, "locator", locator, "error", delErr)
		}
		if delErr := s.store.Delete(ctx, storage.ThumbnailLocator(locator)); delErr != nil {
			s.logger.Warn("Failed to delete unlinked artifact thumbnail", "student_id", studentID, "locator", locator, "error", delErr)
		}
		s.refreshAfterCommit(ctx, updated.TeacherID)
		s.publishEvent(ctx, events.EventArtifactUnlinked, map[string]interface{}{
			"student_id": updated.ID,
			"teacher_id": updated.TeacherID,
			"locator":    locator,
		})
	}
	return updated, nil
}

// RemoveAllArtifacts deletes every stored blob for the student and clears the
// record's artifact fields. Blob deletions continue past individual failures;
// only successfully deleted locators are unlinked.
func (s *linkService) RemoveAllArtifacts(ctx context.Context, studentID uint, teacherID string) (*RemoveAllArtifactsResult, error) {
	student, err := s.ownedStudent(ctx, studentID, teacherID)
	if err != nil {
		return nil, err
	}

	result := &RemoveAllArtifactsResult{}
	for _, locator := range student.ArtifactLocators {
		if err := s.store.Delete(ctx, locator); err != nil {
			s.logger.Warn("Failed to delete artifact blob", "student_id", studentID, "locator", locator, "error", err)
			result.Failed = append(result.Failed, locator)
			continue
		}
		if _, err := s.RemoveArtifact(ctx, studentID, locator); err != nil {
			s.logger.Warn("Failed to unlink artifact", "student_id", studentID, "locator", locator, "error", err)
			result.Failed = append(result.Failed, locator)
			continue
		}
		result.Removed++
	}
	return result, nil
}

// ListArtifacts returns the student's locators with short-lived download URLs.
func (s *linkService) ListArtifacts(ctx context.Context, studentID uint, teacherID string) ([]*ArtifactResponse, error) {
	student, err := s.ownedStudent(ctx, studentID, teacherID)
	if err != nil {
		return nil, err
	}

	artifacts := make([]*ArtifactResponse, 0, len(student.ArtifactLocators))
	for i, locator := range student.ArtifactLocators {
		response := &ArtifactResponse{Locator: locator, Position: i}
		url, err := s.store.PresignedURL(ctx, locator, 1*time.Hour)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				s.logger.Warn("Failed to presign artifact url", "locator", locator, "error", err)
			}
		} else {
			response.URL = url
		}
		thumbURL, err := s.store.PresignedURL(ctx, storage.ThumbnailLocator(locator), 1*time.Hour)
		if err == nil {
			response.ThumbnailURL = thumbURL
		}
		artifacts = append(artifacts, response)
	}
	return artifacts, nil
}

// GetArtifact returns one linked artifact's bytes after an ownership check.
// The read is capped at the store's configured limit.
func (s *linkService) GetArtifact(ctx context.Context, studentID uint, teacherID, locator string) ([]byte, error) {
	student, err := s.ownedStudent(ctx, studentID, teacherID)
	if err != nil {
		return nil, err
	}
	if !student.HasArtifact(locator) {
		return nil, ErrArtifactNotFound
	}

	data, err := s.store.Get(ctx, locator)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrArtifactNotFound
		}
		return nil, NewStorageReadError(locator, err)
	}
	return data, nil
}

// ===== HELPERS =====

func (s *linkService) ownedStudent(ctx context.Context, studentID uint, teacherID string) (*models.StudentRecord, error) {
	student, err := s.repo.Student().GetByID(ctx, nil, studentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, NewRecordNotFoundError(studentID)
		}
		return nil, fmt.Errorf("failed to load student record: %w", err)
	}
	if teacherID != "" && student.TeacherID != teacherID {
		return nil, NewPermissionError(teacherID, "student", "artifacts", "record belongs to another teacher")
	}
	return student, nil
}

func (s *linkService) refreshAfterCommit(ctx context.Context, teacherID string) {
	if s.roster == nil {
		return
	}
	if err := s.roster.Refresh(ctx, teacherID); err != nil {
		s.logger.Warn("Failed to refresh roster index after link change", "teacher_id", teacherID, "error", err)
	}
}

func (s *linkService) publishEvent(ctx context.Context, eventType string, data interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, eventType, data); err != nil {
		s.logger.Warn("Failed to publish link event", "event_type", eventType, "error", err)
	}
}
