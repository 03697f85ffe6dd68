package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/classkit/scanlink-service/internal/cache"
	"github.com/classkit/scanlink-service/internal/models"
	"github.com/classkit/scanlink-service/internal/repositories"
)

type StudentPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewStudentPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.StudentRepository {
	return &StudentPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

// getDB returns the transaction DB if provided, otherwise the default DB
func (s *StudentPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

// Create inserts a new student record and invalidates roster caches.
func (s *StudentPostgreSQL) Create(ctx context.Context, tx *gorm.DB, student *models.StudentRecord) error {
	if err := s.getDB(tx).WithContext(ctx).Create(student).Error; err != nil {
		return fmt.Errorf("failed to create student record: %w", err)
	}
	cache.SafeDelete(ctx, s.cacheManager.Roster, fmt.Sprintf("teacher:%s", student.TeacherID))
	cache.SafeInvalidatePattern(ctx, s.cacheManager.Stats, fmt.Sprintf("roster:%s:*", student.TeacherID))
	return nil
}

// GetByID retrieves a student record by ID with caching.
func (s *StudentPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.StudentRecord, error) {
	cacheKey := fmt.Sprintf("id:%d", id)
	var student models.StudentRecord

	err := s.cacheManager.Student.CacheOrExecute(ctx, cacheKey, &student, cache.StudentCacheConfig.TTL, func() (interface{}, error) {
		var rec models.StudentRecord
		if err := s.getDB(tx).WithContext(ctx).First(&rec, id).Error; err != nil {
			return nil, err
		}
		return &rec, nil
	})
	if err != nil {
		return nil, err
	}

	return &student, nil
}

// GetByIDForUpdate loads and row-locks a record. Only meaningful inside a
// transaction; the tx-scoped repository passes its own handle when tx is nil.
func (s *StudentPostgreSQL) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*models.StudentRecord, error) {
	var student models.StudentRecord
	err := s.getDB(tx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&student, id).Error
	if err != nil {
		return nil, err
	}
	return &student, nil
}

// GetByScanCode resolves a scannable code within one teacher's roster.
func (s *StudentPostgreSQL) GetByScanCode(ctx context.Context, tx *gorm.DB, teacherID, scanCode string) (*models.StudentRecord, error) {
	var student models.StudentRecord
	err := s.getDB(tx).WithContext(ctx).
		Where("teacher_id = ? AND scan_code = ? AND is_active = ?", teacherID, scanCode, true).
		First(&student).Error
	if err != nil {
		return nil, err
	}
	return &student, nil
}

// Update persists the full record and invalidates caches.
func (s *StudentPostgreSQL) Update(ctx context.Context, tx *gorm.DB, student *models.StudentRecord) error {
	if err := s.getDB(tx).WithContext(ctx).Save(student).Error; err != nil {
		return fmt.Errorf("failed to update student record: %w", err)
	}
	cache.InvalidateStudentCache(ctx, s.cacheManager, student.ID, student.TeacherID)
	return nil
}

// UpdateArtifacts writes only the artifact-related columns of an already
// locked record so the list, counter and timestamp commit together.
func (s *StudentPostgreSQL) UpdateArtifacts(ctx context.Context, tx *gorm.DB, student *models.StudentRecord) error {
	err := s.getDB(tx).WithContext(ctx).
		Model(&models.StudentRecord{}).
		Where("id = ?", student.ID).
		Updates(map[string]interface{}{
			"artifact_locators": student.ArtifactLocators,
			"artifact_count":    student.ArtifactCount,
			"last_artifact_at":  student.LastArtifactAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update artifacts: %w", err)
	}
	cache.InvalidateStudentCache(ctx, s.cacheManager, student.ID, student.TeacherID)
	return nil
}

// ListByTeacher returns the full active roster of one teacher ordered by
// name, with whole-roster caching.
func (s *StudentPostgreSQL) ListByTeacher(ctx context.Context, tx *gorm.DB, teacherID string) ([]*models.StudentRecord, error) {
	cacheKey := fmt.Sprintf("teacher:%s", teacherID)
	var students []*models.StudentRecord

	err := s.cacheManager.Roster.CacheOrExecute(ctx, cacheKey, &students, cache.RosterCacheConfig.TTL, func() (interface{}, error) {
		var recs []*models.StudentRecord
		err := s.getDB(tx).WithContext(ctx).
			Where("teacher_id = ? AND is_active = ?", teacherID, true).
			Order("full_name ASC").
			Find(&recs).Error
		if err != nil {
			return nil, fmt.Errorf("failed to list roster: %w", err)
		}
		return recs, nil
	})
	if err != nil {
		return nil, err
	}

	return students, nil
}

// List applies filters and pagination.
func (s *StudentPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.StudentFilters) ([]*models.StudentRecord, int64, error) {
	query := s.getDB(tx).WithContext(ctx).Model(&models.StudentRecord{})
	query = applyStudentFilters(query, filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count students: %w", err)
	}

	query = applyStudentSort(query, filters)
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	var students []*models.StudentRecord
	if err := query.Find(&students).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list students: %w", err)
	}

	return students, total, nil
}

// SoftDelete flips the active flag; the row survives so existing artifact
// references keep resolving.
func (s *StudentPostgreSQL) SoftDelete(ctx context.Context, tx *gorm.DB, id uint) error {
	var student models.StudentRecord
	if err := s.getDB(tx).WithContext(ctx).First(&student, id).Error; err != nil {
		return err
	}

	err := s.getDB(tx).WithContext(ctx).
		Model(&models.StudentRecord{}).
		Where("id = ?", id).
		Update("is_active", false).Error
	if err != nil {
		return fmt.Errorf("failed to soft delete student: %w", err)
	}

	cache.InvalidateStudentCache(ctx, s.cacheManager, id, student.TeacherID)
	return nil
}

// ExistsByScanCode checks scan-code uniqueness within a roster, with a short
// existence cache.
func (s *StudentPostgreSQL) ExistsByScanCode(ctx context.Context, tx *gorm.DB, teacherID, scanCode string) (bool, error) {
	cacheKey := fmt.Sprintf("scancode:%s:%s", teacherID, scanCode)
	if ok, err := s.cacheManager.Exists.Exists(ctx, cacheKey); err == nil && ok {
		return true, nil
	}

	var count int64
	err := s.getDB(tx).WithContext(ctx).
		Model(&models.StudentRecord{}).
		Where("teacher_id = ? AND scan_code = ?", teacherID, scanCode).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check scan code: %w", err)
	}

	if count > 0 {
		_ = s.cacheManager.Exists.Set(ctx, cacheKey, true, cache.ExistsCacheConfig.TTL)
	}
	return count > 0, nil
}

// GetStats aggregates roster metrics for one teacher.
func (s *StudentPostgreSQL) GetStats(ctx context.Context, tx *gorm.DB, teacherID string) (*repositories.RosterStats, error) {
	cacheKey := fmt.Sprintf("roster:%s:stats", teacherID)
	var stats repositories.RosterStats

	err := s.cacheManager.Stats.CacheOrExecute(ctx, cacheKey, &stats, cache.StatsCacheConfig.TTL, func() (interface{}, error) {
		var result repositories.RosterStats
		db := s.getDB(tx).WithContext(ctx).Model(&models.StudentRecord{})

		var total, active, noUpload int64
		if err := db.Session(&gorm.Session{}).Where("teacher_id = ?", teacherID).Count(&total).Error; err != nil {
			return nil, fmt.Errorf("failed to count students: %w", err)
		}
		if err := db.Session(&gorm.Session{}).Where("teacher_id = ? AND is_active = ?", teacherID, true).Count(&active).Error; err != nil {
			return nil, fmt.Errorf("failed to count active students: %w", err)
		}
		if err := db.Session(&gorm.Session{}).Where("teacher_id = ? AND is_active = ? AND artifact_count = 0", teacherID, true).Count(&noUpload).Error; err != nil {
			return nil, fmt.Errorf("failed to count students without upload: %w", err)
		}

		var totalArtifacts int
		err := s.getDB(tx).WithContext(ctx).
			Model(&models.StudentRecord{}).
			Where("teacher_id = ?", teacherID).
			Select("COALESCE(SUM(artifact_count), 0)").
			Scan(&totalArtifacts).Error
		if err != nil {
			return nil, fmt.Errorf("failed to sum artifacts: %w", err)
		}

		row := struct{ Last *time.Time }{}
		err = s.getDB(tx).WithContext(ctx).
			Model(&models.StudentRecord{}).
			Where("teacher_id = ?", teacherID).
			Select("MAX(last_artifact_at) as last").
			Scan(&row).Error
		if err != nil {
			return nil, fmt.Errorf("failed to get last upload time: %w", err)
		}

		result.TotalStudents = int(total)
		result.ActiveStudents = int(active)
		result.StudentsNoUpload = int(noUpload)
		result.TotalArtifacts = totalArtifacts
		result.LastUploadAt = row.Last
		return &result, nil
	})
	if err != nil {
		return nil, err
	}

	return &stats, nil
}

func applyStudentFilters(query *gorm.DB, filters repositories.StudentFilters) *gorm.DB {
	if filters.TeacherID != nil {
		query = query.Where("teacher_id = ?", *filters.TeacherID)
	}
	if filters.Classroom != nil {
		query = query.Where("classroom = ?", *filters.Classroom)
	}
	if filters.Cohort != nil {
		query = query.Where("cohort = ?", *filters.Cohort)
	}
	if filters.IsActive != nil {
		query = query.Where("is_active = ?", *filters.IsActive)
	}
	return query
}

func applyStudentSort(query *gorm.DB, filters repositories.StudentFilters) *gorm.DB {
	order := "ASC"
	if strings.EqualFold(filters.SortOrder, "desc") {
		order = "DESC"
	}
	switch filters.SortBy {
	case "created_at":
		query = query.Order("created_at " + order)
	case "last_artifact_at":
		query = query.Order("last_artifact_at " + order + " NULLS LAST")
	default:
		query = query.Order("full_name " + order)
	}
	return query
}
