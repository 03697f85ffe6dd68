package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/classkit/scanlink-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type StudentFilters struct {
	TeacherID *string `json:"teacher_id"`
	Classroom *string `json:"classroom"`
	Cohort    *string `json:"cohort"`
	IsActive  *bool   `json:"is_active"`
	Limit     int     `json:"limit"`
	Offset    int     `json:"offset"`
	SortBy    string  `json:"sort_by"`    // "full_name", "created_at", "last_artifact_at"
	SortOrder string  `json:"sort_order"` // "asc", "desc"
}

// ===== SHARED STATISTICS STRUCTS =====

type RosterStats struct {
	TotalStudents    int        `json:"total_students"`
	ActiveStudents   int        `json:"active_students"`
	TotalArtifacts   int        `json:"total_artifacts"`
	LastUploadAt     *time.Time `json:"last_upload_at"`
	StudentsNoUpload int        `json:"students_without_upload"`
}

// ===== REPOSITORY INTERFACES =====

// StudentRepository is the roster backend contract. Artifact mutations are
// expressed as whole-record updates inside a transaction so the counter and
// locator-list invariants commit as one unit.
type StudentRepository interface {
	Create(ctx context.Context, tx *gorm.DB, student *models.StudentRecord) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.StudentRecord, error)
	GetByScanCode(ctx context.Context, tx *gorm.DB, teacherID, scanCode string) (*models.StudentRecord, error)
	Update(ctx context.Context, tx *gorm.DB, student *models.StudentRecord) error

	// GetByIDForUpdate locks the row for the duration of the surrounding
	// transaction. Only meaningful inside WithTransaction.
	GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*models.StudentRecord, error)

	// UpdateArtifacts persists only the artifact list, counter and
	// timestamp of a previously locked record.
	UpdateArtifacts(ctx context.Context, tx *gorm.DB, student *models.StudentRecord) error

	// ListByTeacher returns the active roster of one teacher ordered by
	// name; the full set, not a page.
	ListByTeacher(ctx context.Context, tx *gorm.DB, teacherID string) ([]*models.StudentRecord, error)

	List(ctx context.Context, tx *gorm.DB, filters StudentFilters) ([]*models.StudentRecord, int64, error)
	SoftDelete(ctx context.Context, tx *gorm.DB, id uint) error

	ExistsByScanCode(ctx context.Context, tx *gorm.DB, teacherID, scanCode string) (bool, error)
	GetStats(ctx context.Context, tx *gorm.DB, teacherID string) (*RosterStats, error)
}

type UserFilters struct {
	Query  string
	Limit  int
	Offset int
}

// UserRepository provides read access to teacher identities (owned by
// Casdoor, cached locally).
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context, filters UserFilters) ([]*models.User, int64, error)
	ExistsByID(ctx context.Context, id string) (bool, error)
	HasRole(ctx context.Context, id string, role models.UserRole) (bool, error)
}
