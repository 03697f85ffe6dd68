package services

import (
	"context"
	"time"

	"github.com/classkit/scanlink-service/internal/models"
	"github.com/classkit/scanlink-service/internal/repositories"
	"github.com/classkit/scanlink-service/internal/validator"
)

// ===== REQUEST/RESPONSE DTOs =====

// Use validator request types
type CreateStudentRequest = validator.StudentCreateRequest
type UpdateStudentRequest = validator.StudentUpdateRequest
type StudentSearchRequest = validator.StudentSearchRequest
type RosterImportRequest = validator.RosterImportRequest

type StudentResponse struct {
	*models.StudentRecord
	CanEdit   bool `json:"can_edit"`
	CanDelete bool `json:"can_delete"`
}

type RosterListResponse struct {
	Students []*StudentResponse `json:"students"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	Size     int                `json:"size"`
}

type ArtifactResponse struct {
	Locator      string `json:"locator"`
	URL          string `json:"url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Position     int    `json:"position"`
}

type RemoveAllArtifactsResult struct {
	Removed int      `json:"removed"`
	Failed  []string `json:"failed,omitempty"`
}

type ImportRowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

type ImportResult struct {
	Created int              `json:"created"`
	Skipped int              `json:"skipped"`
	Errors  []ImportRowError `json:"errors,omitempty"`
}

// ===== UPLOAD SESSION DTOs =====

// UploadStage enumerates the resting states of one upload session.
type UploadStage string

const (
	StageIdle         UploadStage = "idle"
	StageUploading    UploadStage = "uploading"
	StageConfirm      UploadStage = "confirm"
	StageManualSelect UploadStage = "manual_select"
)

// UploadSnapshot is the observable view of one upload session.
type UploadSnapshot struct {
	Stage            UploadStage           `json:"stage"`
	Progress         float64               `json:"progress"`
	TentativeStudent *models.StudentRecord `json:"tentative_student,omitempty"`
	DetectedCode     string                `json:"detected_code,omitempty"`
	SearchQuery      string                `json:"search_query"`
	Active           bool                  `json:"active"`
	LastError        string                `json:"last_error,omitempty"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

type BatchItemResult struct {
	Index     int    `json:"index"`
	StudentID uint   `json:"student_id,omitempty"`
	Locator   string `json:"locator,omitempty"`
	Error     string `json:"error,omitempty"`
}

type BatchUploadResult struct {
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Items     []BatchItemResult `json:"items"`
}

// ===== SERVICE INTERFACES =====

// RosterService manages a teacher's student records and the in-memory code index.
type RosterService interface {
	// Core CRUD operations
	Create(ctx context.Context, req *CreateStudentRequest, teacherID string) (*StudentResponse, error)
	GetByID(ctx context.Context, id uint, teacherID string) (*StudentResponse, error)
	Update(ctx context.Context, id uint, req *UpdateStudentRequest, teacherID string) (*StudentResponse, error)
	Delete(ctx context.Context, id uint, teacherID string) error

	// List and search operations
	List(ctx context.Context, filters repositories.StudentFilters, teacherID string) (*RosterListResponse, error)
	Search(ctx context.Context, query string, teacherID string) ([]*models.StudentRecord, error)

	// Code index operations
	Lookup(ctx context.Context, teacherID, scanCode string) (*models.StudentRecord, bool, error)
	Refresh(ctx context.Context, teacherID string) error

	// Statistics
	GetStats(ctx context.Context, teacherID string) (*repositories.RosterStats, error)
}

// LinkService ties stored artifacts to student records under the record invariants.
type LinkService interface {
	AddArtifact(ctx context.Context, studentID uint, locator string) (*models.StudentRecord, error)
	RemoveArtifact(ctx context.Context, studentID uint, locator string) (*models.StudentRecord, error)
	RemoveAllArtifacts(ctx context.Context, studentID uint, teacherID string) (*RemoveAllArtifactsResult, error)
	ListArtifacts(ctx context.Context, studentID uint, teacherID string) ([]*ArtifactResponse, error)
	GetArtifact(ctx context.Context, studentID uint, teacherID, locator string) ([]byte, error)
}

// UploadOrchestrator drives one teacher's upload pipeline from raw image to linked artifact.
type UploadOrchestrator interface {
	// Commands
	ProcessImage(ctx context.Context, image []byte) error
	ConfirmAssignment(ctx context.Context) error
	SelectStudent(ctx context.Context, studentID uint) error
	CancelUpload()
	RetryUpload(ctx context.Context) error

	// Queries
	Snapshot() UploadSnapshot
	FilteredStudents(ctx context.Context, query string) ([]*models.StudentRecord, error)
	CanStartUpload() bool
	StatusMessage() string

	// Observation
	Subscribe() (<-chan UploadSnapshot, func())
}

// UploadService hands out per-teacher orchestrators and runs batch uploads.
type UploadService interface {
	SessionFor(teacherID string) UploadOrchestrator
	ProcessBatch(ctx context.Context, teacherID string, images [][]byte) (*BatchUploadResult, error)
	Shutdown()
}

// ImportExportService moves rosters in and out as spreadsheets.
type ImportExportService interface {
	ImportRoster(ctx context.Context, teacherID string, data []byte, req *RosterImportRequest) (*ImportResult, error)
	ExportRoster(ctx context.Context, teacherID string) ([]byte, error)
}

// ===== SERVICE MANAGER =====

type ServiceManager interface {
	// Core service getters
	Roster() RosterService
	Link() LinkService
	Upload() UploadService
	ImportExport() ImportExportService

	// Health and lifecycle
	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
