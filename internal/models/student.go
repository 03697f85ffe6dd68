package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// StudentRecord is one learner in a teacher's roster. Scanned assessment
// photos are linked to it through the artifact locator list; the list is
// only ever mutated through the link service so that ArtifactCount and
// LastArtifactAt stay consistent with it.
type StudentRecord struct {
	ID uint `json:"id" gorm:"primaryKey"`

	FullName     string `json:"full_name" gorm:"not null;size:100;index" validate:"required,min=1,max=100"`
	ExternalCode string `json:"external_code" gorm:"size:64" validate:"omitempty,max=64"`
	ScanCode     string `json:"scan_code" gorm:"not null;size:128;uniqueIndex:idx_teacher_scan_code" validate:"required,min=4,max=128"`
	Classroom    string `json:"classroom" gorm:"size:64;index" validate:"omitempty,max=64"`
	Cohort       string `json:"cohort" gorm:"size:64" validate:"omitempty,max=64"`
	Notes        string `json:"notes" gorm:"type:text" validate:"omitempty,max=2000"`

	// Ordered by upload time, no duplicates. Invariant:
	// ArtifactCount == len(ArtifactLocators) and LastArtifactAt is
	// non-nil exactly when ArtifactCount > 0.
	ArtifactLocators datatypes.JSONSlice[string] `json:"artifact_locators" gorm:"type:jsonb"`
	ArtifactCount    int                         `json:"artifact_count" gorm:"not null;default:0"`
	LastArtifactAt   *time.Time                  `json:"last_artifact_at"`

	// Soft-delete marker. Inactive students keep their row (and any
	// artifact references) but drop out of the roster index.
	IsActive bool `json:"is_active" gorm:"not null;default:true;index"`

	// Owning teacher (Casdoor user ID).
	TeacherID string `json:"teacher_id" gorm:"not null;index;size:255;uniqueIndex:idx_teacher_scan_code"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (StudentRecord) TableName() string {
	return "student_records"
}

// HasArtifact reports whether locator is already linked to this record.
func (s *StudentRecord) HasArtifact(locator string) bool {
	for _, l := range s.ArtifactLocators {
		if l == locator {
			return true
		}
	}
	return false
}

// ConsistentArtifacts reports whether the counter/timestamp invariants hold.
func (s *StudentRecord) ConsistentArtifacts() bool {
	if s.ArtifactCount != len(s.ArtifactLocators) {
		return false
	}
	return (s.LastArtifactAt != nil) == (s.ArtifactCount > 0)
}
