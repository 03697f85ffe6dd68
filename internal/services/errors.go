package services

import (
	"errors"
	"fmt"

	"github.com/classkit/scanlink-service/internal/validator"
)

// ===== SENTINEL ERRORS =====

var (
	ErrStudentNotFound    = errors.New("student not found")
	ErrArtifactNotFound   = errors.New("artifact not found")
	ErrScanCodeTaken      = errors.New("scan code already in use")
	ErrUploadInProgress   = errors.New("an upload session is already active")
	ErrNoActiveSession    = errors.New("no active upload session")
	ErrNoTentativeStudent = errors.New("no tentative student to confirm")
	ErrNoHeldImage        = errors.New("no held image to retry")
	ErrValidationFailed   = errors.New("validation failed")
)

// ===== VALIDATION =====

type ValidationError = validator.ValidationError
type ValidationErrors = validator.ValidationErrors

// NewValidationError builds a single-field validation failure.
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
		Rule:    "business_logic",
	}
}

// ===== PERMISSION / BUSINESS RULES =====

type PermissionError struct {
	UserID   string
	Resource string
	Action   string
	Reason   string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied for user %s on %s.%s: %s", e.UserID, e.Resource, e.Action, e.Reason)
}

func NewPermissionError(userID, resource, action, reason string) *PermissionError {
	return &PermissionError{UserID: userID, Resource: resource, Action: action, Reason: reason}
}

type BusinessRuleError struct {
	Rule    string
	Message string
	Context map[string]interface{}
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule %s violated: %s", e.Rule, e.Message)
}

func NewBusinessRuleError(rule, message string) *BusinessRuleError {
	return &BusinessRuleError{Rule: rule, Message: message}
}

// ===== UPLOAD PIPELINE ERRORS =====

// ImageTooLargeError means compression could not meet the byte budget.
type ImageTooLargeError struct {
	BudgetBytes int64
}

func (e *ImageTooLargeError) Error() string {
	return fmt.Sprintf("image cannot be compressed under %d bytes", e.BudgetBytes)
}

func NewImageTooLargeError(budgetBytes int64) *ImageTooLargeError {
	return &ImageTooLargeError{BudgetBytes: budgetBytes}
}

// DetectionError means the detector itself failed, distinct from "no code found".
type DetectionError struct {
	Err error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("code detection failed: %v", e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

func NewDetectionError(err error) *DetectionError {
	return &DetectionError{Err: err}
}

// ===== STORAGE ERRORS =====

type StorageWriteError struct {
	Err error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("artifact write failed: %v", e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

func NewStorageWriteError(err error) *StorageWriteError {
	return &StorageWriteError{Err: err}
}

type StorageReadError struct {
	Locator string
	Err     error
}

func (e *StorageReadError) Error() string {
	return fmt.Sprintf("artifact read failed for %s: %v", e.Locator, e.Err)
}

func (e *StorageReadError) Unwrap() error { return e.Err }

func NewStorageReadError(locator string, err error) *StorageReadError {
	return &StorageReadError{Locator: locator, Err: err}
}

type StorageDeleteError struct {
	Locator string
	Err     error
}

func (e *StorageDeleteError) Error() string {
	return fmt.Sprintf("artifact delete failed for %s: %v", e.Locator, e.Err)
}

func (e *StorageDeleteError) Unwrap() error { return e.Err }

func NewStorageDeleteError(locator string, err error) *StorageDeleteError {
	return &StorageDeleteError{Locator: locator, Err: err}
}

// ===== RECORD ERRORS =====

type RecordNotFoundError struct {
	StudentID uint
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("student record %d not found", e.StudentID)
}

func NewRecordNotFoundError(studentID uint) *RecordNotFoundError {
	return &RecordNotFoundError{StudentID: studentID}
}

type RecordWriteError struct {
	StudentID uint
	Err       error
}

func (e *RecordWriteError) Error() string {
	return fmt.Sprintf("failed to commit student record %d: %v", e.StudentID, e.Err)
}

func (e *RecordWriteError) Unwrap() error { return e.Err }

func NewRecordWriteError(studentID uint, err error) *RecordWriteError {
	return &RecordWriteError{StudentID: studentID, Err: err}
}

// MissingStudentIDError guards against a confirmed student without an assigned identity.
type MissingStudentIDError struct{}

func (e *MissingStudentIDError) Error() string {
	return "selected student record has no assigned id"
}

func NewMissingStudentIDError() *MissingStudentIDError {
	return &MissingStudentIDError{}
}
