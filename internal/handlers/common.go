package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/classkit/scanlink-service/internal/services"
	"github.com/classkit/scanlink-service/internal/utils"
)

// ErrorResponse is the uniform error payload for all endpoints.
type ErrorResponse struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// SuccessResponse wraps responses that carry no natural body of their own.
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// BaseHandler carries the pieces every handler needs.
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

// LogRequest logs a request with the request-scoped logger when present.
func (h *BaseHandler) LogRequest(c *gin.Context, msg string, args ...any) {
	logger := utils.LoggerFromContext(c, h.logger)
	logger.Info(msg, args...)
}

// parseIDParam parses a numeric path parameter, writing a 400 on failure.
// A zero return means the response has already been sent.
func (h *BaseHandler) parseIDParam(c *gin.Context, name string) uint {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + name + " parameter",
			Details: raw,
		})
		return 0
	}
	return uint(id)
}

// currentTeacherID returns the authenticated teacher, writing a 401 when the
// auth middleware did not run. An empty return means the response was sent.
func (h *BaseHandler) currentTeacherID(c *gin.Context) string {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return ""
	}
	id, ok := userID.(string)
	if !ok || id == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return ""
	}
	return id
}

// handleServiceError maps the service error taxonomy onto HTTP statuses.
func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	var validationErrors services.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: validationErrors,
		})
		return
	}

	var validationError *services.ValidationError
	if errors.As(err, &validationError) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: services.ValidationErrors{*validationError},
		})
		return
	}

	var permissionError *services.PermissionError
	if errors.As(err, &permissionError) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Access denied",
			Details: map[string]interface{}{
				"resource": permissionError.Resource,
				"action":   permissionError.Action,
				"reason":   permissionError.Reason,
			},
		})
		return
	}

	var businessRuleError *services.BusinessRuleError
	if errors.As(err, &businessRuleError) {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Message: businessRuleError.Message,
			Details: map[string]interface{}{
				"rule":    businessRuleError.Rule,
				"context": businessRuleError.Context,
			},
		})
		return
	}

	var tooLarge *services.ImageTooLargeError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Message: "Image cannot be compressed under the size budget",
			Details: map[string]interface{}{"budget_bytes": tooLarge.BudgetBytes},
		})
		return
	}

	var missingID *services.MissingStudentIDError
	if errors.As(err, &missingID) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Selected student record has no assigned id",
		})
		return
	}

	var notFound *services.RecordNotFoundError
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Student record not found",
		})
		return
	}

	var writeErr *services.RecordWriteError
	if errors.As(err, &writeErr) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Failed to commit student record",
		})
		return
	}

	var storageWrite *services.StorageWriteError
	var storageRead *services.StorageReadError
	var storageDelete *services.StorageDeleteError
	if errors.As(err, &storageWrite) || errors.As(err, &storageRead) || errors.As(err, &storageDelete) {
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Message: "Artifact storage is unavailable",
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrStudentNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Student not found",
		})
	case errors.Is(err, services.ErrArtifactNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Artifact not found",
		})
	case errors.Is(err, services.ErrScanCodeTaken):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Scan code already in use",
		})
	case errors.Is(err, services.ErrUploadInProgress):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "An upload session is already active",
		})
	case errors.Is(err, services.ErrNoActiveSession):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "No active upload session",
		})
	case errors.Is(err, services.ErrNoTentativeStudent):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "No tentative student to confirm",
		})
	case errors.Is(err, services.ErrNoHeldImage):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "No held image to retry",
		})
	case errors.Is(err, services.ErrValidationFailed):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: err.Error(),
		})
	default:
		logger := utils.LoggerFromContext(c, h.logger)
		logger.Error("Unhandled service error", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}
