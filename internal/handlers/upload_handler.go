package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classkit/scanlink-service/internal/config"
	"github.com/classkit/scanlink-service/internal/services"
	"github.com/classkit/scanlink-service/internal/utils"
	"github.com/classkit/scanlink-service/internal/validator"
)

// UploadHandler drives the per-teacher upload session over HTTP. Every
// endpoint resolves the teacher's own orchestrator, so concurrent teachers
// never share state.
type UploadHandler struct {
	BaseHandler
	uploadService services.UploadService
	validator     *validator.Validator
	cfg           config.UploadConfig
}

func NewUploadHandler(
	uploadService services.UploadService,
	validator *validator.Validator,
	cfg config.UploadConfig,
	logger utils.Logger,
) *UploadHandler {
	return &UploadHandler{
		BaseHandler:   NewBaseHandler(logger),
		uploadService: uploadService,
		validator:     validator,
		cfg:           cfg,
	}
}

func (h *UploadHandler) session(c *gin.Context) (services.UploadOrchestrator, bool) {
	teacherID := h.currentTeacherID(c)
	if teacherID == "" {
		return nil, false
	}
	return h.uploadService.SessionFor(teacherID), true
}

func (h *UploadHandler) readImageFile(c *gin.Context, fileHeader *multipart.FileHeader) ([]byte, bool) {
	if fileHeader.Size > h.cfg.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Message: fmt.Sprintf("Image exceeds %d bytes", h.cfg.MaxUploadBytes),
		})
		return nil, false
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Failed to open uploaded image",
			Details: err.Error(),
		})
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Failed to read uploaded image",
			Details: err.Error(),
		})
		return nil, false
	}
	return data, true
}

// ProcessImage starts the pipeline for a captured image
// @Summary Process scanned image
// @Tags uploads
// @Accept multipart/form-data
// @Produce json
// @Param image formData file true "Scanned assessment photo"
// @Success 200 {object} services.UploadSnapshot
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 413 {object} ErrorResponse
// @Router /uploads/process [post]
func (h *UploadHandler) ProcessImage(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Missing image file",
			Details: err.Error(),
		})
		return
	}

	data, ok := h.readImageFile(c, fileHeader)
	if !ok {
		return
	}

	h.LogRequest(c, "Processing scanned image", "bytes", len(data))

	if err := session.ProcessImage(c.Request.Context(), data); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, session.Snapshot())
}

// ConfirmAssignment commits the detected student
// @Summary Confirm assignment
// @Tags uploads
// @Produce json
// @Success 200 {object} services.UploadSnapshot
// @Failure 409 {object} ErrorResponse
// @Router /uploads/confirm [post]
func (h *UploadHandler) ConfirmAssignment(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	h.LogRequest(c, "Confirming assignment")

	if err := session.ConfirmAssignment(c.Request.Context()); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, session.Snapshot())
}

// SelectStudent resolves a manual-selection session
// @Summary Select student manually
// @Tags uploads
// @Accept json
// @Produce json
// @Param selection body validator.ManualSelectRequest true "Chosen student"
// @Success 200 {object} services.UploadSnapshot
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /uploads/select [post]
func (h *UploadHandler) SelectStudent(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var req validator.ManualSelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}
	if errs := h.validator.Validate(&req); errs.HasErrors() {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: errs,
		})
		return
	}

	h.LogRequest(c, "Selecting student manually", "student_id", req.StudentID)

	if err := session.SelectStudent(c.Request.Context(), req.StudentID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, session.Snapshot())
}

// CancelUpload discards the active session
// @Summary Cancel upload
// @Tags uploads
// @Produce json
// @Success 200 {object} services.UploadSnapshot
// @Router /uploads/cancel [post]
func (h *UploadHandler) CancelUpload(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	h.LogRequest(c, "Cancelling upload session")

	session.CancelUpload()
	c.JSON(http.StatusOK, session.Snapshot())
}

// RetryUpload re-runs the pipeline with the held image
// @Summary Retry upload
// @Tags uploads
// @Produce json
// @Success 200 {object} services.UploadSnapshot
// @Failure 409 {object} ErrorResponse
// @Router /uploads/retry [post]
func (h *UploadHandler) RetryUpload(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	h.LogRequest(c, "Retrying upload session")

	if err := session.RetryUpload(c.Request.Context()); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, session.Snapshot())
}

// GetSession reports the current session snapshot
// @Summary Upload session state
// @Tags uploads
// @Produce json
// @Success 200 {object} services.UploadSnapshot
// @Router /uploads/session [get]
func (h *UploadHandler) GetSession(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, session.Snapshot())
}

// StreamSession pushes session snapshots as server-sent events until the
// client disconnects.
// @Summary Upload session events
// @Tags uploads
// @Produce text/event-stream
// @Router /uploads/session/events [get]
func (h *UploadHandler) StreamSession(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	snapshots, cancel := session.Subscribe()
	defer cancel()

	// initial state so the client renders something immediately
	c.SSEvent("snapshot", session.Snapshot())
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case snapshot, open := <-snapshots:
			if !open {
				return false
			}
			c.SSEvent("snapshot", snapshot)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// FilteredStudents lists manual-selection candidates
// @Summary Manual-selection candidates
// @Tags uploads
// @Produce json
// @Param q query string false "Search query"
// @Success 200 {array} models.StudentRecord
// @Router /uploads/students [get]
func (h *UploadHandler) FilteredStudents(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	students, err := session.FilteredStudents(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, students)
}

// ProcessBatch pushes several images through detect-and-link in one request
// @Summary Batch upload
// @Tags uploads
// @Accept multipart/form-data
// @Produce json
// @Param images formData file true "Scanned assessment photos"
// @Success 200 {object} services.BatchUploadResult
// @Failure 400 {object} ErrorResponse
// @Router /uploads/batch [post]
func (h *UploadHandler) ProcessBatch(c *gin.Context) {
	teacherID := h.currentTeacherID(c)
	if teacherID == "" {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid multipart form",
			Details: err.Error(),
		})
		return
	}

	fileHeaders := form.File["images"]
	if len(fileHeaders) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "No images provided",
		})
		return
	}

	images := make([][]byte, 0, len(fileHeaders))
	for _, fileHeader := range fileHeaders {
		data, ok := h.readImageFile(c, fileHeader)
		if !ok {
			return
		}
		images = append(images, data)
	}

	h.LogRequest(c, "Processing upload batch", "images", len(images))

	result, err := h.uploadService.ProcessBatch(c.Request.Context(), teacherID, images)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
