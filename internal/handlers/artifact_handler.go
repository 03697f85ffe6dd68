package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classkit/scanlink-service/internal/services"
	"github.com/classkit/scanlink-service/internal/utils"
)

// ArtifactHandler serves the artifacts linked to a roster entry.
type ArtifactHandler struct {
	BaseHandler
	linkService services.LinkService
}

func NewArtifactHandler(linkService services.LinkService, logger utils.Logger) *ArtifactHandler {
	return &ArtifactHandler{
		BaseHandler: NewBaseHandler(logger),
		linkService: linkService,
	}
}

// DownloadArtifact streams one linked artifact's bytes
// @Summary Download an artifact
// @Tags artifacts
// @Produce image/webp
// @Param id path uint true "Student ID"
// @Param locator query string true "Artifact locator"
// @Success 200 {file} binary
// @Failure 404 {object} ErrorResponse
// @Router /students/{id}/artifacts/download [get]
func (h *ArtifactHandler) DownloadArtifact(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	teacherID := h.currentTeacherID(c)
	if teacherID == "" {
		return
	}

	locator := c.Query("locator")
	if locator == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Missing locator parameter",
		})
		return
	}

	data, err := h.linkService.GetArtifact(c.Request.Context(), id, teacherID, locator)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Data(http.StatusOK, "image/webp", data)
}

// ListArtifacts lists a student's artifacts with download URLs
// @Summary List artifacts
// @Tags artifacts
// @Produce json
// @Param id path uint true "Student ID"
// @Success 200 {array} services.ArtifactResponse
// @Failure 404 {object} ErrorResponse
// @Router /students/{id}/artifacts [get]
func (h *ArtifactHandler) ListArtifacts(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	teacherID := h.currentTeacherID(c)
	if teacherID == "" {
		return
	}

	artifacts, err := h.linkService.ListArtifacts(c.Request.Context(), id, teacherID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, artifacts)
}

// RemoveArtifact unlinks one artifact from a student
// @Summary Remove artifact
// @Tags artifacts
// @Produce json
// @Param id path uint true "Student ID"
// @Param locator query string true "Artifact locator"
// @Success 200 {object} models.StudentRecord
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /students/{id}/artifacts [delete]
func (h *ArtifactHandler) RemoveArtifact(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	teacherID := h.currentTeacherID(c)
	if teacherID == "" {
		return
	}

	locator := c.Query("locator")
	if locator == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Missing locator parameter",
		})
		return
	}

	h.LogRequest(c, "Removing artifact", "student_id", id, "locator", locator)

	student, err := h.linkService.RemoveArtifact(c.Request.Context(), id, locator)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, student)
}

// RemoveAllArtifacts deletes every artifact linked to a student
// @Summary Remove all artifacts
// @Tags artifacts
// @Produce json
// @Param id path uint true "Student ID"
// @Success 200 {object} services.RemoveAllArtifactsResult
// @Failure 404 {object} ErrorResponse
// @Router /students/{id}/artifacts/all [delete]
func (h *ArtifactHandler) RemoveAllArtifacts(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	teacherID := h.currentTeacherID(c)
	if teacherID == "" {
		return
	}

	h.LogRequest(c, "Removing all artifacts", "student_id", id)

	result, err := h.linkService.RemoveAllArtifacts(c.Request.Context(), id, teacherID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
