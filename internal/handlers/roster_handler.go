package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/classkit/scanlink-service/internal/repositories"
	"github.com/classkit/scanlink-service/internal/services"
	"github.com/classkit/scanlink-service/internal/utils"
	"github.com/classkit/scanlink-service/internal/validator"
)

const maxImportBytes = 5 << 20

// RosterHandler serves student roster CRUD, search, stats and spreadsheet
// import/export.
type RosterHandler struct {
	BaseHandler
	rosterService services.RosterService
	importExport  services.ImportExportService
	validator     *validator.Validator
}

func NewRosterHandler(
	rosterService services.RosterService,
	importExport services.ImportExportService,
	validator *validator.Validator,
	logger utils.Logger,
) *RosterHandler {
	return &RosterHandler{
		BaseHandler:   NewBaseHandler(logger),
		rosterService: rosterService,
		importExport:  importExport,
		validator:     validator,
	}
}

// CreateStudent adds a student to the teacher's roster
// @Summary Create student
// @Tags roster
// @Accept json
// @Produce json
// @Param student body services.CreateStudentRequest true "Student data"
// @Success 201 {object} services.StudentResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /students [post]
func (h *RosterHandler) CreateStudent(c *gin.Context) {
	var req services.CreateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	teacherID := h.currentTeacherID(c)
	if teacherID == "" {
		return
	}
	h.LogRequest(c, "Creating student", "scan_code", req.ScanCode)

	student, err := h.rosterService.Create(c.Request.Context(), &req, teacherID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, student)
}

// GetStudent retrieves one roster entry
// @Summary Get student
// @Tags roster
// @Produce json
// @Param id path uint true "Student ID"
// @Success 200 {object} services.StudentResponse
// @Failure 404 {object} ErrorResponse
// @Router /students/{id} [get]
func (h *RosterHandler) GetStudent(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	teacherID := h.currentTeacherID(c)
	if teacherID == "" {
		return
	}

	student, err := h.rosterService.GetByID(c.Request.Context(), id, teacherID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, student)
}

// UpdateStudent edits a roster entry
// @Summary Update student
// @Tags roster
// @Accept json
// @Produce json
// @Param id path uint true "Student ID"
// @Param student body services.UpdateStudentRequest true "Fields to update"
// @Success 200 {object} services.StudentResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /students/{id} [put]
func (h *RosterHandler) UpdateStudent(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.UpdateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	teacherID := h.currentTeacherID(c)
	if teacherID == "" {
		return
	}
	h.LogRequest(c, "Updating student", "student_id", id)

	student, err := h.rosterService.Update(c.Request.Context(), id, &req, teacherID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, student)
}

// DeleteStudent soft-deletes a roster entry
// @Summary Delete student
// @Tags roster
// @Produce json
// @Param id path uint true "Student ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Router /students/{id} [delete]
func (h *RosterHandler) DeleteStudent(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	teacherID := h.currentTeacherID(c)
	if teacherID == "" {
		return
	}
	h.LogRequest(c, "Deleting student", "student_id", id)

	if err := h.rosterService.Delete(c.Request.Context(), id, teacherID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Student deleted"})
}

// ListStudents lists the teacher's roster with filters and paging
// @Summary List students
// @Tags roster
// @Produce json
// @Param classroom query string false "Filter by classroom"
// @Param cohort query string false "Filter by cohort"
// @Param is_active query bool false "Filter by active flag"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} services.RosterListResponse
// @Router /students [get]
func (h *RosterHandler) ListStudents(c *gin.Context) {
	teacherID := h.currentTeacherID(c)
	if teacherID == "" {
		return
	}

	filters := repositories.StudentFilters{
		SortBy:    c.DefaultQuery("sort_by", "full_name"),
		SortOrder: c.DefaultQuery("sort_order", "asc"),
	}
	if classroom := c.Query("classroom"); classroom != "" {
		filters.Classroom = &classroom
	}
	if cohort := c.Query("cohort"); cohort != "" {
		filters.Cohort = &cohort
	}
	if raw := c.Query("is_active"); raw != "" {
		isActive, err := strconv.ParseBool(raw)
		if err == nil {
			filters.IsActive = &isActive
		}
	}
	filters.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filters.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	list, err := h.rosterService.List(c.Request.Context(), filters, teacherID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, list)
}

// SearchStudents finds roster entries by name, external code or classroom
// @Summary Search students
// @Tags roster
// @Produce json
// @Param q query string false "Search query"
// @Success 200 {array} models.StudentRecord
// @Router /students/search [get]
func (h *RosterHandler) SearchStudents(c *gin.Context) {
	teacherID := h.currentTeacherID(c)
	if teacherID == "" {
		return
	}

	query := c.Query("q")
	students, err := h.rosterService.Search(c.Request.Context(), query, teacherID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, students)
}

// GetRosterStats returns roster aggregate counters
// @Summary Roster stats
// @Tags roster
// @Produce json
// @Success 200 {object} repositories.RosterStats
// @Router /students/stats [get]
func (h *RosterHandler) GetRosterStats(c *gin.Context) {
	teacherID := h.currentTeacherID(c)
	if teacherID == "" {
		return
	}

	stats, err := h.rosterService.GetStats(c.Request.Context(), teacherID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// ImportRoster imports students from an uploaded xlsx workbook
// @Summary Import roster
// @Tags roster
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "xlsx workbook"
// @Param classroom formData string false "Default classroom for rows without one"
// @Param cohort formData string false "Default cohort for rows without one"
// @Param skip_duplicates formData bool false "Skip rows whose scan code exists"
// @Success 200 {object} services.ImportResult
// @Failure 400 {object} ErrorResponse
// @Router /students/import [post]
func (h *RosterHandler) ImportRoster(c *gin.Context) {
	teacherID := h.currentTeacherID(c)
	if teacherID == "" {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Missing workbook file",
			Details: err.Error(),
		})
		return
	}
	if fileHeader.Size > maxImportBytes {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Message: fmt.Sprintf("Workbook exceeds %d bytes", maxImportBytes),
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Failed to open uploaded file",
			Details: err.Error(),
		})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Failed to read uploaded file",
			Details: err.Error(),
		})
		return
	}

	skipDuplicates, _ := strconv.ParseBool(c.DefaultPostForm("skip_duplicates", "false"))
	req := &services.RosterImportRequest{
		Classroom:      c.PostForm("classroom"),
		Cohort:         c.PostForm("cohort"),
		SkipDuplicates: skipDuplicates,
	}

	h.LogRequest(c, "Importing roster", "file", fileHeader.Filename, "bytes", fileHeader.Size)

	result, err := h.importExport.ImportRoster(c.Request.Context(), teacherID, data, req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ExportRoster downloads the roster as an xlsx workbook
// @Summary Export roster
// @Tags roster
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Success 200 {file} binary
// @Router /students/export [get]
func (h *RosterHandler) ExportRoster(c *gin.Context) {
	teacherID := h.currentTeacherID(c)
	if teacherID == "" {
		return
	}
	h.LogRequest(c, "Exporting roster")

	data, err := h.importExport.ExportRoster(c.Request.Context(), teacherID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	filename := fmt.Sprintf("roster-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}
