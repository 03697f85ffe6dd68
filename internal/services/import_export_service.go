package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/classkit/scanlink-service/internal/events"
	"github.com/classkit/scanlink-service/internal/repositories"
	"github.com/classkit/scanlink-service/internal/validator"
)

const rosterSheetName = "Roster"

var rosterExportHeader = []string{"Full Name", "External Code", "Scan Code", "Classroom", "Cohort", "Artifacts", "Last Upload"}

type importExportService struct {
	repo      repositories.Repository
	roster    RosterService
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher
}

func NewImportExportService(repo repositories.Repository, roster RosterService, logger *slog.Logger, v *validator.Validator, publisher events.EventPublisher) ImportExportService {
	return &importExportService{
		repo:      repo,
		roster:    roster,
		logger:    logger,
		validator: v,
		publisher: publisher,
	}
}

// ImportRoster reads students from the first sheet of an xlsx workbook.
// Expected columns: full name, external code, scan code, classroom, cohort.
// Row failures are collected and skipped; the import never aborts mid-file.
func (s *importExportService) ImportRoster(ctx context.Context, teacherID string, data []byte, req *RosterImportRequest) (*ImportResult, error) {
	if req == nil {
		req = &RosterImportRequest{}
	}
	if errs := s.validator.Validate(req); errs.HasErrors() {
		return nil, errs
	}

	workbook, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, NewValidationError("file", "not a readable xlsx workbook", nil)
	}
	defer workbook.Close()

	sheets := workbook.GetSheetList()
	if len(sheets) == 0 {
		return nil, NewValidationError("file", "workbook has no sheets", nil)
	}
	rows, err := workbook.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet rows: %w", err)
	}

	result := &ImportResult{}
	for i, row := range rows {
		if i == 0 && looksLikeHeader(row) {
			continue
		}
		if isEmptyRow(row) {
			continue
		}
		rowNum := i + 1

		createReq := &CreateStudentRequest{
			FullName:     cell(row, 0),
			ExternalCode: cell(row, 1),
			ScanCode:     strings.ToUpper(cell(row, 2)),
			Classroom:    cell(row, 3),
			Cohort:       cell(row, 4),
		}
		if createReq.Classroom == "" {
			createReq.Classroom = req.Classroom
		}
		if createReq.Cohort == "" {
			createReq.Cohort = req.Cohort
		}

		_, err := s.roster.Create(ctx, createReq, teacherID)
		if err != nil {
			if err == ErrScanCodeTaken && req.SkipDuplicates {
				result.Skipped++
				continue
			}
			s.logger.Warn("Roster import row failed", "row", rowNum, "error", err)
			result.Errors = append(result.Errors, ImportRowError{Row: rowNum, Message: err.Error()})
			continue
		}
		result.Created++
	}

	s.logger.Info("Roster import finished",
		"teacher_id", teacherID, "created", result.Created, "skipped", result.Skipped, "failed", len(result.Errors))

	if s.publisher != nil && result.Created > 0 {
		if err := s.publisher.Publish(ctx, events.EventRosterImported, map[string]interface{}{
			"teacher_id": teacherID,
			"created":    result.Created,
		}); err != nil {
			s.logger.Warn("Failed to publish roster import event", "error", err)
		}
	}
	return result, nil
}

// ExportRoster writes the teacher's active roster to an xlsx workbook.
func (s *importExportService) ExportRoster(ctx context.Context, teacherID string) ([]byte, error) {
	students, err := s.repo.Student().ListByTeacher(ctx, nil, teacherID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roster for export: %w", err)
	}

	workbook := excelize.NewFile()
	defer workbook.Close()

	if err := workbook.SetSheetName(workbook.GetSheetName(0), rosterSheetName); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	for col, title := range rosterExportHeader {
		cellRef, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := workbook.SetCellValue(rosterSheetName, cellRef, title); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}

	for i, student := range students {
		rowNum := i + 2
		values := []interface{}{
			student.FullName,
			student.ExternalCode,
			student.ScanCode,
			student.Classroom,
			student.Cohort,
			student.ArtifactCount,
		}
		if student.LastArtifactAt != nil {
			values = append(values, student.LastArtifactAt.Format("2006-01-02 15:04"))
		} else {
			values = append(values, "")
		}
		for col, value := range values {
			cellRef, _ := excelize.CoordinatesToCellName(col+1, rowNum)
			if err := workbook.SetCellValue(rosterSheetName, cellRef, value); err != nil {
				return nil, fmt.Errorf("failed to write row %d: %w", rowNum, err)
			}
		}
	}

	buf, err := workbook.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// ===== HELPERS =====

func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func isEmptyRow(row []string) bool {
	for _, value := range row {
		if strings.TrimSpace(value) != "" {
			return false
		}
	}
	return true
}

func looksLikeHeader(row []string) bool {
	first := strings.ToLower(cell(row, 0))
	return strings.Contains(first, "name")
}
