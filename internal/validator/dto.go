package validator

// StudentCreateRequest is the payload for adding a student to a roster.
type StudentCreateRequest struct {
	FullName     string  `json:"full_name" validate:"required,person_name"`
	ExternalCode string  `json:"external_code" validate:"omitempty,max=64"`
	ScanCode     string  `json:"scan_code" validate:"required,scan_code"`
	Classroom    string  `json:"classroom" validate:"omitempty,group_label"`
	Cohort       string  `json:"cohort" validate:"omitempty,group_label"`
	Notes        *string `json:"notes" validate:"omitempty,max=2000"`
}

// StudentUpdateRequest is the payload for editing a roster entry.
type StudentUpdateRequest struct {
	FullName     *string `json:"full_name" validate:"omitempty,person_name"`
	ExternalCode *string `json:"external_code" validate:"omitempty,max=64"`
	ScanCode     *string `json:"scan_code" validate:"omitempty,scan_code"`
	Classroom    *string `json:"classroom" validate:"omitempty,group_label"`
	Cohort       *string `json:"cohort" validate:"omitempty,group_label"`
	Notes        *string `json:"notes" validate:"omitempty,max=2000"`
	IsActive     *bool   `json:"is_active"`
}

// StudentSearchRequest narrows manual-selection candidate lookups.
type StudentSearchRequest struct {
	Query  string `json:"query" validate:"omitempty,max=200"`
	Limit  int    `json:"limit" validate:"omitempty,min=1,max=100"`
	Offset int    `json:"offset" validate:"omitempty,min=0"`
}

// ManualSelectRequest resolves an upload whose code lookup needed teacher input.
type ManualSelectRequest struct {
	StudentID uint `json:"student_id" validate:"required"`
}

// RosterImportRequest carries options for a spreadsheet roster import.
type RosterImportRequest struct {
	Classroom      string `json:"classroom" validate:"omitempty,group_label"`
	Cohort         string `json:"cohort" validate:"omitempty,group_label"`
	SkipDuplicates bool   `json:"skip_duplicates"`
}
