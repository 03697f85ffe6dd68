package services

import (
	"sort"
	"strings"
	"sync"

	"github.com/classkit/scanlink-service/internal/models"
)

// RosterIndex is an in-memory snapshot of one teacher's active roster keyed by
// scan code. Rebuild replaces the whole snapshot atomically; a concurrent
// Lookup never observes a half-built index.
type RosterIndex struct {
	mu      sync.RWMutex
	byCode  map[string]*models.StudentRecord
	ordered []*models.StudentRecord
}

func NewRosterIndex() *RosterIndex {
	return &RosterIndex{byCode: make(map[string]*models.StudentRecord)}
}

// Rebuild swaps in a fresh snapshot built from the given records.
func (idx *RosterIndex) Rebuild(records []*models.StudentRecord) {
	byCode := make(map[string]*models.StudentRecord, len(records))
	ordered := make([]*models.StudentRecord, 0, len(records))
	for _, record := range records {
		if record == nil || !record.IsActive {
			continue
		}
		byCode[normalizeCode(record.ScanCode)] = record
		ordered = append(ordered, record)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return strings.ToLower(ordered[i].FullName) < strings.ToLower(ordered[j].FullName)
	})

	idx.mu.Lock()
	idx.byCode = byCode
	idx.ordered = ordered
	idx.mu.Unlock()
}

// Lookup resolves a scan code against the current snapshot. A miss is a valid
// result, not an error.
func (idx *RosterIndex) Lookup(code string) (*models.StudentRecord, bool) {
	idx.mu.RLock()
	record, ok := idx.byCode[normalizeCode(code)]
	idx.mu.RUnlock()
	return record, ok
}

// Search returns students matching the query case-insensitively across name,
// external code and classroom label. An empty query returns the full roster
// ordered by name.
func (idx *RosterIndex) Search(query string) []*models.StudentRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		out := make([]*models.StudentRecord, len(idx.ordered))
		copy(out, idx.ordered)
		return out
	}

	out := make([]*models.StudentRecord, 0)
	for _, record := range idx.ordered {
		if strings.Contains(strings.ToLower(record.FullName), needle) ||
			strings.Contains(strings.ToLower(record.ExternalCode), needle) ||
			strings.Contains(strings.ToLower(record.Classroom), needle) {
			out = append(out, record)
		}
	}
	return out
}

// Len reports the number of indexed students.
func (idx *RosterIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.ordered)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
