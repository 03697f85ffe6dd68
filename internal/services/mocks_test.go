package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/classkit/scanlink-service/internal/models"
	"github.com/classkit/scanlink-service/internal/repositories"
	"github.com/classkit/scanlink-service/internal/storage"
)

// ===== STUDENT REPOSITORY MOCK =====

type MockStudentRepository struct {
	mu      sync.Mutex
	records map[uint]*models.StudentRecord
	nextID  uint

	FailUpdateArtifacts bool
	FailCreate          bool
}

func NewMockStudentRepository() *MockStudentRepository {
	return &MockStudentRepository{records: make(map[uint]*models.StudentRecord), nextID: 1}
}

func copyRecord(r *models.StudentRecord) *models.StudentRecord {
	out := *r
	out.ArtifactLocators = append(out.ArtifactLocators[:0:0], r.ArtifactLocators...)
	if r.LastArtifactAt != nil {
		ts := *r.LastArtifactAt
		out.LastArtifactAt = &ts
	}
	return &out
}

func (m *MockStudentRepository) Create(ctx context.Context, tx *gorm.DB, student *models.StudentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreate {
		return fmt.Errorf("simulated create failure")
	}
	student.ID = m.nextID
	m.nextID++
	student.CreatedAt = time.Now()
	m.records[student.ID] = copyRecord(student)
	return nil
}

func (m *MockStudentRepository) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.StudentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return copyRecord(record), nil
}

func (m *MockStudentRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*models.StudentRecord, error) {
	return m.GetByID(ctx, tx, id)
}

func (m *MockStudentRepository) GetByScanCode(ctx context.Context, tx *gorm.DB, teacherID, scanCode string) (*models.StudentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.records {
		if record.TeacherID == teacherID && record.ScanCode == scanCode && record.IsActive {
			return copyRecord(record), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *MockStudentRepository) Update(ctx context.Context, tx *gorm.DB, student *models.StudentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[student.ID]; !ok {
		return repositories.ErrNotFound
	}
	m.records[student.ID] = copyRecord(student)
	return nil
}

func (m *MockStudentRepository) UpdateArtifacts(ctx context.Context, tx *gorm.DB, student *models.StudentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpdateArtifacts {
		return fmt.Errorf("simulated commit failure")
	}
	stored, ok := m.records[student.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	stored.ArtifactLocators = append(stored.ArtifactLocators[:0:0], student.ArtifactLocators...)
	stored.ArtifactCount = student.ArtifactCount
	stored.LastArtifactAt = student.LastArtifactAt
	return nil
}

func (m *MockStudentRepository) ListByTeacher(ctx context.Context, tx *gorm.DB, teacherID string) ([]*models.StudentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.StudentRecord, 0)
	for _, record := range m.records {
		if record.TeacherID == teacherID && record.IsActive {
			out = append(out, copyRecord(record))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].FullName) < strings.ToLower(out[j].FullName)
	})
	return out, nil
}

func (m *MockStudentRepository) List(ctx context.Context, tx *gorm.DB, filters repositories.StudentFilters) ([]*models.StudentRecord, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.StudentRecord, 0)
	for _, record := range m.records {
		if filters.TeacherID != nil && record.TeacherID != *filters.TeacherID {
			continue
		}
		if filters.IsActive != nil && record.IsActive != *filters.IsActive {
			continue
		}
		out = append(out, copyRecord(record))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (m *MockStudentRepository) SoftDelete(ctx context.Context, tx *gorm.DB, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return repositories.ErrNotFound
	}
	record.IsActive = false
	return nil
}

func (m *MockStudentRepository) ExistsByScanCode(ctx context.Context, tx *gorm.DB, teacherID, scanCode string) (bool, error) {
	_, err := m.GetByScanCode(ctx, tx, teacherID, scanCode)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *MockStudentRepository) GetStats(ctx context.Context, tx *gorm.DB, teacherID string) (*repositories.RosterStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &repositories.RosterStats{}
	for _, record := range m.records {
		if record.TeacherID != teacherID {
			continue
		}
		stats.TotalStudents++
		if record.IsActive {
			stats.ActiveStudents++
		}
		stats.TotalArtifacts += record.ArtifactCount
		if record.ArtifactCount == 0 {
			stats.StudentsNoUpload++
		}
		if record.LastArtifactAt != nil {
			if stats.LastUploadAt == nil || record.LastArtifactAt.After(*stats.LastUploadAt) {
				ts := *record.LastArtifactAt
				stats.LastUploadAt = &ts
			}
		}
	}
	return stats, nil
}

// ===== AGGREGATE REPOSITORY MOCK =====

type MockRepository struct {
	StudentRepo *MockStudentRepository
}

func NewMockRepository() *MockRepository {
	return &MockRepository{StudentRepo: NewMockStudentRepository()}
}

func (m *MockRepository) Student() repositories.StudentRepository { return m.StudentRepo }
func (m *MockRepository) User() repositories.UserRepository       { return nil }

func (m *MockRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return fn(m)
}

func (m *MockRepository) Ping(ctx context.Context) error { return nil }
func (m *MockRepository) Close() error                   { return nil }

// ===== DETECTOR MOCK =====

type MockDetector struct {
	Code  string
	Found bool
	Err   error

	// Block, when set, is received from before Detect returns. Lets a test
	// hold the pipeline inside the detect stage.
	Block chan struct{}
}

func (m *MockDetector) Detect(ctx context.Context, image []byte) (string, bool, error) {
	if m.Block != nil {
		<-m.Block
	}
	return m.Code, m.Found, m.Err
}

// ===== ARTIFACT STORE MOCK =====

type MockArtifactStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	derived map[string][]byte
	nextID  int

	FailPut    bool
	FailDelete bool
}

func NewMockArtifactStore() *MockArtifactStore {
	return &MockArtifactStore{
		objects: make(map[string][]byte),
		derived: make(map[string][]byte),
	}
}

func (m *MockArtifactStore) Put(ctx context.Context, input storage.PutInput, progress storage.ProgressFunc) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut {
		return "", fmt.Errorf("simulated storage failure")
	}
	m.nextID++
	locator := fmt.Sprintf("artifacts/%s/%s-%d.webp", input.TeacherID, input.StudentHint, m.nextID)
	m.objects[locator] = append([]byte(nil), input.Data...)
	if progress != nil {
		total := int64(len(input.Data))
		progress(total/2, total)
		progress(total, total)
	}
	return locator, nil
}

func (m *MockArtifactStore) PutDerived(ctx context.Context, locator string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut {
		return fmt.Errorf("simulated storage failure")
	}
	m.derived[locator] = append([]byte(nil), data...)
	return nil
}

func (m *MockArtifactStore) Get(ctx context.Context, locator string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[locator]
	if !ok {
		data, ok = m.derived[locator]
	}
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MockArtifactStore) Delete(ctx context.Context, locator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDelete {
		return fmt.Errorf("simulated delete failure")
	}
	delete(m.objects, locator)
	delete(m.derived, locator)
	return nil
}

func (m *MockArtifactStore) PresignedURL(ctx context.Context, locator string, expiry time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[locator]
	if !ok {
		_, ok = m.derived[locator]
	}
	if !ok {
		return "", storage.ErrNotFound
	}
	return "mock://" + locator, nil
}

func (m *MockArtifactStore) Contains(locator string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[locator]
	return ok
}

func (m *MockArtifactStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// DerivedLen reports the number of stored derived objects such as previews.
func (m *MockArtifactStore) DerivedLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.derived)
}
