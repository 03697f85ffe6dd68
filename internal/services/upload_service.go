package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/classkit/scanlink-service/internal/config"
	"github.com/classkit/scanlink-service/internal/detect"
	"github.com/classkit/scanlink-service/internal/events"
	"github.com/classkit/scanlink-service/internal/imgutil"
	"github.com/classkit/scanlink-service/internal/models"
	"github.com/classkit/scanlink-service/internal/storage"
)

// Progress bands for one session. The scan phase runs from validation through
// roster resolution; the final phase covers the storage write (middle band)
// and the record link (last band).
const (
	progressValidated  = 0.10
	progressCompressed = 0.45
	progressDetected   = 0.90
	progressResolved   = 1.0

	finalPhaseStart  = 0.10
	storeBandStart   = 0.30
	storeBandEnd     = 0.80
	progressComplete = 1.0
)

type uploadService struct {
	detector  detect.Detector
	roster    RosterService
	linker    LinkService
	store     storage.ArtifactStore
	publisher events.EventPublisher
	logger    *slog.Logger
	cfg       config.UploadConfig

	mu       sync.Mutex
	sessions map[string]*uploadOrchestrator
}

func NewUploadService(
	detector detect.Detector,
	roster RosterService,
	linker LinkService,
	store storage.ArtifactStore,
	publisher events.EventPublisher,
	logger *slog.Logger,
	cfg config.UploadConfig,
) UploadService {
	return &uploadService{
		detector:  detector,
		roster:    roster,
		linker:    linker,
		store:     store,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		sessions:  make(map[string]*uploadOrchestrator),
	}
}

// SessionFor returns the teacher's orchestrator, creating it on first use.
// Each teacher gets exactly one, so their session mutations are serialized.
func (s *uploadService) SessionFor(teacherID string) UploadOrchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()

	orchestrator, ok := s.sessions[teacherID]
	if !ok {
		orchestrator = newUploadOrchestrator(teacherID, s.detector, s.roster, s.linker, s.store, s.publisher, s.logger, s.cfg)
		s.sessions[teacherID] = orchestrator
	}
	return orchestrator
}

// ProcessBatch pushes several images through detect-and-link in one call.
// Items that cannot be resolved automatically are skipped and reported, never
// aborting the rest of the batch.
func (s *uploadService) ProcessBatch(ctx context.Context, teacherID string, images [][]byte) (*BatchUploadResult, error) {
	result := &BatchUploadResult{Items: make([]BatchItemResult, 0, len(images))}

	for i, image := range images {
		item := BatchItemResult{Index: i}

		compressed, err := s.compressImage(image)
		if err != nil {
			item.Error = err.Error()
			result.Failed++
			result.Items = append(result.Items, item)
			continue
		}

		code, found, err := s.detector.Detect(ctx, compressed.Data)
		if err != nil {
			s.logger.Warn("Batch item detection failed", "index", i, "error", err)
			found = false
		}
		if !found {
			item.Error = "no code detected"
			result.Failed++
			result.Items = append(result.Items, item)
			continue
		}

		student, ok, err := s.roster.Lookup(ctx, teacherID, code)
		if err != nil || !ok {
			item.Error = "no roster match for code " + code
			result.Failed++
			result.Items = append(result.Items, item)
			continue
		}

		locator, err := s.store.Put(ctx, storage.PutInput{
			TeacherID:   teacherID,
			StudentHint: student.ScanCode,
			Data:        compressed.Data,
			ContentType: compressed.ContentType,
		}, nil)
		if err != nil {
			item.Error = NewStorageWriteError(err).Error()
			result.Failed++
			result.Items = append(result.Items, item)
			continue
		}

		if _, err := s.linker.AddArtifact(ctx, student.ID, locator); err != nil {
			if delErr := s.store.Delete(ctx, locator); delErr != nil {
				s.logger.Warn("Failed to delete orphaned batch artifact", "locator", locator, "error", delErr)
			}
			item.Error = err.Error()
			result.Failed++
			result.Items = append(result.Items, item)
			continue
		}

		item.StudentID = student.ID
		item.Locator = locator
		result.Succeeded++
		result.Items = append(result.Items, item)
	}

	return result, nil
}

func (s *uploadService) compressImage(image []byte) (*imgutil.Result, error) {
	if int64(len(image)) > s.cfg.MaxUploadBytes {
		return nil, NewValidationError("image", "exceeds maximum upload size", len(image))
	}
	result, err := imgutil.Compress(image, compressOptions(s.cfg))
	if err != nil {
		return nil, mapCompressError(err, s.cfg)
	}
	return result, nil
}

func (s *uploadService) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, orchestrator := range s.sessions {
		orchestrator.closeSubscribers()
	}
	s.sessions = make(map[string]*uploadOrchestrator)
}

// ===== ORCHESTRATOR =====

// uploadOrchestrator owns one teacher's upload session. All session fields
// are guarded by mu; the epoch counter fences late results from a cancelled
// or superseded pipeline run so they never touch a reset session.
type uploadOrchestrator struct {
	teacherID string
	detector  detect.Detector
	roster    RosterService
	linker    LinkService
	store     storage.ArtifactStore
	publisher events.EventPublisher
	logger    *slog.Logger
	cfg       config.UploadConfig

	mu           sync.Mutex
	epoch        uint64
	stage        UploadStage
	progress     float64
	rawImage     []byte
	compressed   *imgutil.Result
	tentative    *models.StudentRecord
	detectedCode string
	searchQuery  string
	active       bool
	lastError    string
	touchedAt    time.Time

	subscribers map[int]chan UploadSnapshot
	nextSubID   int
	closed      bool
}

func newUploadOrchestrator(
	teacherID string,
	detector detect.Detector,
	roster RosterService,
	linker LinkService,
	store storage.ArtifactStore,
	publisher events.EventPublisher,
	logger *slog.Logger,
	cfg config.UploadConfig,
) *uploadOrchestrator {
	return &uploadOrchestrator{
		teacherID:   teacherID,
		detector:    detector,
		roster:      roster,
		linker:      linker,
		store:       store,
		publisher:   publisher,
		logger:      logger.With("teacher_id", teacherID),
		cfg:         cfg,
		stage:       StageIdle,
		subscribers: make(map[int]chan UploadSnapshot),
	}
}

// ===== COMMANDS =====

// ProcessImage starts the pipeline for a freshly captured image: validate,
// compress, detect, resolve. It ends in Confirm when the code resolves to a
// student, in ManualSelect otherwise.
func (o *uploadOrchestrator) ProcessImage(ctx context.Context, image []byte) error {
	if len(image) == 0 {
		// user cancelled image selection; silent no-op
		return nil
	}

	o.mu.Lock()
	if o.active {
		if !o.expiredLocked() {
			o.mu.Unlock()
			return ErrUploadInProgress
		}
		// an abandoned session must not block the next capture
		o.logger.Warn("Discarding expired upload session", "stage", o.stage)
	}
	o.resetLocked()
	o.epoch++
	epoch := o.epoch
	o.active = true
	o.stage = StageUploading
	o.rawImage = image
	o.notifyLocked()
	o.mu.Unlock()

	return o.runScanPhase(ctx, epoch)
}

// ConfirmAssignment commits the tentatively detected student: store the blob,
// then link it to the record.
func (o *uploadOrchestrator) ConfirmAssignment(ctx context.Context) error {
	o.mu.Lock()
	if o.stage != StageConfirm {
		o.mu.Unlock()
		return ErrNoActiveSession
	}
	if o.tentative == nil {
		o.mu.Unlock()
		return ErrNoTentativeStudent
	}
	student := o.tentative
	epoch := o.epoch
	if o.compressed == nil {
		o.mu.Unlock()
		return ErrNoHeldImage
	}
	if student.ID == 0 {
		o.mu.Unlock()
		return o.failSession(epoch, NewMissingStudentIDError())
	}
	o.stage = StageUploading
	o.progress = finalPhaseStart
	o.notifyLocked()
	o.mu.Unlock()

	return o.runFinalPhase(ctx, epoch, student)
}

// SelectStudent resolves a session that fell back to manual selection. The
// downstream behavior is identical to ConfirmAssignment.
func (o *uploadOrchestrator) SelectStudent(ctx context.Context, studentID uint) error {
	o.mu.Lock()
	if o.stage != StageManualSelect {
		o.mu.Unlock()
		return ErrNoActiveSession
	}
	epoch := o.epoch
	if o.compressed == nil {
		o.mu.Unlock()
		return ErrNoHeldImage
	}
	o.mu.Unlock()

	if studentID == 0 {
		return o.failSession(epoch, NewMissingStudentIDError())
	}

	response, err := o.roster.GetByID(ctx, studentID, o.teacherID)
	if err != nil {
		return o.failSession(epoch, err)
	}
	student := response.StudentRecord

	applied := o.applyIfCurrent(epoch, func() {
		o.tentative = student
		o.stage = StageUploading
		o.progress = finalPhaseStart
	})
	if !applied {
		return nil
	}

	return o.runFinalPhase(ctx, epoch, student)
}

// CancelUpload discards the session immediately. It never undoes a commit
// that already happened; it only stops new work.
func (o *uploadOrchestrator) CancelUpload() {
	o.mu.Lock()
	o.epoch++
	o.resetLocked()
	o.notifyLocked()
	o.mu.Unlock()
}

// RetryUpload rewinds a failed session to validation using the held image.
func (o *uploadOrchestrator) RetryUpload(ctx context.Context) error {
	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return ErrUploadInProgress
	}
	if len(o.rawImage) == 0 {
		o.mu.Unlock()
		return ErrNoHeldImage
	}
	image := o.rawImage
	o.resetLocked()
	o.epoch++
	epoch := o.epoch
	o.active = true
	o.stage = StageUploading
	o.rawImage = image
	o.notifyLocked()
	o.mu.Unlock()

	return o.runScanPhase(ctx, epoch)
}

// ===== QUERIES =====

func (o *uploadOrchestrator) Snapshot() UploadSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// FilteredStudents lists manual-selection candidates for the query and
// records the query on the session for observers.
func (o *uploadOrchestrator) FilteredStudents(ctx context.Context, query string) ([]*models.StudentRecord, error) {
	o.mu.Lock()
	if o.stage == StageManualSelect {
		o.searchQuery = query
		o.notifyLocked()
	}
	o.mu.Unlock()

	return o.roster.Search(ctx, query, o.teacherID)
}

func (o *uploadOrchestrator) CanStartUpload() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.active || o.expiredLocked()
}

func (o *uploadOrchestrator) StatusMessage() string {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.lastError != "" {
		return o.lastError
	}
	switch o.stage {
	case StageUploading:
		if o.progress < progressDetected {
			return "Processing image"
		}
		return "Uploading"
	case StageConfirm:
		if o.tentative != nil {
			return "Confirm assignment to " + o.tentative.FullName
		}
		return "Confirm assignment"
	case StageManualSelect:
		return "Select a student"
	default:
		return "Ready"
	}
}

// Subscribe registers an observer for session snapshots. The returned cancel
// function must be called to release the channel.
func (o *uploadOrchestrator) Subscribe() (<-chan UploadSnapshot, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextSubID
	o.nextSubID++
	ch := make(chan UploadSnapshot, 16)
	o.subscribers[id] = ch

	cancel := func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if sub, ok := o.subscribers[id]; ok {
			delete(o.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}
