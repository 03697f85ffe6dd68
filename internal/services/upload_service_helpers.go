package services

import (
	"context"
	"errors"
	"time"

	"github.com/classkit/scanlink-service/internal/config"
	"github.com/classkit/scanlink-service/internal/events"
	"github.com/classkit/scanlink-service/internal/imgutil"
	"github.com/classkit/scanlink-service/internal/models"
	"github.com/classkit/scanlink-service/internal/storage"
)

// ===== PIPELINE PHASES =====

// runScanPhase executes validate -> compress -> detect -> resolve for the
// given pipeline run. Every session mutation is fenced on the epoch so a
// cancelled run can never write into a newer session.
func (o *uploadOrchestrator) runScanPhase(ctx context.Context, epoch uint64) error {
	o.mu.Lock()
	image := o.rawImage
	o.mu.Unlock()

	if int64(len(image)) > o.cfg.MaxUploadBytes {
		return o.failSession(epoch, NewValidationError("image", "exceeds maximum upload size", len(image)))
	}
	if !o.applyIfCurrent(epoch, func() { o.progress = progressValidated }) {
		return nil
	}

	compressed, err := imgutil.Compress(image, compressOptions(o.cfg))
	if err != nil {
		return o.failSession(epoch, mapCompressError(err, o.cfg))
	}
	applied := o.applyIfCurrent(epoch, func() {
		o.compressed = compressed
		o.progress = progressCompressed
	})
	if !applied {
		return nil
	}

	code, found, err := o.detector.Detect(ctx, compressed.Data)
	if err != nil {
		// detector failure falls through to manual selection; the teacher
		// can always pick by hand
		o.logger.Warn("Code detection failed, falling back to manual selection", "error", NewDetectionError(err))
		found = false
	}
	if !o.applyIfCurrent(epoch, func() { o.progress = progressDetected }) {
		return nil
	}

	if found {
		student, ok, err := o.roster.Lookup(ctx, o.teacherID, code)
		if err != nil {
			o.logger.Warn("Roster lookup failed, falling back to manual selection", "code", code, "error", err)
			ok = false
		}
		if ok {
			o.applyIfCurrent(epoch, func() {
				o.stage = StageConfirm
				o.tentative = student
				o.detectedCode = code
				o.progress = progressResolved
			})
			return nil
		}
	}

	o.applyIfCurrent(epoch, func() {
		o.stage = StageManualSelect
		o.searchQuery = ""
		o.progress = progressResolved
	})
	return nil
}

// runFinalPhase stores the compressed blob and links it to the student. On a
// link failure after a durable write, the orphaned blob is deleted best-effort
// and the original error reported either way.
func (o *uploadOrchestrator) runFinalPhase(ctx context.Context, epoch uint64, student *models.StudentRecord) error {
	o.mu.Lock()
	compressed := o.compressed
	o.mu.Unlock()
	if compressed == nil {
		return o.failSession(epoch, ErrNoHeldImage)
	}

	locator, err := o.store.Put(ctx, storage.PutInput{
		TeacherID:   o.teacherID,
		StudentHint: student.ScanCode,
		Data:        compressed.Data,
		ContentType: compressed.ContentType,
	}, func(written, total int64) {
		if total <= 0 {
			return
		}
		frac := float64(written) / float64(total)
		o.applyIfCurrent(epoch, func() {
			o.progress = storeBandStart + (storeBandEnd-storeBandStart)*frac
		})
	})
	if err != nil {
		return o.failSession(epoch, NewStorageWriteError(err))
	}
	if !o.applyIfCurrent(epoch, func() { o.progress = storeBandEnd }) {
		// session was cancelled mid-write; the blob is orphaned, clean it up
		if delErr := o.store.Delete(ctx, locator); delErr != nil {
			o.logger.Warn("Failed to delete artifact of cancelled session", "locator", locator, "error", delErr)
		}
		return nil
	}

	o.storeThumbnail(ctx, locator, compressed.Data)

	linked, err := o.linker.AddArtifact(ctx, student.ID, locator)
	if err != nil {
		if delErr := o.store.Delete(ctx, locator); delErr != nil {
			o.logger.Warn("Failed to delete orphaned artifact after link failure", "locator", locator, "error", delErr)
		}
		if delErr := o.store.Delete(ctx, storage.ThumbnailLocator(locator)); delErr != nil {
			o.logger.Warn("Failed to delete orphaned thumbnail after link failure", "locator", locator, "error", delErr)
		}
		return o.failSession(epoch, err)
	}

	o.applyIfCurrent(epoch, func() {
		o.progress = progressComplete
		o.tentative = linked
	})
	o.logger.Info("Upload completed", "student_id", linked.ID, "locator", locator)

	// completion reported; session resets to idle for the next capture
	o.applyIfCurrent(epoch, func() { o.resetLocked() })
	return nil
}

// storeThumbnail renders and stores a small preview next to the artifact.
// Failures are logged only; the upload itself does not depend on the preview.
func (o *uploadOrchestrator) storeThumbnail(ctx context.Context, locator string, data []byte) {
	if o.cfg.ThumbnailEdgePx <= 0 {
		return
	}
	thumb, err := imgutil.Thumbnail(data, o.cfg.ThumbnailEdgePx)
	if err != nil {
		o.logger.Warn("Failed to render preview thumbnail", "locator", locator, "error", err)
		return
	}
	if err := o.store.PutDerived(ctx, storage.ThumbnailLocator(locator), thumb, "image/webp"); err != nil {
		o.logger.Warn("Failed to store preview thumbnail", "locator", locator, "error", err)
	}
}

// ===== SESSION STATE HELPERS =====

// applyIfCurrent runs fn under the session lock only when the pipeline run
// that requested it is still the live one. Stale completions are dropped.
func (o *uploadOrchestrator) applyIfCurrent(epoch uint64, fn func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.epoch != epoch {
		return false
	}
	fn()
	o.notifyLocked()
	return true
}

// failSession clears the active flag and parks the error message for display.
// The raw image is retained so the teacher can retry.
func (o *uploadOrchestrator) failSession(epoch uint64, err error) error {
	applied := o.applyIfCurrent(epoch, func() {
		o.active = false
		o.stage = StageIdle
		o.progress = 0
		o.tentative = nil
		o.detectedCode = ""
		o.compressed = nil
		o.lastError = err.Error()
	})
	if !applied {
		return nil
	}

	o.logger.Warn("Upload session failed", "error", err)
	if o.publisher != nil {
		pubErr := o.publisher.Publish(context.Background(), events.EventUploadFailed, map[string]interface{}{
			"teacher_id": o.teacherID,
			"reason":     err.Error(),
		})
		if pubErr != nil {
			o.logger.Warn("Failed to publish upload failure event", "error", pubErr)
		}
	}
	return err
}

// expiredLocked reports whether the active session has sat untouched past
// the configured timeout. Callers hold mu.
func (o *uploadOrchestrator) expiredLocked() bool {
	if !o.active || o.cfg.SessionTimeout <= 0 {
		return false
	}
	return time.Since(o.touchedAt) > o.cfg.SessionTimeout
}

// resetLocked returns the session to its idle zero value. Callers hold mu.
func (o *uploadOrchestrator) resetLocked() {
	o.stage = StageIdle
	o.progress = 0
	o.rawImage = nil
	o.compressed = nil
	o.tentative = nil
	o.detectedCode = ""
	o.searchQuery = ""
	o.active = false
	o.lastError = ""
}

func (o *uploadOrchestrator) snapshotLocked() UploadSnapshot {
	return UploadSnapshot{
		Stage:            o.stage,
		Progress:         o.progress,
		TentativeStudent: o.tentative,
		DetectedCode:     o.detectedCode,
		SearchQuery:      o.searchQuery,
		Active:           o.active,
		LastError:        o.lastError,
		UpdatedAt:        time.Now().UTC(),
	}
}

// notifyLocked fans the current snapshot out to subscribers without blocking;
// a slow observer just misses intermediate snapshots.
func (o *uploadOrchestrator) notifyLocked() {
	o.touchedAt = time.Now()
	if len(o.subscribers) == 0 || o.closed {
		return
	}
	snapshot := o.snapshotLocked()
	for _, ch := range o.subscribers {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

func (o *uploadOrchestrator) closeSubscribers() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, ch := range o.subscribers {
		delete(o.subscribers, id)
		close(ch)
	}
	o.closed = true
}

// ===== SHARED HELPERS =====

func compressOptions(cfg config.UploadConfig) imgutil.CompressOptions {
	return imgutil.CompressOptions{
		MinDimensionPx: cfg.MinDimensionPx,
		MaxDimensionPx: cfg.MaxDimensionPx,
		TargetBytes:    cfg.CompressedBudget,
		Quality:        cfg.WebPQuality,
		QualityFloor:   cfg.WebPQualityFloor,
		QualityStep:    cfg.WebPQualityStep,
	}
}

// mapCompressError translates image pipeline failures into the session error
// taxonomy.
func mapCompressError(err error, cfg config.UploadConfig) error {
	switch {
	case errors.Is(err, imgutil.ErrBudgetExceeded):
		return NewImageTooLargeError(cfg.CompressedBudget)
	case errors.Is(err, imgutil.ErrDimensionsOutOfRange):
		return NewValidationError("image", "dimensions out of allowed range", nil)
	case errors.Is(err, imgutil.ErrUnsupportedFormat):
		return NewValidationError("image", "unsupported or undecodable image format", nil)
	default:
		return NewValidationError("image", err.Error(), nil)
	}
}
