package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gorm.io/gorm"

	"github.com/classkit/scanlink-service/internal/config"
	"github.com/classkit/scanlink-service/internal/detect"
	"github.com/classkit/scanlink-service/internal/events"
	"github.com/classkit/scanlink-service/internal/repositories"
	"github.com/classkit/scanlink-service/internal/storage"
	"github.com/classkit/scanlink-service/internal/validator"
)

// ServiceManagerConfig carries the collaborators the services are built from.
type ServiceManagerConfig struct {
	DB        *gorm.DB
	Repo      repositories.Repository
	Store     storage.ArtifactStore
	Detector  detect.Detector
	Publisher events.EventPublisher
	Logger    *slog.Logger
	Validator *validator.Validator
	Upload    config.UploadConfig
}

// serviceManager implements ServiceManager
type serviceManager struct {
	config ServiceManagerConfig

	rosterService       RosterService
	linkService         LinkService
	uploadService       UploadService
	importExportService ImportExportService

	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

func NewServiceManager(cfg ServiceManagerConfig) ServiceManager {
	return &serviceManager{config: cfg}
}

// Initialize wires up all services. Must be called before any getter.
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	logger := sm.config.Logger
	logger.Info("Initializing service manager")

	if sm.config.Repo == nil {
		return fmt.Errorf("repository is required")
	}
	if sm.config.Store == nil {
		return fmt.Errorf("artifact store is required")
	}
	if sm.config.Detector == nil {
		return fmt.Errorf("code detector is required")
	}
	publisher := sm.config.Publisher
	if publisher == nil {
		publisher = events.NoopEventPublisher{}
	}

	roster := NewRosterService(sm.config.Repo, logger, sm.config.Validator, publisher)
	sm.rosterService = roster
	logger.Info("Roster service initialized")

	rosterImpl := roster.(*rosterService)
	sm.linkService = NewLinkService(sm.config.Repo, sm.config.Store, rosterImpl, logger, publisher)
	logger.Info("Link service initialized")

	sm.uploadService = NewUploadService(sm.config.Detector, sm.rosterService, sm.linkService, sm.config.Store, publisher, logger, sm.config.Upload)
	logger.Info("Upload service initialized")

	sm.importExportService = NewImportExportService(sm.config.Repo, sm.rosterService, logger, sm.config.Validator, publisher)
	logger.Info("ImportExport service initialized")

	sm.initialized = true
	logger.Info("Service manager initialized successfully")
	return nil
}

func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}
	if err := sm.config.Repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository health check failed: %w", err)
	}
	return nil
}

func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.config.Logger.Info("Shutting down service manager")

	if sm.uploadService != nil {
		sm.uploadService.Shutdown()
	}
	if sm.config.Publisher != nil {
		if err := sm.config.Publisher.Close(); err != nil {
			sm.config.Logger.Warn("Failed to close event publisher", "error", err)
		}
	}

	sm.shutdown = true
	sm.config.Logger.Info("Service manager shut down")
	return nil
}

// ===== SERVICE GETTERS =====

func (sm *serviceManager) Roster() RosterService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized || sm.rosterService == nil {
		panic("roster service not initialized")
	}
	return sm.rosterService
}

func (sm *serviceManager) Link() LinkService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized || sm.linkService == nil {
		panic("link service not initialized")
	}
	return sm.linkService
}

func (sm *serviceManager) Upload() UploadService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized || sm.uploadService == nil {
		panic("upload service not initialized")
	}
	return sm.uploadService
}

func (sm *serviceManager) ImportExport() ImportExportService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized || sm.importExportService == nil {
		panic("import/export service not initialized")
	}
	return sm.importExportService
}
