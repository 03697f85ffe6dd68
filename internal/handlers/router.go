package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classkit/scanlink-service/internal/config"
	"github.com/classkit/scanlink-service/internal/models"
	"github.com/classkit/scanlink-service/internal/repositories"
	"github.com/classkit/scanlink-service/internal/services"
	"github.com/classkit/scanlink-service/internal/utils"
	"github.com/classkit/scanlink-service/internal/validator"
)

type HandlerManager struct {
	rosterHandler   *RosterHandler
	artifactHandler *ArtifactHandler
	uploadHandler   *UploadHandler
	userHandler     *UserHandler
	authMiddleware  *CasdoorAuthMiddleware
	serviceManager  services.ServiceManager
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	uploadConfig config.UploadConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	authMiddleware := NewCasdoorAuthMiddleware(casdoorConfig, userRepo)

	return &HandlerManager{
		rosterHandler:   NewRosterHandler(serviceManager.Roster(), serviceManager.ImportExport(), validator, logger),
		artifactHandler: NewArtifactHandler(serviceManager.Link(), logger),
		uploadHandler:   NewUploadHandler(serviceManager.Upload(), validator, uploadConfig, logger),
		userHandler:     NewUserHandler(userRepo, logger),
		authMiddleware:  authMiddleware,
		serviceManager:  serviceManager,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	teacherOrAssistant := hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAssistant)
	teacherOnly := hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher)

	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		// Roster routes
		students := v1.Group("/students")
		{
			students.POST("", teacherOnly, hm.rosterHandler.CreateStudent)
			students.GET("", teacherOrAssistant, hm.rosterHandler.ListStudents)
			students.GET("/search", teacherOrAssistant, hm.rosterHandler.SearchStudents)
			students.GET("/stats", teacherOrAssistant, hm.rosterHandler.GetRosterStats)
			students.POST("/import", teacherOnly, hm.rosterHandler.ImportRoster)
			students.GET("/export", teacherOrAssistant, hm.rosterHandler.ExportRoster)
			students.GET("/:id", teacherOrAssistant, hm.rosterHandler.GetStudent)
			students.PUT("/:id", teacherOnly, hm.rosterHandler.UpdateStudent)
			students.DELETE("/:id", teacherOnly, hm.rosterHandler.DeleteStudent)

			// Artifact management on a roster entry
			students.GET("/:id/artifacts", teacherOrAssistant, hm.artifactHandler.ListArtifacts)
			students.GET("/:id/artifacts/download", teacherOrAssistant, hm.artifactHandler.DownloadArtifact)
			students.DELETE("/:id/artifacts", teacherOnly, hm.artifactHandler.RemoveArtifact)
			students.DELETE("/:id/artifacts/all", teacherOnly, hm.artifactHandler.RemoveAllArtifacts)
		}

		// Upload session routes
		uploads := v1.Group("/uploads")
		uploads.Use(teacherOrAssistant)
		{
			uploads.POST("/process", hm.uploadHandler.ProcessImage)
			uploads.POST("/confirm", hm.uploadHandler.ConfirmAssignment)
			uploads.POST("/select", hm.uploadHandler.SelectStudent)
			uploads.POST("/cancel", hm.uploadHandler.CancelUpload)
			uploads.POST("/retry", hm.uploadHandler.RetryUpload)
			uploads.POST("/batch", hm.uploadHandler.ProcessBatch)
			uploads.GET("/session", hm.uploadHandler.GetSession)
			uploads.GET("/session/events", hm.uploadHandler.StreamSession)
			uploads.GET("/students", hm.uploadHandler.FilteredStudents)
		}

		// User routes
		users := v1.Group("/users")
		{
			users.GET("/me", hm.userHandler.GetCurrentUser)
			users.GET("", hm.authMiddleware.RequireRoleMiddleware(models.RoleAdmin), hm.userHandler.ListUsers)
			users.GET("/:id", hm.authMiddleware.RequireRoleMiddleware(models.RoleAdmin), hm.userHandler.GetUser)
		}
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		if err := hm.serviceManager.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": "scanlink-service",
				"error":   err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "scanlink-service",
		})
	})
}
