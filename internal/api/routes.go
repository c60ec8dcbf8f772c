// routes.go - Route registration helpers
package api

import (
	"github.com/labstack/echo/v4"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Coordinator Coordinator
	Hub         ProgressStreamer
	Orders      OrderChecker
	MaxBytes    int64
	Version     string
}

// Handlers holds all handler instances
type Handlers struct {
	Health   HealthHandler
	Upload   UploadHandler
	Progress ProgressHandler
	Orders   OrderHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:   NewHealthHandler(deps.Version),
		Upload:   NewUploadHandler(deps.Coordinator, deps.MaxBytes),
		Progress: NewProgressHandler(deps.Hub),
		Orders:   NewOrderHandler(deps.Orders),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/health", handlers.Health.HandleHealth)

	uploadGroup := e.Group("/upload/optimized")
	uploadGroup.POST("/excel-orders", handlers.Upload.HandleUploadExcelOrders)
	uploadGroup.GET("/progress/:uploadId", handlers.Progress.HandleProgressStream)
	uploadGroup.GET("/ws/:uploadId", handlers.Progress.HandleProgressSocket)
	uploadGroup.POST("/chunk/init", handlers.Upload.HandleChunkInit)
	uploadGroup.POST("/chunk/upload", handlers.Upload.HandleChunkUpload)
	uploadGroup.GET("/active", handlers.Upload.HandleActiveUploads)
	uploadGroup.DELETE("/:uploadId", handlers.Upload.HandleCancelUpload)

	e.GET("/orders/check", handlers.Orders.HandleCheckOrders)
}
