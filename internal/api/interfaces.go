// interfaces.go - Handler and port interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/qctrack/backend/internal/models"
	"github.com/qctrack/backend/internal/orderkey"
	"github.com/qctrack/backend/internal/upload"
)

// UploadHandler handles upload operations
type UploadHandler interface {
	HandleUploadExcelOrders(c echo.Context) error
	HandleChunkInit(c echo.Context) error
	HandleChunkUpload(c echo.Context) error
	HandleCancelUpload(c echo.Context) error
	HandleActiveUploads(c echo.Context) error
}

// ProgressHandler streams upload progress to subscribers
type ProgressHandler interface {
	HandleProgressStream(c echo.Context) error
	HandleProgressSocket(c echo.Context) error
}

// OrderHandler handles order lookup operations
type OrderHandler interface {
	HandleCheckOrders(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// Coordinator is the slice of the upload coordinator the handlers consume.
type Coordinator interface {
	ProcessWorkbook(ctx context.Context, userID *string, fileName string, data []byte, hint *models.ClientHint) (*upload.WholeFileResult, error)
	InitChunked(init upload.ChunkInit) (*models.UploadSession, error)
	ProcessChunk(uploadID string, chunkIndex, totalChunks int, rows []map[string]any, isLast bool) (*upload.ChunkResult, error)
	CancelUpload(uploadID string) bool
	ActiveUploads() []string
}

// ProgressStreamer is the subscriber side of the progress hub.
type ProgressStreamer interface {
	Subscribe(id string) (<-chan models.UploadSession, func(), error)
}

// OrderChecker is the lookup side of the order-key resolver.
type OrderChecker interface {
	CheckExistence(ctx context.Context, raw []string) (orderkey.Existence, error)
}
