// handlers_upload.go - Order upload operation handlers
package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/qctrack/backend/internal/excel"
	"github.com/qctrack/backend/internal/models"
	"github.com/qctrack/backend/internal/upload"
)

// UploadHandlerImpl implements the UploadHandler interface
type UploadHandlerImpl struct {
	coordinator Coordinator
	maxBytes    int64
}

// NewUploadHandler creates a new upload handler instance
func NewUploadHandler(coordinator Coordinator, maxBytes int64) UploadHandler {
	return &UploadHandlerImpl{
		coordinator: coordinator,
		maxBytes:    maxBytes,
	}
}

// HandleUploadExcelOrders runs the whole-file protocol: the uploaded
// workbook is the only source of truth; preProcessedData/validationSummary
// are accepted as hints and never read for correctness.
func (h *UploadHandlerImpl) HandleUploadExcelOrders(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if ext != ".xlsx" && ext != ".xls" {
		return NewBadRequestError(fmt.Sprintf("unsupported file type %q, expected .xlsx or .xls", ext), nil)
	}
	if h.maxBytes > 0 && file.Size > h.maxBytes {
		return NewBadRequestError(fmt.Sprintf("file exceeds maximum size of %d bytes", h.maxBytes), nil)
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, h.maxBytes+1))
	if err != nil {
		return NewInternalError("failed to read uploaded file", err)
	}
	if h.maxBytes > 0 && int64(len(data)) > h.maxBytes {
		return NewBadRequestError(fmt.Sprintf("file exceeds maximum size of %d bytes", h.maxBytes), nil)
	}

	hint := &models.ClientHint{}
	if v := c.FormValue("preProcessedData"); v != "" {
		hint.PreProcessedData = json.RawMessage(v)
	}
	if v := c.FormValue("validationSummary"); v != "" {
		hint.ValidationSummary = json.RawMessage(v)
	}

	var userID *string
	if v := c.Request().Header.Get("X-User-Id"); v != "" {
		userID = &v
	}

	result, err := h.coordinator.ProcessWorkbook(c.Request().Context(), userID, file.Filename, data, hint)
	if err != nil {
		if errors.Is(err, excel.ErrMissingOrderSheet) {
			return NewBadRequestError("workbook has no order sheet", err)
		}
		return NewInternalError(fmt.Sprintf("upload failed: %v", err), err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"message": "upload processed",
		"data": map[string]any{
			"uploadId":      result.UploadID,
			"fileName":      result.FileName,
			"fileSize":      result.FileSize,
			"totalRows":     result.TotalRows,
			"processedRows": result.ProcessedRows,
			"status":        result.Status,
			"uploadedAt":    result.UploadedAt,
			"results": map[string]any{
				"success": result.Details.Succeeded(),
				"fail":    result.Details.Failed,
				"created": result.Details.Created,
				"details": result.Details,
			},
		},
	})
}

// HandleChunkInit creates a chunked upload session
func (h *UploadHandlerImpl) HandleChunkInit(c echo.Context) error {
	var req chunkInitRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	sess, err := h.coordinator.InitChunked(upload.ChunkInit{
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		TotalChunks: req.TotalChunks,
		ChunkSize:   req.ChunkSize,
	})
	if err != nil {
		return NewBadRequestError("failed to initialize chunked upload", err)
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"message": "chunked upload initialized",
		"data": map[string]any{
			"uploadId":    sess.ID,
			"fileName":    req.FileName,
			"fileSize":    req.FileSize,
			"totalChunks": req.TotalChunks,
			"chunkSize":   req.ChunkSize,
		},
	})
}

// HandleChunkUpload processes one chunk of a chunked upload
func (h *UploadHandlerImpl) HandleChunkUpload(c echo.Context) error {
	var req chunkUploadRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	rows, err := req.decodeRows()
	if err != nil {
		return NewBadRequestError("invalid chunk data", err)
	}

	result, err := h.coordinator.ProcessChunk(req.UploadID, req.ChunkIndex, req.TotalChunks, rows, req.IsLastChunk)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrUnknownSession):
			return NewBadRequestError("unknown upload session", err)
		case errors.Is(err, upload.ErrChunkOutOfRange):
			return NewBadRequestError("chunk index out of range", err)
		case errors.Is(err, upload.ErrSessionBusy):
			return NewConflictError("a chunk for this session is already being processed")
		default:
			return NewInternalError(fmt.Sprintf("chunk processing failed: %v", err), err)
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"message": "chunk processed",
		"data": map[string]any{
			"uploadId":      result.UploadID,
			"chunkIndex":    result.ChunkIndex,
			"totalChunks":   result.TotalChunks,
			"processedRows": result.ProcessedRows,
			"isLastChunk":   result.IsLast,
			"chunkResult": map[string]any{
				"success": result.Result.Succeeded(),
				"fail":    result.Result.Failed,
				"created": result.Result.Created,
				"updated": result.Result.Updated,
				"skipped": result.Result.Skipped,
			},
		},
	})
}

// HandleCancelUpload cancels a session. The confirmation is returned whether
// or not the session still existed.
func (h *UploadHandlerImpl) HandleCancelUpload(c echo.Context) error {
	id := c.Param("uploadId")
	if id == "" {
		return NewValidationError("uploadId")
	}

	h.coordinator.CancelUpload(id)
	return c.JSON(http.StatusOK, map[string]any{
		"message": "upload cancelled",
	})
}

// HandleActiveUploads lists all non-terminal upload sessions
func (h *UploadHandlerImpl) HandleActiveUploads(c echo.Context) error {
	active := h.coordinator.ActiveUploads()
	return c.JSON(http.StatusOK, map[string]any{
		"message": "active uploads",
		"data": map[string]any{
			"activeUploads": active,
			"count":         len(active),
		},
	})
}

// Request types

type chunkInitRequest struct {
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	TotalChunks int    `json:"totalChunks"`
	ChunkSize   int    `json:"chunkSize"`
}

func (r *chunkInitRequest) validate() error {
	if r.FileName == "" {
		return NewValidationError("fileName")
	}
	if r.TotalChunks <= 0 {
		return NewBadRequestError("totalChunks must be positive", nil)
	}
	return nil
}

type chunkUploadRequest struct {
	UploadID    string          `json:"uploadId"`
	ChunkIndex  int             `json:"chunkIndex"`
	TotalChunks int             `json:"totalChunks"`
	ChunkData   json.RawMessage `json:"chunkData"`
	Encoding    string          `json:"encoding,omitempty"` // "json" (default) or "msgpack"
	IsLastChunk bool            `json:"isLastChunk"`
}

func (r *chunkUploadRequest) validate() error {
	if r.UploadID == "" {
		return NewValidationError("uploadId")
	}
	if r.ChunkIndex < 0 {
		return NewBadRequestError("chunkIndex must not be negative", nil)
	}
	if len(r.ChunkData) == 0 {
		return NewValidationError("chunkData")
	}
	return nil
}

// decodeRows unpacks the chunk's row array. Clients with large chunks may
// send base64 msgpack instead of plain JSON.
func (r *chunkUploadRequest) decodeRows() ([]map[string]any, error) {
	if r.Encoding == "msgpack" {
		var b64 string
		if err := json.Unmarshal(r.ChunkData, &b64); err != nil {
			return nil, fmt.Errorf("msgpack chunk must be a base64 string: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data: %w", err)
		}
		var rows []map[string]any
		if err := msgpack.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("invalid msgpack rows: %w", err)
		}
		return rows, nil
	}

	var rows []map[string]any
	if err := json.Unmarshal(r.ChunkData, &rows); err != nil {
		return nil, fmt.Errorf("chunkData must be an array of row objects: %w", err)
	}
	return rows, nil
}
