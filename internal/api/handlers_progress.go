// handlers_progress.go - Upload progress streaming over SSE
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/qctrack/backend/internal/models"
)

// streamTimeout caps one progress stream; an upload that outlives it is
// still observable by reconnecting.
const streamTimeout = 15 * time.Minute

// ProgressHandlerImpl implements the ProgressHandler interface
type ProgressHandlerImpl struct {
	hub ProgressStreamer
}

// NewProgressHandler creates a new progress handler instance
func NewProgressHandler(hub ProgressStreamer) *ProgressHandlerImpl {
	return &ProgressHandlerImpl{hub: hub}
}

// HandleProgressStream streams session snapshots via SSE. An unknown id
// yields one synthetic error event instead of blocking; the terminal event
// is always the last one delivered.
func (h *ProgressHandlerImpl) HandleProgressStream(c echo.Context) error {
	id := c.Param("uploadId")
	if id == "" {
		return NewValidationError("uploadId")
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	ch, unsubscribe, err := h.hub.Subscribe(id)
	if err != nil {
		h.sendSSEData(c, models.UploadSession{
			ID:      id,
			Stage:   models.StageError,
			Message: "session not found",
		})
		return nil
	}
	defer unsubscribe()

	ctx := c.Request().Context()
	timeout := time.NewTimer(streamTimeout)
	defer timeout.Stop()

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			h.sendSSEData(c, snap)
			if snap.Stage.Terminal() {
				return nil
			}
		case <-ctx.Done():
			return nil
		case <-timeout.C:
			h.sendSSEData(c, models.UploadSession{
				ID:      id,
				Stage:   models.StageError,
				Message: "stream timeout",
			})
			return nil
		}
	}
}

func (h *ProgressHandlerImpl) sendSSEData(c echo.Context, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Response(), "data: %s\n\n", payload)
	c.Response().Flush()
}
