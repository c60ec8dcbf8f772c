// handlers_progress_test.go - SSE progress stream tests
package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qctrack/backend/internal/models"
	"github.com/qctrack/backend/internal/progress"
)

func progressContext(t *testing.T, uploadID string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/upload/optimized/progress/"+uploadID, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("uploadId")
	c.SetParamValues(uploadID)
	return c, rec
}

func TestHandleProgressStream_UnknownSession(t *testing.T) {
	h := NewProgressHandler(progress.NewHub(zap.NewNop()))
	c, rec := progressContext(t, "nope")

	require.NoError(t, h.HandleProgressStream(c))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	body := rec.Body.String()
	assert.Contains(t, body, "data: ")
	assert.Contains(t, body, "session not found")
	assert.Contains(t, body, `"stage":"error"`)
}

func TestHandleProgressStream_CompletedSession(t *testing.T) {
	hub := progress.NewHub(zap.NewNop())
	hub.Create(models.NewUploadSession("u1", "orders.xlsx"), nil)
	hub.Complete("u1", &models.BatchResult{Created: 5}, "upload completed")

	h := NewProgressHandler(hub)
	c, rec := progressContext(t, "u1")

	// Subscribe yields the terminal snapshot immediately, so the stream ends
	// without blocking.
	require.NoError(t, h.HandleProgressStream(c))

	body := rec.Body.String()
	assert.Contains(t, body, `"stage":"completed"`)
	assert.Contains(t, body, `"progress":100`)
	assert.Contains(t, body, `"created":5`)
}

func TestHandleProgressStream_LiveSessionUntilTerminal(t *testing.T) {
	hub := progress.NewHub(zap.NewNop())
	hub.Create(models.NewUploadSession("u1", "orders.xlsx"), nil)
	hub.Update("u1", func(s *models.UploadSession) {
		s.Stage = models.StageProcessing
		s.Progress = 60
	})

	h := NewProgressHandler(hub)
	c, rec := progressContext(t, "u1")

	done := make(chan error, 1)
	go func() { done <- h.HandleProgressStream(c) }()

	time.Sleep(50 * time.Millisecond)
	hub.Complete("u1", nil, "upload completed")

	require.NoError(t, <-done)

	body := rec.Body.String()
	assert.Contains(t, body, `"stage":"processing"`, "current snapshot is delivered first")
	assert.Contains(t, body, `"stage":"completed"`)

	// Nothing follows the terminal event.
	idx := len(body) - len("\n\n")
	assert.Equal(t, "\n\n", body[idx:])
}

func TestHandleProgressStream_MissingParam(t *testing.T) {
	h := NewProgressHandler(progress.NewHub(zap.NewNop()))
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/upload/optimized/progress/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.HandleProgressStream(c)
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}
