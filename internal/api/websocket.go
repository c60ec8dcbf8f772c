// websocket.go - WebSocket progress feed, mirroring the SSE stream for
// clients that keep a socket open across uploads
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/qctrack/backend/internal/models"
)

const (
	wsWriteTimeout = 10 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser clients connect from the admin frontend origin; auth is
	// handled upstream, so origin is not re-checked here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleProgressSocket streams session snapshots over a WebSocket. The
// contract matches the SSE stream: no history replay, terminal event last,
// unknown ids get one synthetic error message before close.
func (h *ProgressHandlerImpl) HandleProgressSocket(c echo.Context) error {
	id := c.Param("uploadId")
	if id == "" {
		return NewValidationError("uploadId")
	}

	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return NewBadRequestError("websocket upgrade failed", err)
	}
	defer conn.Close()

	ch, unsubscribe, err := h.hub.Subscribe(id)
	if err != nil {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		conn.WriteJSON(models.UploadSession{
			ID:      id,
			Stage:   models.StageError,
			Message: "session not found",
		})
		return nil
	}
	defer unsubscribe()

	// Reader goroutine: the client never sends data, but reading is what
	// surfaces a closed connection.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	timeout := time.NewTimer(streamTimeout)
	defer timeout.Stop()

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				return nil
			}
			if snap.Stage.Terminal() {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(snap.Stage)))
				return nil
			}
		case <-closed:
			return nil
		case <-timeout.C:
			return nil
		}
	}
}
