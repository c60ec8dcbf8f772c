// Package progress is the process-wide registry of per-upload event streams.
// Each session fans out UploadSession snapshots to any number of subscribers
// and guarantees exactly one terminal event per session.
package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qctrack/backend/internal/models"
)

// ErrSessionNotFound is returned for ids that were never registered or have
// already been evicted after their terminal event.
var ErrSessionNotFound = errors.New("upload session not found")

// CancelMessage is the terminal message of a user-cancelled session.
// Cancellation shares the error stage with infrastructure failures and is
// distinguished by this message alone.
const CancelMessage = "upload cancelled by user"

const (
	// subscriberBuffer absorbs bursts so slow subscribers only lose
	// intermediate snapshots, never the terminal one.
	subscriberBuffer = 64
	// evictDelay keeps a finished session addressable just long enough for
	// in-flight subscribers to observe the terminal event.
	evictDelay = 2 * time.Second
)

type stream struct {
	snapshot models.UploadSession
	subs     map[int]chan models.UploadSession
	nextSub  int
	terminal bool
	onCancel context.CancelFunc
}

// Hub is the only shared mutable structure of the ingestion core. All
// mutation goes through Create/Update/Complete/Fail/Cancel, each atomic with
// respect to concurrent subscriber reads.
type Hub struct {
	mu         sync.RWMutex
	sessions   map[string]*stream
	logger     *zap.Logger
	evictAfter time.Duration
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		sessions:   make(map[string]*stream),
		logger:     logger,
		evictAfter: evictDelay,
	}
}

// Create registers a new session stream. onCancel, if non-nil, is invoked
// when the session is cancelled so the producer can stop between batches.
func (h *Hub) Create(sess *models.UploadSession, onCancel context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[sess.ID] = &stream{
		snapshot: *sess,
		subs:     make(map[int]chan models.UploadSession),
		onCancel: onCancel,
	}
	h.logger.Debug("session registered", zap.String("uploadId", sess.ID))
}

// Get returns the current snapshot of a session.
func (h *Hub) Get(id string) (models.UploadSession, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.sessions[id]
	if !ok {
		return models.UploadSession{}, false
	}
	return st.snapshot, true
}

// Active lists the ids of all non-terminal sessions.
func (h *Hub) Active() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.sessions))
	for id, st := range h.sessions {
		if !st.terminal {
			ids = append(ids, id)
		}
	}
	return ids
}

// Subscribe attaches a new subscriber to a session. The returned channel
// immediately yields the current snapshot, then every later event up to and
// including the terminal one, after which it is closed. The returned func
// detaches the subscriber. There is no replay of events before subscription.
func (h *Hub) Subscribe(id string) (<-chan models.UploadSession, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.sessions[id]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}

	ch := make(chan models.UploadSession, subscriberBuffer)
	ch <- st.snapshot
	if st.terminal {
		// Late subscriber inside the eviction window: terminal snapshot
		// already queued above, nothing more will ever arrive.
		close(ch)
		return ch, func() {}, nil
	}

	subID := st.nextSub
	st.nextSub++
	st.subs[subID] = ch

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		cur, ok := h.sessions[id]
		if !ok || cur != st {
			return
		}
		if sub, live := cur.subs[subID]; live {
			delete(cur.subs, subID)
			close(sub)
		}
	}
	return ch, unsubscribe, nil
}

// Update applies mutate to the session snapshot and broadcasts the result.
// Progress is clamped non-decreasing and held inside 0-100. Updates after the
// terminal event are ignored.
func (h *Hub) Update(id string, mutate func(*models.UploadSession)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.sessions[id]
	if !ok || st.terminal {
		return false
	}
	prevProgress := st.snapshot.Progress
	prevRows := st.snapshot.ProcessedRows
	mutate(&st.snapshot)
	if st.snapshot.Progress < prevProgress {
		st.snapshot.Progress = prevProgress
	}
	if st.snapshot.Progress > 100 {
		st.snapshot.Progress = 100
	}
	if st.snapshot.ProcessedRows < prevRows {
		st.snapshot.ProcessedRows = prevRows
	}
	st.broadcast()
	return true
}

// Complete emits the successful terminal event and schedules eviction.
func (h *Hub) Complete(id string, details *models.BatchResult, message string) bool {
	return h.finish(id, models.StageCompleted, message, details)
}

// Fail emits the error terminal event and schedules eviction.
func (h *Hub) Fail(id string, message string) bool {
	return h.finish(id, models.StageError, message, nil)
}

// Cancel terminates an in-flight session synchronously: subscribers see the
// terminal event before Cancel returns, and the producer's context is
// cancelled so it stops issuing further batches. Returns false if the
// session does not exist or already finished.
func (h *Hub) Cancel(id string) bool {
	h.mu.Lock()
	st, ok := h.sessions[id]
	if !ok || st.terminal {
		h.mu.Unlock()
		return false
	}
	onCancel := st.onCancel
	h.mu.Unlock()

	if onCancel != nil {
		onCancel()
	}
	return h.finish(id, models.StageError, CancelMessage, nil)
}

// CloseAll force-terminates every live session. Used at shutdown.
func (h *Hub) CloseAll() {
	for _, id := range h.Active() {
		h.finish(id, models.StageError, "server shutting down", nil)
	}
}

func (h *Hub) finish(id string, stage models.Stage, message string, details *models.BatchResult) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.sessions[id]
	if !ok || st.terminal {
		return false
	}

	st.snapshot.Stage = stage
	st.snapshot.Message = message
	if details != nil {
		st.snapshot.Details = details
	}
	if stage == models.StageCompleted {
		st.snapshot.Progress = 100
	}
	st.terminal = true
	st.broadcast()
	for subID, ch := range st.subs {
		delete(st.subs, subID)
		close(ch)
	}

	h.logger.Info("session finished",
		zap.String("uploadId", id),
		zap.String("stage", string(stage)),
		zap.Int("processedRows", st.snapshot.ProcessedRows))

	time.AfterFunc(h.evictAfter, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if cur, live := h.sessions[id]; live && cur == st {
			delete(h.sessions, id)
		}
	})
	return true
}

// broadcast delivers the current snapshot to every subscriber. Callers hold
// h.mu. A full buffer drops the subscriber's oldest queued snapshot so the
// newest state (and in particular the terminal event) always lands.
func (st *stream) broadcast() {
	for _, ch := range st.subs {
		for {
			select {
			case ch <- st.snapshot:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}
