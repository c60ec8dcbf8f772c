package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qctrack/backend/internal/models"
)

func newTestHub() *Hub {
	return NewHub(zap.NewNop())
}

// drain collects every snapshot until the subscriber channel closes.
func drain(t *testing.T, ch <-chan models.UploadSession) []models.UploadSession {
	t.Helper()
	var got []models.UploadSession
	timeout := time.After(2 * time.Second)
	for {
		select {
		case sess, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, sess)
		case <-timeout:
			t.Fatal("subscriber channel never closed")
		}
	}
}

func TestSubscribe_UnknownSession(t *testing.T) {
	h := newTestHub()
	_, _, err := h.Subscribe("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSubscribe_YieldsCurrentSnapshotFirst(t *testing.T) {
	h := newTestHub()
	sess := models.NewUploadSession("u1", "orders.xlsx")
	sess.Stage = models.StageValidating
	sess.Progress = 10
	h.Create(sess, nil)

	ch, unsub, err := h.Subscribe("u1")
	require.NoError(t, err)
	defer unsub()

	first := <-ch
	assert.Equal(t, models.StageValidating, first.Stage)
	assert.Equal(t, 10, first.Progress)
}

func TestUpdate_ProgressIsMonotonic(t *testing.T) {
	h := newTestHub()
	h.Create(models.NewUploadSession("u1", "orders.xlsx"), nil)

	h.Update("u1", func(s *models.UploadSession) {
		s.Progress = 40
		s.ProcessedRows = 80
	})
	h.Update("u1", func(s *models.UploadSession) {
		s.Progress = 25
		s.ProcessedRows = 10
	})

	snap, ok := h.Get("u1")
	require.True(t, ok)
	assert.Equal(t, 40, snap.Progress, "progress must never go backwards")
	assert.Equal(t, 80, snap.ProcessedRows)
}

func TestUpdate_ProgressCappedAt100(t *testing.T) {
	h := newTestHub()
	h.Create(models.NewUploadSession("u1", "orders.xlsx"), nil)

	h.Update("u1", func(s *models.UploadSession) { s.Progress = 300 })

	snap, ok := h.Get("u1")
	require.True(t, ok)
	assert.Equal(t, 100, snap.Progress)
}

func TestComplete_TerminalOnce(t *testing.T) {
	h := newTestHub()
	h.Create(models.NewUploadSession("u1", "orders.xlsx"), nil)

	chA, _, err := h.Subscribe("u1")
	require.NoError(t, err)
	chB, _, err := h.Subscribe("u1")
	require.NoError(t, err)

	h.Update("u1", func(s *models.UploadSession) {
		s.Stage = models.StageProcessing
		s.Progress = 50
	})
	details := &models.BatchResult{Created: 3}
	assert.True(t, h.Complete("u1", details, "done"))

	// Every later terminal attempt is a no-op.
	assert.False(t, h.Complete("u1", details, "again"))
	assert.False(t, h.Fail("u1", "too late"))
	assert.False(t, h.Cancel("u1"))

	for _, ch := range []<-chan models.UploadSession{chA, chB} {
		events := drain(t, ch)
		require.NotEmpty(t, events)
		last := events[len(events)-1]
		assert.Equal(t, models.StageCompleted, last.Stage)
		assert.Equal(t, 100, last.Progress)
		require.NotNil(t, last.Details)
		assert.Equal(t, 3, last.Details.Created)

		terminals := 0
		for _, ev := range events {
			if ev.Stage.Terminal() {
				terminals++
			}
		}
		assert.Equal(t, 1, terminals, "exactly one terminal event per subscriber")
	}
}

func TestUpdate_AfterTerminalIgnored(t *testing.T) {
	h := newTestHub()
	h.Create(models.NewUploadSession("u1", "orders.xlsx"), nil)
	require.True(t, h.Fail("u1", "boom"))

	assert.False(t, h.Update("u1", func(s *models.UploadSession) { s.Progress = 99 }))
	snap, ok := h.Get("u1")
	require.True(t, ok)
	assert.Equal(t, models.StageError, snap.Stage)
	assert.Equal(t, "boom", snap.Message)
}

func TestCancel_IsSynchronousAndStopsProducer(t *testing.T) {
	h := newTestHub()
	ctx, cancel := context.WithCancel(context.Background())
	h.Create(models.NewUploadSession("u1", "orders.xlsx"), cancel)

	require.True(t, h.Cancel("u1"))

	// The producer context is cancelled before Cancel returns.
	select {
	case <-ctx.Done():
	default:
		t.Fatal("producer context not cancelled")
	}

	snap, ok := h.Get("u1")
	require.True(t, ok)
	assert.Equal(t, models.StageError, snap.Stage)
	assert.Equal(t, CancelMessage, snap.Message)
}

func TestCancel_UnknownSession(t *testing.T) {
	h := newTestHub()
	assert.False(t, h.Cancel("nope"))
}

func TestSubscribe_AfterTerminalGetsSnapshotThenClose(t *testing.T) {
	h := newTestHub()
	h.Create(models.NewUploadSession("u1", "orders.xlsx"), nil)
	h.Complete("u1", &models.BatchResult{Created: 1}, "done")

	ch, unsub, err := h.Subscribe("u1")
	require.NoError(t, err)
	defer unsub()

	events := drain(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, models.StageCompleted, events[0].Stage)
}

func TestEviction_RemovesSessionAfterDelay(t *testing.T) {
	h := newTestHub()
	h.evictAfter = 20 * time.Millisecond
	h.Create(models.NewUploadSession("u1", "orders.xlsx"), nil)
	h.Complete("u1", nil, "done")

	_, ok := h.Get("u1")
	assert.True(t, ok, "terminal session stays addressable briefly")

	assert.Eventually(t, func() bool {
		_, ok := h.Get("u1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestActive_ExcludesTerminalSessions(t *testing.T) {
	h := newTestHub()
	h.Create(models.NewUploadSession("u1", "a.xlsx"), nil)
	h.Create(models.NewUploadSession("u2", "b.xlsx"), nil)
	h.Fail("u2", "boom")

	assert.Equal(t, []string{"u1"}, h.Active())
}

func TestBroadcast_SlowSubscriberStillSeesTerminal(t *testing.T) {
	h := newTestHub()
	h.Create(models.NewUploadSession("u1", "orders.xlsx"), nil)

	ch, _, err := h.Subscribe("u1")
	require.NoError(t, err)

	// Overflow the subscriber buffer without reading anything.
	for i := 0; i < subscriberBuffer*2; i++ {
		h.Update("u1", func(s *models.UploadSession) { s.Progress = i % 100 })
	}
	h.Complete("u1", nil, "done")

	events := drain(t, ch)
	require.NotEmpty(t, events)
	assert.Equal(t, models.StageCompleted, events[len(events)-1].Stage)
}
