// Package upload orchestrates order-ingestion sessions: it drives the
// progress state machine, feeds sanitized rows to the batch ingestor and
// guarantees one audit log entry per upload attempt on every terminal path.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qctrack/backend/internal/ingest"
	"github.com/qctrack/backend/internal/models"
	"github.com/qctrack/backend/internal/progress"
	"github.com/qctrack/backend/internal/sanitize"
)

var (
	// ErrUnknownSession marks a chunk addressed to a session that was never
	// initialized or has already finished.
	ErrUnknownSession = errors.New("unknown upload session")
	// ErrSessionBusy marks an overlapping chunk for a session that is still
	// processing the previous one. The protocol is strictly sequential per
	// session; overlap is reported, never merged.
	ErrSessionBusy = errors.New("upload session is already processing a chunk")
	// ErrChunkOutOfRange marks a chunk whose index or chunk count disagrees
	// with what the session was initialized with.
	ErrChunkOutOfRange = errors.New("chunk index out of range for session")
)

// Whole-file sessions reserve 0-25% of the bar for parse+validate and
// 25-95% for persistence; the final 5% is the terminal event.
const (
	processingBase = 25
	processingSpan = 70
)

// SheetParser is the spreadsheet port. The workbook bytes handed to it are
// the only source of truth for row count and content.
type SheetParser interface {
	ParseOrderSheet(data []byte) ([]map[string]any, error)
}

// AuditLog is the external logging port recording every upload attempt.
type AuditLog interface {
	WriteUploadLog(ctx context.Context, entry *models.UploadLog) error
}

// Options tune the coordinator.
type Options struct {
	BatchSize      int
	ProcessTimeout time.Duration // defensive wall-clock cap per run
	SessionTTL     time.Duration // idle cap for chunked sessions
}

func (o *Options) withDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = ingest.DefaultBatchSize
	}
	if o.ProcessTimeout <= 0 {
		o.ProcessTimeout = 10 * time.Minute
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = 30 * time.Minute
	}
}

// Coordinator is the system-boundary orchestrator for both upload protocols.
type Coordinator struct {
	hub       *progress.Hub
	parser    SheetParser
	ingestor  *ingest.Ingestor
	sanitizer *sanitize.Sanitizer
	audit     AuditLog
	logger    *zap.Logger
	opts      Options

	mu            sync.Mutex
	chunkSessions map[string]*chunkSession
}

// chunkSession is the coordinator-private state of one chunked upload. The
// hub holds the subscriber-visible snapshot; this holds the accumulators.
type chunkSession struct {
	fileName        string
	fileSize        int64
	totalChunks     int
	chunkSize       int
	processedChunks int
	totalRows       int
	processedRows   int
	details         models.BatchResult
	inFlight        bool
	lastActivity    time.Time
	ctx             context.Context
	cancel          context.CancelFunc
}

// NewCoordinator wires the pipeline together.
func NewCoordinator(hub *progress.Hub, parser SheetParser, ingestor *ingest.Ingestor, sanitizer *sanitize.Sanitizer, audit AuditLog, logger *zap.Logger, opts Options) *Coordinator {
	opts.withDefaults()
	return &Coordinator{
		hub:           hub,
		parser:        parser,
		ingestor:      ingestor,
		sanitizer:     sanitizer,
		audit:         audit,
		logger:        logger,
		opts:          opts,
		chunkSessions: make(map[string]*chunkSession),
	}
}

// WholeFileResult is the structured outcome of a whole-file upload.
type WholeFileResult struct {
	UploadID      string
	FileName      string
	FileSize      int64
	TotalRows     int
	ProcessedRows int
	Status        string // "completed" or "partial_success"
	UploadedAt    time.Time
	Details       models.BatchResult
}

// ProcessWorkbook runs the whole-file protocol: parse the authoritative
// order sheet, sanitize every row, ingest in batches, and finish the session.
// The client hint is never read for correctness; it only feeds a debug log
// line. Exactly one audit entry is written per call, on every path.
func (c *Coordinator) ProcessWorkbook(ctx context.Context, userID *string, fileName string, data []byte, hint *models.ClientHint) (*WholeFileResult, error) {
	uploadID := uuid.New().String()
	runCtx, cancel := context.WithTimeout(ctx, c.opts.ProcessTimeout)
	defer cancel()

	sess := models.NewUploadSession(uploadID, fileName)
	c.hub.Create(sess, cancel)

	var summary models.BatchResult
	defer func() {
		c.writeAudit(userID, fileName, summary)
	}()

	c.logger.Info("whole-file upload started",
		zap.String("uploadId", uploadID),
		zap.String("fileName", fileName),
		zap.Int64("fileSize", int64(len(data))))

	c.hub.Update(uploadID, func(s *models.UploadSession) {
		s.Stage = models.StageParsing
		s.Progress = 5
	})

	rawRows, err := c.parser.ParseOrderSheet(data)
	if err != nil {
		c.hub.Fail(uploadID, fmt.Sprintf("failed to parse workbook: %v", err))
		return nil, err
	}
	totalRows := len(rawRows)

	if est := hint.EstimatedRows(); est > 0 && est != totalRows {
		c.logger.Debug("client hint row count differs from server parse; server data is authoritative",
			zap.String("uploadId", uploadID),
			zap.Int("claimedRows", est),
			zap.Int("parsedRows", totalRows))
	}

	c.hub.Update(uploadID, func(s *models.UploadSession) {
		s.Stage = models.StageValidating
		s.Progress = 10
		s.TotalRows = totalRows
	})

	records, fieldErrs := c.sanitizer.SanitizeRows(rawRows)

	c.hub.Update(uploadID, func(s *models.UploadSession) {
		s.Stage = models.StageProcessing
		s.Progress = processingBase
	})

	summary, err = c.ingestor.Ingest(runCtx, records, c.opts.BatchSize, func(pct, rows, cur, tot int) {
		c.hub.Update(uploadID, func(s *models.UploadSession) {
			s.Stage = models.StageProcessing
			s.Progress = processingBase + pct*processingSpan/100
			s.ProcessedRows = rows
			s.CurrentBatch = cur
			s.TotalBatches = tot
		})
	})
	summary.Errors = append(fieldErrs, summary.Errors...)
	if err != nil {
		// When the session was cancelled through the hub the terminal event
		// already went out; Fail is a no-op then.
		c.hub.Fail(uploadID, fmt.Sprintf("ingest failed: %v", err))
		return nil, err
	}

	details := summary
	c.hub.Complete(uploadID, &details, "upload completed")

	status := "completed"
	if summary.Failed > 0 {
		status = "partial_success"
	}
	return &WholeFileResult{
		UploadID:      uploadID,
		FileName:      fileName,
		FileSize:      int64(len(data)),
		TotalRows:     totalRows,
		ProcessedRows: summary.Total(),
		Status:        status,
		UploadedAt:    time.Now(),
		Details:       summary,
	}, nil
}

// ChunkInit describes a chunked upload about to start.
type ChunkInit struct {
	FileName    string
	FileSize    int64
	TotalChunks int
	ChunkSize   int
}

// InitChunked creates a chunked session in the parsing stage and returns its
// snapshot. The session's cancellation context outlives any single request.
func (c *Coordinator) InitChunked(init ChunkInit) (*models.UploadSession, error) {
	if init.TotalChunks <= 0 {
		return nil, fmt.Errorf("totalChunks must be positive")
	}

	uploadID := uuid.New().String()
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ProcessTimeout)

	sess := models.NewUploadSession(uploadID, init.FileName)
	sess.TotalChunks = init.TotalChunks
	c.hub.Create(sess, cancel)

	c.mu.Lock()
	c.chunkSessions[uploadID] = &chunkSession{
		fileName:     init.FileName,
		fileSize:     init.FileSize,
		totalChunks:  init.TotalChunks,
		chunkSize:    init.ChunkSize,
		lastActivity: time.Now(),
		ctx:          ctx,
		cancel:       cancel,
	}
	c.mu.Unlock()

	c.logger.Info("chunked upload initialized",
		zap.String("uploadId", uploadID),
		zap.String("fileName", init.FileName),
		zap.Int("totalChunks", init.TotalChunks))
	return sess, nil
}

// ChunkResult is the structured outcome of one chunk.
type ChunkResult struct {
	UploadID      string
	ChunkIndex    int
	TotalChunks   int
	ProcessedRows int
	IsLast        bool
	Result        models.BatchResult
}

// ProcessChunk runs the chunked protocol for one chunk: sanitize the rows,
// ingest just this chunk, advance the session bar to the chunk's share, and
// on the last chunk finish the session and write the single audit entry.
// Chunks are applied strictly in the order received; an overlapping chunk
// for the same session is a protocol violation.
func (c *Coordinator) ProcessChunk(uploadID string, chunkIndex, totalChunks int, rows []map[string]any, isLast bool) (*ChunkResult, error) {
	c.mu.Lock()
	cs, ok := c.chunkSessions[uploadID]
	if !ok {
		c.mu.Unlock()
		return nil, ErrUnknownSession
	}
	if cs.inFlight {
		c.mu.Unlock()
		return nil, ErrSessionBusy
	}
	if cs.ctx.Err() != nil {
		c.mu.Unlock()
		return nil, ErrUnknownSession
	}
	// The init call fixed the chunk geometry; a request that disagrees with
	// it could push the session bar past 100.
	if totalChunks > 0 && totalChunks != cs.totalChunks {
		c.mu.Unlock()
		return nil, ErrChunkOutOfRange
	}
	if chunkIndex < 0 || chunkIndex >= cs.totalChunks {
		c.mu.Unlock()
		return nil, ErrChunkOutOfRange
	}
	cs.inFlight = true
	cs.lastActivity = time.Now()
	totalChunks = cs.totalChunks
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		cs.inFlight = false
		cs.lastActivity = time.Now()
		c.mu.Unlock()
	}()

	records, fieldErrs := c.sanitizer.SanitizeRows(rows)

	c.mu.Lock()
	cs.totalRows += len(rows)
	totalRows := cs.totalRows
	rowsBefore := cs.processedRows
	c.mu.Unlock()

	c.hub.Update(uploadID, func(s *models.UploadSession) {
		s.Stage = models.StageProcessing
		s.TotalRows = totalRows
	})

	// This chunk owns the [base, next] slice of the overall bar.
	base := chunkIndex * 100 / totalChunks
	next := (chunkIndex + 1) * 100 / totalChunks

	res, err := c.ingestor.Ingest(cs.ctx, records, c.opts.BatchSize, func(pct, chunkRows, cur, tot int) {
		c.hub.Update(uploadID, func(s *models.UploadSession) {
			s.Progress = base + pct*(next-base)/100
			s.ProcessedRows = rowsBefore + chunkRows
			s.CurrentBatch = cur
			s.TotalBatches = tot
		})
	})
	res.Errors = append(fieldErrs, res.Errors...)

	c.mu.Lock()
	cs.details.Add(res)
	cs.processedRows += res.Total()
	processedRows := cs.processedRows
	details := cs.details
	c.mu.Unlock()

	if err != nil {
		// Fail reports whether this call delivered the terminal event; a
		// cancelled session already got one, and its audit entry is written
		// by CancelUpload.
		if c.hub.Fail(uploadID, fmt.Sprintf("ingest failed: %v", err)) {
			c.writeAudit(nil, c.chunkAuditName(uploadID), details)
		}
		c.removeChunkSession(uploadID)
		return nil, err
	}

	c.mu.Lock()
	cs.processedChunks++
	processedChunks := cs.processedChunks
	c.mu.Unlock()

	c.hub.Update(uploadID, func(s *models.UploadSession) {
		s.Progress = next
		s.ProcessedChunks = processedChunks
		s.ProcessedRows = processedRows
	})

	if isLast {
		final := details
		c.hub.Complete(uploadID, &final, "upload completed")
		c.writeAudit(nil, c.chunkAuditName(uploadID), details)
		c.removeChunkSession(uploadID)
	}

	return &ChunkResult{
		UploadID:      uploadID,
		ChunkIndex:    chunkIndex,
		TotalChunks:   totalChunks,
		ProcessedRows: processedRows,
		IsLast:        isLast,
		Result:        res,
	}, nil
}

// CancelUpload cancels a session. For chunked sessions the partial audit
// entry is written here; a whole-file producer writes its own when it
// observes the cancellation. Returns false if the session did not exist or
// had already finished.
func (c *Coordinator) CancelUpload(uploadID string) bool {
	cancelled := c.hub.Cancel(uploadID)
	if !cancelled {
		return false
	}

	c.mu.Lock()
	cs, isChunked := c.chunkSessions[uploadID]
	var details models.BatchResult
	if isChunked {
		details = cs.details
	}
	c.mu.Unlock()
	if isChunked {
		c.writeAudit(nil, c.chunkAuditName(uploadID), details)
		c.removeChunkSession(uploadID)
	}
	return true
}

// ActiveUploads lists all currently registered, non-terminal session ids.
func (c *Coordinator) ActiveUploads() []string {
	return c.hub.Active()
}

// CleanupStale terminates chunked sessions idle past the session TTL so an
// abandoned client cannot pin hub state forever.
func (c *Coordinator) CleanupStale() {
	cutoff := time.Now().Add(-c.opts.SessionTTL)

	c.mu.Lock()
	stale := make(map[string]models.BatchResult)
	for id, cs := range c.chunkSessions {
		if !cs.inFlight && cs.lastActivity.Before(cutoff) {
			stale[id] = cs.details
		}
	}
	c.mu.Unlock()

	for id, details := range stale {
		if c.hub.Fail(id, "upload session expired") {
			c.writeAudit(nil, c.chunkAuditName(id), details)
		}
		c.removeChunkSession(id)
		c.logger.Info("stale chunked session evicted", zap.String("uploadId", id))
	}
}

func (c *Coordinator) removeChunkSession(uploadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cs, ok := c.chunkSessions[uploadID]; ok {
		cs.cancel()
		delete(c.chunkSessions, uploadID)
	}
}

// chunkAuditName derives the synthetic audit filename for a chunked session.
func (c *Coordinator) chunkAuditName(uploadID string) string {
	return fmt.Sprintf("chunked-%s.xlsx", uploadID)
}

// writeAudit records one attempt. It runs on its own context so the entry
// lands even when the request that produced it is already gone.
func (c *Coordinator) writeAudit(userID *string, fileName string, summary models.BatchResult) {
	results, err := json.Marshal(summary)
	if err != nil {
		results = []byte("{}")
	}
	entry := &models.UploadLog{
		ID:           uuid.New().String(),
		UserID:       userID,
		FileName:     fileName,
		SuccessCount: summary.Succeeded(),
		FailedCount:  summary.Failed,
		Results:      string(results),
		CreatedAt:    time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.audit.WriteUploadLog(ctx, entry); err != nil {
		c.logger.Error("audit log write failed",
			zap.String("fileName", fileName),
			zap.Error(err))
	}
}
