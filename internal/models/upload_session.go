package models

import "time"

// Stage represents the lifecycle stage of an upload session.
type Stage string

const (
	StageParsing    Stage = "parsing"
	StageValidating Stage = "validating"
	StageProcessing Stage = "processing"
	StageCompleted  Stage = "completed"
	StageError      Stage = "error"
)

// Terminal reports whether the stage ends the session. No events follow a
// terminal stage.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageError
}

// UploadSession is one logical upload attempt (whole-file or chunked).
// Snapshots of it are what progress subscribers receive.
type UploadSession struct {
	ID              string       `json:"uploadId"`
	FileName        string       `json:"fileName"`
	Stage           Stage        `json:"stage"`
	Progress        int          `json:"progress"` // 0-100, non-decreasing until terminal
	TotalRows       int          `json:"totalRows"`
	ProcessedRows   int          `json:"processedRows"`
	TotalBatches    int          `json:"totalBatches,omitempty"`
	CurrentBatch    int          `json:"currentBatch,omitempty"`
	TotalChunks     int          `json:"totalChunks,omitempty"`
	ProcessedChunks int          `json:"processedChunks,omitempty"`
	Details         *BatchResult `json:"details,omitempty"`
	Message         string       `json:"message,omitempty"`
	StartedAt       time.Time    `json:"startedAt"`
}

// NewUploadSession creates a session in the parsing stage.
func NewUploadSession(id, fileName string) *UploadSession {
	return &UploadSession{
		ID:        id,
		FileName:  fileName,
		Stage:     StageParsing,
		Progress:  0,
		StartedAt: time.Now(),
	}
}
