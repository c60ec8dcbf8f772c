package models

import "time"

// UploadLog is the audit record written exactly once per upload attempt,
// including attempts that failed before reaching persistence.
type UploadLog struct {
	ID           string    `json:"id"`
	UserID       *string   `json:"userId,omitempty"`
	FileName     string    `json:"fileName"`
	SuccessCount int       `json:"successCount"`
	FailedCount  int       `json:"failedCount"`
	Results      string    `json:"results"` // JSON-encoded BatchResult summary
	CreatedAt    time.Time `json:"createdAt"`
}
