package models

import "encoding/json"

// KeyField is the business field used as upsert identity for an order row.
const KeyField = "finalOrder"

// IngestRecord is one normalized spreadsheet row ready for persistence.
// Every value has already passed sanitization: numbers are finite float64s
// within range, strings are trimmed, length-capped and tag-stripped. Identity
// for upsert purposes is derived by the persistence layer from KeyField.
type IngestRecord map[string]any

// Key returns the record's business identifier, or "" if it has none.
func (r IngestRecord) Key() string {
	v, ok := r[KeyField]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// FieldError records why a single field (or row) was rejected. Row is the
// 1-based data-row index within the upload, 0 when the error is not tied to
// a particular row.
type FieldError struct {
	Row    int    `json:"row,omitempty"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

// BatchResult is the outcome of persisting one batch. Results are combined
// across batches by field-wise summation.
type BatchResult struct {
	Created int          `json:"created"`
	Updated int          `json:"updated"`
	Skipped int          `json:"skipped"`
	Failed  int          `json:"failed"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// Add accumulates another batch's outcome into r.
func (r *BatchResult) Add(other BatchResult) {
	r.Created += other.Created
	r.Updated += other.Updated
	r.Skipped += other.Skipped
	r.Failed += other.Failed
	r.Errors = append(r.Errors, other.Errors...)
}

// Total is the number of rows the result accounts for.
func (r BatchResult) Total() int {
	return r.Created + r.Updated + r.Skipped + r.Failed
}

// Succeeded is the number of rows persisted without failure.
func (r BatchResult) Succeeded() int {
	return r.Created + r.Updated + r.Skipped
}

// ClientHint carries client-precomputed upload data. It is accepted purely as
// a UX hint (progress estimates, debug logging) and deliberately shares no
// fields with IngestRecord: nothing in it ever reaches the authoritative
// parse/sanitize path.
type ClientHint struct {
	PreProcessedData  json.RawMessage
	ValidationSummary json.RawMessage
}

// EstimatedRows returns the number of rows the client claims to have
// pre-processed, or 0 if the hint is absent or malformed.
func (h *ClientHint) EstimatedRows() int {
	if h == nil || len(h.PreProcessedData) == 0 {
		return 0
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(h.PreProcessedData, &rows); err != nil {
		return 0
	}
	return len(rows)
}

// OrderRef is the identity slice of a stored order used by lookup paths.
type OrderRef struct {
	ID         uint   `json:"id"`
	FinalOrder string `json:"finalOrder"`
	UpdatedAt  int64  `json:"updatedAt"` // Unix ms
}
