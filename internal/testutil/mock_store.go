// mock_store.go - In-memory persistence and audit ports for testing
package testutil

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/qctrack/backend/internal/models"
	"github.com/qctrack/backend/internal/orderkey"
)

// ErrStoreDown simulates an infrastructure fault.
var ErrStoreDown = errors.New("store unavailable")

// MockStore implements the order persistence port, the key lookup port and
// the audit log port in memory.
type MockStore struct {
	mu      sync.Mutex
	orders  map[string]models.IngestRecord
	refs    map[string]models.OrderRef
	logs    []*models.UploadLog
	queries [][]string
	nextID  uint

	// FailOnBatch makes the n-th SaveBatch call (1-based) return
	// ErrStoreDown. Zero disables the fault.
	FailOnBatch int
	saveCalls   int

	// SaveDelay simulates a slow persistence layer.
	SaveDelay time.Duration
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		orders: make(map[string]models.IngestRecord),
		refs:   make(map[string]models.OrderRef),
	}
}

// Seed inserts an order by key without going through SaveBatch.
func (m *MockStore) Seed(key string, rec models.IngestRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.orders[key] = rec
	m.refs[key] = models.OrderRef{
		ID:         m.nextID,
		FinalOrder: key,
		UpdatedAt:  time.Now().UnixMilli(),
	}
}

// SaveBatch mirrors the real store's outcome classification: missing or
// malformed keys fail the row, identical rows are skipped, known keys are
// updated, the rest created.
func (m *MockStore) SaveBatch(ctx context.Context, records []models.IngestRecord) (models.BatchResult, error) {
	if m.SaveDelay > 0 {
		select {
		case <-time.After(m.SaveDelay):
		case <-ctx.Done():
			return models.BatchResult{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.saveCalls++
	if m.FailOnBatch > 0 && m.saveCalls == m.FailOnBatch {
		return models.BatchResult{}, ErrStoreDown
	}

	var res models.BatchResult
	for i, rec := range records {
		key := rec.Key()
		if !orderkey.ValidateOne(key) {
			res.Failed++
			res.Errors = append(res.Errors, models.FieldError{
				Row: i + 1, Field: models.KeyField, Reason: "missing or malformed order number",
			})
			continue
		}
		existing, ok := m.orders[key]
		switch {
		case !ok:
			m.nextID++
			m.orders[key] = rec
			m.refs[key] = models.OrderRef{ID: m.nextID, FinalOrder: key, UpdatedAt: time.Now().UnixMilli()}
			res.Created++
		case reflect.DeepEqual(existing, rec):
			res.Skipped++
		default:
			m.orders[key] = rec
			res.Updated++
		}
	}
	return res, nil
}

// FindByNumbers records the query and returns refs for known keys.
func (m *MockStore) FindByNumbers(ctx context.Context, keys []string) ([]models.OrderRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries = append(m.queries, append([]string(nil), keys...))
	var refs []models.OrderRef
	for _, k := range keys {
		if ref, ok := m.refs[k]; ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// WriteUploadLog appends an audit entry.
func (m *MockStore) WriteUploadLog(ctx context.Context, entry *models.UploadLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	return nil
}

// Order returns the stored record for a key.
func (m *MockStore) Order(key string) (models.IngestRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.orders[key]
	return rec, ok
}

// OrderCount returns the number of stored orders.
func (m *MockStore) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// Logs returns the audit entries written so far.
func (m *MockStore) Logs() []*models.UploadLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.UploadLog(nil), m.logs...)
}

// Queries returns every FindByNumbers key list seen so far.
func (m *MockStore) Queries() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.queries...)
}

// SaveCalls returns how many SaveBatch calls were made.
func (m *MockStore) SaveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCalls
}
