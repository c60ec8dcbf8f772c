// Package orderkey validates, normalizes and resolves order-number business
// identifiers against an adversarial-input grammar.
package orderkey

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/qctrack/backend/internal/models"
)

const (
	// MaxKeyLen bounds a single order number.
	MaxKeyLen = 50
	// LookupBatchSize bounds how many keys one storage query may carry.
	LookupBatchSize = 100
)

// forbidden are characters that never appear in a well-formed order number
// and are common in injection payloads.
const forbidden = "<>'\";&|`$(){}[]\\"

// The upstream data source mixes two identifier forms, both accepted:
// letter-prefixed with a numeric suffix (T00000-1), or plain alphanumeric.
var (
	hyphenForm = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*-[0-9]+$`)
	plainForm  = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// ValidateOne reports whether raw is a well-formed order number after
// trimming.
func ValidateOne(raw string) bool {
	k := strings.TrimSpace(raw)
	if k == "" || len(k) > MaxKeyLen {
		return false
	}
	if strings.ContainsAny(k, forbidden) {
		return false
	}
	return hyphenForm.MatchString(k) || plainForm.MatchString(k)
}

// Normalize trims, filters invalid keys and deduplicates, preserving
// first-seen order for deterministic output.
func Normalize(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	valid := make([]string, 0, len(raw))
	for _, r := range raw {
		k := strings.TrimSpace(r)
		if !ValidateOne(k) {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		valid = append(valid, k)
	}
	return valid
}

// Lookup is the read side of the persistence port used by search paths.
type Lookup interface {
	// FindByNumbers returns refs for the stored orders whose number is in
	// keys. Callers must not pass more than LookupBatchSize keys.
	FindByNumbers(ctx context.Context, keys []string) ([]models.OrderRef, error)
}

// Resolver runs batched, parallel key lookups against a Lookup port.
type Resolver struct {
	store     Lookup
	batchSize int
}

// NewResolver creates a resolver with the standard batch size.
func NewResolver(store Lookup) *Resolver {
	return &Resolver{store: store, batchSize: LookupBatchSize}
}

// FindAll resolves an arbitrary raw key list. Inputs are normalized, split
// into independent batches queried in parallel, then merged with
// de-duplication by record identity and sorted most-recent-first
// (ties broken by identity descending).
func (r *Resolver) FindAll(ctx context.Context, raw []string) ([]models.OrderRef, error) {
	keys := Normalize(raw)
	if len(keys) == 0 {
		return nil, nil
	}

	batches := chunkKeys(keys, r.batchSize)
	results := make([][]models.OrderRef, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		g.Go(func() error {
			refs, err := r.store.FindByNumbers(gctx, batch)
			if err != nil {
				return err
			}
			results[i] = refs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[uint]models.OrderRef)
	for _, refs := range results {
		for _, ref := range refs {
			byID[ref.ID] = ref
		}
	}
	merged := make([]models.OrderRef, 0, len(byID))
	for _, ref := range byID {
		merged = append(merged, ref)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].UpdatedAt != merged[j].UpdatedAt {
			return merged[i].UpdatedAt > merged[j].UpdatedAt
		}
		return merged[i].ID > merged[j].ID
	})
	return merged, nil
}

// Existence partitions an input key list into three disjoint sets.
type Existence struct {
	Existing []string `json:"existing"`
	Missing  []string `json:"missing"`
	Invalid  []string `json:"invalid"`
}

// CheckExistence classifies every input: valid keys found in storage, valid
// keys not found, and inputs failing the grammar (reported in their trimmed
// form). Inputs that are empty after trimming are ignored.
func (r *Resolver) CheckExistence(ctx context.Context, raw []string) (Existence, error) {
	res := Existence{
		Existing: []string{},
		Missing:  []string{},
		Invalid:  []string{},
	}

	seenInvalid := make(map[string]struct{})
	for _, in := range raw {
		k := strings.TrimSpace(in)
		if k == "" || ValidateOne(k) {
			continue
		}
		if _, dup := seenInvalid[k]; dup {
			continue
		}
		seenInvalid[k] = struct{}{}
		res.Invalid = append(res.Invalid, k)
	}

	valid := Normalize(raw)
	if len(valid) == 0 {
		return res, nil
	}

	refs, err := r.FindAll(ctx, valid)
	if err != nil {
		return Existence{}, err
	}
	found := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		found[ref.FinalOrder] = struct{}{}
	}
	for _, k := range valid {
		if _, ok := found[k]; ok {
			res.Existing = append(res.Existing, k)
		} else {
			res.Missing = append(res.Missing, k)
		}
	}
	return res, nil
}

func chunkKeys(keys []string, size int) [][]string {
	if size <= 0 {
		size = LookupBatchSize
	}
	var batches [][]string
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		batches = append(batches, keys[start:end])
	}
	return batches
}
