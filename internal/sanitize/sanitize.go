// Package sanitize coerces raw spreadsheet rows into typed, bounded records.
// It is total: malformed input becomes an absent field or a FieldError, never
// a panic or an aborted batch, so it is safe to feed adversarial workbooks
// straight through it.
package sanitize

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/qctrack/backend/internal/models"
)

const (
	// MaxStringLen caps free-text cells by truncation, not rejection.
	MaxStringLen = 500
	// MaxNumeric rejects absurd spreadsheet values before they reach storage.
	MaxNumeric = 999_999_999
)

// tagPattern matches one HTML/script-looking tag. Removal loops until no
// match remains so nested sequences like "<<script>>" cannot survive.
// This is defense-in-depth against markup smuggled through cells, not a
// full HTML sanitizer.
var tagPattern = regexp.MustCompile(`<[^<>]*>`)

// Sanitizer coerces raw rows against a fixed field schema. It holds no
// mutable state and is safe for concurrent use.
type Sanitizer struct {
	fields []FieldSpec
}

// New builds a sanitizer from a column schema.
func New(schema Schema) *Sanitizer {
	return &Sanitizer{fields: schema.Fields}
}

// SanitizeRow normalizes one raw row. Values are looked up by spreadsheet
// column header first, then by business field name, so already-sanitized
// records re-sanitize to the same output. Bad fields are dropped and
// reported; the row itself always survives.
func (s *Sanitizer) SanitizeRow(raw map[string]any) (models.IngestRecord, []models.FieldError) {
	rec := make(models.IngestRecord, len(s.fields))
	var errs []models.FieldError

	for _, f := range s.fields {
		v, ok := lookup(raw, f.Column, f.Name)
		if !ok || v == nil {
			continue
		}
		switch f.Kind {
		case KindNumber:
			n, present, err := coerceNumber(v)
			if err != nil {
				errs = append(errs, models.FieldError{Field: f.Name, Reason: err.Error()})
				continue
			}
			if present {
				rec[f.Name] = n
			}
		default:
			str, present := coerceString(v)
			if present {
				rec[f.Name] = str
			}
		}
	}
	return rec, errs
}

// SanitizeRows normalizes a full row set, stamping each field error with its
// 1-based data-row index. Output always has one record per input row.
func (s *Sanitizer) SanitizeRows(rows []map[string]any) ([]models.IngestRecord, []models.FieldError) {
	records := make([]models.IngestRecord, 0, len(rows))
	var errs []models.FieldError
	for i, row := range rows {
		rec, rowErrs := s.SanitizeRow(row)
		for _, e := range rowErrs {
			e.Row = i + 1
			errs = append(errs, e)
		}
		records = append(records, rec)
	}
	return records, errs
}

func lookup(raw map[string]any, column, name string) (any, bool) {
	if column != "" {
		if v, ok := raw[column]; ok {
			return v, true
		}
	}
	v, ok := raw[name]
	return v, ok
}

// coerceNumber parses a cell into a finite, non-negative, bounded float64.
// Empty cells are absent, not zero.
func coerceNumber(v any) (val float64, present bool, err error) {
	var n float64
	switch t := v.(type) {
	case float64:
		n = t
	case float32:
		n = float64(t)
	case int:
		n = float64(t)
	case int64:
		n = float64(t)
	case json.Number:
		parsed, perr := t.Float64()
		if perr != nil {
			return 0, false, fmt.Errorf("not a number: %q", t.String())
		}
		n = parsed
	case string:
		trimmed := strings.TrimSpace(t)
		if trimmed == "" {
			return 0, false, nil
		}
		parsed, perr := strconv.ParseFloat(trimmed, 64)
		if perr != nil {
			return 0, false, fmt.Errorf("not a number: %q", truncate(trimmed, 40))
		}
		n = parsed
	case nil:
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("unsupported value type %T", v)
	}

	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false, fmt.Errorf("value is not finite")
	}
	if n < 0 {
		return 0, false, fmt.Errorf("value must not be negative")
	}
	if n > MaxNumeric {
		return 0, false, fmt.Errorf("value exceeds maximum of %d", MaxNumeric)
	}
	return n, true, nil
}

// coerceString trims, strips tag sequences and truncates. Cells that are
// empty after trimming are absent.
func coerceString(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case bool:
		s = strconv.FormatBool(t)
	case json.Number:
		s = t.String()
	case nil:
		return "", false
	default:
		s = fmt.Sprint(t)
	}

	s = StripTags(s)
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	// Truncation can expose trailing whitespace; trim again so a sanitized
	// value re-sanitizes to itself.
	return strings.TrimSpace(truncate(s, MaxStringLen)), true
}

// StripTags removes every complete <...> sequence, repeating until stable.
func StripTags(s string) string {
	for {
		cleaned := tagPattern.ReplaceAllString(s, "")
		if cleaned == s {
			return cleaned
		}
		s = cleaned
	}
}

// truncate caps s at max bytes without splitting a multi-byte rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
