package sanitize

import (
	"math"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func newTestSanitizer() *Sanitizer {
	return New(DefaultSchema())
}

func TestSanitizeRow_Numbers(t *testing.T) {
	tests := []struct {
		name       string
		value      any
		want       float64
		wantAbsent bool
		wantErr    bool
	}{
		{name: "plain int", value: 42, want: 42},
		{name: "float", value: 42.5, want: 42.5},
		{name: "numeric string", value: "120", want: 120},
		{name: "padded numeric string", value: "  7 ", want: 7},
		{name: "empty string absent", value: "", wantAbsent: true},
		{name: "nil absent", value: nil, wantAbsent: true},
		{name: "non-numeric string", value: "lots", wantErr: true},
		{name: "negative", value: -1, wantErr: true},
		{name: "above bound", value: float64(MaxNumeric) + 1, wantErr: true},
		{name: "at bound", value: float64(MaxNumeric), want: MaxNumeric},
		{name: "NaN", value: math.NaN(), wantErr: true},
		{name: "positive infinity", value: math.Inf(1), wantErr: true},
	}

	s := newTestSanitizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, errs := s.SanitizeRow(map[string]any{"Order Qty": tt.value})

			if tt.wantErr {
				if len(errs) != 1 {
					t.Fatalf("expected 1 field error, got %d", len(errs))
				}
				if errs[0].Field != "orderQty" {
					t.Errorf("expected error on orderQty, got %s", errs[0].Field)
				}
				if _, present := rec["orderQty"]; present {
					t.Error("rejected value must not appear in record")
				}
				return
			}
			if len(errs) != 0 {
				t.Fatalf("unexpected errors: %v", errs)
			}
			got, present := rec["orderQty"]
			if tt.wantAbsent {
				if present {
					t.Errorf("expected absent field, got %v", got)
				}
				return
			}
			if !present {
				t.Fatal("expected field to be present")
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSanitizeRow_Strings(t *testing.T) {
	tests := []struct {
		name       string
		value      any
		want       string
		wantAbsent bool
	}{
		{name: "trimmed", value: "  T00001-1 ", want: "T00001-1"},
		{name: "empty after trim absent", value: "   ", wantAbsent: true},
		{name: "script tag stripped", value: "ok<script>alert(1)</script>done", want: "okalert(1)done"},
		{name: "nested tags stripped", value: "a<<b>c>d", want: "ad"},
		{name: "numeric cell", value: 17, want: "17"},
	}

	s := newTestSanitizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, errs := s.SanitizeRow(map[string]any{"Remark": tt.value})
			if len(errs) != 0 {
				t.Fatalf("unexpected errors: %v", errs)
			}
			got, present := rec["remark"]
			if tt.wantAbsent {
				if present {
					t.Errorf("expected absent field, got %v", got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("expected %q, got %v", tt.want, got)
			}
		})
	}
}

func TestSanitizeRow_TruncationKeepsValidUTF8(t *testing.T) {
	s := newTestSanitizer()
	// 3-byte runes, 600 bytes total; the 500-byte cap lands mid-rune.
	raw := strings.Repeat("日", 200)

	rec, errs := s.SanitizeRow(map[string]any{"Remark": raw})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	got, ok := rec["remark"].(string)
	if !ok {
		t.Fatal("expected remark to be present")
	}
	if len(got) > MaxStringLen {
		t.Errorf("expected at most %d bytes, got %d", MaxStringLen, len(got))
	}
	if !utf8.ValidString(got) {
		t.Error("truncation produced invalid UTF-8")
	}
	if len(got) != 498 {
		t.Errorf("expected cut at the last rune boundary (498 bytes), got %d", len(got))
	}
}

// Sanitization is total: any raw row, however hostile, yields a bounded
// record and never panics.
func TestSanitizeRow_Totality(t *testing.T) {
	s := newTestSanitizer()
	rows := []map[string]any{
		{},
		{"Final Order": nil, "Order Qty": nil},
		{"Remark": strings.Repeat("x", 10_000)},
		{"Remark": "<script>" + strings.Repeat("y", 600) + "</script>"},
		{"Order Qty": map[string]any{"nested": true}},
		{"Buyer": "<<<>>>"},
	}

	for i, raw := range rows {
		rec, _ := s.SanitizeRow(raw)
		for field, v := range rec {
			str, ok := v.(string)
			if !ok {
				continue
			}
			if len(str) > MaxStringLen {
				t.Errorf("row %d field %s exceeds cap: %d chars", i, field, len(str))
			}
			if tagPattern.MatchString(str) {
				t.Errorf("row %d field %s still contains a tag: %q", i, field, str)
			}
		}
	}
}

// A record that already passed sanitization is a fixed point: running it
// through again changes nothing.
func TestSanitizeRow_Idempotent(t *testing.T) {
	s := newTestSanitizer()
	raw := map[string]any{
		"Final Order": "  T00001-1 ",
		"Model":       "QX-<b>200</b>",
		"Order Qty":   "350",
		"Remark":      strings.Repeat("note ", 200),
	}

	first, errs := s.SanitizeRow(raw)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	reinput := make(map[string]any, len(first))
	for k, v := range first {
		reinput[k] = v
	}
	second, errs := s.SanitizeRow(reinput)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors on second pass: %v", errs)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("sanitization is not idempotent:\nfirst:  %v\nsecond: %v", first, second)
	}
}

func TestSanitizeRows_StampsRowNumbers(t *testing.T) {
	s := newTestSanitizer()
	records, errs := s.SanitizeRows([]map[string]any{
		{"Final Order": "T1", "Order Qty": "10"},
		{"Final Order": "T2", "Order Qty": "lots"},
		{"Final Order": "T3"},
	})

	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d", len(errs))
	}
	if errs[0].Row != 2 {
		t.Errorf("expected error on row 2, got row %d", errs[0].Row)
	}
	// The bad field is nulled; the row itself survives.
	if _, present := records[1]["orderQty"]; present {
		t.Error("bad quantity should be absent from record")
	}
	if records[1].Key() != "T2" {
		t.Errorf("expected key T2, got %q", records[1].Key())
	}
}

func TestLoadSchema_Default(t *testing.T) {
	schema, err := LoadSchema("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(schema.Fields) == 0 {
		t.Fatal("default schema has no fields")
	}
	seen := make(map[string]bool)
	for _, f := range schema.Fields {
		if seen[f.Name] {
			t.Errorf("duplicate field %s in default schema", f.Name)
		}
		seen[f.Name] = true
	}
	if !seen["finalOrder"] {
		t.Error("default schema must map the key field")
	}
}
