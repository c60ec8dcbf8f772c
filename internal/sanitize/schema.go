package sanitize

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FieldKind selects the coercion applied to a spreadsheet cell.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindNumber FieldKind = "number"
)

// FieldSpec maps one spreadsheet column onto a business field.
type FieldSpec struct {
	Name   string    `yaml:"name"`             // business field name in the IngestRecord
	Column string    `yaml:"column,omitempty"` // spreadsheet header, defaults to Name
	Kind   FieldKind `yaml:"kind"`
}

// Schema is the full column mapping for the order sheet.
type Schema struct {
	Fields []FieldSpec `yaml:"fields"`
}

// DefaultSchema returns the built-in mapping for the standard order workbook.
func DefaultSchema() Schema {
	return Schema{Fields: []FieldSpec{
		{Name: "finalOrder", Column: "Final Order", Kind: KindString},
		{Name: "order", Column: "Order No", Kind: KindString},
		{Name: "model", Column: "Model", Kind: KindString},
		{Name: "buyer", Column: "Buyer", Kind: KindString},
		{Name: "style", Column: "Style", Kind: KindString},
		{Name: "color", Column: "Color", Kind: KindString},
		{Name: "size", Column: "Size", Kind: KindString},
		{Name: "destination", Column: "Destination", Kind: KindString},
		{Name: "orderQty", Column: "Order Qty", Kind: KindNumber},
		{Name: "inspectQty", Column: "Inspect Qty", Kind: KindNumber},
		{Name: "defectQty", Column: "Defect Qty", Kind: KindNumber},
		{Name: "shipDate", Column: "Ship Date", Kind: KindString},
		{Name: "remark", Column: "Remark", Kind: KindString},
	}}
}

// LoadSchema reads a YAML column mapping, falling back to the default when
// path is empty.
func LoadSchema(path string) (Schema, error) {
	if path == "" {
		return DefaultSchema(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("read field schema: %w", err)
	}
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Schema{}, fmt.Errorf("parse field schema: %w", err)
	}
	if len(s.Fields) == 0 {
		return Schema{}, fmt.Errorf("field schema %s defines no fields", path)
	}
	return s, nil
}
