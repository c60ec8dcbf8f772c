package storage

import (
	"time"

	"github.com/qctrack/backend/internal/models"
)

// OrderModel is the persistence model for the orders table. Only the slice
// of the order schema the ingestion pipeline touches lives here.
type OrderModel struct {
	ID          uint   `gorm:"primaryKey"`
	FinalOrder  string `gorm:"type:varchar(50);uniqueIndex;not null"`
	OrderNo     string `gorm:"type:varchar(50)"`
	Model       string `gorm:"type:varchar(500)"`
	Buyer       string `gorm:"type:varchar(500)"`
	Style       string `gorm:"type:varchar(500)"`
	Color       string `gorm:"type:varchar(500)"`
	Size        string `gorm:"type:varchar(500)"`
	Destination string `gorm:"type:varchar(500)"`
	ShipDate    string `gorm:"type:varchar(500)"`
	Remark      string `gorm:"type:varchar(500)"`
	OrderQty    *float64
	InspectQty  *float64
	DefectQty   *float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (OrderModel) TableName() string {
	return "orders"
}

// stringColumns maps business field names to their model setters.
var stringColumns = map[string]func(*OrderModel, string){
	"finalOrder":  func(m *OrderModel, v string) { m.FinalOrder = v },
	"order":       func(m *OrderModel, v string) { m.OrderNo = v },
	"model":       func(m *OrderModel, v string) { m.Model = v },
	"buyer":       func(m *OrderModel, v string) { m.Buyer = v },
	"style":       func(m *OrderModel, v string) { m.Style = v },
	"color":       func(m *OrderModel, v string) { m.Color = v },
	"size":        func(m *OrderModel, v string) { m.Size = v },
	"destination": func(m *OrderModel, v string) { m.Destination = v },
	"shipDate":    func(m *OrderModel, v string) { m.ShipDate = v },
	"remark":      func(m *OrderModel, v string) { m.Remark = v },
}

var numberColumns = map[string]func(*OrderModel, float64){
	"orderQty":   func(m *OrderModel, v float64) { m.OrderQty = &v },
	"inspectQty": func(m *OrderModel, v float64) { m.InspectQty = &v },
	"defectQty":  func(m *OrderModel, v float64) { m.DefectQty = &v },
}

// applyRecord writes the record's present fields onto the model and reports
// whether anything actually changed. Absent fields leave stored values alone.
func applyRecord(m *OrderModel, rec models.IngestRecord) bool {
	changed := false
	for name, set := range stringColumns {
		v, ok := rec[name]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		before := *m
		set(m, s)
		if *m != before {
			changed = true
		}
	}
	for name, set := range numberColumns {
		v, ok := rec[name]
		if !ok {
			continue
		}
		n, ok := v.(float64)
		if !ok {
			continue
		}
		if cur := currentNumber(m, name); cur == nil || *cur != n {
			changed = true
		}
		set(m, n)
	}
	return changed
}

func currentNumber(m *OrderModel, name string) *float64 {
	switch name {
	case "orderQty":
		return m.OrderQty
	case "inspectQty":
		return m.InspectQty
	case "defectQty":
		return m.DefectQty
	}
	return nil
}

// UploadLogModel is the persistence model for the upload audit trail.
type UploadLogModel struct {
	ID           string  `gorm:"type:uuid;primaryKey"`
	UserID       *string `gorm:"type:varchar(64)"`
	FileName     string  `gorm:"type:varchar(255);not null"`
	SuccessCount int     `gorm:"not null;default:0"`
	FailedCount  int     `gorm:"not null;default:0"`
	Results      string  `gorm:"type:text"`
	CreatedAt    time.Time
}

func (UploadLogModel) TableName() string {
	return "upload_logs"
}
