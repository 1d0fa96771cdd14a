package model

import (
	"database/sql"
	"time"
)

// Prediction represents a stored classification record.
type Prediction struct {
	ID               int64           `json:"id"`
	BatchID          sql.NullString  `json:"batch_id"`
	Source           string          `json:"source"`
	Filename         string          `json:"filename"`
	Label            string          `json:"label"`
	Confidence       float64         `json:"confidence"`
	Latitude         sql.NullFloat64 `json:"latitude"`
	Longitude        sql.NullFloat64 `json:"longitude"`
	LocationFallback bool            `json:"location_fallback"`
	FilePath         string          `json:"filepath"`
	FileSize         int64           `json:"filesize"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Located reports whether the record carries a coordinate.
func (p *Prediction) Located() bool {
	return p.Latitude.Valid && p.Longitude.Valid
}
