package dto

import (
	"encoding/json"
	"time"
)

// PredictionInfo is a stored prediction as returned by the history API.
type PredictionInfo struct {
	ID               int64     `json:"id"`
	BatchID          string    `json:"batch_id,omitempty"`
	Source           string    `json:"source"`
	Filename         string    `json:"filename"`
	Label            string    `json:"label"`
	Confidence       float64   `json:"confidence"`
	Latitude         *float64  `json:"latitude,omitempty"`
	Longitude        *float64  `json:"longitude,omitempty"`
	LocationFallback bool      `json:"location_fallback,omitempty"`
	HasImage         bool      `json:"has_image"`
	CreatedAt        time.Time `json:"created_at"`
}

// MarshalJSON formats the creation time as RFC 3339 in UTC.
func (p PredictionInfo) MarshalJSON() ([]byte, error) {
	type Alias PredictionInfo
	return json.Marshal(&struct {
		CreatedAt string `json:"created_at"`
		Alias
	}{
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
		Alias:     (Alias)(p),
	})
}

// PredictionsPage is a paginated response payload for the prediction history.
type PredictionsPage struct {
	Predictions []PredictionInfo `json:"predictions"`
	Length      int              `json:"length"`
	TotalPages  int              `json:"totalPages"`
	CurrentPage int              `json:"currentPage"`
	Limit       int              `json:"pageSize"`
}
