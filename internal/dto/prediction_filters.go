package dto

import "time"

// PredictionFilters describe user-provided filters to narrow the prediction history.
type PredictionFilters struct {
	Label      string
	BatchID    string
	Source     string
	DateAfter  time.Time
	DateBefore time.Time
	Limit      int
	Offset     int
}
