package dto

// Stats summarises the stored prediction history.
type Stats struct {
	TotalPredictions int                     `json:"total_predictions"`
	Located          int                     `json:"located"`
	Batches          int                     `json:"batches"`
	PerLabel         map[string]int          `json:"per_label"`
	HealthScore      float64                 `json:"health_score"` // Percentage of negative-class predictions
	Latency          map[string]LatencyStats `json:"latency,omitempty"`
}

// LatencyStats is the inference timing of one backend.
type LatencyStats struct {
	EWMAms float64 `json:"ewma_ms"`
	LastMs float64 `json:"last_ms"`
	OK     uint64  `json:"ok"`
	Errors uint64  `json:"errors"`
}
