package dto

// LiveEvent is broadcast to websocket viewers.
type LiveEvent struct {
	Type       string            `json:"type"` // "prediction" or "batch"
	BatchID    string            `json:"batch_id,omitempty"`
	Prediction *PredictionResult `json:"prediction,omitempty"`
	Done       int               `json:"done,omitempty"`
	Total      int               `json:"total,omitempty"`
}
