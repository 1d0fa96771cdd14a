package dto

import "time"

// BufferedPrediction holds a prediction and its image bytes before flushing to disk.
type BufferedPrediction struct {
	BatchID   string
	Source    string // "image" or "archive"
	Timestamp time.Time
	Result    PredictionResult
	Data      []byte
	Extension string
}
