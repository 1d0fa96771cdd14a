package model

import "time"

// Batch represents one analysed archive.
type Batch struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Total     int       `json:"total"`
	Located   int       `json:"located"`
	Skipped   int       `json:"skipped"`
	CreatedAt time.Time `json:"created_at"`
}
