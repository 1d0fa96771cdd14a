package dto

// GeoPoint is a WGS 84 coordinate recovered from image metadata.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PredictionResult is the classifier verdict for one image.
type PredictionResult struct {
	Filename   string   `json:"filename"`
	Label      string   `json:"label"`
	Confidence float32  `json:"confidence"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	// LocationFallback marks a coordinate generated by the GPS fallback policy, not read from EXIF.
	LocationFallback bool      `json:"location_fallback,omitempty"`
	ClassIndex       int       `json:"class_index"`
	Scores           []float32 `json:"scores,omitempty"`
}

// Location returns the coordinate attached to the result, if any.
func (p PredictionResult) Location() (GeoPoint, bool) {
	if p.Latitude == nil || p.Longitude == nil {
		return GeoPoint{}, false
	}
	return GeoPoint{Latitude: *p.Latitude, Longitude: *p.Longitude}, true
}

// SetLocation attaches a coordinate to the result.
func (p *PredictionResult) SetLocation(pt GeoPoint) {
	lat, lon := pt.Latitude, pt.Longitude
	p.Latitude = &lat
	p.Longitude = &lon
}

// SkippedImage records an archive entry that produced no prediction.
type SkippedImage struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// BatchResponse is returned for an analysed archive.
type BatchResponse struct {
	BatchID  string             `json:"batch_id"`
	Results  []PredictionResult `json:"results"`
	Skipped  []SkippedImage     `json:"skipped"`
	Counts   map[string]int     `json:"counts"`
	MapImage string             `json:"map_image,omitempty"` // base64 PNG
}
