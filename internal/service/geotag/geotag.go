// Package geotag recovers capture coordinates from image EXIF metadata.
package geotag

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/rwcarlsen/goexif/exif"

	"cropscan/internal/dto"
)

// ErrNoLocation is returned when an image carries no usable GPS position.
var ErrNoLocation = errors.New("no GPS location in image metadata")

// Extract reads the GPS position from EXIF data in r (JPEG or TIFF).
func Extract(r io.Reader) (dto.GeoPoint, error) {
	x, err := exif.Decode(r)
	if err != nil {
		return dto.GeoPoint{}, fmt.Errorf("%w: %v", ErrNoLocation, err)
	}

	lat, lon, err := x.LatLong()
	if err != nil {
		return dto.GeoPoint{}, fmt.Errorf("%w: %v", ErrNoLocation, err)
	}

	if !Valid(lat, lon) {
		return dto.GeoPoint{}, fmt.Errorf("%w: coordinate out of range (%f, %f)", ErrNoLocation, lat, lon)
	}

	return dto.GeoPoint{Latitude: lat, Longitude: lon}, nil
}

// ExtractBytes is Extract over an in-memory image.
func ExtractBytes(data []byte) (dto.GeoPoint, error) {
	return Extract(bytes.NewReader(data))
}

// Valid reports whether lat/lon is a finite WGS 84 coordinate.
func Valid(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
