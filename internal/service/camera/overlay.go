package camera

import (
	"fmt"
	"image"
	"image/color"
	"io"

	"cropscan/internal/dto"
)

const (
	// Boundary of the multipart/x-mixed-replace stream.
	Boundary    = "frame"
	ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

	boxInset = 50

	// Line widths of the caption and the frame box.
	TextThickness = 2
	BoxThickness  = 3
)

var (
	red   = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	green = color.RGBA{R: 0, G: 255, B: 0, A: 0}
)

// OverlayText is the caption drawn on an annotated frame.
func OverlayText(result dto.PredictionResult) string {
	return fmt.Sprintf("%s (%.2f)", result.Label, result.Confidence)
}

// OverlayColor is red below the confidence threshold, green otherwise.
func OverlayColor(confidence float32, lowConfidence float64) color.RGBA {
	if float64(confidence) < lowConfidence {
		return red
	}
	return green
}

// OverlayBox is the rectangle drawn around the frame content, inset from every edge.
func OverlayBox(width, height int) image.Rectangle {
	if width <= 2*boxInset || height <= 2*boxInset {
		return image.Rect(0, 0, width, height)
	}
	return image.Rect(boxInset, boxInset, width-boxInset, height-boxInset)
}

// WritePart writes one JPEG frame as a part of the MJPEG stream.
func WritePart(w io.Writer, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}
