// Package mapplot renders located predictions as a PNG scatter map.
package mapplot

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"cropscan/internal/dto"
)

// ErrNoPoints is returned when none of the predictions carries a location.
var ErrNoPoints = errors.New("no located predictions to plot")

const (
	Title  = "Plant Health Map"
	XLabel = "Longitude"
	YLabel = "Latitude"

	fallbackSuffix = " (estimated location)"
)

var (
	positiveColor = color.NRGBA{R: 220, G: 20, B: 20, A: 178}
	negativeColor = color.NRGBA{R: 20, G: 160, B: 40, A: 178}
)

type series struct {
	label    string
	fallback bool
}

// SeriesName is the legend entry for one label; generated coordinates get their own entry.
func SeriesName(label string, fallback bool) string {
	if fallback {
		return label + fallbackSuffix
	}
	return label
}

// Render draws an 8x6 inch scatter of the located results, x = longitude, y = latitude.
// Labels for which isPositive is true are red, the rest green. Results whose location was
// generated by the GPS fallback are drawn as rings instead of filled circles.
func Render(results []dto.PredictionResult, isPositive func(label string) bool) ([]byte, error) {
	groups := make(map[series]plotter.XYs)
	var order []series
	for _, r := range results {
		pt, ok := r.Location()
		if !ok {
			continue
		}
		key := series{label: r.Label, fallback: r.LocationFallback}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], plotter.XY{X: pt.Longitude, Y: pt.Latitude})
	}
	if len(order) == 0 {
		return nil, ErrNoPoints
	}

	p := plot.New()
	p.Title.Text = Title
	p.X.Label.Text = XLabel
	p.Y.Label.Text = YLabel
	p.Add(plotter.NewGrid())
	p.Legend.Top = true

	for _, key := range order {
		s, err := plotter.NewScatter(groups[key])
		if err != nil {
			return nil, fmt.Errorf("failed to plot %s points: %w", key.label, err)
		}
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		if key.fallback {
			s.GlyphStyle.Shape = draw.RingGlyph{}
		}
		s.GlyphStyle.Radius = vg.Points(4)
		s.GlyphStyle.Color = negativeColor
		if isPositive != nil && isPositive(key.label) {
			s.GlyphStyle.Color = positiveColor
		}
		p.Add(s)
		p.Legend.Add(SeriesName(key.label, key.fallback), s)
	}

	w, err := p.WriterTo(8*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("failed to create map canvas: %w", err)
	}

	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode map: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderBase64 is Render with the PNG encoded as standard base64, as embedded in JSON responses.
func RenderBase64(results []dto.PredictionResult, isPositive func(label string) bool) (string, error) {
	png, err := Render(results, isPositive)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
