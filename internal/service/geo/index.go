// Package geo keeps an in-memory R-tree of located predictions for spatial queries.
package geo

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/dhconnelly/rtreego"

	"cropscan/internal/model"
)

const (
	tolerance   = 1e-6
	minChildren = 25
	maxChildren = 50
	dimensions  = 2
	earthRadius = 6371.0 // km
)

// Point is one located prediction.
type Point struct {
	ID    int64   `json:"id"`
	Lat   float64 `json:"latitude"`
	Lon   float64 `json:"longitude"`
	Label string  `json:"label"`
	// Fallback marks a coordinate generated by the GPS fallback policy.
	Fallback bool `json:"location_fallback,omitempty"`
}

type spatialItem struct {
	*Point
	rect *rtreego.Rect
}

func (si *spatialItem) Bounds() *rtreego.Rect {
	return si.rect
}

// Index is a thread-safe R-tree over prediction coordinates.
type Index struct {
	mu    sync.RWMutex
	tree  *rtreego.Rtree
	items map[int64]*spatialItem
}

func NewIndex() *Index {
	return &Index{
		tree:  rtreego.NewTree(dimensions, minChildren, maxChildren),
		items: make(map[int64]*spatialItem),
	}
}

// Insert adds p, replacing any point with the same ID.
func (g *Index) Insert(p Point) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.insertLocked(&p)
}

// IndexPoints inserts a batch of points under one lock.
func (g *Index) IndexPoints(points []Point) {
	if len(points) == 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range points {
		p := points[i]
		g.insertLocked(&p)
	}
}

func (g *Index) insertLocked(p *Point) {
	if old, ok := g.items[p.ID]; ok {
		g.tree.Delete(old)
	}
	item := &spatialItem{Point: p, rect: rtreego.Point{p.Lat, p.Lon}.ToRect(tolerance)}
	g.tree.Insert(item)
	g.items[p.ID] = item
}

// Remove deletes the point with the given ID. It reports whether it was present.
func (g *Index) Remove(id int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	item, ok := g.items[id]
	if !ok {
		return false
	}
	g.tree.Delete(item)
	delete(g.items, id)
	return true
}

// SearchBox returns all points inside the box from (minLat, minLon) to (maxLat, maxLon), ordered by ID.
func (g *Index) SearchBox(minLat, minLon, maxLat, maxLon float64) ([]Point, error) {
	if minLat > maxLat || minLon > maxLon {
		return nil, fmt.Errorf("invalid bounding box: min corner (%f, %f) above max corner (%f, %f)", minLat, minLon, maxLat, maxLon)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	bounds, err := rtreego.NewRect(rtreego.Point{minLat, minLon},
		[]float64{math.Max(maxLat-minLat, tolerance), math.Max(maxLon-minLon, tolerance)})
	if err != nil {
		return nil, fmt.Errorf("invalid bounding box: %w", err)
	}

	var points []Point
	for _, result := range g.tree.SearchIntersect(bounds) {
		item, ok := result.(*spatialItem)
		if !ok {
			continue
		}
		if item.Lat >= minLat && item.Lat <= maxLat && item.Lon >= minLon && item.Lon <= maxLon {
			points = append(points, *item.Point)
		}
	}

	sortByID(points)
	return points, nil
}

// SearchRadius returns all points within radiusKm of the centre, nearest first.
func (g *Index) SearchRadius(lat, lon, radiusKm float64) ([]Point, error) {
	if radiusKm <= 0 {
		return nil, fmt.Errorf("invalid radius %f", radiusKm)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	// Degrees of latitude per km; widen longitude by latitude so the box covers the circle.
	degLat := (radiusKm / earthRadius) * (180 / math.Pi)
	degLon := degLat
	if c := math.Cos(lat * math.Pi / 180); c > 0.01 {
		degLon = math.Min(degLat/c, 360)
	} else {
		degLon = 360
	}

	type hit struct {
		p    Point
		dist float64
	}
	var hits []hit
	seen := make(map[int64]bool)
	for _, span := range lonSpans(lon-degLon, lon+degLon) {
		bounds, err := rtreego.NewRect(
			rtreego.Point{lat - degLat, span[0]},
			[]float64{2 * degLat, math.Max(span[1]-span[0], tolerance)},
		)
		if err != nil {
			return nil, fmt.Errorf("invalid radius search: %w", err)
		}
		for _, result := range g.tree.SearchIntersect(bounds) {
			item, ok := result.(*spatialItem)
			if !ok || seen[item.ID] {
				continue
			}
			seen[item.ID] = true
			if d := Haversine(lat, lon, item.Lat, item.Lon); d <= radiusKm {
				hits = append(hits, hit{*item.Point, d})
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })
	points := make([]Point, len(hits))
	for i, h := range hits {
		points[i] = h.p
	}
	return points, nil
}

// lonSpans splits the longitude range [lo, hi] into spans inside [-180, 180], wrapping at the antimeridian.
func lonSpans(lo, hi float64) [][2]float64 {
	switch {
	case hi-lo >= 360:
		return [][2]float64{{-180, 180}}
	case lo < -180:
		return [][2]float64{{lo + 360, 180}, {-180, hi}}
	case hi > 180:
		return [][2]float64{{lo, 180}, {-180, hi - 360}}
	default:
		return [][2]float64{{lo, hi}}
	}
}

// Nearest returns up to n points closest to the given location.
func (g *Index) Nearest(lat, lon float64, n int) []Point {
	if n <= 0 {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	results := g.tree.NearestNeighbors(n, rtreego.Point{lat, lon})
	points := make([]Point, 0, len(results))
	for _, result := range results {
		// The tree pads with nils when it holds fewer than n items.
		if item, ok := result.(*spatialItem); ok && item != nil {
			points = append(points, *item.Point)
		}
	}
	return points
}

// Size returns the number of indexed points.
func (g *Index) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.items)
}

// Clear removes all points.
func (g *Index) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.tree = rtreego.NewTree(dimensions, minChildren, maxChildren)
	g.items = make(map[int64]*spatialItem)
}

// Haversine returns the great-circle distance between two coordinates in kilometres.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0
	dLat := lat2Rad - lat1Rad
	dLon := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadius * c
}

func sortByID(points []Point) {
	sort.Slice(points, func(i, j int) bool { return points[i].ID < points[j].ID })
}

// PointFromPrediction converts a stored record; ok is false when it has no coordinate.
func PointFromPrediction(p *model.Prediction) (Point, bool) {
	if !p.Located() {
		return Point{}, false
	}
	return Point{ID: p.ID, Lat: p.Latitude.Float64, Lon: p.Longitude.Float64, Label: p.Label, Fallback: p.LocationFallback}, true
}

// Rebuild replaces the index content with every located record.
func (g *Index) Rebuild(predictions []model.Prediction) int {
	points := make([]Point, 0, len(predictions))
	for i := range predictions {
		if pt, ok := PointFromPrediction(&predictions[i]); ok {
			points = append(points, pt)
		}
	}
	g.Clear()
	g.IndexPoints(points)
	return len(points)
}
