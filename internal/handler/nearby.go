package handler

import (
	"net/http"

	"cropscan/internal/logger"
	"cropscan/internal/service/geo"
)

// NearbyHandler answers spatial queries over located predictions:
// lat,lon,radius (km), or minLat,minLon,maxLat,maxLon, or lat,lon,n nearest.
func NearbyHandler(logger *logger.Logger, index *geo.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		minLat, okMinLat := parseFloat(q.Get("minLat"))
		minLon, okMinLon := parseFloat(q.Get("minLon"))
		maxLat, okMaxLat := parseFloat(q.Get("maxLat"))
		maxLon, okMaxLon := parseFloat(q.Get("maxLon"))
		if okMinLat && okMinLon && okMaxLat && okMaxLon {
			points, err := index.SearchBox(minLat, minLon, maxLat, maxLon)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error(), logger)
				return
			}
			writePoints(w, points, logger)
			return
		}

		lat, okLat := parseFloat(q.Get("lat"))
		lon, okLon := parseFloat(q.Get("lon"))
		if !okLat || !okLon {
			writeError(w, http.StatusBadRequest, "lat and lon, or a bounding box, are required", logger)
			return
		}

		if radius, ok := parseFloat(q.Get("radius")); ok {
			points, err := index.SearchRadius(lat, lon, radius)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error(), logger)
				return
			}
			writePoints(w, points, logger)
			return
		}

		n := atoiDefault(q.Get("n"), 10)
		writePoints(w, index.Nearest(lat, lon, n), logger)
	}
}

func writePoints(w http.ResponseWriter, points []geo.Point, logger *logger.Logger) {
	if points == nil {
		points = []geo.Point{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"points": points, "count": len(points)}, logger)
}
