package handler

import (
	"errors"
	"net/http"

	"cropscan/internal/dto"
	"cropscan/internal/logger"
	"cropscan/internal/model"
	"cropscan/internal/repository"
	"cropscan/internal/service"
	"cropscan/internal/service/mapplot"
)

// GetBatchesHandler lists recent archive analyses, newest first.
func GetBatchesHandler(logger *logger.Logger, batchRepo repository.BatchRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := atoiDefault(r.URL.Query().Get("limit"), 20)

		batches, err := batchRepo.GetRecent(limit)
		if err != nil {
			logger.Error("Error querying batches: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if batches == nil {
			batches = []model.Batch{}
		}
		writeJSON(w, http.StatusOK, batches, logger)
	}
}

// BatchMapHandler re-renders the scatter map of a stored batch as PNG.
func BatchMapHandler(manager *service.Manager, logger *logger.Logger, repo repository.PredictionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "Batch id required", http.StatusBadRequest)
			return
		}

		predictions, err := repo.GetByBatch(id)
		if err != nil {
			logger.Error("Error loading batch %s: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		results := make([]dto.PredictionResult, 0, len(predictions))
		for i := range predictions {
			p := &predictions[i]
			result := dto.PredictionResult{Filename: p.Filename, Label: p.Label, Confidence: float32(p.Confidence)}
			if p.Located() {
				result.SetLocation(dto.GeoPoint{Latitude: p.Latitude.Float64, Longitude: p.Longitude.Float64})
				result.LocationFallback = p.LocationFallback
			}
			results = append(results, result)
		}

		png, err := mapplot.Render(results, manager.Metadata().IsPositive)
		if errors.Is(err, mapplot.ErrNoPoints) {
			http.Error(w, "No located predictions for this batch", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("Error rendering map for batch %s: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(png)
	}
}
