package handler

import (
	"net/http"

	"cropscan/internal/dto"
	"cropscan/internal/logger"
	"cropscan/internal/repository"
	"cropscan/internal/service"
	"cropscan/internal/service/geo"
)

// StatsHandler summarises the stored history and inference latency.
func StatsHandler(manager *service.Manager, logger *logger.Logger, repo repository.PredictionRepository,
	batchRepo repository.BatchRepository, index *geo.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := repo.CountByLabel()
		if err != nil {
			logger.Error("Error counting labels: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		batches, err := batchRepo.Count()
		if err != nil {
			logger.Error("Error counting batches: %v", err)
			batches = 0
		}

		stats := dto.Stats{
			PerLabel: counts,
			Batches:  batches,
			Latency:  manager.Latency(),
		}
		if index != nil {
			stats.Located = index.Size()
		}

		negative := manager.Metadata().NegativeLabel()
		for label, n := range counts {
			stats.TotalPredictions += n
			if label == negative {
				stats.HealthScore += float64(n)
			}
		}
		if stats.TotalPredictions > 0 {
			stats.HealthScore = 100 * stats.HealthScore / float64(stats.TotalPredictions)
		}

		writeJSON(w, http.StatusOK, stats, logger)
	}
}

// HealthHandler reports the loaded model, the worker pool and the number of unflushed writes.
func HealthHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meta := manager.Metadata()
		pending := 0
		if buffer := manager.GetBufferService(); buffer != nil {
			pending = buffer.Pending()
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":         "ok",
			"backend":        manager.BackendName(),
			"classes":        meta.Classes,
			"image_size":     meta.ImageSize,
			"workers":        manager.Workers(),
			"latency":        manager.Latency(),
			"pending_writes": pending,
		}, logger)
	}
}
