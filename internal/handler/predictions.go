package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"cropscan/internal/config"
	"cropscan/internal/dto"
	"cropscan/internal/logger"
	"cropscan/internal/model"
	"cropscan/internal/repository"
	"cropscan/internal/service"
	"cropscan/internal/service/geo"
)

// GetPredictionsHandler returns the filtered, paginated prediction history.
func GetPredictionsHandler(logger *logger.Logger, repo repository.PredictionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), 24)

		filter := &dto.PredictionFilters{
			Label:      q.Get("label"),
			BatchID:    q.Get("batch"),
			Source:     q.Get("source"),
			DateAfter:  parseDate(q.Get("dateAfter")),
			DateBefore: parseDate(q.Get("dateBefore")),
			Limit:      limit,
			Offset:     (page - 1) * limit,
		}

		predictions, err := repo.GetAll(filter)
		if err != nil {
			logger.Error("Error querying predictions from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		totalCount, err := repo.GetTotalCount(filter)
		if err != nil {
			logger.Error("Error counting predictions: %v", err)
			totalCount = len(predictions)
		}

		infos := make([]dto.PredictionInfo, 0, len(predictions))
		for i := range predictions {
			infos = append(infos, toInfo(&predictions[i]))
		}

		writeJSON(w, http.StatusOK, dto.PredictionsPage{
			Predictions: infos,
			Length:      totalCount,
			TotalPages:  (totalCount + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		}, logger)
	}
}

// DeletePredictionHandler removes one prediction from the database, disk and geo index.
func DeletePredictionHandler(logger *logger.Logger, repo repository.PredictionRepository, index *geo.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete && r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "Valid id required", http.StatusBadRequest)
			return
		}

		p, err := repo.GetByID(id)
		if err != nil {
			logger.Error("Error loading prediction %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if p == nil {
			http.Error(w, "Prediction not found", http.StatusNotFound)
			return
		}

		if err := repo.Delete(id); err != nil {
			logger.Error("Failed to delete prediction %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if index != nil {
			index.Remove(id)
		}
		// The row is gone, so a leftover file is only logged.
		if p.FilePath != "" {
			if err := os.Remove(p.FilePath); err != nil && !os.IsNotExist(err) {
				logger.Error("Failed to delete file %s: %v", p.FilePath, err)
			}
		}

		logger.Info("Deleted prediction %d (%s)", id, p.Filename)
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "deleted", "id": id}, logger)
	}
}

// ClearPredictionsHandler deletes every prediction and batch, the stored images and the geo index.
// Pending buffered writes are flushed first so they cannot reappear after the clear.
func ClearPredictionsHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger,
	repo repository.PredictionRepository, index *geo.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete && r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if manager != nil {
			if buffer := manager.GetBufferService(); buffer != nil {
				buffer.Flush()
			}
		}

		if err := repo.DeleteAll(); err != nil {
			logger.Error("Failed to clear predictions from database: %v", err)
			http.Error(w, "Failed to clear predictions", http.StatusInternalServerError)
			return
		}
		if index != nil {
			index.Clear()
		}

		entries, err := os.ReadDir(cfg.ImageDirectory)
		if err != nil && !os.IsNotExist(err) {
			logger.Error("Failed to read image directory: %v", err)
		}
		for _, entry := range entries {
			path := filepath.Join(cfg.ImageDirectory, entry.Name())
			if err := os.RemoveAll(path); err != nil {
				logger.Error("Failed to delete %s: %v", path, err)
			}
		}

		logger.Info("All predictions cleared from database and disk")
		w.WriteHeader(http.StatusNoContent)
	}
}

// ViewPredictionImageHandler serves the stored image of a prediction given by the "id" query parameter.
func ViewPredictionImageHandler(logger *logger.Logger, repo repository.PredictionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "Valid id required", http.StatusBadRequest)
			return
		}

		p, err := repo.GetByID(id)
		if err != nil {
			logger.Error("Error loading prediction %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if p == nil || p.FilePath == "" {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, p.FilePath)
	}
}

func toInfo(p *model.Prediction) dto.PredictionInfo {
	info := dto.PredictionInfo{
		ID:         p.ID,
		BatchID:    p.BatchID.String,
		Source:     p.Source,
		Filename:   p.Filename,
		Label:      p.Label,
		Confidence: p.Confidence,
		HasImage:   p.FilePath != "",
		CreatedAt:  p.CreatedAt,
	}
	if p.Located() {
		lat, lon := p.Latitude.Float64, p.Longitude.Float64
		info.Latitude = &lat
		info.Longitude = &lon
		info.LocationFallback = p.LocationFallback
	}
	return info
}
