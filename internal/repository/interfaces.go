package repository

import (
	"cropscan/internal/dto"
	"cropscan/internal/model"
)

// PredictionRepository defines the interface for prediction data operations.
type PredictionRepository interface {
	// Create operations
	Insert(p *model.Prediction) (int64, error)
	InsertBatch(predictions []*model.Prediction) error

	// Read operations
	GetByID(id int64) (*model.Prediction, error)
	GetAll(filter *dto.PredictionFilters) ([]model.Prediction, error)
	GetTotalCount(filter *dto.PredictionFilters) (int, error)
	GetByBatch(batchID string) ([]model.Prediction, error)
	GetLocated() ([]model.Prediction, error)
	CountByLabel() (map[string]int, error)

	// Delete operations
	Delete(id int64) error
	DeleteAll() error
}

// BatchRepository defines the interface for archive batch operations.
type BatchRepository interface {
	Insert(b *model.Batch) error
	GetByID(id string) (*model.Batch, error)
	GetRecent(limit int) ([]model.Batch, error)
	Count() (int, error)
}
