package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"cropscan/internal/model"
)

// BatchRepository implements repository.BatchRepository for SQLite.
type BatchRepository struct {
	db *DB
}

// NewBatchRepository creates a new SQLite batch repository.
func NewBatchRepository(db *DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Insert adds a new batch record.
func (r *BatchRepository) Insert(b *model.Batch) error {
	r.db.Lock()
	defer r.db.Unlock()

	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	b.CreatedAt = b.CreatedAt.UTC()

	_, err := r.db.Conn().Exec(`
		INSERT INTO batches (id, source, total, located, skipped, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.ID, b.Source, b.Total, b.Located, b.Skipped, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

// GetByID retrieves a batch by its ID. Returns nil when absent.
func (r *BatchRepository) GetByID(id string) (*model.Batch, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var b model.Batch
	err := r.db.Conn().QueryRow(`
		SELECT id, source, total, located, skipped, created_at
		FROM batches WHERE id = ?
	`, id).Scan(&b.ID, &b.Source, &b.Total, &b.Located, &b.Skipped, &b.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &b, nil
}

// GetRecent returns up to limit batches, newest first.
func (r *BatchRepository) GetRecent(limit int) ([]model.Batch, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Conn().Query(`
		SELECT id, source, total, located, skipped, created_at
		FROM batches ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []model.Batch
	for rows.Next() {
		var b model.Batch
		if err := rows.Scan(&b.ID, &b.Source, &b.Total, &b.Located, &b.Skipped, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// Count returns the number of stored batches.
func (r *BatchRepository) Count() (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM batches`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count batches: %w", err)
	}
	return count, nil
}
