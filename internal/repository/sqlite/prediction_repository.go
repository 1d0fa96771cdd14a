package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"cropscan/internal/dto"
	"cropscan/internal/model"
)

const predictionColumns = `id, batch_id, source, filename, label, confidence, latitude, longitude, location_fallback, filepath, filesize, created_at`

// PredictionRepository implements repository.PredictionRepository for SQLite.
type PredictionRepository struct {
	db *DB
}

// NewPredictionRepository creates a new SQLite prediction repository.
func NewPredictionRepository(db *DB) *PredictionRepository {
	return &PredictionRepository{db: db}
}

const insertPrediction = `
	INSERT INTO predictions (batch_id, source, filename, label, confidence, latitude, longitude, location_fallback, filepath, filesize, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Insert adds a new prediction record and sets its ID.
func (r *PredictionRepository) Insert(p *model.Prediction) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(insertPrediction, insertArgs(p)...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert prediction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	p.ID = id
	return id, nil
}

// InsertBatch adds multiple predictions in a single transaction and sets their IDs.
func (r *PredictionRepository) InsertBatch(predictions []*model.Prediction) error {
	if len(predictions) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertPrediction)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range predictions {
		result, err := stmt.Exec(insertArgs(p)...)
		if err != nil {
			return fmt.Errorf("failed to insert prediction %s: %w", p.Filename, err)
		}
		if p.ID, err = result.LastInsertId(); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertArgs(p *model.Prediction) []interface{} {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return []interface{}{p.BatchID, p.Source, p.Filename, p.Label, p.Confidence,
		p.Latitude, p.Longitude, p.LocationFallback, p.FilePath, p.FileSize, p.CreatedAt}
}

// GetByID retrieves a prediction by its ID. Returns nil when absent.
func (r *PredictionRepository) GetByID(id int64) (*model.Prediction, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRow(`SELECT `+predictionColumns+` FROM predictions WHERE id = ?`, id)
	p, err := scanPrediction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}
	return p, nil
}

// GetAll retrieves predictions matching the filter, newest first.
func (r *PredictionRepository) GetAll(filter *dto.PredictionFilters) ([]model.Prediction, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := filterClause(filter)
	query := `SELECT ` + predictionColumns + ` FROM predictions` + where + ` ORDER BY created_at DESC, id DESC`

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	return r.query(query, args...)
}

// GetTotalCount returns the number of predictions matching the filter.
func (r *PredictionRepository) GetTotalCount(filter *dto.PredictionFilters) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := filterClause(filter)
	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM predictions`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count predictions: %w", err)
	}
	return count, nil
}

// GetByBatch returns the predictions of one archive in insertion order.
func (r *PredictionRepository) GetByBatch(batchID string) ([]model.Prediction, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	return r.query(`SELECT `+predictionColumns+` FROM predictions WHERE batch_id = ? ORDER BY id`, batchID)
}

// GetLocated returns every prediction that carries a coordinate.
func (r *PredictionRepository) GetLocated() ([]model.Prediction, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	return r.query(`SELECT ` + predictionColumns + ` FROM predictions
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL ORDER BY id`)
}

// CountByLabel returns the number of predictions per label.
func (r *PredictionRepository) CountByLabel() (map[string]int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT label, COUNT(*) FROM predictions GROUP BY label`)
	if err != nil {
		return nil, fmt.Errorf("failed to count labels: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var label string
		var count int
		if err := rows.Scan(&label, &count); err != nil {
			return nil, fmt.Errorf("failed to scan label count: %w", err)
		}
		counts[label] = count
	}
	return counts, rows.Err()
}

// Delete removes a prediction by its ID.
func (r *PredictionRepository) Delete(id int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM predictions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete prediction: %w", err)
	}
	return nil
}

// DeleteAll removes all predictions and batches.
func (r *PredictionRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM predictions`); err != nil {
		return fmt.Errorf("failed to delete predictions: %w", err)
	}
	if _, err := r.db.Conn().Exec(`DELETE FROM batches`); err != nil {
		return fmt.Errorf("failed to delete batches: %w", err)
	}
	return nil
}

func (r *PredictionRepository) query(query string, args ...interface{}) ([]model.Prediction, error) {
	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var predictions []model.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		predictions = append(predictions, *p)
	}
	return predictions, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPrediction(s scanner) (*model.Prediction, error) {
	var p model.Prediction
	err := s.Scan(&p.ID, &p.BatchID, &p.Source, &p.Filename, &p.Label, &p.Confidence,
		&p.Latitude, &p.Longitude, &p.LocationFallback, &p.FilePath, &p.FileSize, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func filterClause(filter *dto.PredictionFilters) (string, []interface{}) {
	if filter == nil {
		return "", nil
	}

	var conds []string
	var args []interface{}

	if filter.Label != "" {
		conds = append(conds, "label = ?")
		args = append(args, filter.Label)
	}
	if filter.BatchID != "" {
		conds = append(conds, "batch_id = ?")
		args = append(args, filter.BatchID)
	}
	if filter.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, filter.Source)
	}
	if !filter.DateAfter.IsZero() {
		conds = append(conds, "DATE(created_at) >= DATE(?)")
		args = append(args, filter.DateAfter.Format("2006-01-02"))
	}
	if !filter.DateBefore.IsZero() {
		conds = append(conds, "DATE(created_at) <= DATE(?)")
		args = append(args, filter.DateBefore.Format("2006-01-02"))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
