package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cropscan/internal/config"
	"cropscan/internal/dto"
	"cropscan/internal/logger"
	"cropscan/internal/model"
	"cropscan/internal/repository"
	"cropscan/internal/service/geo"
)

const (
	timestampLayout = "2006-01-02_15-04-05.000"
	maxNameAttempts = 1000
)

// BufferService buffers predictions in memory and periodically flushes them to disk and the database.
type BufferService struct {
	imagesDir     string
	saveImages    bool
	limit         int
	flushInterval time.Duration
	items         []dto.BufferedPrediction
	mu            sync.Mutex
	flushMu       sync.Mutex
	logger        *logger.Logger
	repo          repository.PredictionRepository
	index         *geo.Index
}

// NewBufferService creates a BufferService. index may be nil.
func NewBufferService(config *config.Config, logger *logger.Logger, repo repository.PredictionRepository, index *geo.Index) *BufferService {
	limit := config.ImageBufferLimit
	if limit <= 0 {
		limit = 1
	}
	return &BufferService{
		imagesDir:     config.ImageDirectory,
		saveImages:    config.SaveImages,
		limit:         limit,
		flushInterval: time.Duration(config.ImageBufferFlushInterval) * time.Second,
		items:         make([]dto.BufferedPrediction, 0, limit),
		logger:        logger,
		repo:          repo,
		index:         index,
	}
}

// Run flushes on a ticker until ctx is done, then flushes whatever is left.
func (s *BufferService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush()
		case <-ctx.Done():
			s.Flush()
			return
		}
	}
}

// AddPrediction queues one prediction and flushes once the buffer is full.
func (s *BufferService) AddPrediction(p dto.BufferedPrediction) {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}

	s.mu.Lock()
	s.items = append(s.items, p)
	full := len(s.items) >= s.limit
	s.mu.Unlock()

	if full {
		s.Flush()
	}
}

// Pending returns the number of buffered predictions.
func (s *BufferService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Flush writes buffered images, stores the records and indexes located ones. It returns the number stored.
func (s *BufferService) Flush() int {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	items := s.items
	s.items = make([]dto.BufferedPrediction, 0, s.limit)
	s.mu.Unlock()

	if len(items) == 0 {
		return 0
	}

	records := make([]*model.Prediction, 0, len(items))
	for i := range items {
		record := s.toRecord(&items[i])
		if s.saveImages && len(items[i].Data) > 0 {
			path, err := s.writeImage(&items[i])
			if err != nil {
				s.logger.Error("Error saving image %s: %v", items[i].Result.Filename, err)
			} else {
				record.FilePath = path
				record.FileSize = int64(len(items[i].Data))
			}
		}
		records = append(records, record)
	}

	if s.repo != nil {
		if err := s.repo.InsertBatch(records); err != nil {
			s.logger.Error("Error saving %d predictions to database: %v", len(records), err)
			return 0
		}
	}

	if s.index != nil {
		for _, r := range records {
			if pt, ok := geo.PointFromPrediction(r); ok {
				s.index.Insert(pt)
			}
		}
	}

	s.logger.Info("Flushed %d predictions", len(records))
	return len(records)
}

func (s *BufferService) toRecord(p *dto.BufferedPrediction) *model.Prediction {
	record := &model.Prediction{
		BatchID:    sql.NullString{String: p.BatchID, Valid: p.BatchID != ""},
		Source:     p.Source,
		Filename:   p.Result.Filename,
		Label:      p.Result.Label,
		Confidence: float64(p.Result.Confidence),
		CreatedAt:  p.Timestamp,
	}
	if pt, ok := p.Result.Location(); ok {
		record.Latitude = sql.NullFloat64{Float64: pt.Latitude, Valid: true}
		record.Longitude = sql.NullFloat64{Float64: pt.Longitude, Valid: true}
		record.LocationFallback = p.Result.LocationFallback
	}
	return record
}

// writeImage stores the image under <imagesDir>/<batch id or source>/.
func (s *BufferService) writeImage(p *dto.BufferedPrediction) (string, error) {
	group := p.BatchID
	if group == "" {
		group = p.Source
	}
	if group == "" {
		group = "single"
	}

	dir := filepath.Join(s.imagesDir, sanitize(group))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	ext := p.Extension
	if ext == "" {
		ext = filepath.Ext(p.Result.Filename)
	}
	if ext == "" {
		ext = ".jpg"
	}
	stem := strings.TrimSuffix(filepath.Base(p.Result.Filename), filepath.Ext(p.Result.Filename))

	base := fmt.Sprintf("%s_%s_%s", p.Timestamp.Format(timestampLayout), sanitize(stem), sanitize(p.Result.Label))
	return createUnique(dir, base, ext, p.Data)
}

// createUnique writes data to dir/base+ext, adding _1, _2, ... when that name is taken.
// Archive entries from different folders share base names and timestamps.
func createUnique(dir, base, ext string, data []byte) (string, error) {
	for i := 0; i < maxNameAttempts; i++ {
		name := base + ext
		if i > 0 {
			name = fmt.Sprintf("%s_%d%s", base, i, ext)
		}
		fullpath := filepath.Join(dir, name)

		f, err := os.OpenFile(fullpath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", err
		}

		_, err = f.Write(data)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(fullpath)
			return "", err
		}
		return fullpath, nil
	}
	return "", fmt.Errorf("no free file name for %s%s in %s", base, ext, dir)
}

// sanitize keeps names safe for the filesystem.
func sanitize(name string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
	out = strings.Trim(out, ".")
	if out == "" {
		return "image"
	}
	return out
}
