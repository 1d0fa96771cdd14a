package app

import (
	"errors"
	"fmt"
	"io/fs"

	"cropscan/internal/config"
	"cropscan/internal/logger"
	"cropscan/internal/metrics"
	"cropscan/internal/repository/sqlite"
	"cropscan/internal/service"
	"cropscan/internal/service/classifier"
	"cropscan/internal/service/classifier/onnx"
	"cropscan/internal/service/classifier/opencv"
	"cropscan/internal/service/geo"
	"cropscan/internal/service/geotag"
	"cropscan/internal/service/storage"
	"cropscan/internal/service/websocket"
)

// Model backends selectable with MODEL_BACKEND.
const (
	BackendONNX   = "onnx"
	BackendOpenCV = "opencv"
)

// Pipeline is the classification stack shared by the server and cropctl:
// database, geo index, buffered storage and the worker pool.
type Pipeline struct {
	DB          *sqlite.DB
	Predictions *sqlite.PredictionRepository
	Batches     *sqlite.BatchRepository
	Index       *geo.Index
	Buffer      *storage.BufferService
	Latency     *metrics.LatencyTracker
	Manager     *service.Manager

	logger *logger.Logger
}

// NewPipeline opens the database, rebuilds the geo index from stored rows and starts one worker
// per classifier. It owns the classifiers from then on, also on error. hub may be nil when
// nobody watches live events.
func NewPipeline(cfg *config.Config, log *logger.Logger, hub *websocket.HubService,
	classifiers []*classifier.Classifier) (*Pipeline, error) {
	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		closeClassifiers(classifiers)
		return nil, err
	}

	p := &Pipeline{
		DB:          db,
		Predictions: sqlite.NewPredictionRepository(db),
		Batches:     sqlite.NewBatchRepository(db),
		Index:       geo.NewIndex(),
		Latency:     metrics.NewLatencyTracker(0.2),
		logger:      log,
	}

	located, err := p.Predictions.GetLocated()
	if err != nil {
		log.Warning("Could not load located predictions for the geo index: %v", err)
	} else {
		log.Info("Geo index rebuilt with %d point(s)", p.Index.Rebuild(located))
	}

	p.Buffer = storage.NewBufferService(cfg, log, p.Predictions, p.Index)

	p.Manager, err = service.NewManager(classifiers, geotag.NewResolver(cfg.GPSFallback), p.Buffer,
		p.Batches, hub, p.Latency, cfg, log)
	if err != nil {
		closeClassifiers(classifiers)
		db.Close()
		return nil, err
	}

	return p, nil
}

// Close stops the workers, flushes pending predictions and closes the database.
func (p *Pipeline) Close() {
	p.Manager.Stop()
	if n := p.Buffer.Flush(); n > 0 {
		p.logger.Info("Flushed %d pending prediction(s) on shutdown", n)
	}
	if err := p.DB.Close(); err != nil {
		p.logger.Error("Error closing database: %v", err)
	}
}

// LoadClassifiers opens one model session per worker. A missing metadata file falls back to
// the default binary plant-health model.
func LoadClassifiers(cfg *config.Config, log *logger.Logger) ([]*classifier.Classifier, error) {
	meta, err := classifier.LoadMetadata(cfg.MetadataPath)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warning("Metadata file %s not found, using defaults", cfg.MetadataPath)
		meta = classifier.DefaultMetadata()
	} else if err != nil {
		return nil, err
	}

	workers := cfg.ProcessingWorkers
	if workers < 1 {
		workers = 1
	}

	classifiers := make([]*classifier.Classifier, 0, workers)
	for i := 0; i < workers; i++ {
		backend, err := newBackend(cfg, meta)
		if err != nil {
			closeClassifiers(classifiers)
			return nil, err
		}
		classifiers = append(classifiers, classifier.New(backend, meta))
	}

	log.Info("Loaded %d %s session(s) for %s (%v)", workers, cfg.ModelBackend, cfg.ModelPath, meta.Classes)
	return classifiers, nil
}

func newBackend(cfg *config.Config, meta classifier.Metadata) (classifier.Backend, error) {
	switch cfg.ModelBackend {
	case BackendONNX:
		b, err := onnx.NewBackend(cfg.ModelPath, cfg.ONNXLibraryPath, meta)
		if err != nil {
			return nil, err
		}
		return b, nil
	case BackendOpenCV:
		b, err := opencv.NewBackend(cfg.ModelPath, meta)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.ModelBackend)
	}
}

func closeClassifiers(classifiers []*classifier.Classifier) {
	for _, c := range classifiers {
		c.Close()
	}
}
