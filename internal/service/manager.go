package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"cropscan/internal/config"
	"cropscan/internal/dto"
	"cropscan/internal/logger"
	"cropscan/internal/metrics"
	"cropscan/internal/model"
	"cropscan/internal/repository"
	"cropscan/internal/service/archive"
	"cropscan/internal/service/classifier"
	"cropscan/internal/service/geotag"
	"cropscan/internal/service/mapplot"
	"cropscan/internal/service/storage"
	"cropscan/internal/service/websocket"
)

// ErrQueueClosed is returned once the manager has been stopped.
var ErrQueueClosed = errors.New("processing queue is closed")

// Live event types.
const (
	EventPrediction = "prediction"
	EventBatch      = "batch"
)

// Prediction sources stored with each record.
const (
	SourceImage   = "image"
	SourceArchive = "archive"
	SourceCamera  = "camera"
)

// Manager runs inference on a fixed pool of workers, each owning one classifier.
type Manager struct {
	classifiers      []*classifier.Classifier
	meta             classifier.Metadata
	resolver         *geotag.Resolver
	bufferService    *storage.BufferService
	batchRepo        repository.BatchRepository
	websocketService *websocket.HubService
	latency          *metrics.LatencyTracker
	logger           *logger.Logger
	limits           archive.Limits

	processingQueue chan classifyTask
	numWorkers      int
	wg              sync.WaitGroup

	stateMu sync.RWMutex
	stopped bool
}

type classifyTask struct {
	ctx    context.Context
	img    image.Image
	result chan classifyResult
}

type classifyResult struct {
	class classifier.Classification
	err   error
}

// NewManager starts one worker per classifier. bufferService, batchRepo and websocketService may be nil.
func NewManager(classifiers []*classifier.Classifier, resolver *geotag.Resolver, bufferService *storage.BufferService,
	batchRepo repository.BatchRepository, websocketService *websocket.HubService, latency *metrics.LatencyTracker,
	config *config.Config, logger *logger.Logger) (*Manager, error) {
	if len(classifiers) == 0 {
		return nil, fmt.Errorf("manager needs at least one classifier")
	}
	if latency == nil {
		latency = metrics.NewLatencyTracker(0.2)
	}

	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = len(classifiers)
	}

	manager := &Manager{
		classifiers:      classifiers,
		meta:             classifiers[0].Metadata(),
		resolver:         resolver,
		bufferService:    bufferService,
		batchRepo:        batchRepo,
		websocketService: websocketService,
		latency:          latency,
		logger:           logger,
		limits: archive.Limits{
			MaxEntries:    config.MaxArchiveEntries,
			MaxTotalBytes: config.MaxArchiveSize,
			MaxEntryBytes: config.MaxUploadSize,
		},
		processingQueue: make(chan classifyTask, queueSize),
		numWorkers:      len(classifiers),
	}

	for i := 0; i < manager.numWorkers; i++ {
		manager.wg.Add(1)
		go manager.processingWorker(i)
	}

	manager.logger.Info("Manager started with %d %s worker(s)", manager.numWorkers, classifiers[0].BackendName())
	return manager, nil
}

func (m *Manager) Metadata() classifier.Metadata {
	return m.meta
}

func (m *Manager) BackendName() string {
	return m.classifiers[0].BackendName()
}

func (m *Manager) Workers() int {
	return m.numWorkers
}

func (m *Manager) Latency() map[string]dto.LatencyStats {
	return m.latency.Snapshot()
}

func (m *Manager) GetWebsocketService() *websocket.HubService {
	return m.websocketService
}

func (m *Manager) GetBufferService() *storage.BufferService {
	return m.bufferService
}

// processingWorker serves the queue with its own classifier until the queue is closed.
func (m *Manager) processingWorker(workerID int) {
	defer m.wg.Done()

	clf := m.classifiers[workerID]
	m.logger.Info("Processing worker %d started", workerID)

	for task := range m.processingQueue {
		if err := task.ctx.Err(); err != nil {
			task.result <- classifyResult{err: err}
			continue
		}

		start := time.Now()
		class, err := clf.Classify(task.img)
		if err != nil {
			m.latency.ObserveError(clf.BackendName(), time.Since(start))
		} else {
			m.latency.ObserveOK(clf.BackendName(), time.Since(start))
		}
		task.result <- classifyResult{class: class, err: err}
	}

	m.logger.Info("Processing worker %d stopped", workerID)
}

// classify hands img to a worker and waits for the verdict.
func (m *Manager) classify(ctx context.Context, img image.Image) (classifier.Classification, error) {
	task := classifyTask{ctx: ctx, img: img, result: make(chan classifyResult, 1)}

	m.stateMu.RLock()
	if m.stopped {
		m.stateMu.RUnlock()
		return classifier.Classification{}, ErrQueueClosed
	}
	select {
	case m.processingQueue <- task:
		m.stateMu.RUnlock()
	case <-ctx.Done():
		m.stateMu.RUnlock()
		return classifier.Classification{}, ctx.Err()
	}

	select {
	case res := <-task.result:
		return res.class, res.err
	case <-ctx.Done():
		return classifier.Classification{}, ctx.Err()
	}
}

// ClassifyImage classifies one uploaded image, records it and notifies live viewers.
// A GPS position in the image's EXIF is attached when present.
func (m *Manager) ClassifyImage(ctx context.Context, name string, data []byte) (dto.PredictionResult, error) {
	img, format, err := classifier.DecodeImage(data)
	if err != nil {
		return dto.PredictionResult{}, err
	}

	class, err := m.classify(ctx, img)
	if err != nil {
		return dto.PredictionResult{}, err
	}

	result := toResult(name, class)
	if pt, err := geotag.ExtractBytes(data); err == nil {
		result.SetLocation(pt)
	}

	m.record("", SourceImage, result, data, "."+format)
	m.broadcast(dto.LiveEvent{Type: EventPrediction, Prediction: &result})
	m.logger.Info("Classified %s as %s (%.2f)", name, result.Label, result.Confidence)

	return result, nil
}

// ClassifyFrame classifies a decoded video frame. Frames are not stored.
func (m *Manager) ClassifyFrame(ctx context.Context, img image.Image) (dto.PredictionResult, error) {
	class, err := m.classify(ctx, img)
	if err != nil {
		return dto.PredictionResult{}, err
	}
	return toResult(SourceCamera, class), nil
}

type archiveSlot struct {
	result  dto.PredictionResult
	skipped *dto.SkippedImage
}

// AnalyzeArchive classifies every image of a zip archive, keeping archive order in the response.
// Images are resolved to a location first; the GPS fallback policy decides what happens to those without one.
func (m *Manager) AnalyzeArchive(ctx context.Context, name string, data []byte, withMap bool) (*dto.BatchResponse, error) {
	entries, err := archive.Read(data, m.limits)
	if err != nil {
		return nil, err
	}

	batchID := uuid.NewString()
	policy := config.GPSFallbackKeep
	if m.resolver != nil {
		policy = m.resolver.Policy()
	}
	m.logger.Info("Analyzing archive %s: %d image(s), batch %s, GPS fallback %s", name, len(entries), batchID, policy)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slots := make([]archiveSlot, len(entries))
	var done atomic.Int64
	var firstErr error
	var errOnce sync.Once

	// Twice the worker count keeps the queue fed without decoding the whole archive at once.
	sem := make(chan struct{}, 2*m.numWorkers)
	var wg sync.WaitGroup

	for i := range entries {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			slot, err := m.analyzeEntry(ctx, &entries[i])
			if err != nil {
				errOnce.Do(func() {
					firstErr = err
					cancel()
				})
				return
			}
			slots[i] = slot

			n := int(done.Add(1))
			if slot.skipped == nil {
				result := slot.result
				m.broadcast(dto.LiveEvent{Type: EventPrediction, BatchID: batchID, Prediction: &result, Done: n, Total: len(entries)})
			}
		}(i)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	response := &dto.BatchResponse{
		BatchID: batchID,
		Results: make([]dto.PredictionResult, 0, len(entries)),
		Skipped: make([]dto.SkippedImage, 0),
		Counts:  make(map[string]int),
	}
	located := 0
	for _, slot := range slots {
		if slot.skipped != nil {
			response.Skipped = append(response.Skipped, *slot.skipped)
			continue
		}
		response.Results = append(response.Results, slot.result)
		response.Counts[slot.result.Label]++
		if _, ok := slot.result.Location(); ok {
			located++
		}
	}

	if err := m.recordBatch(batchID, name, entries, slots, located); err != nil {
		return nil, err
	}

	if withMap && located > 0 {
		encoded, err := mapplot.RenderBase64(response.Results, m.meta.IsPositive)
		if err != nil {
			m.logger.Warning("Could not render map for batch %s: %v", batchID, err)
		} else {
			response.MapImage = encoded
		}
	}

	m.broadcast(dto.LiveEvent{Type: EventBatch, BatchID: batchID, Done: len(response.Results), Total: len(entries)})
	m.logger.Info("Batch %s done: %d classified, %d skipped", batchID, len(response.Results), len(response.Skipped))

	return response, nil
}

// analyzeEntry returns an error only when the whole archive must be aborted.
func (m *Manager) analyzeEntry(ctx context.Context, entry *archive.Entry) (archiveSlot, error) {
	var res geotag.Resolution
	if m.resolver != nil {
		res = m.resolver.Resolve(entry.Data)
		if res.Skip {
			return archiveSlot{skipped: &dto.SkippedImage{Filename: entry.Name, Reason: "no GPS data"}}, nil
		}
	}

	img, _, err := classifier.DecodeImage(entry.Data)
	if err != nil {
		return archiveSlot{skipped: &dto.SkippedImage{Filename: entry.Name, Reason: "unsupported image"}}, nil
	}

	class, err := m.classify(ctx, img)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrQueueClosed) {
			return archiveSlot{}, err
		}
		m.logger.Warning("Classification failed for %s: %v", entry.Name, err)
		return archiveSlot{skipped: &dto.SkippedImage{Filename: entry.Name, Reason: "classification failed"}}, nil
	}

	result := toResult(entry.Name, class)
	if res.Located {
		result.SetLocation(res.Point)
		result.LocationFallback = res.Fallback
	}
	return archiveSlot{result: result}, nil
}

// recordBatch stores the batch row first so buffered predictions can reference it.
func (m *Manager) recordBatch(batchID, name string, entries []archive.Entry, slots []archiveSlot, located int) error {
	skipped := 0
	for _, slot := range slots {
		if slot.skipped != nil {
			skipped++
		}
	}

	if m.batchRepo != nil {
		batch := &model.Batch{
			ID:      batchID,
			Source:  name,
			Total:   len(entries),
			Located: located,
			Skipped: skipped,
		}
		if err := m.batchRepo.Insert(batch); err != nil {
			m.logger.Error("Error saving batch %s: %v", batchID, err)
			return err
		}
	}

	for i, slot := range slots {
		if slot.skipped != nil {
			continue
		}
		m.record(batchID, SourceArchive, slot.result, entries[i].Data, "")
	}
	return nil
}

func (m *Manager) record(batchID, source string, result dto.PredictionResult, data []byte, ext string) {
	if m.bufferService == nil {
		return
	}
	m.bufferService.AddPrediction(dto.BufferedPrediction{
		BatchID:   batchID,
		Source:    source,
		Timestamp: time.Now(),
		Result:    result,
		Data:      data,
		Extension: ext,
	})
}

func (m *Manager) broadcast(event dto.LiveEvent) {
	if m.websocketService != nil {
		m.websocketService.BroadcastEvent(event)
	}
}

// Stop drains the queue, stops the workers and releases the classifiers.
func (m *Manager) Stop() {
	m.stateMu.Lock()
	if m.stopped {
		m.stateMu.Unlock()
		return
	}
	m.stopped = true
	close(m.processingQueue)
	m.stateMu.Unlock()

	m.wg.Wait()
	for _, clf := range m.classifiers {
		if err := clf.Close(); err != nil {
			m.logger.Warning("Error closing classifier: %v", err)
		}
	}
	m.logger.Info("All processing workers stopped")
}

func toResult(name string, class classifier.Classification) dto.PredictionResult {
	return dto.PredictionResult{
		Filename:   name,
		Label:      class.Label,
		Confidence: class.Confidence,
		ClassIndex: class.ClassIndex,
		Scores:     class.Scores,
	}
}
