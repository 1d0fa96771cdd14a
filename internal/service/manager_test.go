package service

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cropscan/internal/config"
	"cropscan/internal/logger"
	"cropscan/internal/metrics"
	"cropscan/internal/repository/sqlite"
	"cropscan/internal/service/archive"
	"cropscan/internal/service/classifier"
	"cropscan/internal/service/geo"
	"cropscan/internal/service/geotag"
	"cropscan/internal/service/storage"
	"cropscan/internal/testutil"
)

// brightnessBackend scores an image by the red channel of its first pixel: white is diseased, black healthy.
type brightnessBackend struct {
	mu    sync.Mutex
	calls int
	block chan struct{}
}

func (b *brightnessBackend) Name() string { return "fake" }

func (b *brightnessBackend) Scores(input []float32) ([]float32, error) {
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	return []float32{input[0]}, nil
}

func (b *brightnessBackend) Close() error { return nil }

type fixture struct {
	manager *Manager
	buffer  *storage.BufferService
	preds   *sqlite.PredictionRepository
	batches *sqlite.BatchRepository
	index   *geo.Index
}

func setupManager(t *testing.T, fallback string, workers int) *fixture {
	t.Helper()

	dir := t.TempDir()
	db, err := sqlite.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		QueueSize:                8,
		GPSFallback:              fallback,
		MaxUploadSize:            1 << 20,
		MaxArchiveSize:           10 << 20,
		MaxArchiveEntries:        100,
		ImageDirectory:           filepath.Join(dir, "images"),
		SaveImages:               true,
		ImageBufferLimit:         1000,
		ImageBufferFlushInterval: 60,
	}
	log := logger.NewConsole(io.Discard)

	preds := sqlite.NewPredictionRepository(db)
	batches := sqlite.NewBatchRepository(db)
	index := geo.NewIndex()
	buffer := storage.NewBufferService(cfg, log, preds, index)

	classifiers := make([]*classifier.Classifier, workers)
	for i := range classifiers {
		classifiers[i] = classifier.New(&brightnessBackend{}, classifier.DefaultMetadata())
	}

	manager, err := NewManager(classifiers, geotag.NewResolver(fallback), buffer, batches, nil,
		metrics.NewLatencyTracker(0.2), cfg, log)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(manager.Stop)

	return &fixture{manager: manager, buffer: buffer, preds: preds, batches: batches, index: index}
}

func TestManager_ClassifyImage(t *testing.T) {
	f := setupManager(t, config.GPSFallbackSkip, 2)
	ctx := context.Background()

	result, err := f.manager.ClassifyImage(ctx, "sick.jpg", testutil.JPEG(color.White))
	if err != nil {
		t.Fatalf("ClassifyImage failed: %v", err)
	}
	if result.Label != "Diseased" || result.Confidence < 0.9 {
		t.Errorf("Expected confident Diseased, got %s %.2f", result.Label, result.Confidence)
	}
	if _, ok := result.Location(); ok {
		t.Error("Plain JPEG should carry no location")
	}

	result, err = f.manager.ClassifyImage(ctx, "fine.jpg", testutil.GeotaggedJPEG(25.5, 75.25, color.Black))
	if err != nil {
		t.Fatalf("ClassifyImage failed: %v", err)
	}
	if result.Label != "Healthy" {
		t.Errorf("Expected Healthy, got %s", result.Label)
	}
	if pt, ok := result.Location(); !ok || pt.Latitude != 25.5 {
		t.Errorf("Expected EXIF location to be attached, got %+v", result)
	}

	if _, err := f.manager.ClassifyImage(ctx, "notes.txt", []byte("hello")); !errors.Is(err, classifier.ErrUnsupportedImage) {
		t.Errorf("Expected ErrUnsupportedImage, got %v", err)
	}

	if n := f.buffer.Flush(); n != 2 {
		t.Errorf("Expected 2 buffered predictions, got %d", n)
	}
	if f.index.Size() != 1 {
		t.Errorf("Expected the geotagged prediction in the index, got %d", f.index.Size())
	}
	if stats, ok := f.manager.Latency()["fake"]; !ok || stats.OK != 2 {
		t.Errorf("Expected 2 observed inferences, got %+v", f.manager.Latency())
	}
}

func TestManager_AnalyzeArchive(t *testing.T) {
	f := setupManager(t, config.GPSFallbackSkip, 2)

	data := testutil.Zip(
		testutil.Entry{Name: "plot/a.jpg", Data: testutil.GeotaggedJPEG(21.0, 72.0, color.White)},
		testutil.Entry{Name: "plot/b.jpg", Data: testutil.JPEG(color.Black)},
		testutil.Entry{Name: "plot/c.jpg", Data: testutil.GeotaggedJPEG(22.0, 73.0, color.Black)},
		testutil.Entry{Name: "readme.txt", Data: []byte("ignored")},
	)

	resp, err := f.manager.AnalyzeArchive(context.Background(), "field.zip", data, true)
	if err != nil {
		t.Fatalf("AnalyzeArchive failed: %v", err)
	}

	if len(resp.Results) != 2 {
		t.Fatalf("Expected 2 results, got %+v", resp.Results)
	}
	if resp.Results[0].Filename != "a.jpg" || resp.Results[0].Label != "Diseased" {
		t.Errorf("Unexpected first result %+v", resp.Results[0])
	}
	if resp.Results[1].Filename != "c.jpg" || resp.Results[1].Label != "Healthy" {
		t.Errorf("Unexpected second result %+v", resp.Results[1])
	}
	if len(resp.Skipped) != 1 || resp.Skipped[0].Filename != "b.jpg" {
		t.Errorf("Expected b.jpg to be skipped, got %+v", resp.Skipped)
	}
	if resp.Results[0].LocationFallback || resp.Results[1].LocationFallback {
		t.Error("EXIF locations must not be flagged as fallback")
	}
	if resp.Counts["Diseased"] != 1 || resp.Counts["Healthy"] != 1 {
		t.Errorf("Unexpected counts %v", resp.Counts)
	}
	if resp.MapImage == "" {
		t.Error("Expected a map image")
	}

	batch, err := f.batches.GetByID(resp.BatchID)
	if err != nil || batch == nil {
		t.Fatalf("Expected stored batch, got %v", err)
	}
	if batch.Total != 3 || batch.Located != 2 || batch.Skipped != 1 || batch.Source != "field.zip" {
		t.Errorf("Unexpected batch %+v", batch)
	}

	f.buffer.Flush()
	rows, err := f.preds.GetByBatch(resp.BatchID)
	if err != nil {
		t.Fatalf("GetByBatch failed: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("Expected 2 stored predictions, got %d", len(rows))
	}
}

func TestManager_AnalyzeArchive_NoMapWithoutLocations(t *testing.T) {
	f := setupManager(t, config.GPSFallbackKeep, 1)

	data := testutil.Zip(testutil.Entry{Name: "a.jpg", Data: testutil.JPEG(color.White)})

	resp, err := f.manager.AnalyzeArchive(context.Background(), "plain.zip", data, true)
	if err != nil {
		t.Fatalf("AnalyzeArchive failed: %v", err)
	}
	if len(resp.Results) != 1 || len(resp.Skipped) != 0 {
		t.Errorf("Keep policy should classify the image, got %+v", resp)
	}
	if resp.MapImage != "" {
		t.Error("No map expected without located results")
	}
}

func TestManager_AnalyzeArchive_RandomFallbackAndMapOff(t *testing.T) {
	f := setupManager(t, config.GPSFallbackRandom, 1)

	data := testutil.Zip(testutil.Entry{Name: "a.jpg", Data: testutil.JPEG(color.Black)})

	resp, err := f.manager.AnalyzeArchive(context.Background(), "plain.zip", data, false)
	if err != nil {
		t.Fatalf("AnalyzeArchive failed: %v", err)
	}
	pt, ok := resp.Results[0].Location()
	if !ok || pt.Latitude < geotag.RandomLatMin || pt.Latitude >= geotag.RandomLatMax {
		t.Errorf("Expected random fallback location, got %+v", resp.Results[0])
	}
	if !resp.Results[0].LocationFallback {
		t.Error("Generated location should be flagged as fallback")
	}
	if resp.MapImage != "" {
		t.Error("Map was disabled")
	}

	f.buffer.Flush()
	rows, err := f.preds.GetByBatch(resp.BatchID)
	if err != nil || len(rows) != 1 {
		t.Fatalf("Expected 1 stored prediction, got %d (%v)", len(rows), err)
	}
	if !rows[0].LocationFallback {
		t.Error("Stored prediction lost the fallback flag")
	}
	pts, err := f.index.SearchRadius(pt.Latitude, pt.Longitude, 1)
	if err != nil || len(pts) != 1 || !pts[0].Fallback {
		t.Errorf("Expected indexed fallback point, got %+v (%v)", pts, err)
	}
}

func TestManager_AnalyzeArchive_SameNameInDifferentFolders(t *testing.T) {
	f := setupManager(t, config.GPSFallbackKeep, 2)

	data := testutil.Zip(
		testutil.Entry{Name: "field_a/leaf.jpg", Data: testutil.JPEG(color.White)},
		testutil.Entry{Name: "field_b/leaf.jpg", Data: testutil.JPEG(color.White)},
	)

	resp, err := f.manager.AnalyzeArchive(context.Background(), "fields.zip", data, false)
	if err != nil {
		t.Fatalf("AnalyzeArchive failed: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(resp.Results))
	}

	f.buffer.Flush()
	rows, err := f.preds.GetByBatch(resp.BatchID)
	if err != nil {
		t.Fatalf("GetByBatch failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 stored predictions, got %d", len(rows))
	}
	if rows[0].FilePath == "" || rows[0].FilePath == rows[1].FilePath {
		t.Errorf("Expected distinct stored files, got %q and %q", rows[0].FilePath, rows[1].FilePath)
	}
}

func TestManager_AnalyzeArchive_PreservesOrder(t *testing.T) {
	f := setupManager(t, config.GPSFallbackKeep, 4)

	var entries []testutil.Entry
	for i := 0; i < 24; i++ {
		c := color.Color(color.Black)
		if i%3 == 0 {
			c = color.White
		}
		entries = append(entries, testutil.Entry{Name: fmt.Sprintf("img%02d.jpg", i), Data: testutil.JPEG(c)})
	}

	resp, err := f.manager.AnalyzeArchive(context.Background(), "many.zip", testutil.Zip(entries...), false)
	if err != nil {
		t.Fatalf("AnalyzeArchive failed: %v", err)
	}
	if len(resp.Results) != 24 {
		t.Fatalf("Expected 24 results, got %d", len(resp.Results))
	}
	for i, r := range resp.Results {
		if r.Filename != fmt.Sprintf("img%02d.jpg", i) {
			t.Fatalf("Result %d out of order: %s", i, r.Filename)
		}
		want := "Healthy"
		if i%3 == 0 {
			want = "Diseased"
		}
		if r.Label != want {
			t.Errorf("%s: expected %s, got %s", r.Filename, want, r.Label)
		}
	}
}

func TestManager_AnalyzeArchive_Errors(t *testing.T) {
	f := setupManager(t, config.GPSFallbackSkip, 1)

	_, err := f.manager.AnalyzeArchive(context.Background(), "empty.zip",
		testutil.Zip(testutil.Entry{Name: "a.txt", Data: []byte("x")}), true)
	if !errors.Is(err, archive.ErrEmptyArchive) {
		t.Errorf("Expected ErrEmptyArchive, got %v", err)
	}

	_, err = f.manager.AnalyzeArchive(context.Background(), "bad.zip", []byte("not a zip"), true)
	if !errors.Is(err, archive.ErrCorruptArchive) {
		t.Errorf("Expected ErrCorruptArchive, got %v", err)
	}
}

func TestManager_ContextCancelled(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{QueueSize: 1, ImageDirectory: dir, ImageBufferLimit: 10, ImageBufferFlushInterval: 60}
	backend := &brightnessBackend{block: make(chan struct{})}
	manager, err := NewManager([]*classifier.Classifier{classifier.New(backend, classifier.DefaultMetadata())},
		nil, nil, nil, nil, nil, cfg, logger.NewConsole(io.Discard))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer manager.Stop()
	defer close(backend.block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = manager.ClassifyImage(ctx, "slow.jpg", testutil.JPEG(color.White))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestManager_StoppedRejects(t *testing.T) {
	f := setupManager(t, config.GPSFallbackSkip, 1)
	f.manager.Stop()

	_, err := f.manager.ClassifyImage(context.Background(), "a.jpg", testutil.JPEG(color.White))
	if !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
}

func TestNewManager_NoClassifiers(t *testing.T) {
	if _, err := NewManager(nil, nil, nil, nil, nil, nil, &config.Config{}, logger.NewConsole(io.Discard)); err == nil {
		t.Error("Expected error without classifiers")
	}
}
