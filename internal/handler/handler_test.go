package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"cropscan/internal/config"
	"cropscan/internal/dto"
	"cropscan/internal/logger"
	"cropscan/internal/repository/sqlite"
	"cropscan/internal/service"
	"cropscan/internal/service/classifier"
	"cropscan/internal/service/geo"
	"cropscan/internal/service/geotag"
	"cropscan/internal/service/storage"
	"cropscan/internal/testutil"
)

// brightnessBackend scores by the red channel of the first pixel: white is diseased, black healthy.
type brightnessBackend struct{}

func (brightnessBackend) Name() string { return "fake" }

func (brightnessBackend) Scores(input []float32) ([]float32, error) {
	return []float32{input[0]}, nil
}

func (brightnessBackend) Close() error { return nil }

type testEnv struct {
	cfg     *config.Config
	log     *logger.Logger
	manager *service.Manager
	buffer  *storage.BufferService
	preds   *sqlite.PredictionRepository
	batches *sqlite.BatchRepository
	index   *geo.Index
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	db, err := sqlite.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		QueueSize:                8,
		GPSFallback:              config.GPSFallbackSkip,
		MaxUploadSize:            1 << 20,
		MaxArchiveSize:           4 << 20,
		MaxArchiveEntries:        50,
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

	manager, err := service.NewManager(
		[]*classifier.Classifier{classifier.New(brightnessBackend{}, classifier.DefaultMetadata())},
		geotag.NewResolver(cfg.GPSFallback), buffer, batches, nil, nil, cfg, log)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(manager.Stop)

	return &testEnv{cfg: cfg, log: log, manager: manager, buffer: buffer, preds: preds, batches: batches, index: index}
}

func multipartRequest(t *testing.T, url, field, filename string, data []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func geotaggedArchive() []byte {
	return testutil.Zip(
		testutil.Entry{Name: "a.jpg", Data: testutil.GeotaggedJPEG(21.0, 72.0, color.White)},
		testutil.Entry{Name: "b.jpg", Data: testutil.JPEG(color.Black)},
		testutil.Entry{Name: "c.jpg", Data: testutil.GeotaggedJPEG(21.05, 72.05, color.Black)},
	)
}

func TestPredictHandler_Image(t *testing.T) {
	env := setupEnv(t)
	h := PredictHandler(env.manager, env.cfg, env.log)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, multipartRequest(t, "/predict", ImageField, "leaf.jpg", testutil.JPEG(color.White)))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var result map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if result["filename"] != "leaf.jpg" || result["label"] != "Diseased" {
		t.Errorf("Unexpected response %v", result)
	}
	if _, ok := result["confidence"].(float64); !ok {
		t.Errorf("Expected numeric confidence, got %v", result["confidence"])
	}
}

func TestPredictHandler_Archive(t *testing.T) {
	env := setupEnv(t)
	h := PredictHandler(env.manager, env.cfg, env.log)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, multipartRequest(t, "/predict", ArchiveField, "field.zip", geotaggedArchive()))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp dto.BatchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if len(resp.Results) != 2 || resp.Results[0].Filename != "a.jpg" {
		t.Errorf("Unexpected results %+v", resp.Results)
	}
	if resp.Results[0].Latitude == nil || *resp.Results[0].Latitude != 21.0 {
		t.Errorf("Expected latitude on result, got %+v", resp.Results[0])
	}
	if resp.MapImage == "" {
		t.Error("Expected map_image in response")
	}
	if len(resp.Skipped) != 1 {
		t.Errorf("Expected one skipped image, got %+v", resp.Skipped)
	}
}

func TestPredictHandler_Errors(t *testing.T) {
	env := setupEnv(t)
	h := PredictHandler(env.manager, env.cfg, env.log)

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"wrong method", httptest.NewRequest(http.MethodGet, "/predict", nil), http.StatusMethodNotAllowed},
		{"not multipart", httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader([]byte("x"))), http.StatusBadRequest},
		{"missing file", multipartRequest(t, "/predict", "other", "x.jpg", []byte("x")), http.StatusBadRequest},
		{"not an image", multipartRequest(t, "/predict", ImageField, "x.jpg", []byte("not an image")), http.StatusBadRequest},
		{"not a zip", multipartRequest(t, "/predict", ArchiveField, "x.zip", []byte("not a zip")), http.StatusBadRequest},
		{"zip without images", multipartRequest(t, "/predict", ArchiveField, "x.zip",
			testutil.Zip(testutil.Entry{Name: "a.txt", Data: []byte("hi")})), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, tt.req)
			if rr.Code != tt.status {
				t.Errorf("Expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestPredictHandler_ImageFieldWins(t *testing.T) {
	env := setupEnv(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile(ArchiveField, "field.zip")
	fw.Write(geotaggedArchive())
	fw, _ = mw.CreateFormFile(ImageField, "leaf.jpg")
	fw.Write(testutil.JPEG(color.Black))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/predict", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rr := httptest.NewRecorder()
	PredictHandler(env.manager, env.cfg, env.log).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var result dto.PredictionResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if result.Filename != "leaf.jpg" || result.Label != "Healthy" {
		t.Errorf("Expected the image to be classified, got %+v", result)
	}
}

func TestHasFile(t *testing.T) {
	req := multipartRequest(t, "/predict", ArchiveField, "field.zip", []byte("zip"))
	if hasFile(req, ArchiveField) {
		t.Error("Unparsed form should report no files")
	}
	if err := req.ParseMultipartForm(multipartMemory); err != nil {
		t.Fatal(err)
	}
	if !hasFile(req, ArchiveField) {
		t.Error("Expected archive field to be present")
	}
	if hasFile(req, ImageField) {
		t.Error("Image field was not sent")
	}
}

func TestPredictImageHandler_TooLarge(t *testing.T) {
	env := setupEnv(t)
	env.cfg.MaxUploadSize = 100
	h := PredictImageHandler(env.manager, env.cfg, env.log)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, multipartRequest(t, "/predict/image", ImageField, "big.jpg", bytes.Repeat([]byte{1}, 500)))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", rr.Code)
	}
}

func TestPredictArchiveHandler_MapDisabled(t *testing.T) {
	env := setupEnv(t)
	h := PredictArchiveHandler(env.manager, env.cfg, env.log)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, multipartRequest(t, "/predict/archive?map=false", ArchiveField, "field.zip", geotaggedArchive()))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]interface{}
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if _, ok := resp["map_image"]; ok {
		t.Error("map_image should be omitted when map=false")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, multipartRequest(t, "/predict/archive?map=maybe", ArchiveField, "field.zip", geotaggedArchive()))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid map flag, got %d", rr.Code)
	}
}

// analyse runs an archive through the pipeline and flushes it to the database.
func analyse(t *testing.T, env *testEnv) *dto.BatchResponse {
	t.Helper()
	rr := httptest.NewRecorder()
	PredictArchiveHandler(env.manager, env.cfg, env.log).ServeHTTP(rr,
		multipartRequest(t, "/predict/archive", ArchiveField, "field.zip", geotaggedArchive()))
	if rr.Code != http.StatusOK {
		t.Fatalf("Archive analysis failed: %d %s", rr.Code, rr.Body.String())
	}
	var resp dto.BatchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	env.buffer.Flush()
	return &resp
}

func TestGetPredictionsHandler(t *testing.T) {
	env := setupEnv(t)
	batch := analyse(t, env)

	rr := httptest.NewRecorder()
	GetPredictionsHandler(env.log, env.preds).ServeHTTP(rr,
		httptest.NewRequest(http.MethodGet, "/api/predictions?label=Diseased&limit=10", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}

	var page dto.PredictionsPage
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if page.Length != 1 || len(page.Predictions) != 1 {
		t.Fatalf("Expected one Diseased prediction, got %+v", page)
	}
	p := page.Predictions[0]
	if p.BatchID != batch.BatchID || p.Filename != "a.jpg" || !p.HasImage {
		t.Errorf("Unexpected prediction %+v", p)
	}
	if page.TotalPages != 1 || page.CurrentPage != 1 || page.Limit != 10 {
		t.Errorf("Unexpected paging %+v", page)
	}

	rr = httptest.NewRecorder()
	GetPredictionsHandler(env.log, env.preds).ServeHTTP(rr,
		httptest.NewRequest(http.MethodGet, "/api/predictions?batch="+batch.BatchID, nil))
	json.Unmarshal(rr.Body.Bytes(), &page)
	if page.Length != 2 {
		t.Errorf("Expected 2 predictions for the batch, got %d", page.Length)
	}
}

func TestDeletePredictionHandler(t *testing.T) {
	env := setupEnv(t)
	analyse(t, env)

	rows, _ := env.preds.GetAll(nil)
	target := rows[0]
	h := DeletePredictionHandler(env.log, env.preds, env.index)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/predictions/delete?id=abc", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad id, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/predictions/delete?id=9999", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing id, got %d", rr.Code)
	}

	before := env.index.Size()
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/predictions/delete?id="+itoa(target.ID), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	if p, _ := env.preds.GetByID(target.ID); p != nil {
		t.Error("Expected row to be deleted")
	}
	if env.index.Size() != before-1 {
		t.Errorf("Expected geo index to shrink, got %d -> %d", before, env.index.Size())
	}
}

// failingDeleteRepo is a prediction repository whose row deletes always fail.
type failingDeleteRepo struct {
	*sqlite.PredictionRepository
}

func (failingDeleteRepo) Delete(int64) error { return errors.New("database is locked") }

func TestDeletePredictionHandler_KeepsFileWhenRowSurvives(t *testing.T) {
	env := setupEnv(t)
	analyse(t, env)

	rows, _ := env.preds.GetAll(nil)
	target := rows[0]
	if target.FilePath == "" {
		t.Fatal("Expected a stored image for the prediction")
	}

	rr := httptest.NewRecorder()
	DeletePredictionHandler(env.log, failingDeleteRepo{env.preds}, env.index).ServeHTTP(rr,
		httptest.NewRequest(http.MethodDelete, "/api/predictions/delete?id="+itoa(target.ID), nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rr.Code)
	}
	if _, err := os.Stat(target.FilePath); err != nil {
		t.Errorf("Image of a surviving row was removed: %v", err)
	}
	if p, _ := env.preds.GetByID(target.ID); p == nil {
		t.Error("Row should still exist")
	}
}

func TestClearPredictionsHandler(t *testing.T) {
	env := setupEnv(t)
	analyse(t, env)

	// Queued but not yet flushed.
	env.manager.ClassifyImage(context.Background(), "pending.jpg", testutil.JPEG(color.White))

	h := ClearPredictionsHandler(env.manager, env.cfg, env.log, env.preds, env.index)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/predictions/clear", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/predictions/clear", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d: %s", rr.Code, rr.Body.String())
	}

	if count, _ := env.preds.GetTotalCount(nil); count != 0 {
		t.Errorf("Expected no predictions, got %d", count)
	}
	if count, _ := env.batches.Count(); count != 0 {
		t.Errorf("Expected no batches, got %d", count)
	}
	if env.index.Size() != 0 {
		t.Errorf("Expected empty geo index, got %d", env.index.Size())
	}
	entries, _ := os.ReadDir(env.cfg.ImageDirectory)
	if len(entries) != 0 {
		t.Errorf("Expected empty image directory, got %d entries", len(entries))
	}

	env.buffer.Flush()
	if count, _ := env.preds.GetTotalCount(nil); count != 0 {
		t.Errorf("Pending write reappeared after clear: %d", count)
	}
}

func TestNearbyHandler(t *testing.T) {
	env := setupEnv(t)
	analyse(t, env)
	h := NearbyHandler(env.log, env.index)

	tests := []struct {
		name   string
		query  string
		status int
		count  int
	}{
		{"radius", "lat=21&lon=72&radius=1", http.StatusOK, 1},
		{"wide radius", "lat=21&lon=72&radius=50", http.StatusOK, 2},
		{"box", "minLat=20&minLon=71&maxLat=22&maxLon=73", http.StatusOK, 2},
		{"nearest", "lat=21.05&lon=72.05&n=1", http.StatusOK, 1},
		{"missing centre", "radius=5", http.StatusBadRequest, 0},
		{"inverted box", "minLat=22&minLon=71&maxLat=20&maxLon=73", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/predictions/nearby?"+tt.query, nil))
			if rr.Code != tt.status {
				t.Fatalf("Expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			var resp struct {
				Count int `json:"count"`
			}
			json.Unmarshal(rr.Body.Bytes(), &resp)
			if resp.Count != tt.count {
				t.Errorf("Expected %d points, got %d", tt.count, resp.Count)
			}
		})
	}
}

func TestBatchHandlers(t *testing.T) {
	env := setupEnv(t)
	batch := analyse(t, env)

	rr := httptest.NewRecorder()
	GetBatchesHandler(env.log, env.batches).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/batches", nil))
	var batches []map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &batches); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if len(batches) != 1 || batches[0]["id"] != batch.BatchID {
		t.Errorf("Unexpected batches %v", batches)
	}

	h := BatchMapHandler(env.manager, env.log, env.preds)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/batches/map?id="+batch.BatchID, nil))
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "image/png" {
		t.Errorf("Expected PNG map, got %d %s", rr.Code, rr.Header().Get("Content-Type"))
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/batches/map?id=unknown", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown batch, got %d", rr.Code)
	}
}

func TestStatsAndHealthHandlers(t *testing.T) {
	env := setupEnv(t)
	analyse(t, env)

	rr := httptest.NewRecorder()
	StatsHandler(env.manager, env.log, env.preds, env.batches, env.index).ServeHTTP(rr,
		httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	var stats dto.Stats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if stats.TotalPredictions != 2 || stats.Batches != 1 || stats.Located != 2 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if stats.HealthScore != 50 {
		t.Errorf("Expected health score 50, got %v", stats.HealthScore)
	}
	if _, ok := stats.Latency["fake"]; !ok {
		t.Errorf("Expected latency for the fake backend, got %v", stats.Latency)
	}

	rr = httptest.NewRecorder()
	HealthHandler(env.manager, env.log).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	var health map[string]interface{}
	json.Unmarshal(rr.Body.Bytes(), &health)
	if health["status"] != "ok" || health["backend"] != "fake" {
		t.Errorf("Unexpected health %v", health)
	}
	if health["pending_writes"] != float64(0) {
		t.Errorf("Expected no pending writes after flush, got %v", health["pending_writes"])
	}

	env.manager.ClassifyImage(context.Background(), "queued.jpg", testutil.JPEG(color.Black))
	rr = httptest.NewRecorder()
	HealthHandler(env.manager, env.log).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	json.Unmarshal(rr.Body.Bytes(), &health)
	if health["pending_writes"] != float64(1) {
		t.Errorf("Expected one pending write, got %v", health["pending_writes"])
	}
}

func TestVideoFeedHandler_Disabled(t *testing.T) {
	rr := httptest.NewRecorder()
	VideoFeedHandler(nil, logger.NewConsole(io.Discard)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/video_feed", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rr.Code)
	}
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
