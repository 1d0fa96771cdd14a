package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"cropscan/internal/config"
	"cropscan/internal/logger"
	"cropscan/internal/service"
)

// Multipart field names.
const (
	ImageField   = "image"
	ArchiveField = "file"
)

// multipartMemory is how much of a form is kept in memory before spilling to temp files.
const multipartMemory = 32 << 20

var errTooLarge = errors.New("upload too large")

// PredictHandler handles POST /predict: an "image" field is classified directly,
// a "file" field is analysed as a zip archive with a map.
func PredictHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !parseUpload(w, r, cfg.MaxArchiveSize, logger) {
			return
		}

		if hasFile(r, ImageField) {
			predictImage(w, r, manager, cfg, logger)
			return
		}
		if hasFile(r, ArchiveField) {
			predictArchive(w, r, manager, cfg, logger, true)
			return
		}
		writeError(w, http.StatusBadRequest, "No file uploaded", logger)
	}
}

// PredictImageHandler handles POST /predict/image.
func PredictImageHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !parseUpload(w, r, cfg.MaxUploadSize, logger) {
			return
		}
		predictImage(w, r, manager, cfg, logger)
	}
}

// PredictArchiveHandler handles POST /predict/archive; ?map=false skips rendering the map.
func PredictArchiveHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		withMap := true
		if v := r.URL.Query().Get("map"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid map parameter", logger)
				return
			}
			withMap = b
		}
		if !parseUpload(w, r, cfg.MaxArchiveSize, logger) {
			return
		}
		predictArchive(w, r, manager, cfg, logger, withMap)
	}
}

func predictImage(w http.ResponseWriter, r *http.Request, manager *service.Manager, cfg *config.Config, logger *logger.Logger) {
	name, data, ok := readUpload(w, r, ImageField, cfg.MaxUploadSize, logger)
	if !ok {
		return
	}

	result, err := manager.ClassifyImage(r.Context(), name, data)
	if err != nil {
		writePipelineError(w, r, err, logger)
		return
	}
	writeJSON(w, http.StatusOK, result, logger)
}

func predictArchive(w http.ResponseWriter, r *http.Request, manager *service.Manager, cfg *config.Config, logger *logger.Logger, withMap bool) {
	name, data, ok := readUpload(w, r, ArchiveField, cfg.MaxArchiveSize, logger)
	if !ok {
		return
	}

	response, err := manager.AnalyzeArchive(r.Context(), name, data, withMap)
	if err != nil {
		writePipelineError(w, r, err, logger)
		return
	}
	writeJSON(w, http.StatusOK, response, logger)
}

// parseUpload caps the body size and parses the multipart form.
func parseUpload(w http.ResponseWriter, r *http.Request, maxBytes int64, logger *logger.Logger) bool {
	if maxBytes > 0 {
		// Leave room for multipart headers around the file itself.
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload too large", logger)
			return false
		}
		writeError(w, http.StatusBadRequest, "Expected a multipart form upload", logger)
		return false
	}
	return true
}

// hasFile reports whether the parsed form carries a file under field, without opening it.
func hasFile(r *http.Request, field string) bool {
	return r.MultipartForm != nil && len(r.MultipartForm.File[field]) > 0
}

// readUpload returns the name and content of a form file, enforcing maxBytes.
func readUpload(w http.ResponseWriter, r *http.Request, field string, maxBytes int64, logger *logger.Logger) (string, []byte, bool) {
	file, header, err := r.FormFile(field)
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded", logger)
		return "", nil, false
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "No selected file", logger)
		return "", nil, false
	}

	data, err := readLimited(file, maxBytes)
	if errors.Is(err, errTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("File exceeds %d bytes", maxBytes), logger)
		return "", nil, false
	}
	if err != nil {
		logger.Error("Error reading upload %s: %v", header.Filename, err)
		writeError(w, http.StatusBadRequest, "Could not read upload", logger)
		return "", nil, false
	}
	return header.Filename, data, true
}

func readLimited(file multipart.File, maxBytes int64) ([]byte, error) {
	var r io.Reader = file
	if maxBytes > 0 {
		r = io.LimitReader(file, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, errTooLarge
	}
	return data, nil
}
