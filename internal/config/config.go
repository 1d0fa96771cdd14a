package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// GPS fallback policies applied when an image carries no usable EXIF location.
const (
	GPSFallbackSkip   = "skip"
	GPSFallbackRandom = "random"
	GPSFallbackKeep   = "keep"
)

type Config struct {
	Port              int
	ModelBackend      string // "onnx" or "opencv"
	ModelPath         string
	MetadataPath      string
	ONNXLibraryPath   string // Shared onnxruntime library; empty uses the runtime default
	ProcessingWorkers int    // Number of inference workers, each with its own model session
	QueueSize         int

	GPSFallback       string
	MaxUploadSize     int64 // Single image upload limit in bytes
	MaxArchiveSize    int64 // Archive upload limit in bytes
	MaxArchiveEntries int

	ImageDirectory           string
	SaveImages               bool
	ImageBufferLimit         int
	ImageBufferFlushInterval int // Seconds
	DatabasePath             string
	LogDirectory             string

	CameraDevice   int
	CameraInterval int     // Classify every Nth frame of the video feed
	LowConfidence  float64 // Below this the overlay turns red

	AllowOrigin       string
	JWTSecret         string
	AdminPasswordHash string
	TokenTTLMinutes   int
}

func Load() *Config {
	// .env is optional; real environment variables always win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Could not read .env file: %v", err)
	}

	cfg := &Config{
		Port:              getEnvAsInt("PORT", 8080),
		ModelBackend:      strings.ToLower(getEnv("MODEL_BACKEND", "onnx")),
		ModelPath:         getEnv("MODEL_PATH", filepath.Join(".", "models", "defect_detection.onnx")),
		MetadataPath:      getEnv("METADATA_PATH", filepath.Join(".", "models", "model_metadata.json")),
		ONNXLibraryPath:   getEnv("ONNX_LIBRARY_PATH", ""),
		ProcessingWorkers: getEnvAsInt("PROCESSING_WORKERS", 2),
		QueueSize:         getEnvAsInt("QUEUE_SIZE", 64),

		GPSFallback:       parseFallback(getEnv("GPS_FALLBACK", GPSFallbackSkip)),
		MaxUploadSize:     getEnvAsInt64("MAX_UPLOAD_MB", 10) << 20,
		MaxArchiveSize:    getEnvAsInt64("MAX_ARCHIVE_MB", 200) << 20,
		MaxArchiveEntries: getEnvAsInt("MAX_ARCHIVE_ENTRIES", 2000),

		ImageDirectory:           getEnv("IMAGE_DIR", filepath.Join(".", "uploads")),
		SaveImages:               getEnvAsBool("SAVE_IMAGES", true),
		ImageBufferLimit:         getEnvAsInt("BUFFER_LIMIT", 32),
		ImageBufferFlushInterval: getEnvAsInt("FLUSH_INTERVAL", 10),
		DatabasePath:             getEnv("DB_PATH", filepath.Join(".", "data", "cropscan.db")),
		LogDirectory:             getEnv("LOG_DIR", filepath.Join(".", "logs")),

		CameraDevice:   getEnvAsInt("CAMERA_DEVICE", 0),
		CameraInterval: getEnvAsInt("CAMERA_INTERVAL", 1),
		LowConfidence:  getEnvAsFloat("LOW_CONFIDENCE", 0.7),

		AllowOrigin:       getEnv("ALLOW_ORIGIN", "*"),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		TokenTTLMinutes:   getEnvAsInt("TOKEN_TTL_MINUTES", 60),
	}

	if cfg.AdminPasswordHash == "" {
		if plain := os.Getenv("ADMIN_PASSWORD"); plain != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
			if err != nil {
				log.Printf("Could not hash ADMIN_PASSWORD: %v", err)
			} else {
				cfg.AdminPasswordHash = string(hash)
			}
		}
	}

	return cfg
}

// AuthEnabled reports whether the admin endpoints require a token.
func (c *Config) AuthEnabled() bool {
	return c.AdminPasswordHash != ""
}

func parseFallback(v string) string {
	switch strings.ToLower(v) {
	case GPSFallbackRandom:
		return GPSFallbackRandom
	case GPSFallbackKeep:
		return GPSFallbackKeep
	default:
		return GPSFallbackSkip
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
