// Package camera serves an annotated MJPEG feed from a local capture device.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"sync"

	"gocv.io/x/gocv"

	"cropscan/internal/config"
	"cropscan/internal/dto"
	"cropscan/internal/logger"
)

// ErrCameraBusy is returned when another viewer already holds the device.
var ErrCameraBusy = errors.New("camera is already streaming")

// FrameClassifier labels a single video frame.
type FrameClassifier interface {
	ClassifyFrame(ctx context.Context, img image.Image) (dto.PredictionResult, error)
}

// Streamer reads frames from the capture device, classifies every Nth one and streams annotated JPEGs.
type Streamer struct {
	device        int
	interval      int
	lowConfidence float64
	classifier    FrameClassifier
	logger        *logger.Logger
	mu            sync.Mutex
}

func NewStreamer(config *config.Config, classifier FrameClassifier, logger *logger.Logger) *Streamer {
	interval := config.CameraInterval
	if interval <= 0 {
		interval = 1
	}
	return &Streamer{
		device:        config.CameraDevice,
		interval:      interval,
		lowConfidence: config.LowConfidence,
		classifier:    classifier,
		logger:        logger,
	}
}

// Stream writes the MJPEG feed to w until ctx is done or the client goes away.
func (s *Streamer) Stream(ctx context.Context, w http.ResponseWriter) error {
	if !s.mu.TryLock() {
		return ErrCameraBusy
	}
	defer s.mu.Unlock()

	webcam, err := gocv.VideoCaptureDevice(s.device)
	if err != nil {
		return fmt.Errorf("failed to open camera %d: %w", s.device, err)
	}
	defer webcam.Close()

	frame := gocv.NewMat()
	defer frame.Close()

	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	s.logger.Info("Video feed started on device %d", s.device)
	defer s.logger.Info("Video feed on device %d stopped", s.device)

	var last *dto.PredictionResult
	count := 0

	for ctx.Err() == nil {
		if ok := webcam.Read(&frame); !ok {
			return fmt.Errorf("camera %d stopped delivering frames", s.device)
		}
		if frame.Empty() {
			continue
		}

		if count%s.interval == 0 {
			if result, err := s.classifyMat(ctx, frame); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Warning("Frame classification failed: %v", err)
			} else {
				last = &result
			}
		}
		count++

		if last != nil {
			if err := s.annotate(&frame, *last); err != nil {
				s.logger.Warning("Failed to annotate frame: %v", err)
			}
		}

		buf, err := gocv.IMEncode(".jpg", frame)
		if err != nil {
			s.logger.Error("Failed to encode frame: %v", err)
			continue
		}
		err = WritePart(w, buf.GetBytes())
		buf.Close()
		if err != nil {
			// Viewer disconnected.
			return nil
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return nil
}

func (s *Streamer) classifyMat(ctx context.Context, frame gocv.Mat) (dto.PredictionResult, error) {
	img, err := frame.ToImage()
	if err != nil {
		return dto.PredictionResult{}, fmt.Errorf("failed to convert frame: %w", err)
	}
	return s.classifier.ClassifyFrame(ctx, img)
}

func (s *Streamer) annotate(frame *gocv.Mat, result dto.PredictionResult) error {
	c := OverlayColor(result.Confidence, s.lowConfidence)

	if err := gocv.PutText(frame, OverlayText(result), image.Pt(10, 30), gocv.FontHersheySimplex, 1, c, TextThickness); err != nil {
		return fmt.Errorf("failed to draw text: %w", err)
	}
	if err := gocv.Rectangle(frame, OverlayBox(frame.Cols(), frame.Rows()), c, BoxThickness); err != nil {
		return fmt.Errorf("failed to draw rectangle: %w", err)
	}
	return nil
}
