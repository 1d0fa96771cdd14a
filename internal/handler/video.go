package handler

import (
	"context"
	"net/http"

	"cropscan/internal/logger"
)

// VideoStreamer writes an MJPEG stream until ctx is done.
type VideoStreamer interface {
	Stream(ctx context.Context, w http.ResponseWriter) error
}

// VideoFeedHandler serves GET /video_feed.
func VideoFeedHandler(streamer VideoStreamer, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if streamer == nil {
			http.Error(w, "Video feed disabled", http.StatusServiceUnavailable)
			return
		}
		if err := streamer.Stream(r.Context(), w); err != nil {
			logger.Warning("Video feed error: %v", err)
			// Headers may already be out if streaming started.
			if w.Header().Get("Content-Type") == "" {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
			}
		}
	}
}
