package route

import (
	"net/http"

	"cropscan/internal/auth"
	"cropscan/internal/config"
	"cropscan/internal/handler"
	"cropscan/internal/logger"
	"cropscan/internal/middleware"
	"cropscan/internal/repository"
	"cropscan/internal/service"
	"cropscan/internal/service/geo"
)

// SetupRoutes registers prediction, history and admin endpoints and wraps the mux
// with the CORS and authentication middleware.
func SetupRoutes(manager *service.Manager, cfg *config.Config, log *logger.Logger,
	predictionRepo repository.PredictionRepository, batchRepo repository.BatchRepository,
	index *geo.Index, authenticator *auth.Authenticator, streamer handler.VideoStreamer) http.Handler {
	mux := http.NewServeMux()

	// Prediction endpoints
	mux.HandleFunc("/health", handler.HealthHandler(manager, log))
	mux.HandleFunc("/predict", handler.PredictHandler(manager, cfg, log))
	mux.HandleFunc("/predict/image", handler.PredictImageHandler(manager, cfg, log))
	mux.HandleFunc("/predict/archive", handler.PredictArchiveHandler(manager, cfg, log))
	mux.HandleFunc("/video_feed", handler.VideoFeedHandler(streamer, log))

	// API endpoints
	mux.HandleFunc("/api/predictions", handler.GetPredictionsHandler(log, predictionRepo))
	mux.HandleFunc("/api/predictions/nearby", handler.NearbyHandler(log, index))
	mux.HandleFunc("/api/predictions/image", handler.ViewPredictionImageHandler(log, predictionRepo))
	mux.HandleFunc("/api/predictions/delete", handler.DeletePredictionHandler(log, predictionRepo, index))
	mux.HandleFunc("/api/predictions/clear", handler.ClearPredictionsHandler(manager, cfg, log, predictionRepo, index))
	mux.HandleFunc("/api/batches", handler.GetBatchesHandler(log, batchRepo))
	mux.HandleFunc("/api/batches/map", handler.BatchMapHandler(manager, log, predictionRepo))
	mux.HandleFunc("/api/stats", handler.StatsHandler(manager, log, predictionRepo, batchRepo, index))
	mux.HandleFunc("/api/live", handler.LiveWebsocketHandler(manager, log))

	// Log endpoints
	mux.HandleFunc("/logs/info", handler.ShowLogsHandler(log, logger.InfoFile))
	mux.HandleFunc("/logs/warning", handler.ShowLogsHandler(log, logger.WarningFile))
	mux.HandleFunc("/logs/error", handler.ShowLogsHandler(log, logger.ErrorFile))

	mux.HandleFunc("/logs/info/clear", handler.ClearLogsHandler(log, logger.InfoFile))
	mux.HandleFunc("/logs/warning/clear", handler.ClearLogsHandler(log, logger.WarningFile))
	mux.HandleFunc("/logs/error/clear", handler.ClearLogsHandler(log, logger.ErrorFile))

	// Auth endpoints
	mux.HandleFunc("/auth/login", handler.LoginHandler(authenticator, log))
	mux.HandleFunc("/auth/logout", handler.LogoutHandler)

	// Apply middleware
	return middleware.CORS(cfg.AllowOrigin)(middleware.AuthMiddleware(authenticator)(mux))
}
