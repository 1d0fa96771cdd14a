package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cropscan/internal/auth"
	"cropscan/internal/config"
	"cropscan/internal/logger"
	"cropscan/internal/route"
	"cropscan/internal/service/camera"
	"cropscan/internal/service/websocket"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config     *config.Config
	logger     *logger.Logger
	pipeline   *Pipeline
	hubService *websocket.HubService
	handler    http.Handler
}

func NewApp() (*App, error) {
	cfg := config.Load()
	log := logger.NewLogger(cfg)

	hub := websocket.NewHubService(log)

	classifiers, err := LoadClassifiers(cfg, log)
	if err != nil {
		log.Close()
		return nil, err
	}

	pipeline, err := NewPipeline(cfg, log, hub, classifiers)
	if err != nil {
		log.Close()
		return nil, err
	}

	authenticator, err := auth.NewAuthenticator(cfg)
	if err != nil {
		pipeline.Close()
		log.Close()
		return nil, err
	}
	if !authenticator.Enabled() {
		log.Warning("No admin password configured, /api and /logs are open")
	}

	streamer := camera.NewStreamer(cfg, pipeline.Manager, log)

	router := route.SetupRoutes(pipeline.Manager, cfg, log, pipeline.Predictions, pipeline.Batches,
		pipeline.Index, authenticator, streamer)

	return &App{
		config:     cfg,
		logger:     log,
		pipeline:   pipeline,
		hubService: hub,
		handler:    router,
	}, nil
}

// Run serves HTTP until SIGINT or SIGTERM, then shuts down and flushes pending predictions.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start background services
	go a.pipeline.Buffer.Run(ctx)
	go a.hubService.Run(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end with the process so the video feed stops on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	fmt.Printf("🌱 Crop Health Server\n")
	fmt.Printf("📍 URL: http://localhost:%d\n", a.config.Port)
	fmt.Printf("🤖 Model: %s (%s, %d workers)\n", a.config.ModelPath, a.config.ModelBackend, a.pipeline.Manager.Workers())
	fmt.Printf("📁 Images: %s\n", a.config.ImageDirectory)
	fmt.Printf("🛰  GPS fallback: %s\n", a.config.GPSFallback)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		a.logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warning("HTTP shutdown: %v", err)
	}

	a.pipeline.Close()
	a.logger.Close()
	return serveErr
}
