package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"watchpost/internal/api"
	"watchpost/internal/artifact"
	"watchpost/internal/auth"
	"watchpost/internal/config"
	"watchpost/internal/database"
	"watchpost/internal/detection"
	"watchpost/internal/feedback"
	"watchpost/internal/gallery"
	"watchpost/internal/pipeline"
	"watchpost/internal/publish"
	"watchpost/internal/storage"
	"watchpost/internal/telegram"
	"watchpost/internal/ws"
)

func main() {
	var (
		configF = flag.String("config", "", "Path to YAML config (default: $WATCHPOST_CONFIG)")
		dbgF    = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	var (
		logger *log.Logger
	)
	{
		logger = log.New(os.Stderr, "[watchpost] ", log.Ltime)
	}

	cfg, err := config.Load(*configF)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event log.
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		logger.Fatalf("database: %v", err)
	}

	// Model clients and the identity gallery.
	detector, closeDetector, err := newPersonDetector(cfg.Detector)
	if err != nil {
		logger.Fatalf("detector: %v", err)
	}
	defer closeDetector()

	faces := detection.NewFaceRecognizer(detection.FaceRecognizerConfig{
		ServiceEndpoint: cfg.Face.Endpoint,
		Timeout:         cfg.Face.Timeout,
	})
	known, err := gallery.New(cfg.KnownFacesDir, faces, cfg.FaceTolerance)
	if err != nil {
		logger.Fatalf("gallery: %v", err)
	}
	if err := known.Reload(ctx); err != nil {
		logger.Printf("gallery: %v (continuing with %d identities)", err, known.Len())
	}

	// Artifacts, mirrored to object storage when configured.
	uploads, err := artifact.NewFileStore(cfg.UploadsDir)
	if err != nil {
		logger.Fatalf("uploads: %v", err)
	}
	var (
		store  artifact.Store = uploads
		mirror *storage.MinIOStore
	)
	if cfg.MinIO.Enabled() {
		mirror, err = storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			logger.Fatalf("minio: %v", err)
		}
		if err := mirror.EnsureBucket(ctx); err != nil {
			logger.Printf("minio: %v (mirroring will retry per artifact)", err)
		}
		store = artifact.NewMirroredStore(uploads, mirror)
	}
	builder := artifact.NewBuilder(store, artifact.BuilderConfig{
		ZoomFactor: cfg.ZoomFactor,
		ZoomWidth:  cfg.ZoomWidth,
		ZoomHeight: cfg.ZoomHeight,
	})

	// Operator chat.
	bot := telegram.NewBot(telegram.Config{
		BotToken: cfg.Telegram.BotToken,
		ChatID:   cfg.Telegram.ChatID,
	})
	if !bot.Configured() {
		logger.Printf("telegram: not configured, alerts are stored but not sent")
	}
	pending := telegram.NewPendingTable(cfg.PendingTTL)
	dispatcher := telegram.NewDispatcher(bot, pending)

	// Stored-event fan-out.
	bus := pipeline.NewEventBus()
	defer bus.Close()

	hub := ws.NewEventHub()
	defer hub.Close()
	bus.Subscribe("websocket", hub)

	var publisher *publish.Publisher
	if cfg.NATS.Enabled() {
		publisher, err = publish.Connect(cfg.NATS)
		if err != nil {
			logger.Fatalf("nats: %v", err)
		}
		defer publisher.Close()
		if err := publisher.EnsureStream(ctx); err != nil {
			logger.Printf("nats: %v", err)
		}
		bus.Subscribe("nats", publisher)
	}

	// Detection pipeline.
	preview := pipeline.NewPreviewBuffer(cfg.ZoomWidth, cfg.ZoomHeight)
	gate := pipeline.NewCooldownGate(cfg.Cooldown, cfg.CooldownGrid)
	perception := pipeline.NewPerception(detector, faces, known, pipeline.PerceptionConfig{
		ProcessWidth:        cfg.FrameResizeWidth,
		ConfidenceThreshold: float32(cfg.ConfidenceThreshold),
	})
	alerter := pipeline.NewAlerter(builder, db, dispatcher, bus, cfg.CameraName)
	source := pipeline.NewFFmpegFrameSource(cfg.StreamURL, cfg.CaptureFPS)
	loop := pipeline.NewDetectionPipeline(source, preview, perception, gate, alerter, pipeline.Config{
		ProcessInterval: cfg.FrameProcessInterval,
	})

	// Feedback loop.
	processor := feedback.NewProcessor(bot, pending, faces, known, db)
	commands := telegram.NewCommands(bot, db, pending, known, preview, cfg.CameraName)
	commands.SetCaptureStatus(func() telegram.CaptureStatus {
		st := loop.Stats()
		return telegram.CaptureStatus{
			FramesCaptured:  st.FramesCaptured,
			FramesProcessed: st.FramesProcessed,
			Reconnects:      st.ReconnectAttempts,
			LastFrame:       preview.Updated(),
		}
	})
	listener := telegram.NewListener(bot, processor, commands, cfg.Telegram.PollInterval)

	sweeper := pipeline.NewRetentionSweeper(db, builder, pending, gate, pipeline.RetentionConfig{
		Days:     cfg.AutoDeleteAfterDays,
		Interval: cfg.CleanupInterval,
	})

	// Dashboard.
	authenticator, err := auth.NewAuthenticator(cfg.Auth)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}
	checks := map[string]api.HealthCheck{
		"database": db.Ping,
		"face_service": func(ctx context.Context) error {
			return faces.CheckHealth(ctx)
		},
	}
	if h, ok := detector.(interface{ IsHealthy(context.Context) bool }); ok {
		checks["detector"] = func(ctx context.Context) error {
			if !h.IsHealthy(ctx) {
				return errors.New("detector service unavailable")
			}
			return nil
		}
	}
	if mirror != nil {
		checks["minio"] = mirror.Ping
	}
	if publisher != nil {
		checks["nats"] = func(context.Context) error { return publisher.Ping() }
	}
	server := api.New(api.Deps{
		Events:    db,
		Artifacts: builder,
		Faces:     known,
		Preview:   preview,
		Uploads:   uploads,
		Auth:      authenticator,
		EventsWS:  ws.NewHandler(hub),
		StreamFPS: cfg.CaptureFPS,
		Checks:    checks,
	}, logger)

	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			select {
			case errc <- fmt.Errorf("pipeline: %w", err):
			case <-ctx.Done():
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	if bot.Configured() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("telegram listener stopped: %v", err)
			}
		}()
	}

	if publisher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			publisher.Run(ctx)
		}()
	}

	handleHTTPServer(ctx, cfg.HTTP.Addr(), server, &wg, errc, logger, *dbgF)

	// Wait for signal.
	logger.Printf("exiting (%v)", <-errc)

	// Send cancellation signal to the goroutines.
	cancel()

	wg.Wait()
	logger.Println("exited")
}

// newPersonDetector picks the configured detector backend. The returned func
// releases its connection.
func newPersonDetector(cfg config.DetectorConfig) (pipeline.PersonDetector, func(), error) {
	switch cfg.Backend {
	case "grpc":
		d, err := detection.NewGRPCDetector(detection.GRPCDetectorConfig{
			Endpoint: cfg.Endpoint,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return d, func() { d.Close() }, nil
	default:
		d := detection.NewYOLODetector(detection.YOLOConfig{
			ServiceEndpoint: cfg.Endpoint,
			Timeout:         cfg.Timeout,
		})
		return d, func() {}, nil
	}
}
