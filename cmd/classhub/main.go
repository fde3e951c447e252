package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"classhub/internal/api"
	"classhub/internal/auth"
	"classhub/internal/config"
	"classhub/internal/database"
	"classhub/internal/hub"
	"classhub/internal/notify"
	"classhub/internal/ratelimit"
	"classhub/internal/room"
	"classhub/internal/safety"
	"classhub/internal/session"
	"classhub/internal/websocket"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Application coordinates all hub components. Initialization follows
// dependency order: archive -> rooms -> sessions -> notify -> safety -> hub.
type Application struct {
	config     *config.Config
	archive    *database.Archive
	registry   *websocket.Registry
	rooms      *room.Router
	sessions   *session.Manager
	messageHub *hub.Hub
	httpServer *http.Server
	cancel     context.CancelFunc
}

// noopLocator is the default location collaborator used when no external
// lookup service is wired: every participant gets English defaults.
type noopLocator struct{}

func (noopLocator) Lookup(_ context.Context, _ string) (types.Location, error) {
	return types.Location{Language: "en"}, nil
}

// NewApplication wires the component graph from configuration.
func NewApplication(cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Auth.TokenSecret == "" {
		return nil, fmt.Errorf("CLASSHUB_AUTH_TOKEN_SECRET is required")
	}

	archive, err := database.NewArchive(cfg.Database.Path, cfg.Database.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open incident archive: %w", err)
	}

	verifier := auth.NewJWTVerifier(cfg.Auth.TokenSecret, cfg.Auth.Issuer)
	registry := websocket.NewRegistry()
	rooms := room.NewRouter()
	limiter := ratelimit.NewLimiter(cfg.RateLimit.MaxMessages, cfg.RateLimit.Window)

	var locator interfaces.LocationLookup = noopLocator{}
	sessions := session.NewManager(rooms, verifier, locator, archive, cfg.Session.DefaultMaxStudents, cfg.Session.ReportGraceWindow)

	relay := notify.NewRelay(registry)
	emergency := notify.NewEmergencyController(registry, rooms, sessions, verifier, relay)

	// No external voice classifier is bundled: the nil classifier is
	// fail-closed through the monitor's error path, so deployments must
	// provide one before student voice traffic is accepted.
	monitor := safety.NewMonitor(unavailableClassifier{}, sessions, relay, emergency)

	gate := auth.NewGate(verifier, registry)
	messageHub := hub.NewHub(registry, gate, limiter, rooms, sessions, monitor, relay, emergency, nil, cfg.WebSocket.InboundQueueSize)

	wsHandler := websocket.NewHandler(registry, messageHub, cfg.WebSocket)
	apiServer := api.NewServer(sessions, archive, registry, rooms)

	serveMux := http.NewServeMux()
	serveMux.Handle("/api/", apiServer)
	serveMux.Handle("/health", apiServer)
	serveMux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      serveMux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		archive:    archive,
		registry:   registry,
		rooms:      rooms,
		sessions:   sessions,
		messageHub: messageHub,
		httpServer: httpServer,
	}, nil
}

// unavailableClassifier rejects every classification so the safety monitor's
// fail-closed path engages until a real collaborator is configured.
type unavailableClassifier struct{}

func (unavailableClassifier) ClassifyVoice(_ context.Context, _ string, _ []byte) (interfaces.VoiceClassification, error) {
	return interfaces.VoiceClassification{}, safety.ErrClassifierUnavailable
}

// Start launches background sweeps and the HTTP server.
func (app *Application) Start(ctx context.Context) error {
	ctx, app.cancel = context.WithCancel(ctx)

	app.registry.StartSweep(ctx, app.config.WebSocket.SweepInterval, app.config.WebSocket.HeartbeatThreshold, func(conn interfaces.Connection) {
		app.messageHub.Detach(conn)
		app.registry.Deregister(conn)
		_ = conn.Close()
	})
	app.sessions.StartPurge(ctx, app.config.Session.PurgeInterval)

	log.Printf("Starting classhub on %s", app.httpServer.Addr)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("classhub started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: HTTP -> hub -> archive.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down classhub")

	if app.cancel != nil {
		app.cancel()
	}

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	app.messageHub.Shutdown()

	if err := app.archive.Close(); err != nil {
		log.Printf("Archive shutdown error: %v", err)
	}

	log.Printf("classhub shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// .env is optional; real deployments set env vars directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	appErrCh := make(chan error, 1)
	go func() {
		if err := app.Start(ctx); err != nil {
			appErrCh <- err
		}
	}()

	select {
	case err := <-appErrCh:
		return fmt.Errorf("application error: %w", err)
	case sig := <-signalCh:
		log.Printf("Received signal %v, shutting down gracefully", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		return app.Stop(shutdownCtx)
	}
}
