package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quiz-session-sync/internal/app"
	"quiz-session-sync/internal/config"
	transport "quiz-session-sync/internal/transport/http"

	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the session sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	defaults := cfg.QuizDefaults()
	coordinator := app.NewSessionCoordinator(b.store, b.bank, b.bus, app.CoordinatorOptions{
		Defaults:    defaults,
		JoinCodeTTL: config.TTLDuration(cfg.Quiz.JoinCodeTTL, 2*time.Hour),
	})
	svc := transport.Services{
		Coordinator: coordinator,
		Answers:     app.NewAnswerPipeline(b.store, b.bank, b.bus, app.AnswerPipelineOptions{}),
		Lifelines:   app.NewLifelineLedger(b.store, b.bus, nil),
		Themes:      app.NewThemeResolver(b.catalog, defaults),
		Realtime: app.NewRealtimeSyncClient(b.bus, b.store, app.RealtimeOptions{
			Heartbeat:        config.TTLDuration(cfg.Realtime.Heartbeat, 15*time.Second),
			ReconnectBackoff: config.TTLDuration(cfg.Realtime.ReconnectBackoff, 500*time.Millisecond),
		}),
	}
	if cfg.Realtime.Pacing {
		svc.Pacer = app.NewPacer(coordinator, nil)
		defer svc.Pacer.Close()
	}
	auth := transport.NewAuthenticator(cfg.Auth.JWTSecret)
	if cfg.Auth.JWTSecret == "" {
		log.Printf("auth.jwt_secret not set, trusting the userId query parameter")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	transport.NewAPI(svc, auth).Register(mux)
	mux.HandleFunc("/ws", transport.NewWSHandler(svc, auth).ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quiz session sync on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
