package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ignisos/api/internal/app"
	"ignisos/api/internal/capture"
	"ignisos/api/internal/config"
	"ignisos/api/internal/email"
	"ignisos/api/internal/export"
	"ignisos/api/internal/feed"
	"ignisos/api/internal/jobs"
	"ignisos/api/internal/llm"
	"ignisos/api/internal/metrics"
	"ignisos/api/internal/qccheck"
	"ignisos/api/internal/roster"
	"ignisos/api/internal/search"
	"ignisos/api/internal/session"
	"ignisos/api/internal/store"
	"ignisos/api/internal/taskboard"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("WARNING: .env not loaded: %v", err)
	}
	cfg := config.Load()
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	m := metrics.New()

	components := app.Components{
		Store:    dataStore,
		Users:    dataStore,
		Sessions: dataStore,
		Metrics:  m,
	}
	var hub feed.Hub
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh tokens and the change feed")
		client, err := session.Connect(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer client.Close()
		components.Sessions = session.NewRedisStore(client, dataStore)
		hub = feed.NewRedisHub(client, feed.NewSource())
	} else {
		log.Printf("Using PostgreSQL for refresh tokens and an in-process change feed")
		hub = feed.NewMemoryHub(feed.NewSource())
	}
	defer hub.Close()

	board := taskboard.New(dataStore, hub)
	go func() {
		if err := board.Run(ctx); err != nil {
			log.Printf("taskboard: feed listener stopped: %v", err)
		}
	}()

	if dir := filepath.Dir(cfg.SettingsDB); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("failed to create settings dir: %v", err)
		}
	}
	settings, err := roster.Open(ctx, cfg.SettingsDB)
	if err != nil {
		log.Fatalf("settings store failed: %v", err)
	}
	defer settings.Close()

	completer := llm.NewClient(llm.Options{
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.OpenAIModel,
		Temperature: cfg.OpenAITemperature,
		Timeout:     cfg.OpenAITimeout,
		Key: func(ctx context.Context) (string, error) {
			if key := strings.TrimSpace(cfg.OpenAIAPIKey); key != "" {
				return key, nil
			}
			key, err := settings.OpenAIAPIKey(ctx)
			if err != nil {
				return "", err
			}
			if key == "" {
				return "", llm.ErrNoAPIKey
			}
			return key, nil
		},
	})
	prompts := capture.NewPromptSource(cfg.CapturePromptFile)
	defer prompts.Close()
	pipeline := capture.NewPipeline(completer, board, prompts, cfg.Location(), capture.WithObserver(m))

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPostgres(db))
	if meiliClient != nil {
		go searchService.ReindexAllFromPG(ctx)
	}

	runner := jobs.New(dataStore, hub, m, jobs.Config{
		SweepSchedule: cfg.SweepSchedule,
		WeekSchedule:  cfg.WeekSchedule,
		Location:      cfg.Location(),
		Timeout:       time.Minute,
	})
	if err := runner.Start(); err != nil {
		log.Fatalf("scheduler failed: %v", err)
	}

	components.Board = board
	components.Capture = pipeline
	components.Settings = settings
	components.Search = searchService
	components.Inspector = qccheck.NewInspector(cfg.QCSpeedBudget)
	components.Exporter = export.NewService(dataStore, cfg.Location())
	components.Mailer = email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	components.Hub = hub
	service := app.New(cfg, components)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Capture waits on the completion API and QC inspection on a page load.
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("IgnisOS API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	runner.Stop(shutdownCtx)
	stop()
	searchService.Wait()
}
