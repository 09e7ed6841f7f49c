package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejo-valencia/onefinance/internal/api"
	"github.com/alejo-valencia/onefinance/internal/classifier"
	"github.com/alejo-valencia/onefinance/internal/config"
	"github.com/alejo-valencia/onefinance/internal/database"
	"github.com/alejo-valencia/onefinance/internal/gmail"
	"github.com/alejo-valencia/onefinance/internal/repository"
	"github.com/alejo-valencia/onefinance/internal/service"
	"github.com/alejo-valencia/onefinance/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() {
		_ = database.Close(db)
	}()

	log.Println("Database connected successfully")

	// Run migrations
	log.Println("Running database migrations...")
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return err
	}
	log.Println("Migrations completed successfully")

	// Initialize repositories
	messageRepo := repository.NewMessageRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	jobRepo := repository.NewProcessingJobRepository(db)
	syncRepo := repository.NewSyncStatusRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Gmail client
	gmailClient, err := gmail.NewClient(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRefreshToken)
	if err != nil {
		return err
	}

	// Initialize classification client
	aiClient := classifier.NewClient(cfg.OpenRouterAPIKey,
		classifier.WithModel(cfg.OpenRouterModel),
		classifier.WithCallTimeout(cfg.AICallTimeout),
		classifier.WithMaxRetries(cfg.AIMaxRetries),
	)

	// Initialize services
	processor := service.NewQueueProcessor(messageRepo, transactionRepo, jobRepo, aiClient,
		cfg.BatchBudget, cfg.BudgetBuffer, cfg.ClaimTimeout)
	detector := service.NewMovementDetector(transactionRepo, messageRepo, aiClient)
	orchestrator := service.NewSyncOrchestrator(gmailClient, messageRepo, syncRepo,
		cfg.GmailLabel, cfg.LookbackBuffer)

	// Initialize watcher and HTTP surface
	w := watcher.New(cfg, jobRepo, messageRepo, processor, detector, orchestrator)
	handlers := api.NewHandlers(jobRepo, processor, orchestrator, transactionRepo,
		cfg.BatchLimit, cfg.BatchBudget)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handlers.Router(),
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 2)
	go func() {
		errChan <- w.Start(ctx)
	}()
	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-sigChan:
		log.Println("Shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		select {
		case <-shutdownCtx.Done():
			log.Println("Shutdown timeout exceeded")
		case err := <-errChan:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Watcher error: %v", err)
			}
		}

		log.Println("Application stopped")
		return nil

	case err := <-errChan:
		return err
	}
}
