// Package main is the entry point for the attending-sim server.
// It only handles dependency injection and server initialization.
// NO business logic belongs here.
package main

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MedSimWorks/attending-sim/server/internal/domain/scenario"
	"github.com/MedSimWorks/attending-sim/server/internal/engine"
	"github.com/MedSimWorks/attending-sim/server/internal/httpapi"
	"github.com/MedSimWorks/attending-sim/server/internal/infra/ai"
	"github.com/MedSimWorks/attending-sim/server/internal/infra/storage"
	"github.com/MedSimWorks/attending-sim/server/internal/narrator"
	"github.com/MedSimWorks/attending-sim/server/internal/network"
	"github.com/MedSimWorks/attending-sim/server/internal/platform/config"
	"github.com/MedSimWorks/attending-sim/server/internal/platform/logger"
	"github.com/MedSimWorks/attending-sim/server/internal/platform/metrics"
)

func main() {
	log.Println("[SIM-SERVER] Initializing attending-sim authoritative server...")

	appLogger := logger.NewLogger()

	cfg, err := config.Load()
	if err != nil {
		appLogger.Error("Failed to load configuration: " + err.Error())
		os.Exit(1)
	}

	appLogger.Info("Loading embedded scenario library...")
	library, err := scenario.LoadEmbedded()
	if err != nil {
		appLogger.Error("Failed to load scenarios: " + err.Error())
		os.Exit(1)
	}

	appLogger.Info("Initializing SQLite database '" + cfg.DBPath + "'...")
	db, err := storage.InitSQLite(cfg.DBPath)
	if err != nil {
		appLogger.Error("Failed to initialize SQLite: " + err.Error())
		os.Exit(1)
	}
	defer db.Close()

	sessionRepo := storage.NewSQLiteSessionRepository(db)
	actionRepo := storage.NewSQLiteActionRepository(db)
	pendingRepo := storage.NewSQLitePendingResultRepository(db)
	logRepo := storage.NewSQLiteEncounterLogRepository(db)

	appLogger.Info("Bootstrapping simulation engine...")
	simEngine := engine.New(actionRepo, pendingRepo, appLogger)

	appLogger.Info("Bootstrapping LLM narrator...")
	budgetGate := ai.NewBudgetGate(cfg.LLMDailyBudget, cfg.LLMMonthlyBudget)
	var provider ai.LLMProvider
	switch cfg.LLMProvider {
	case "openai":
		provider = ai.NewOpenAIProvider(cfg.OpenAIAPIKey, budgetGate)
	default:
		provider = ai.NewAnthropicProvider(cfg.AnthropicAPIKey, budgetGate)
	}
	if provider.IsAvailable() {
		appLogger.Info("LLM provider ready: " + provider.Name())
	} else {
		appLogger.Warn("No LLM API key configured, narration uses scripted fallbacks")
	}

	parser := narrator.NewParser(provider, appLogger)
	gameMaster := narrator.New(provider, appLogger)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ambient := narrator.NewAmbient(provider, appLogger, rng, cfg.AmbientEnabled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appLogger.Info("Bootstrapping WebSocket Hub...")
	hub := network.NewHub(appLogger)
	go hub.Run(ctx)

	api := httpapi.New(library, simEngine, sessionRepo, actionRepo, logRepo,
		parser, gameMaster, ambient, provider, hub, appLogger, cfg.TimeScale)

	mux := http.NewServeMux()
	api.Register(mux)
	mux.HandleFunc("/metrics", metrics.Handler())
	mux.HandleFunc("/metrics/prometheus", metrics.PrometheusHandler())

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second,
	}

	go func() {
		log.Printf("[SIM-SERVER] HTTP API & WS server listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	log.Println("[SIM-SERVER] Server running. Press Ctrl+C to exit.")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[SIM-SERVER] Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Shutdown error: " + err.Error())
	}
}
