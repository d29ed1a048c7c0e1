// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/27willir/Botifex-sub002/internal/backend"
	"github.com/27willir/Botifex-sub002/internal/config"
	"github.com/27willir/Botifex-sub002/internal/db"
	httpapi "github.com/27willir/Botifex-sub002/internal/http"
	"github.com/27willir/Botifex-sub002/internal/models"
	"github.com/27willir/Botifex-sub002/internal/policy"
	"github.com/27willir/Botifex-sub002/internal/realtime"
	"github.com/27willir/Botifex-sub002/internal/token"
	"github.com/27willir/Botifex-sub002/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting realtime server",
		"version", "1.0.0",
		"port", cfg.Server.Port,
		"worker_id", cfg.Realtime.WorkerID,
		"environment", os.Getenv("ENV"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Postgres est optionnel: sans base, les policies viennent du fichier
	// statique et des valeurs par défaut.
	var pool = connectDatabase(ctx, cfg, log)
	if pool != nil {
		defer pool.Close()
	}

	// Le backend d'état distribué est choisi une fois au démarrage. Sans
	// Redis joignable, repli sur le backend in-process: mono-worker, état
	// perdu au redémarrage.
	rdb, stateBackend := selectBackend(ctx, cfg, log)
	if rdb != nil {
		defer rdb.Close()
	}
	defer stateBackend.Close()

	// Token service
	tokens, err := token.NewService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.Expiration)
	if err != nil {
		log.Fatal("Failed to initialize token service", "error", err)
	}

	// Coeur temps réel
	bus := realtime.NewBus(stateBackend, cfg.Realtime.WorkerID, log)
	presence := realtime.NewPresenceTracker(stateBackend, bus, cfg.Realtime.PresenceTTL, log)
	typing := realtime.NewTypingCoordinator(stateBackend, bus, cfg.Realtime.TypingTTL, cfg.Realtime.TypingMinInterval, log)

	// Channel policies: base + fichier statique optionnel
	var store policy.Store
	if pool != nil {
		store = policy.NewPGStore(pool)
	}
	var policyFile *policy.File
	if cfg.Realtime.PolicyFile != "" {
		policyFile, err = policy.LoadFile(cfg.Realtime.PolicyFile)
		if err != nil {
			log.Fatal("Failed to load policy file", "path", cfg.Realtime.PolicyFile, "error", err)
		}
		log.Info("Static channel policies loaded", "path", cfg.Realtime.PolicyFile, "channels", len(policyFile.Channels))
	}

	slowMode := realtime.NewSlowModeController(stateBackend, nil, cfg.Realtime.DefaultCooldown)
	policies := policy.NewService(store, policyFile, slowMode, nil, log)
	slowMode.SetExempter(policies)
	slowMode.SetResolver(policies)

	if err := policies.Refresh(ctx); err != nil {
		log.Error("Initial policy refresh failed", "error", err)
	}
	go policies.Run(ctx, time.Minute)

	gateway := realtime.NewGateway(tokens, presence, typing, slowMode, bus, cfg.Realtime.WorkerID, log)
	go gateway.Run()

	// Initialize HTTP server
	server := httpapi.NewServer(pool, rdb, stateBackend, cfg, log, tokens, gateway, presence, typing, policies)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("API server listening",
			"address", httpServer.Addr,
			"backend", stateBackend.Name())

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	// Wait for interrupt signal or server error
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatal("Server error", "error", err)

	case sig := <-interrupt:
		log.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		// Les clients reçoivent SERVER_SHUTDOWN avant la fermeture HTTP.
		log.Info("Disconnecting realtime clients...")
		gateway.Shutdown()

		log.Info("Shutting down server...")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Graceful shutdown failed", "error", err)

			if closeErr := httpServer.Close(); closeErr != nil {
				log.Error("Force close failed", "error", closeErr)
			}
		}

		log.Info("Server stopped gracefully")
	}
}

// connectDatabase tente Postgres et applique les migrations. Une base
// injoignable n'empêche pas le serveur de démarrer.
func connectDatabase(ctx context.Context, cfg *config.Config, log *logger.Logger) *pgxpool.Pool {
	pool, err := db.New(ctx, cfg.Database)
	if err != nil {
		log.Warn("Database unavailable, channel policies limited to static file", "error", err)
		return nil
	}

	if err := models.Migrate(ctx, pool); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}
	return pool
}

// selectBackend fait le choix Redis-ou-local du backend d'état, une seule
// fois, avec un seul avertissement en mode dégradé.
func selectBackend(ctx context.Context, cfg *config.Config, log *logger.Logger) (*redis.Client, backend.Backend) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		log.Warn("Redis unavailable, falling back to in-process state backend: single worker only, state lost on restart", "error", err)
		return nil, backend.NewLocalBackend()
	}

	log.Info("Redis connected", "addr", cfg.Redis.Addr)
	return rdb, backend.NewRedisBackend(rdb, log)
}
