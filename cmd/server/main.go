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
	"github.com/printfleet/fleetdir/internal/api"
	"github.com/printfleet/fleetdir/internal/config"
	"github.com/printfleet/fleetdir/internal/database"
	"github.com/printfleet/fleetdir/internal/repositories"
	"github.com/printfleet/fleetdir/internal/seed"
	"github.com/printfleet/fleetdir/internal/services"
)

func main() {
	ctx := context.Background()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database connections
	postgresPool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create postgres pool: %v", err)
	}
	defer postgresPool.Close()

	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to create redis client: %v", err)
	}
	defer redisClient.Close()

	// Wire the registry stack
	store := repositories.NewPostgresAccountStore(postgresPool)
	presenceCache := repositories.NewRedisPresenceCache(redisClient)

	registry := services.NewOwnershipRegistry(store)
	tracker := services.NewPresenceTracker(store, presenceCache)
	facade := services.NewQueryFacade(store)

	if cfg.SeedExampleData {
		if err := seed.Apply(ctx, store, cfg.ServerID); err != nil {
			log.Fatalf("Failed to seed example data: %v", err)
		}
		log.Println("Example directory data seeded")
	}

	handler := api.NewHandler(store, registry, tracker, facade, presenceCache, cfg.ServerID)
	verifier := api.NewIdentityVerifier(cfg.TokenSecret)
	router := api.NewRouter(handler, verifier)

	// Start Server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	// graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("Starting server on port %s", cfg.ServerPort)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped gracefully")
}
