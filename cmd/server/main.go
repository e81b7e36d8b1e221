package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prompt-enhancer/bridge/api/handlers"
	"github.com/prompt-enhancer/bridge/internal/bridge"
	"github.com/prompt-enhancer/bridge/internal/buffer"
	"github.com/prompt-enhancer/bridge/internal/conn"
	"github.com/prompt-enhancer/bridge/internal/db"
	"github.com/prompt-enhancer/bridge/internal/enhancer"
	"github.com/prompt-enhancer/bridge/internal/fanout"
	"github.com/prompt-enhancer/bridge/internal/registry"
	"github.com/prompt-enhancer/bridge/internal/relay"
	"github.com/prompt-enhancer/bridge/internal/repository"
)

func main() {
	// Load .env if present; real environment variables win
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	// Get configuration from environment
	port := getEnv("PORT", "8080")
	enhancerURL := getEnv("ENHANCER_URL", "http://localhost:5000")
	dbPath := getEnv("DB_PATH", "data/bridge.db")
	replayCapacity := getEnvInt("REPLAY_CAPACITY", 256)
	sweepInterval := getEnvDuration("SWEEP_INTERVAL", 5*time.Minute)
	idleThreshold := getEnvDuration("IDLE_THRESHOLD", 30*time.Minute)

	// Ensure data directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	// Initialize database
	database, err := db.InitDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.CloseDB()

	// Initialize repository
	resultRepo := repository.NewResultRepository(database)

	// Shared state: session registry, push fan-out, event replay buffer
	reg := registry.NewRegistry()
	events := fanout.NewBroadcaster()
	replay := buffer.NewEventBuffer(replayCapacity)

	// Initialize connection manager and enhancer client
	connManager := conn.NewManager(conn.DefaultConfig(enhancerURL), reg, events, replay, resultRepo)
	defer connManager.Close()

	enhancerClient := enhancer.NewClient(enhancerURL, 0)

	// Initialize dispatcher
	dispatcher := relay.NewDispatcher(reg, connManager, enhancerClient, events, resultRepo)

	// Initialize idle eviction sweeper
	sweeper := registry.NewSweeper(registry.SweeperConfig{
		Interval:      sweepInterval,
		IdleThreshold: idleThreshold,
	}, reg, connManager.Disconnect)
	if err := sweeper.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start sweeper: %v", err)
	}
	defer sweeper.Stop()

	// Initialize WebSocket bridge and forward pushes to connected peers
	hub := bridge.NewHub()
	bridgeHandler := bridge.NewHandler(hub, dispatcher, replay)
	unsubscribe := events.Subscribe(bridgeHandler.Forward)
	defer unsubscribe()

	// Initialize handlers
	enhanceHandler := handlers.NewEnhanceHandler(dispatcher, reg, resultRepo)
	wsHandler := handlers.NewWebSocketHandler(bridgeHandler)

	// Initialize Gin router
	r := gin.Default()

	// Enable CORS for development
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":   "ok",
			"sessions": reg.Len(),
		})
	})

	// API routes
	api := r.Group("/api")
	{
		enhanceHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down server...")
		sweeper.Stop()
		connManager.Close()
		hub.Close()
		db.CloseDB()
		os.Exit(0)
	}()

	// Start server
	log.Printf("Starting server on port %s (enhancer backend %s)", port, enhancerURL)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("Invalid value for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Invalid value for %s, using default %s", key, defaultValue)
	}
	return defaultValue
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
