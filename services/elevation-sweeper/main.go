package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/pavitra93/thinkats-access/shared/bootstrap"
	"github.com/pavitra93/thinkats-access/shared/config"
	"github.com/pavitra93/thinkats-access/shared/store"
	"github.com/pavitra93/thinkats-access/shared/utils"
)

func main() {
	logger := config.NewLogger("elevation-sweeper")

	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	db, err := config.ConnectDatabase(config.GetDatabaseConfig())
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := config.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	sweeper := NewSweeper(
		store.New(db),
		envDuration("SWEEP_RETENTION", 24*time.Hour),
		envDuration("SWEEP_INTERVAL", 5*time.Minute),
		envInt("SWEEP_BATCH_SIZE", 500),
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start sweeper in background
	go sweeper.Run(ctx)

	router := bootstrap.NewRouter("Elevation sweeper")
	router.GET("/stats", handleGetStats(sweeper))

	port := os.Getenv("SWEEPER_PORT")
	if port == "" {
		port = "8005"
	}

	logger.Infof("Elevation sweeper starting on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start elevation sweeper:", err)
	}
}

func handleGetStats(sweeper *Sweeper) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := sweeper.Stats(c.Request.Context())
		if err != nil {
			utils.InternalServerErrorResponse(c, "Failed to read elevation code stats")
			return
		}
		utils.OKResponse(c, "Elevation code stats", stats)
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return fallback
}
