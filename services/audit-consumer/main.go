package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/pavitra93/thinkats-access/shared/bootstrap"
	"github.com/pavitra93/thinkats-access/shared/config"
	"github.com/pavitra93/thinkats-access/shared/utils"
)

func main() {
	logger := config.NewLogger("audit-consumer")

	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	cfg := config.GetAccessConfig()
	if cfg.KafkaBroker == "" {
		log.Fatal("KAFKA_BROKER must be set")
	}

	consumer := NewAuditConsumer(cfg.KafkaBroker, cfg.AuditTopic, logger)
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start consumer in background
	go consumer.Run(ctx)

	router := bootstrap.NewRouter("Audit consumer")
	router.GET("/stats", handleGetStats(consumer))

	port := os.Getenv("AUDIT_CONSUMER_PORT")
	if port == "" {
		port = "8004"
	}

	logger.Infof("Audit consumer starting on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start audit consumer:", err)
	}
}

func handleGetStats(consumer *AuditConsumer) gin.HandlerFunc {
	return func(c *gin.Context) {
		utils.OKResponse(c, "Audit events consumed", consumer.Counts())
	}
}
