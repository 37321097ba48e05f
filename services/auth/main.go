package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/gin-gonic/gin"

	"github.com/pavitra93/thinkats-access/shared/access"
	"github.com/pavitra93/thinkats-access/shared/bootstrap"
	"github.com/pavitra93/thinkats-access/shared/elevation"
	"github.com/pavitra93/thinkats-access/shared/middleware"
	"github.com/pavitra93/thinkats-access/shared/notify"
	"github.com/pavitra93/thinkats-access/shared/utils"
)

func main() {
	stack, err := bootstrap.Load("auth-service")
	if err != nil {
		log.Fatal("Failed to initialize auth service:", err)
	}
	defer stack.Close()

	cfg := stack.Config

	// Concurrent resends are serialized through redis when it is configured
	var locker elevation.Locker
	if addr := cfg.RedisAddr(); addr != "" {
		client, err := utils.NewRedisClient(context.Background(), addr)
		if err != nil {
			stack.Log.WithError(err).Warn("Redis unavailable, elevation issuance runs without a lock")
		} else {
			stack.OnClose(client.Close)
			locker = elevation.NewRedisLocker(client, 5*time.Second, 2*time.Second)
		}
	}

	var sender elevation.Sender = notify.LogSender{Log: stack.Log}
	if os.Getenv("EMAIL_TRANSPORT") != "log" {
		sender = notify.NewSESSender(ses.New(stack.AWS), cfg.SESSender)
	}

	manager := elevation.NewManager(stack.Store, sender, locker, elevation.Config{
		CodeTTL:     cfg.ElevationCodeTTL,
		ReuseWindow: cfg.ElevationReuseWindow,
	}, stack.Log)

	h := &authHandlers{
		pipeline:    stack.Access.Pipeline(),
		elevation:   manager,
		accounts:    stack.Cognito,
		credentials: stack.Store,
		cookies:     stack.Cookies,
		audit:       stack.Audit,
		log:         stack.Log,
	}

	router := bootstrap.NewRouter("Auth service")
	registerRoutes(router, h, stack.Access)

	port := os.Getenv("AUTH_SERVICE_PORT")
	if port == "" {
		port = "8001"
	}

	stack.Log.Infof("Auth service starting on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start auth service:", err)
	}
}

func registerRoutes(router *gin.Engine, h *authHandlers, am *middleware.AccessMiddleware) {
	provisioned := am.RequireAccess(access.Rule{})

	auth := router.Group("/auth")
	auth.Use(am.Resolve())
	{
		auth.GET("/me", am.RequireSession(), h.handleMe)
		auth.POST("/provision", am.RequireSession(), h.handleProvision)
		auth.POST("/elevation/request", provisioned, h.handleRequestElevation)
		auth.POST("/elevation/verify", provisioned, h.handleVerifyElevation)
		auth.POST("/password", am.RequireAccess(access.Rule{RequireElevation: true}), h.handleChangePassword)
		auth.POST("/logout", am.RequireSession(), h.handleLogout)
	}
}
