package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pavitra93/thinkats-access/shared/access"
	"github.com/pavitra93/thinkats-access/shared/bootstrap"
	"github.com/pavitra93/thinkats-access/shared/middleware"
	"github.com/pavitra93/thinkats-access/shared/models"
	"github.com/pavitra93/thinkats-access/shared/utils"
)

var (
	// Any member of the tenant may read
	readRule = access.Rule{RequireTenant: true}

	// Writes need a hiring role and a recently verified session
	writeRule = access.Rule{
		RequireTenant:    true,
		RequireElevation: true,
		Roles:            []models.Role{models.RoleOwner, models.RoleAdmin, models.RoleRecruiter},
	}
)

func main() {
	stack, err := bootstrap.Load("api-gateway")
	if err != nil {
		log.Fatal("Failed to initialize API gateway:", err)
	}
	defer stack.Close()

	serviceClients := &ServiceClients{
		AuthService:   NewServiceClient("auth_service", os.Getenv("AUTH_SERVICE_URL"), stack.Log),
		TenantService: NewServiceClient("tenant_service", os.Getenv("TENANT_SERVICE_URL"), stack.Log),
		AppService:    NewServiceClient("app_service", os.Getenv("APP_SERVICE_URL"), stack.Log),
	}

	router := bootstrap.NewRouter("API Gateway")
	router.Use(corsMiddleware(stack.Config.RootDomain))
	registerRoutes(router, serviceClients, stack.Access)

	port := os.Getenv("API_GATEWAY_PORT")
	if port == "" {
		port = "8080"
	}

	stack.Log.Infof("API Gateway starting on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start API Gateway:", err)
	}
}

func registerRoutes(router *gin.Engine, clients *ServiceClients, am *middleware.AccessMiddleware) {
	router.GET("/status", func(c *gin.Context) {
		utils.OKResponse(c, "Service status", clients.GetServiceStatus(c.Request.Context()))
	})

	// The auth and tenant services run the access pipeline themselves
	router.Any("/auth/*path", clients.AuthService.ProxyRequest)
	router.Any("/tenants", clients.TenantService.ProxyRequest)
	router.Any("/tenants/*path", clients.TenantService.ProxyRequest)

	api := router.Group("/api")
	api.Use(am.Resolve())
	{
		reads := am.RequireAccess(readRule)
		writes := am.RequireAccess(writeRule)

		api.GET("/*path", reads, clients.AppService.ProxyRequest)
		api.HEAD("/*path", reads, clients.AppService.ProxyRequest)
		api.POST("/*path", writes, clients.AppService.ProxyRequest)
		api.PUT("/*path", writes, clients.AppService.ProxyRequest)
		api.PATCH("/*path", writes, clients.AppService.ProxyRequest)
		api.DELETE("/*path", writes, clients.AppService.ProxyRequest)
	}
}

// corsMiddleware allows credentialed requests from the root domain and its tenant subdomains
func corsMiddleware(rootDomain string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowedOrigin(origin, rootDomain) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func allowedOrigin(origin, rootDomain string) bool {
	host := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host != "" && (host == rootDomain || strings.HasSuffix(host, "."+rootDomain))
}
