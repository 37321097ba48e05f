package main

import (
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/thinkats-access/shared/access"
	"github.com/pavitra93/thinkats-access/shared/bootstrap"
	"github.com/pavitra93/thinkats-access/shared/middleware"
	"github.com/pavitra93/thinkats-access/shared/models"
	"github.com/pavitra93/thinkats-access/shared/store"
)

func main() {
	stack, err := bootstrap.Load("tenant-service")
	if err != nil {
		log.Fatal("Failed to initialize tenant service:", err)
	}
	defer stack.Close()

	router := bootstrap.NewRouter("Tenant service")
	registerRoutes(router, stack.Store, stack.Access, stack.Cookies, stack.Log)

	port := os.Getenv("TENANT_SERVICE_PORT")
	if port == "" {
		port = "8002"
	}

	stack.Log.Infof("Tenant service starting on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start tenant service:", err)
	}
}

func registerRoutes(router *gin.Engine, st *store.Store, am *middleware.AccessMiddleware, cookies middleware.Cookies, log logrus.FieldLogger) {
	provisioned := am.RequireAccess(access.Rule{})
	superAdmin := am.RequireSuperAdmin(true)

	tenants := router.Group("/tenants")
	tenants.Use(am.Resolve())
	{
		// Picker and selection
		tenants.GET("", provisioned, handleListTenants(st))
		tenants.POST("/select", provisioned, handleSelectTenant(st, cookies))
		tenants.GET("/current", am.RequireAccess(access.Rule{RequireTenant: true}), handleGetCurrentTenant())
		tenants.POST("/:id/primary", provisioned, handleSetPrimary(st))

		// Membership management within the current tenant
		tenants.POST("/current/members", am.RequireAccess(access.Rule{
			RequireTenant:    true,
			RequireElevation: true,
			Roles:            []models.Role{models.RoleOwner, models.RoleAdmin},
		}), handleAddMember(st))

		// Platform administration
		tenants.POST("", superAdmin, handleCreateTenant(st, log))
		tenants.PUT("/:id/status", superAdmin, handleUpdateStatus(st))
		tenants.DELETE("/:id", superAdmin, handleDeleteTenant(st, log))
	}
}
