// Package storetest opens throwaway in-memory stores for tests
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pavitra93/thinkats-access/shared/config"
	"github.com/pavitra93/thinkats-access/shared/models"
	"github.com/pavitra93/thinkats-access/shared/store"
)

// New returns a migrated store over a private in-memory sqlite database. The pool is
// pinned to one connection so every query sees the same database.
func New(t testing.TB) *store.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, config.Migrate(db))
	return store.New(db)
}

// Tenant creates a tenant with the given slug and status
func Tenant(t testing.TB, s *store.Store, slug string, status models.TenantStatus) *models.Tenant {
	t.Helper()
	tenant := &models.Tenant{Slug: slug, Name: slug, Status: status}
	require.NoError(t, s.CreateTenant(context.Background(), tenant))
	return tenant
}

// User creates a user with the given email and global role
func User(t testing.TB, s *store.Store, email string, role models.GlobalRole) *models.User {
	t.Helper()
	user := &models.User{Email: email, ExternalID: uuid.NewString(), GlobalRole: role}
	require.NoError(t, s.DB().Create(user).Error)
	return user
}

// Membership grants user a role in tenant. createdAt orders memberships deterministically.
func Membership(t testing.TB, s *store.Store, user *models.User, tenant *models.Tenant, role models.Role, primary bool, createdAt time.Time) *models.UserTenantRole {
	t.Helper()
	membership := &models.UserTenantRole{
		UserID:    user.ID,
		TenantID:  tenant.ID,
		Role:      role,
		IsPrimary: primary,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	require.NoError(t, s.AddMembership(context.Background(), membership))
	return membership
}
