// Package store is the persistent store behind the access pipeline. Every method is a
// point lookup or a single atomic write; nothing is cached between requests.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pavitra93/thinkats-access/shared/models"
)

var (
	// ErrNotFound is returned when a point lookup matches no row
	ErrNotFound = errors.New("record not found")
	// ErrTenantHasDependents is returned when deleting a tenant that still owns records
	ErrTenantHasDependents = errors.New("tenant has dependent records")
)

// dependentTables are owned by the application modules outside the access core.
// A tenant is never deleted while any of them references it.
var dependentTables = []string{"jobs", "client_companies", "candidates"}

// Store implements the persistent store on gorm
type Store struct {
	db *gorm.DB
}

// New creates a store over an open gorm connection
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection for health checks
func (s *Store) DB() *gorm.DB {
	return s.db
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Tenants

func (s *Store) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	if err := s.db.WithContext(ctx).Create(tenant).Error; err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

func (s *Store) GetTenantByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&tenant).Error; err != nil {
		return nil, notFound(err)
	}
	return &tenant, nil
}

func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&tenant).Error; err != nil {
		return nil, notFound(err)
	}
	return &tenant, nil
}

// ListTenants returns every tenant ordered by name, for the super-admin picker
func (s *Store) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	var tenants []models.Tenant
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&tenants).Error; err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return tenants, nil
}

func (s *Store) UpdateTenantStatus(ctx context.Context, id uuid.UUID, status models.TenantStatus) (*models.Tenant, error) {
	res := s.db.WithContext(ctx).Model(&models.Tenant{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update tenant status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetTenantByID(ctx, id)
}

// DeleteTenant refuses, rather than cascades, when memberships or application records
// still reference the tenant. Otherwise the row is removed and its slug can be reused.
func (s *Store) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tenant models.Tenant
		if err := tx.Where("id = ?", id).First(&tenant).Error; err != nil {
			return notFound(err)
		}

		var members int64
		if err := tx.Model(&models.UserTenantRole{}).Where("tenant_id = ?", id).Count(&members).Error; err != nil {
			return fmt.Errorf("failed to count memberships: %w", err)
		}
		if members > 0 {
			return fmt.Errorf("%w: %d memberships", ErrTenantHasDependents, members)
		}

		for _, table := range dependentTables {
			if !tx.Migrator().HasTable(table) {
				continue
			}
			var count int64
			if err := tx.Table(table).Where("tenant_id = ?", id).Count(&count).Error; err != nil {
				return fmt.Errorf("failed to count %s: %w", table, err)
			}
			if count > 0 {
				return fmt.Errorf("%w: %d %s", ErrTenantHasDependents, count, table)
			}
		}

		return tx.Delete(&tenant).Error
	})
}

// Users

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", models.NormalizeEmail(email)).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// CreateUserIfAbsent inserts the user unless a row with the same email exists. A
// concurrent insert losing the unique-email race re-reads the winner's row.
func (s *Store) CreateUserIfAbsent(ctx context.Context, user *models.User) (*models.User, bool, error) {
	user.Email = models.NormalizeEmail(user.Email)
	if existing, err := s.GetUserByEmail(ctx, user.Email); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	createErr := s.db.WithContext(ctx).Create(user).Error
	if createErr == nil {
		return user, true, nil
	}

	existing, err := s.GetUserByEmail(ctx, user.Email)
	if err == nil {
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("failed to create user: %w", createErr)
}

// MarkCredentialsChanged stamps the credential change time; elevation markers issued
// before it stop counting.
func (s *Store) MarkCredentialsChanged(ctx context.Context, userID uuid.UUID, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("credentials_changed_at", at)
	if res.Error != nil {
		return fmt.Errorf("failed to mark credentials changed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Memberships

// ListMembershipsByUser loads every membership of the user in one query, primary first
// then by creation order, with the tenant preloaded.
func (s *Store) ListMembershipsByUser(ctx context.Context, userID uuid.UUID) ([]models.UserTenantRole, error) {
	var memberships []models.UserTenantRole
	err := s.db.WithContext(ctx).
		Preload("Tenant").
		Where("user_id = ?", userID).
		Order("is_primary DESC").
		Order("created_at ASC").
		Find(&memberships).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	return memberships, nil
}

func (s *Store) GetMembership(ctx context.Context, userID, tenantID uuid.UUID) (*models.UserTenantRole, error) {
	var membership models.UserTenantRole
	err := s.db.WithContext(ctx).Where("user_id = ? AND tenant_id = ?", userID, tenantID).First(&membership).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &membership, nil
}

// AddMembership grants a role; a primary grant clears any other primary of the user.
func (s *Store) AddMembership(ctx context.Context, membership *models.UserTenantRole) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if membership.IsPrimary {
			if err := tx.Model(&models.UserTenantRole{}).
				Where("user_id = ? AND is_primary = ?", membership.UserID, true).
				Update("is_primary", false).Error; err != nil {
				return fmt.Errorf("failed to clear primary membership: %w", err)
			}
		}
		if err := tx.Create(membership).Error; err != nil {
			return fmt.Errorf("failed to create membership: %w", err)
		}
		return nil
	})
}

// SetPrimaryMembership makes the (user, tenant) membership the only primary one.
func (s *Store) SetPrimaryMembership(ctx context.Context, userID, tenantID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var membership models.UserTenantRole
		if err := tx.Where("user_id = ? AND tenant_id = ?", userID, tenantID).First(&membership).Error; err != nil {
			return notFound(err)
		}
		if err := tx.Model(&models.UserTenantRole{}).
			Where("user_id = ? AND id <> ?", userID, membership.ID).
			Update("is_primary", false).Error; err != nil {
			return fmt.Errorf("failed to clear primary membership: %w", err)
		}
		return tx.Model(&membership).Update("is_primary", true).Error
	})
}

// Elevation codes

func (s *Store) CreateElevationCode(ctx context.Context, code *models.ElevationCode) error {
	if err := s.db.WithContext(ctx).Create(code).Error; err != nil {
		return fmt.Errorf("failed to create elevation code: %w", err)
	}
	return nil
}

// ReplaceElevationCode retires every live code of code.UserID and inserts code in one
// transaction, so a user never holds more than one verifiable code. It returns how many
// codes were retired.
func (s *Store) ReplaceElevationCode(ctx context.Context, code *models.ElevationCode, now time.Time) (int64, error) {
	var retired int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ElevationCode{}).
			Where("user_id = ? AND consumed = ? AND expires_at > ?", code.UserID, false, now).
			Updates(map[string]interface{}{"consumed": true, "consumed_at": now})
		if res.Error != nil {
			return fmt.Errorf("failed to retire live elevation codes: %w", res.Error)
		}
		retired = res.RowsAffected

		if err := tx.Create(code).Error; err != nil {
			return fmt.Errorf("failed to create elevation code: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return retired, nil
}

// FindLiveElevationCode returns the newest unconsumed, unexpired code created after since.
func (s *Store) FindLiveElevationCode(ctx context.Context, userID uuid.UUID, since, now time.Time) (*models.ElevationCode, error) {
	var code models.ElevationCode
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND consumed = ? AND expires_at > ? AND created_at >= ?", userID, false, now, since).
		Order("created_at DESC").
		First(&code).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &code, nil
}

// FindMatchingElevationCode returns the newest unconsumed, unexpired code with exactly value.
func (s *Store) FindMatchingElevationCode(ctx context.Context, userID uuid.UUID, value string, now time.Time) (*models.ElevationCode, error) {
	var code models.ElevationCode
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND code = ? AND consumed = ? AND expires_at > ?", userID, value, false, now).
		Order("created_at DESC").
		First(&code).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &code, nil
}

// ConsumeElevationCode marks the code consumed only if it is still unconsumed. It
// reports whether this call won; a concurrent duplicate gets false.
func (s *Store) ConsumeElevationCode(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.ElevationCode{}).
		Where("id = ? AND consumed = ? AND expires_at > ?", id, false, now).
		Updates(map[string]interface{}{"consumed": true, "consumed_at": now})
	if res.Error != nil {
		return false, fmt.Errorf("failed to consume elevation code: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// PurgeElevationCodes deletes codes that expired or were consumed before cutoff.
func (s *Store) PurgeElevationCodes(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).Model(&models.ElevationCode{}).
		Where("expires_at < ? OR (consumed = ? AND consumed_at < ?)", cutoff, true, cutoff).
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("failed to select dead elevation codes: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.ElevationCode{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge elevation codes: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ElevationCodeStats counts codes by state for the sweeper's stats endpoint
func (s *Store) ElevationCodeStats(ctx context.Context, now time.Time) (live, consumed, expired int64, err error) {
	db := s.db.WithContext(ctx)
	if err = db.Model(&models.ElevationCode{}).Where("consumed = ? AND expires_at > ?", false, now).Count(&live).Error; err != nil {
		return
	}
	if err = db.Model(&models.ElevationCode{}).Where("consumed = ?", true).Count(&consumed).Error; err != nil {
		return
	}
	err = db.Model(&models.ElevationCode{}).Where("consumed = ? AND expires_at <= ?", false, now).Count(&expired).Error
	return
}
