// Package elevation issues and verifies the one-time codes that upgrade a session to
// elevated, and reads the marker cookie that records it.
package elevation

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/thinkats-access/shared/metrics"
	"github.com/pavitra93/thinkats-access/shared/models"
	"github.com/pavitra93/thinkats-access/shared/store"
)

// ErrNoUser is returned when issuing for a user id with no row
var ErrNoUser = errors.New("elevation requires a provisioned user")

const (
	codeMin = 100000
	codeMax = 999999
)

// VerifyResult is the outcome of verifying a submitted code
type VerifyResult int

const (
	VerifyInvalidOrExpired VerifyResult = iota
	VerifyOK
)

func (r VerifyResult) String() string {
	if r == VerifyOK {
		return "ok"
	}
	return "invalid_or_expired"
}

// Sender delivers a message to an email address
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// CodeStore is the slice of the persistent store the manager needs
type CodeStore interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	ReplaceElevationCode(ctx context.Context, code *models.ElevationCode, now time.Time) (int64, error)
	FindLiveElevationCode(ctx context.Context, userID uuid.UUID, since, now time.Time) (*models.ElevationCode, error)
	FindMatchingElevationCode(ctx context.Context, userID uuid.UUID, value string, now time.Time) (*models.ElevationCode, error)
	ConsumeElevationCode(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}

// Config holds the manager's timing knobs
type Config struct {
	CodeTTL     time.Duration
	ReuseWindow time.Duration
}

// Manager runs the NONE -> ISSUED -> CONSUMED|EXPIRED state machine per user
type Manager struct {
	store  CodeStore
	sender Sender
	locker Locker
	cfg    Config
	log    logrus.FieldLogger

	now      func() time.Time
	generate func() (string, error)
}

// NewManager creates a manager. locker may be nil, in which case concurrent issuance
// is only deduplicated by the reuse window.
func NewManager(store CodeStore, sender Sender, locker Locker, cfg Config, log logrus.FieldLogger) *Manager {
	return &Manager{
		store:    store,
		sender:   sender,
		locker:   locker,
		cfg:      cfg,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		generate: generateCode,
	}
}

// Issue mints a code for userID and sends it, or redelivers the live code minted within
// the reuse window. Minting retires any older live code. Delivery failures are logged
// and do not fail the call.
func (m *Manager) Issue(ctx context.Context, userID uuid.UUID) (*models.ElevationCode, error) {
	user, err := m.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoUser
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if m.locker != nil {
		release, err := m.locker.Acquire(ctx, userID.String())
		if err != nil {
			m.log.WithFields(logrus.Fields{
				"user_id": userID,
				"error":   err,
			}).Warn("Issue lock unavailable, continuing without it")
		} else {
			defer release()
		}
	}

	now := m.now()
	code, err := m.store.FindLiveElevationCode(ctx, userID, now.Add(-m.cfg.ReuseWindow), now)
	reused := err == nil
	switch {
	case reused:
	case errors.Is(err, store.ErrNotFound):
		value, err := m.generate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate elevation code: %w", err)
		}
		code = &models.ElevationCode{
			UserID:    userID,
			Code:      value,
			ExpiresAt: now.Add(m.cfg.CodeTTL),
			CreatedAt: now,
		}
		retired, err := m.store.ReplaceElevationCode(ctx, code, now)
		if err != nil {
			return nil, err
		}
		if retired > 0 {
			m.log.WithFields(logrus.Fields{
				"user_id": userID,
				"retired": retired,
			}).Debug("Superseded live elevation codes")
		}
	default:
		return nil, fmt.Errorf("failed to look up live elevation code: %w", err)
	}

	metrics.ElevationCodesIssued.WithLabelValues(strconv.FormatBool(reused)).Inc()
	m.deliver(ctx, user, code)
	return code, nil
}

func (m *Manager) deliver(ctx context.Context, user *models.User, code *models.ElevationCode) {
	if m.sender == nil {
		return
	}
	minutes := int(code.ExpiresAt.Sub(code.CreatedAt).Round(time.Minute) / time.Minute)
	body := fmt.Sprintf("Your ThinkATS verification code is %s. It expires in %d minutes.", code.Code, minutes)
	if err := m.sender.Send(ctx, user.Email, "Your ThinkATS verification code", body); err != nil {
		m.log.WithFields(logrus.Fields{
			"user_id": user.ID,
			"code_id": code.ID,
			"error":   err,
		}).Warn("Failed to deliver elevation code")
	}
}

// Verify consumes the newest live code for userID equal to submitted. Wrong, expired,
// already used and never requested codes are indistinguishable to the caller.
func (m *Manager) Verify(ctx context.Context, userID uuid.UUID, submitted string) (VerifyResult, error) {
	result, err := m.verify(ctx, userID, strings.TrimSpace(submitted))
	if err != nil {
		return VerifyInvalidOrExpired, err
	}
	metrics.ElevationVerifications.WithLabelValues(result.String()).Inc()
	return result, nil
}

func (m *Manager) verify(ctx context.Context, userID uuid.UUID, submitted string) (VerifyResult, error) {
	if !wellFormed(submitted) {
		return VerifyInvalidOrExpired, nil
	}

	now := m.now()
	code, err := m.store.FindMatchingElevationCode(ctx, userID, submitted, now)
	if errors.Is(err, store.ErrNotFound) {
		return VerifyInvalidOrExpired, nil
	}
	if err != nil {
		return VerifyInvalidOrExpired, fmt.Errorf("failed to look up elevation code: %w", err)
	}

	won, err := m.store.ConsumeElevationCode(ctx, code.ID, now)
	if err != nil {
		return VerifyInvalidOrExpired, err
	}
	if !won {
		return VerifyInvalidOrExpired, nil
	}
	return VerifyOK, nil
}

func wellFormed(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// generateCode draws uniformly from [100000, 999999]
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+codeMin, 10), nil
}
