package elevation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavitra93/thinkats-access/shared/models"
	"github.com/pavitra93/thinkats-access/shared/store"
	"github.com/pavitra93/thinkats-access/shared/store/storetest"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type sentMessage struct {
	to, subject, body string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{to, subject, body})
	return f.err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type managerFixture struct {
	store   *store.Store
	manager *Manager
	sender  *fakeSender
	user    *models.User
	now     time.Time
	hook    *logtest.Hook
}

func newManagerFixture(t *testing.T, locker Locker) *managerFixture {
	s := storetest.New(t)
	log, hook := logtest.NewNullLogger()
	f := &managerFixture{
		store:  s,
		sender: &fakeSender{},
		user:   storetest.User(t, s, "ada@acme.io", models.GlobalRoleNone),
		now:    t0,
		hook:   hook,
	}
	f.manager = NewManager(s, f.sender, locker, Config{CodeTTL: 10 * time.Minute, ReuseWindow: time.Minute}, log)
	f.manager.now = func() time.Time { return f.now }

	next := 100000
	var mu sync.Mutex
	f.manager.generate = func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		next += 111
		return strconv.Itoa(next), nil
	}
	return f
}

func TestIssue_PersistsAndDelivers(t *testing.T) {
	f := newManagerFixture(t, nil)

	code, err := f.manager.Issue(context.Background(), f.user.ID)
	require.NoError(t, err)

	assert.Len(t, code.Code, 6)
	assert.True(t, code.ExpiresAt.Equal(t0.Add(10*time.Minute)))
	assert.False(t, code.Consumed)

	require.Equal(t, 1, f.sender.count())
	assert.Equal(t, "ada@acme.io", f.sender.sent[0].to)
	assert.Contains(t, f.sender.sent[0].body, code.Code)
	assert.Contains(t, f.sender.sent[0].body, "10 minutes")
}

func TestIssue_ReusesWithinWindowAndMintsAfter(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	first, err := f.manager.Issue(ctx, f.user.ID)
	require.NoError(t, err)

	f.now = t0.Add(30 * time.Second)
	second, err := f.manager.Issue(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, 2, f.sender.count(), "a reused code is redelivered")

	f.now = t0.Add(61 * time.Second)
	third, err := f.manager.Issue(ctx, f.user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
	assert.NotEqual(t, first.Code, third.Code)
}

func TestIssue_NewCodeRetiresPreviousCode(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	first, err := f.manager.Issue(ctx, f.user.ID)
	require.NoError(t, err)

	f.now = t0.Add(2 * time.Minute)
	second, err := f.manager.Issue(ctx, f.user.ID)
	require.NoError(t, err)
	require.NotEqual(t, first.Code, second.Code)

	result, err := f.manager.Verify(ctx, f.user.ID, first.Code)
	require.NoError(t, err)
	assert.Equal(t, VerifyInvalidOrExpired, result)

	result, err = f.manager.Verify(ctx, f.user.ID, second.Code)
	require.NoError(t, err)
	assert.Equal(t, VerifyOK, result)
}

func TestIssue_ConsumedCodeIsNotReused(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	first, err := f.manager.Issue(ctx, f.user.ID)
	require.NoError(t, err)
	result, err := f.manager.Verify(ctx, f.user.ID, first.Code)
	require.NoError(t, err)
	require.Equal(t, VerifyOK, result)

	second, err := f.manager.Issue(ctx, f.user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestIssue_UnknownUser(t *testing.T) {
	f := newManagerFixture(t, nil)

	_, err := f.manager.Issue(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNoUser)
	assert.Zero(t, f.sender.count())
}

func TestIssue_DeliveryFailureIsLoggedOnly(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.sender.err = errors.New("ses throttled")

	code, err := f.manager.Issue(context.Background(), f.user.ID)
	require.NoError(t, err)
	require.NotNil(t, code)

	require.NotEmpty(t, f.hook.AllEntries())
	assert.Equal(t, logrus.WarnLevel, f.hook.LastEntry().Level)
	assert.Equal(t, "Failed to deliver elevation code", f.hook.LastEntry().Message)
}

func TestIssue_ConcurrentResendsShareOneCode(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newManagerFixture(t, NewRedisLocker(client, 5*time.Second, 2*time.Second))

	const n = 4
	ids := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code, err := f.manager.Issue(context.Background(), f.user.ID)
			if assert.NoError(t, err) {
				ids[i] = code.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestIssue_LockOutageDoesNotBlockIssuance(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	f := newManagerFixture(t, NewRedisLocker(client, time.Second, 100*time.Millisecond))

	code, err := f.manager.Issue(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.NotNil(t, code)

	entries := f.hook.AllEntries()
	require.NotEmpty(t, entries)
	assert.Equal(t, logrus.WarnLevel, entries[0].Level)
}

func TestVerify_SingleUse(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	code, err := f.manager.Issue(ctx, f.user.ID)
	require.NoError(t, err)

	result, err := f.manager.Verify(ctx, f.user.ID, code.Code)
	require.NoError(t, err)
	assert.Equal(t, VerifyOK, result)

	result, err = f.manager.Verify(ctx, f.user.ID, code.Code)
	require.NoError(t, err)
	assert.Equal(t, VerifyInvalidOrExpired, result)
}

func TestVerify_ConcurrentDuplicatesExactlyOneWins(t *testing.T) {
	for round := 0; round < 5; round++ {
		t.Run(fmt.Sprintf("round %d", round), func(t *testing.T) {
			f := newManagerFixture(t, nil)
			code, err := f.manager.Issue(context.Background(), f.user.ID)
			require.NoError(t, err)

			results := make([]VerifyResult, 2)
			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					r, err := f.manager.Verify(context.Background(), f.user.ID, code.Code)
					assert.NoError(t, err)
					results[i] = r
				}(i)
			}
			close(start)
			wg.Wait()

			assert.ElementsMatch(t, []VerifyResult{VerifyOK, VerifyInvalidOrExpired}, results)
		})
	}
}

func TestVerify_InvalidOrExpired(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	code, err := f.manager.Issue(ctx, f.user.ID)
	require.NoError(t, err)
	other := storetest.User(t, f.store, "bob@acme.io", models.GlobalRoleNone)

	tests := []struct {
		name   string
		userID uuid.UUID
		code   string
		at     time.Time
	}{
		{"wrong code", f.user.ID, "999999", t0},
		{"malformed", f.user.ID, "12ab56", t0},
		{"too short", f.user.ID, "12345", t0},
		{"another user", other.ID, code.Code, t0},
		{"expired", f.user.ID, code.Code, t0.Add(10 * time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.now = tt.at
			result, err := f.manager.Verify(ctx, tt.userID, tt.code)
			require.NoError(t, err)
			assert.Equal(t, VerifyInvalidOrExpired, result)
		})
	}

	f.now = t0.Add(time.Minute)
	result, err := f.manager.Verify(ctx, f.user.ID, " "+code.Code+" ")
	require.NoError(t, err)
	assert.Equal(t, VerifyOK, result)
}

func TestVerify_NeverRequested(t *testing.T) {
	f := newManagerFixture(t, nil)

	result, err := f.manager.Verify(context.Background(), f.user.ID, "123456")
	require.NoError(t, err)
	assert.Equal(t, VerifyInvalidOrExpired, result)
}

func TestGenerateCode_Range(t *testing.T) {
	for i := 0; i < 2000; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		n, err := strconv.Atoi(code)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, codeMin)
		assert.LessOrEqual(t, n, codeMax)
	}
}
