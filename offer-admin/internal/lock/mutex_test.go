package lock

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/apperr"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/retry"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/store"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newMutex(t *testing.T) (*Mutex, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	st := store.NewMemoryStore().WithClock(c.Now)
	return New(st, retry.New(retry.DefaultPolicy(), nil), Config{}, log.New(io.Discard, "", 0)), c
}

func TestSecondAcquireIsBusy(t *testing.T) {
	ctx := context.Background()
	m, _ := newMutex(t)

	require.NoError(t, m.Acquire(ctx, "billing", models.EnvStaging))
	err := m.Acquire(ctx, "billing", models.EnvStaging)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBusy))

	// other environments are independent
	assert.NoError(t, m.Acquire(ctx, "billing", models.EnvProduction))
}

func TestAcquireAfterRelease(t *testing.T) {
	ctx := context.Background()
	m, _ := newMutex(t)

	require.NoError(t, m.Acquire(ctx, "billing", models.EnvStaging))
	require.NoError(t, m.Release(ctx, "billing", models.EnvStaging))
	assert.NoError(t, m.Acquire(ctx, "billing", models.EnvStaging))
}

func TestReleaseIsIdempotent(t *testing.T) {
	m, _ := newMutex(t)
	assert.NoError(t, m.Release(context.Background(), "billing", models.EnvStaging))
	assert.NoError(t, m.Release(context.Background(), "billing", models.EnvStaging))
}

func TestStaleLockIsTakenOver(t *testing.T) {
	ctx := context.Background()
	m, c := newMutex(t)

	require.NoError(t, m.Acquire(ctx, "billing", models.EnvStaging))
	c.now = c.now.Add(29 * time.Second)
	assert.True(t, apperr.Is(m.Acquire(ctx, "billing", models.EnvStaging), apperr.KindBusy))

	c.now = c.now.Add(2 * time.Second)
	st, err := m.Status(ctx, "billing", models.EnvStaging)
	require.NoError(t, err)
	assert.True(t, st.Stale)

	require.NoError(t, m.Acquire(ctx, "billing", models.EnvStaging))
	st, err = m.Status(ctx, "billing", models.EnvStaging)
	require.NoError(t, err)
	assert.False(t, st.Stale)
	assert.True(t, st.Held)
}

func TestWithLockReleasesOnFailure(t *testing.T) {
	ctx := context.Background()
	m, _ := newMutex(t)

	err := m.WithLock(ctx, "billing", models.EnvStaging, func(context.Context) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	st, err := m.Status(ctx, "billing", models.EnvStaging)
	require.NoError(t, err)
	assert.False(t, st.Held)
}

// lostReplyStore commits the first lock insert and then reports a timeout, as
// a dropped database reply looks to the caller.
type lostReplyStore struct {
	*store.MemoryStore
	dropped bool
}

func (s *lostReplyStore) InsertLock(ctx context.Context, system string, env models.Env, owner, token string) (models.RemoteLock, error) {
	l, err := s.MemoryStore.InsertLock(ctx, system, env, owner, token)
	if err == nil && !s.dropped {
		s.dropped = true
		return models.RemoteLock{}, fmt.Errorf("insert remote lock: %w", context.DeadlineExceeded)
	}
	return l, err
}

func TestAcquireAfterLostInsertReply(t *testing.T) {
	ctx := context.Background()
	st := &lostReplyStore{MemoryStore: store.NewMemoryStore()}
	retrier := retry.New(retry.DefaultPolicy(), nil).WithSleep(func(context.Context, time.Duration) error { return nil })
	logger := log.New(io.Discard, "", 0)
	m := New(st, retrier, Config{Owner: "replica-a"}, logger)

	require.NoError(t, m.Acquire(ctx, "billing", models.EnvStaging))
	assert.True(t, st.dropped)

	other := New(st, retrier, Config{Owner: "replica-b"}, logger)
	assert.True(t, apperr.Is(other.Acquire(ctx, "billing", models.EnvStaging), apperr.KindBusy))

	require.NoError(t, m.Release(ctx, "billing", models.EnvStaging))
	assert.NoError(t, other.Acquire(ctx, "billing", models.EnvStaging))
}
