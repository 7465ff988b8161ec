// Package lock implements the row-backed remote mutex that serializes writes
// to one remote system per environment across replicas.
//
// Staleness is detected lazily on the next acquire. A lock abandoned by a
// crashed holder therefore blocks for at most the staleness threshold plus the
// time until the next acquire attempt.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/apperr"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/retry"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/store"
)

const DefaultStaleAfter = 30 * time.Second

type Config struct {
	StaleAfter time.Duration
	// Owner identifies this replica in lock rows; informational only.
	Owner string
}

type Mutex struct {
	store      store.LockStore
	retrier    *retry.Retrier
	staleAfter time.Duration
	owner      string
	logger     *log.Logger
}

func New(st store.LockStore, retrier *retry.Retrier, cfg Config, logger *log.Logger) *Mutex {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Mutex{store: st, retrier: retrier, staleAfter: cfg.StaleAfter, owner: cfg.Owner, logger: logger}
}

// Acquire takes the lock for (system, env). A live lock held by someone else
// fails immediately with a remote-busy error; an abandoned one is replaced.
// A row carrying this call's token counts as acquired: the insert committed
// on an attempt whose reply was lost.
func (m *Mutex) Acquire(ctx context.Context, system string, env models.Env) error {
	const op = "lock.acquire"
	token := uuid.NewString()
	err := m.retrier.Do(ctx, op, func(ctx context.Context) error {
		_, err := m.store.InsertLock(ctx, system, env, m.owner, token)
		return err
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrExists) {
		return apperr.Internal(op, fmt.Errorf("acquire %s/%s: %w", system, env, err))
	}

	held, err := m.store.GetLock(ctx, system, env)
	if errors.Is(err, store.ErrNotFound) {
		// released between our insert and read; one more try
		return m.insertOrBusy(ctx, system, env, token)
	}
	if err != nil {
		return apperr.Internal(op, fmt.Errorf("read lock %s/%s: %w", system, env, err))
	}
	if held.Token == token {
		return nil
	}
	if held.Age <= m.staleAfter {
		return apperr.Busy(op, system, string(env))
	}

	removed, err := m.store.DeleteStaleLock(ctx, system, env, m.staleAfter)
	if err != nil {
		return apperr.Internal(op, fmt.Errorf("take over lock %s/%s: %w", system, env, err))
	}
	if removed {
		m.logger.Printf("[lock] took over stale lock system=%s env=%s age=%s owner=%s", system, env, held.Age.Round(time.Millisecond), held.Owner)
	}
	return m.insertOrBusy(ctx, system, env, token)
}

func (m *Mutex) insertOrBusy(ctx context.Context, system string, env models.Env, token string) error {
	_, err := m.store.InsertLock(ctx, system, env, m.owner, token)
	if errors.Is(err, store.ErrExists) {
		return apperr.Busy("lock.acquire", system, string(env))
	}
	if err != nil {
		return apperr.Internal("lock.acquire", err)
	}
	return nil
}

// Release drops the lock. Releasing a lock that is not held is a no-op.
func (m *Mutex) Release(ctx context.Context, system string, env models.Env) error {
	err := m.retrier.Do(ctx, "lock.release", func(ctx context.Context) error {
		return m.store.DeleteLock(ctx, system, env)
	})
	if err != nil {
		return fmt.Errorf("release %s/%s: %w", system, env, err)
	}
	return nil
}

// WithLock runs fn while holding (system, env). The lock is released even if
// fn fails; a release failure is logged because staleness recovers it.
func (m *Mutex) WithLock(ctx context.Context, system string, env models.Env, fn func(context.Context) error) error {
	if err := m.Acquire(ctx, system, env); err != nil {
		return err
	}
	defer func() {
		if err := m.Release(context.WithoutCancel(ctx), system, env); err != nil {
			m.logger.Printf("[lock] release failed system=%s env=%s err=%v", system, env, err)
		}
	}()
	return fn(ctx)
}

type Status struct {
	System string        `json:"system"`
	Env    models.Env    `json:"env"`
	Held   bool          `json:"held"`
	Stale  bool          `json:"stale"`
	Owner  string        `json:"owner,omitempty"`
	Age    time.Duration `json:"ageNanos,omitempty"`
}

func (m *Mutex) Status(ctx context.Context, system string, env models.Env) (Status, error) {
	st := Status{System: system, Env: env}
	l, err := m.store.GetLock(ctx, system, env)
	if errors.Is(err, store.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("lock status: %w", err)
	}
	st.Held = true
	st.Owner = l.Owner
	st.Age = l.Age
	st.Stale = l.Age > m.staleAfter
	return st, nil
}
