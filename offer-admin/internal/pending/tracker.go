// Package pending deduplicates long-running operations per key. Rows expire
// a fixed TTL after their last update; expiry is detected on access.
package pending

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/apperr"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/retry"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/store"
)

const DefaultTTL = 15 * time.Minute

// ErrInProgress is returned by Start when a live operation exists for the key.
var ErrInProgress = errors.New("operation already in progress")

// CleanupFunc removes the side artifacts of an abandoned operation.
type CleanupFunc func(ctx context.Context, op models.PendingOperation) error

type Tracker struct {
	store   store.PendingStore
	retrier *retry.Retrier
	ttl     time.Duration
	logger  *log.Logger

	mu       sync.RWMutex
	cleanups map[string]CleanupFunc
}

func NewTracker(st store.PendingStore, retrier *retry.Retrier, ttl time.Duration, logger *log.Logger) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{store: st, retrier: retrier, ttl: ttl, logger: logger, cleanups: map[string]CleanupFunc{}}
}

// OnExpire registers the cleanup run when an operation with action expires.
func (t *Tracker) OnExpire(action string, fn CleanupFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanups[action] = fn
}

func (t *Tracker) TTL() time.Duration { return t.ttl }

// Start records action for key. It returns ErrInProgress if a live
// operation started by another caller is recorded; an expired one is cleaned
// up and replaced once.
func (t *Tracker) Start(ctx context.Context, key, action string) (models.PendingOperation, error) {
	op := models.PendingOperation{Key: key, Action: action, Token: uuid.NewString()}
	for attempt := 0; attempt < 2; attempt++ {
		created, err := t.insert(ctx, op)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, store.ErrExists) {
			return models.PendingOperation{}, err
		}

		live, err := t.check(ctx, key)
		if err != nil {
			return models.PendingOperation{}, err
		}
		if live == nil {
			continue
		}
		// a retried insert can find the row its own lost attempt committed
		if live.Token == op.Token {
			return *live, nil
		}
		return models.PendingOperation{}, ErrInProgress
	}
	return models.PendingOperation{}, ErrInProgress
}

func (t *Tracker) insert(ctx context.Context, op models.PendingOperation) (models.PendingOperation, error) {
	return retry.Value(ctx, t.retrier, "pending.start", func(ctx context.Context) (models.PendingOperation, error) {
		return t.store.InsertPending(ctx, op)
	})
}

// Check returns the action of a live operation for key, or "" when none is
// recorded. Expired rows are cleaned up as a side effect.
func (t *Tracker) Check(ctx context.Context, key string) (string, error) {
	op, err := t.check(ctx, key)
	if err != nil || op == nil {
		return "", err
	}
	return op.Action, nil
}

// Get is Check returning the whole row.
func (t *Tracker) Get(ctx context.Context, key string) (*models.PendingOperation, error) {
	return t.check(ctx, key)
}

func (t *Tracker) check(ctx context.Context, key string) (*models.PendingOperation, error) {
	op, err := retry.Value(ctx, t.retrier, "pending.check", func(ctx context.Context) (models.PendingOperation, error) {
		return t.store.GetPending(ctx, key)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("pending.check", err)
	}
	if op.Age <= t.ttl {
		return &op, nil
	}

	removed, err := t.store.DeleteExpiredPending(ctx, key, t.ttl)
	if err != nil {
		return nil, apperr.Internal("pending.expire", err)
	}
	if removed {
		t.logger.Printf("[pending] expired key=%s action=%s age=%s", key, op.Action, op.Age.Round(time.Second))
		t.cleanup(ctx, op)
	}
	return nil, nil
}

func (t *Tracker) cleanup(ctx context.Context, op models.PendingOperation) {
	t.mu.RLock()
	fn := t.cleanups[op.Action]
	t.mu.RUnlock()
	if fn == nil {
		return
	}
	if err := fn(ctx, op); err != nil {
		t.logger.Printf("[pending] cleanup failed key=%s action=%s artifact=%s err=%v", op.Key, op.Action, op.Artifact, err)
	}
}

// Touch refreshes the TTL of key and optionally records its artifact.
func (t *Tracker) Touch(ctx context.Context, key, artifact string) error {
	err := t.retrier.Do(ctx, "pending.touch", func(ctx context.Context) error {
		return t.store.TouchPending(ctx, key, artifact)
	})
	if err != nil {
		return fmt.Errorf("touch %s: %w", key, err)
	}
	return nil
}

// Stop removes the row for key unconditionally.
func (t *Tracker) Stop(ctx context.Context, key string) error {
	err := t.retrier.Do(ctx, "pending.stop", func(ctx context.Context) error {
		return t.store.DeletePending(ctx, key)
	})
	if err != nil {
		return fmt.Errorf("stop %s: %w", key, err)
	}
	return nil
}
