package promotion

import (
	"context"
	"errors"
	"fmt"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/apperr"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/store"
)

// revert undoes the entity's billing artifact in env under the remote mutex.
func (s *Service) revert(ctx context.Context, e models.Entity, env models.Env) error {
	defer s.invalidate(ctx, env, e.Store, "rollback")
	ops, ok := s.remoteFor(e)
	if !ok {
		return nil
	}
	return s.locker.WithLock(ctx, billingSystem, env, func(ctx context.Context) error {
		return ops.revert(ctx, env)
	})
}

// Rollback reverses the remote work of the entity's current band and
// restores the prior stable status. A failed reversal leaves the entity in
// *_ROLLBACK_FAILED and is reported as a rollback failure.
func (s *Service) Rollback(ctx context.Context, key models.Key, actor string) (models.Entity, error) {
	const op = "rollback"
	e, err := s.load(ctx, op, key)
	if err != nil {
		return models.Entity{}, err
	}
	if g := CanRollback(e.Status); !g.Allowed {
		return models.Entity{}, apperr.InvalidStatus(op, key.String(), g.Reason)
	}
	env := e.Env()
	if !remoteAlreadyReverted(e.Status) {
		if err := s.revert(ctx, e, env); err != nil {
			if apperr.Is(err, apperr.KindBusy) {
				return models.Entity{}, apperr.WithEntity(err, key.String(), string(env))
			}
			return models.Entity{}, s.markRollbackFailed(ctx, e, actor, nil, err)
		}
	}
	if e.Status.IsValidating() {
		s.stopPending(ctx, key)
	}
	target := models.PriorStable(e.Status)
	saved, err := s.save(ctx, op, key, e.Status, actor, "rolled back", func(next *models.Entity) error {
		next.Status = target
		next.BuildKey = ""
		return nil
	})
	if err != nil {
		return models.Entity{}, apperr.WithEntity(err, key.String(), string(env))
	}
	return saved, nil
}

// markRollbackFailed records *_ROLLBACK_FAILED and returns the rollback
// failure error carrying both causes.
func (s *Service) markRollbackFailed(ctx context.Context, e models.Entity, actor string, original, rollbackErr error) error {
	env := e.Env()
	failed := models.RollbackFailed(env)
	s.logger.Printf("[promotion] ROLLBACK FAILED store=%s code=%s env=%s err=%v", e.Store, e.Code, env, rollbackErr)
	if e.Status != failed {
		if _, err := s.save(ctx, "rollback", e.Key, e.Status, actor, "rollback failed: "+rollbackErr.Error(), func(next *models.Entity) error {
			next.Status = failed
			return nil
		}); err != nil {
			s.logger.Printf("[promotion] could not record rollback failure store=%s code=%s err=%v", e.Store, e.Code, err)
		}
	}
	rf := apperr.RollbackFailed("rollback", billingSystem, original, rollbackErr)
	rf.Entity = e.Key.String()
	rf.Env = string(env)
	return rf
}

// Delete retires or removes the entity depending on where it lives: rows
// that never left the database are deleted, production rows are soft
// deleted, staging rows have their staging artifact removed and are deleted.
func (s *Service) Delete(ctx context.Context, key models.Key, actor string) (models.Entity, error) {
	const op = "delete"
	e, err := s.load(ctx, op, key)
	if err != nil {
		return models.Entity{}, err
	}
	action, err := s.tracker.Check(ctx, pendingKey(key))
	if err != nil {
		return models.Entity{}, apperr.Internal(op, err)
	}
	if action != "" {
		return models.Entity{}, apperr.InProgress(op, key.String(), fmt.Sprintf("%s in progress", action))
	}
	if e.Kind == models.KindPlan {
		n, err := s.store.CountDependents(ctx, key)
		if err != nil {
			return models.Entity{}, apperr.Internal(op, err)
		}
		if n > 0 {
			return models.Entity{}, apperr.InvalidStatus(op, key.String(), fmt.Sprintf("plan is referenced by %d offer(s)", n))
		}
	}

	env := e.Env()
	switch env {
	case models.EnvProduction:
		now := s.now().UTC()
		saved, err := s.save(ctx, op, key, e.Status, actor, "retired", func(next *models.Entity) error {
			next.Status = models.StatusRetired
			next.DeletedAt = &now
			return nil
		})
		if err != nil {
			return models.Entity{}, apperr.WithEntity(err, key.String(), string(env))
		}
		s.invalidate(ctx, env, e.Store, op)
		return saved, nil
	case models.EnvStaging:
		if !remoteAlreadyReverted(e.Status) {
			if err := s.revert(ctx, e, env); err != nil {
				return models.Entity{}, apperr.WithEntity(remoteErr(op, billingSystem, err), key.String(), string(env))
			}
		}
	}

	if err := s.store.DeleteEntity(ctx, key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Entity{}, apperr.NotFound(op, fmt.Sprintf("entity %s not found", key))
		}
		return models.Entity{}, apperr.Internal(op, err)
	}
	deleted := e
	deleted.Status = models.StatusRetired
	s.recordTransition(ctx, deleted, e.Status, actor, "deleted")
	return deleted, nil
}
