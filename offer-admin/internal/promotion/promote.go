package promotion

import (
	"context"
	"errors"
	"fmt"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/apperr"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/pending"
)

// Promote moves the entity to the next environment: DRAFT is staged,
// STG_VALID goes to production. target may be empty; when set it must match
// the environment the current status leads to.
func (s *Service) Promote(ctx context.Context, key models.Key, target models.Env, actor string) (models.Entity, error) {
	const op = "promote"
	e, err := s.load(ctx, op, key)
	if err != nil {
		return models.Entity{}, err
	}
	env, g := PromotionTarget(e.Status, target)
	if !g.Allowed {
		return models.Entity{}, apperr.InvalidStatus(op, key.String(), g.Reason)
	}

	payload := e.Payload
	if env == models.EnvStaging {
		payload, err = models.ApplyDraft(e.Payload, e.DraftData)
		if err != nil {
			return models.Entity{}, apperr.Validation(op, err.Error())
		}
	}
	if err := checkPayload(payload); err != nil {
		return models.Entity{}, apperr.Validation(op, fmt.Sprintf("%s: %v", key, err))
	}
	if err := s.checkPlanReady(ctx, e.Store, payload, env); err != nil {
		return models.Entity{}, err
	}

	staged := e
	staged.Payload = payload
	s.progress.Report(ctx, key, fmt.Sprintf("promoting %s to %s", key.Code, env))
	if ops, ok := s.remoteFor(staged); ok {
		err := s.locker.WithLock(ctx, billingSystem, env, func(ctx context.Context) error {
			return ops.apply(ctx, env)
		})
		if err != nil {
			return models.Entity{}, apperr.WithEntity(remoteErr(op, billingSystem, err), key.String(), string(env))
		}
	}
	s.invalidate(ctx, env, e.Store, op)

	saved, err := s.save(ctx, op, key, e.Status, actor, "promoted to "+string(env), func(next *models.Entity) error {
		next.Status = models.Pending(env)
		next.Payload = payload
		if env == models.EnvStaging {
			next.DraftData = nil
		}
		next.BuildKey = ""
		return nil
	})
	if err != nil {
		s.logger.Printf("[promotion] remote mutated but status not saved store=%s code=%s env=%s err=%v", key.Store, key.Code, env, err)
		return models.Entity{}, apperr.WithEntity(err, key.String(), string(env))
	}

	if s.autoValidate && s.ci != nil {
		validated, err := s.ValidateAsync(ctx, key, actor)
		if err != nil {
			s.logger.Printf("[promotion] validation not queued store=%s code=%s err=%v", key.Store, key.Code, err)
			return saved, nil
		}
		return validated, nil
	}
	return saved, nil
}

// checkPlanReady requires the plan an offer references to be valid in env.
func (s *Service) checkPlanReady(ctx context.Context, storeCode string, p models.Payload, env models.Env) error {
	planCode, ok := models.PlanRef(p)
	if !ok {
		return nil
	}
	plan, err := s.load(ctx, "promote", models.Key{Store: storeCode, Code: planCode})
	if apperr.Is(err, apperr.KindNotFound) {
		return apperr.InvalidStatus("promote", storeCode+"/"+planCode, "referenced plan does not exist")
	}
	if err != nil {
		return err
	}
	if plan.Kind != models.KindPlan {
		return apperr.Validation("promote", fmt.Sprintf("%s is not a plan", planCode))
	}
	if plan.Status < models.ValidStatus(env) || plan.Status == models.StatusRetired {
		return apperr.InvalidStatus("promote", plan.Key.String(), fmt.Sprintf("referenced plan is %s, needs %s", plan.Status, models.ValidStatus(env)))
	}
	return nil
}

// ValidateAsync queues the CI validation for the entity's current band and
// records the build key that the CI webhook will report back.
func (s *Service) ValidateAsync(ctx context.Context, key models.Key, actor string) (models.Entity, error) {
	const op = "validate"
	if s.ci == nil {
		return models.Entity{}, apperr.Validation(op, "CI validation is not configured")
	}
	e, err := s.load(ctx, op, key)
	if err != nil {
		return models.Entity{}, err
	}
	if g := CanValidate(e.Status); !g.Allowed {
		return models.Entity{}, apperr.InvalidStatus(op, key.String(), g.Reason)
	}
	env := e.Env()

	if _, err := s.tracker.Start(ctx, pendingKey(key), actionValidate); err != nil {
		if errors.Is(err, pending.ErrInProgress) {
			return models.Entity{}, apperr.InProgress(op, key.String(), "validation already in progress")
		}
		return models.Entity{}, apperr.Internal(op, err)
	}

	buildKey, err := s.ci.Trigger(ctx, env, key)
	if err != nil {
		s.stopPending(ctx, key)
		return models.Entity{}, apperr.WithEntity(remoteErr(op, ciSystem, err), key.String(), string(env))
	}

	saved, err := s.save(ctx, op, key, e.Status, actor, "validation queued "+buildKey, func(next *models.Entity) error {
		next.Status = models.Validating(env)
		next.BuildKey = buildKey
		return nil
	})
	if err != nil {
		s.stopPending(ctx, key)
		return models.Entity{}, apperr.WithEntity(err, key.String(), string(env))
	}
	s.logger.Printf("[promotion] validation queued store=%s code=%s env=%s build=%s", key.Store, key.Code, env, buildKey)
	return saved, nil
}

func (s *Service) stopPending(ctx context.Context, key models.Key) {
	if err := s.tracker.Stop(ctx, pendingKey(key)); err != nil {
		s.logger.Printf("[promotion] stop pending failed key=%s err=%v", key, err)
	}
}

// remoteErr keeps busy errors from the mutex as they are and classifies
// everything else as a remote failure of system.
func remoteErr(op, system string, err error) error {
	if apperr.Is(err, apperr.KindBusy) {
		return err
	}
	return apperr.Remote(op, system, err)
}
