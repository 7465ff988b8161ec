// Package promotion drives promotable entities from DRAFT through staging
// to production. Remote mutations run under the remote mutex; status changes
// are saved with optimistic concurrency only after the remote call succeeded.
package promotion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/apperr"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/clients/billing"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/retry"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/store"
)

const (
	billingSystem  = billing.System
	ciSystem       = "ci"
	actionValidate = "validate"
	webhookActor   = "ci-webhook"
	maxSaveRetries = 3
)

type Billing interface {
	CreatePlan(ctx context.Context, env models.Env, code string, p models.PlanPayload) error
	DeletePlan(ctx context.Context, env models.Env, code string) error
	CreateCoupon(ctx context.Context, env models.Env, c billing.Coupon) error
	DeleteCoupon(ctx context.Context, env models.Env, code string) error
}

type CI interface {
	Trigger(ctx context.Context, env models.Env, key models.Key) (string, error)
}

// Publisher fans out transitions and cache invalidations.
type Publisher interface {
	PublishTransition(ctx context.Context, e models.Entity, t models.Transition) error
	Invalidate(ctx context.Context, env models.Env, storeCode, reason string) error
}

// ProgressSink receives human-readable progress for long operations.
type ProgressSink interface {
	Report(ctx context.Context, key models.Key, message string)
}

type Locker interface {
	WithLock(ctx context.Context, system string, env models.Env, fn func(context.Context) error) error
}

type Tracker interface {
	Start(ctx context.Context, key, action string) (models.PendingOperation, error)
	Check(ctx context.Context, key string) (string, error)
	Stop(ctx context.Context, key string) error
}

type Deps struct {
	Store    store.EntityStore
	Locker   Locker
	Tracker  Tracker
	Billing  Billing
	CI       CI
	Events   Publisher
	Progress ProgressSink
	Retrier  *retry.Retrier
	Logger   *log.Logger

	// AutoValidate queues the CI validation right after a promotion.
	AutoValidate bool
	Now          func() time.Time
}

type Service struct {
	store        store.EntityStore
	locker       Locker
	tracker      Tracker
	billing      Billing
	ci           CI
	events       Publisher
	progress     ProgressSink
	retrier      *retry.Retrier
	logger       *log.Logger
	autoValidate bool
	now          func() time.Time
}

func New(d Deps) *Service {
	s := &Service{
		store:        d.Store,
		locker:       d.Locker,
		tracker:      d.Tracker,
		billing:      d.Billing,
		ci:           d.CI,
		events:       d.Events,
		progress:     d.Progress,
		retrier:      d.Retrier,
		logger:       d.Logger,
		autoValidate: d.AutoValidate,
		now:          d.Now,
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.retrier == nil {
		s.retrier = retry.New(retry.DefaultPolicy(), s.logger)
	}
	if s.progress == nil {
		s.progress = LogProgress{Logger: s.logger}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type CreateInput struct {
	Key     models.Key
	Kind    models.Kind
	Payload json.RawMessage
	Actor   string
}

func (s *Service) Create(ctx context.Context, in CreateInput) (models.Entity, error) {
	const op = "create"
	if in.Key.Store == "" || in.Key.Code == "" {
		return models.Entity{}, apperr.Validation(op, "store and code required")
	}
	raw := in.Payload
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	payload, err := models.DecodePayload(in.Kind, raw)
	if err != nil {
		return models.Entity{}, apperr.Validation(op, err.Error())
	}
	e, err := s.store.CreateEntity(ctx, models.Entity{
		Key:       in.Key,
		Kind:      in.Kind,
		Status:    models.StatusDraft,
		Payload:   payload,
		CreatedBy: in.Actor,
	})
	if errors.Is(err, store.ErrExists) {
		return models.Entity{}, apperr.Exists(op, in.Key.String())
	}
	if err != nil {
		return models.Entity{}, apperr.Internal(op, err)
	}
	s.logger.Printf("[promotion] created store=%s code=%s kind=%s actor=%s", e.Store, e.Code, e.Kind, in.Actor)
	return e, nil
}

func (s *Service) Get(ctx context.Context, key models.Key) (models.Entity, error) {
	return s.load(ctx, "get", key)
}

func (s *Service) History(ctx context.Context, key models.Key) ([]models.Transition, error) {
	out, err := s.store.ListTransitions(ctx, key)
	if err != nil {
		return nil, apperr.Internal("history", err)
	}
	return out, nil
}

// UpdateDraft merges patch into the entity's draft data.
func (s *Service) UpdateDraft(ctx context.Context, key models.Key, patch json.RawMessage, actor string) (models.Entity, error) {
	const op = "update draft"
	e, err := s.load(ctx, op, key)
	if err != nil {
		return models.Entity{}, err
	}
	if g := CanEditDraft(e.Status); !g.Allowed {
		return models.Entity{}, apperr.InvalidStatus(op, key.String(), g.Reason)
	}
	merged, err := models.MergeDraft(e.DraftData, patch)
	if err != nil {
		return models.Entity{}, apperr.Validation(op, err.Error())
	}
	if _, err := models.ApplyDraft(e.Payload, merged); err != nil {
		return models.Entity{}, apperr.Validation(op, err.Error())
	}
	return s.save(ctx, op, key, models.StatusDraft, actor, "", func(e *models.Entity) error {
		// re-merge against the committed row so concurrent edits survive
		m, err := models.MergeDraft(e.DraftData, patch)
		if err != nil {
			return err
		}
		e.DraftData = m
		return nil
	})
}

func (s *Service) load(ctx context.Context, op string, key models.Key) (models.Entity, error) {
	e, err := retry.Value(ctx, s.retrier, "store.get", func(ctx context.Context) (models.Entity, error) {
		return s.store.GetEntity(ctx, key)
	})
	if errors.Is(err, store.ErrNotFound) {
		return models.Entity{}, apperr.NotFound(op, fmt.Sprintf("entity %s not found", key))
	}
	if err != nil {
		return models.Entity{}, apperr.Internal(op, err)
	}
	return e, nil
}

// save reloads the committed row, checks it is still in expected, applies
// mutate and writes it back, retrying on version conflicts. A row that left
// expected in the meantime is reported as stale.
func (s *Service) save(ctx context.Context, op string, key models.Key, expected models.Status, actor, reason string, mutate func(*models.Entity) error) (models.Entity, error) {
	for attempt := 1; ; attempt++ {
		cur, err := s.load(ctx, op, key)
		if err != nil {
			return models.Entity{}, err
		}
		if cur.Status != expected {
			return models.Entity{}, apperr.Stale(op, fmt.Sprintf("entity %s was modified by another process (now %s)", key, cur.Status))
		}
		next := cur
		if err := mutate(&next); err != nil {
			return models.Entity{}, apperr.Validation(op, err.Error())
		}
		next.LastModifiedBy = actor
		saved, err := retry.Value(ctx, s.retrier, "store.update", func(ctx context.Context) (models.Entity, error) {
			return s.store.UpdateEntity(ctx, next)
		})
		if errors.Is(err, store.ErrConflict) && attempt < maxSaveRetries {
			continue
		}
		if errors.Is(err, store.ErrConflict) {
			return models.Entity{}, apperr.Stale(op, fmt.Sprintf("entity %s kept changing, retry later", key))
		}
		if errors.Is(err, store.ErrExists) {
			return models.Entity{}, apperr.Internal(op, fmt.Errorf("build key already assigned: %w", err))
		}
		if err != nil {
			return models.Entity{}, apperr.Internal(op, err)
		}
		if saved.Status != cur.Status {
			s.recordTransition(ctx, saved, cur.Status, actor, reason)
		}
		return saved, nil
	}
}

func (s *Service) recordTransition(ctx context.Context, e models.Entity, from models.Status, actor, reason string) {
	t := models.Transition{
		ID:        uuid.NewString(),
		Key:       e.Key,
		From:      from,
		To:        e.Status,
		Actor:     actor,
		Reason:    reason,
		CreatedAt: s.now().UTC(),
	}
	s.logger.Printf("[promotion] transition store=%s code=%s from=%s to=%s actor=%s reason=%q", e.Store, e.Code, from, e.Status, actor, reason)
	if err := s.store.RecordTransition(ctx, t); err != nil {
		s.logger.Printf("[promotion] record transition failed store=%s code=%s err=%v", e.Store, e.Code, err)
	}
	if s.events != nil {
		if err := s.events.PublishTransition(ctx, e, t); err != nil {
			s.logger.Printf("[promotion] publish transition failed store=%s code=%s err=%v", e.Store, e.Code, err)
		}
	}
	s.progress.Report(ctx, e.Key, fmt.Sprintf("%s is now %s", e.Code, e.Status))
}

func (s *Service) invalidate(ctx context.Context, env models.Env, storeCode, reason string) {
	if s.events == nil || !env.Remote() {
		return
	}
	if err := s.events.Invalidate(ctx, env, storeCode, reason); err != nil {
		s.logger.Printf("[promotion] cache invalidation failed store=%s env=%s err=%v", storeCode, env, err)
	}
}

func pendingKey(key models.Key) string { return key.String() }
