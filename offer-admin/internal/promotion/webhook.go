package promotion

import (
	"context"
	"errors"
	"strings"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/apperr"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/store"
)

type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

// ParseOutcome maps a CI build state onto an outcome.
func ParseOutcome(raw string) Outcome {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUCCESS", "SUCCESSFUL", "PASSED":
		return OutcomeSuccess
	case "FAILURE", "FAILED", "ERROR":
		return OutcomeFailure
	}
	return OutcomeUnknown
}

// Webhook results.
const (
	ResultApplied        = "applied"
	ResultDuplicate      = "duplicate"
	ResultIgnored        = "ignored"
	ResultRollbackFailed = "rollback_failed"
)

type WebhookResult struct {
	Result string        `json:"outcome"`
	Reason string        `json:"reason,omitempty"`
	Store  string        `json:"store,omitempty"`
	Code   string        `json:"code,omitempty"`
	Status models.Status `json:"status,omitempty"`
}

func ignored(reason string) WebhookResult {
	return WebhookResult{Result: ResultIgnored, Reason: reason}
}

// HandleValidationResult resolves the validation identified by buildKey.
// Unknown keys and outcomes are ignored, redeliveries are no-ops; only
// infrastructure failures return an error.
func (s *Service) HandleValidationResult(ctx context.Context, buildKey, rawOutcome string) (WebhookResult, error) {
	const op = "validation webhook"
	buildKey = strings.TrimSpace(buildKey)
	if buildKey == "" {
		return ignored("missing build key"), nil
	}
	outcome := ParseOutcome(rawOutcome)
	if outcome == OutcomeUnknown {
		return ignored("unrecognised build status " + rawOutcome), nil
	}

	e, err := s.store.FindEntityByBuildKey(ctx, buildKey)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Printf("[promotion] webhook for unknown build=%s ignored", buildKey)
		return ignored("no entity awaits build " + buildKey), nil
	}
	if err != nil {
		return WebhookResult{}, apperr.Internal(op, err)
	}
	res := WebhookResult{Store: e.Store, Code: e.Code, Status: e.Status}
	if !e.Status.IsValidating() {
		res.Result = ResultDuplicate
		return res, nil
	}
	env := e.Env()

	var saved models.Entity
	switch outcome {
	case OutcomeSuccess:
		saved, err = s.save(ctx, op, e.Key, e.Status, webhookActor, "validation passed "+buildKey, func(next *models.Entity) error {
			next.Status = models.ValidStatus(env)
			return nil
		})
	case OutcomeFailure:
		if rbErr := s.revert(ctx, e, env); rbErr != nil {
			s.stopPending(ctx, e.Key)
			_ = s.markRollbackFailed(ctx, e, webhookActor, errors.New("validation failed "+buildKey), rbErr)
			res.Result = ResultRollbackFailed
			res.Reason = rbErr.Error()
			res.Status = models.RollbackFailed(env)
			return res, nil
		}
		saved, err = s.save(ctx, op, e.Key, e.Status, webhookActor, "validation failed "+buildKey, func(next *models.Entity) error {
			next.Status = models.ValidationFailed(env)
			return nil
		})
	}
	if apperr.Is(err, apperr.KindStale) {
		res.Result = ResultDuplicate
		return res, nil
	}
	if err != nil {
		return WebhookResult{}, err
	}
	s.stopPending(ctx, e.Key)
	res.Result = ResultApplied
	res.Status = saved.Status
	return res, nil
}
