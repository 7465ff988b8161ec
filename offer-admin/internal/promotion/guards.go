package promotion

import (
	"fmt"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
)

// GuardResult is the outcome of a transition check.
type GuardResult struct {
	Allowed bool
	Reason  string
}

func allow() GuardResult { return GuardResult{Allowed: true} }

func deny(format string, args ...interface{}) GuardResult {
	return GuardResult{Reason: fmt.Sprintf(format, args...)}
}

// PromotionTarget resolves the environment a promotion from status goes to.
// An empty requested env means "the next one".
func PromotionTarget(status models.Status, requested models.Env) (models.Env, GuardResult) {
	var next models.Env
	switch status {
	case models.StatusDraft:
		next = models.EnvStaging
	case models.StatusStgValid:
		next = models.EnvProduction
	default:
		return "", deny("cannot promote from %s", status)
	}
	if requested != "" && requested != next {
		return "", deny("cannot promote to %s from %s", requested, status)
	}
	return next, allow()
}

func CanValidate(status models.Status) GuardResult {
	if status.IsPending() || status.IsValidating() {
		return allow()
	}
	return deny("validation requires a pending or validating status, entity is %s", status)
}

func CanEditDraft(status models.Status) GuardResult {
	if status == models.StatusDraft {
		return allow()
	}
	return deny("draft edits are only allowed in DRAFT, entity is %s", status)
}

// CanRollback reports whether status has remote work of its band to undo
// or a failed state to restore from.
func CanRollback(status models.Status) GuardResult {
	switch status {
	case models.StatusDraft:
		return deny("nothing to roll back from DRAFT")
	case models.StatusProdValid:
		return deny("live production entities are retired, not rolled back")
	case models.StatusRetired:
		return deny("entity is retired")
	}
	if !status.Valid() {
		return deny("unknown status %d", int(status))
	}
	return allow()
}

// remoteAlreadyReverted reports whether the band's remote mutation was
// already undone when the entity reached status.
func remoteAlreadyReverted(status models.Status) bool {
	return status == models.StatusStgValidationFailed || status == models.StatusProdValidationFailed
}
