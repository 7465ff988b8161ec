package promotion

import (
	"context"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/clients/billing"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
)

// remoteOps is the billing artifact an entity owns in an environment.
type remoteOps struct {
	apply  func(ctx context.Context, env models.Env) error
	revert func(ctx context.Context, env models.Env) error
}

// remoteFor dispatches on the payload variant. Entities without a billing
// artifact return false and only touch caches.
func (s *Service) remoteFor(e models.Entity) (remoteOps, bool) {
	if s.billing == nil {
		return remoteOps{}, false
	}
	switch p := e.Payload.(type) {
	case models.PlanPayload:
		return remoteOps{
			apply: func(ctx context.Context, env models.Env) error {
				return s.billing.CreatePlan(ctx, env, e.Code, p)
			},
			revert: func(ctx context.Context, env models.Env) error {
				return s.billing.DeletePlan(ctx, env, e.Code)
			},
		}, true
	case models.OfferPayload:
		return couponOps(s.billing, billing.Coupon{
			Code:            p.CouponCode,
			PlanCode:        p.PlanCode,
			DiscountPercent: p.DiscountPercent,
			DurationMonths:  p.DurationMonths,
			Name:            p.Headline,
		}), true
	case models.RetentionOfferPayload:
		return couponOps(s.billing, billing.Coupon{
			Code:            p.CouponCode,
			PlanCode:        p.PlanCode,
			DiscountPercent: p.DiscountPercent,
			DurationMonths:  p.DurationMonths,
		}), true
	}
	return remoteOps{}, false
}

func couponOps(b Billing, c billing.Coupon) remoteOps {
	return remoteOps{
		apply: func(ctx context.Context, env models.Env) error {
			return b.CreateCoupon(ctx, env, c)
		},
		revert: func(ctx context.Context, env models.Env) error {
			return b.DeleteCoupon(ctx, env, c.Code)
		},
	}
}
