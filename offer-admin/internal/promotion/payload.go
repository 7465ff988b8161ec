package promotion

import (
	"fmt"
	"strings"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
)

// checkPayload verifies a payload is complete enough to leave DRAFT.
func checkPayload(p models.Payload) error {
	switch v := p.(type) {
	case models.PlanPayload:
		if strings.TrimSpace(v.Name) == "" {
			return fmt.Errorf("plan name required")
		}
		if len(v.Currency) != 3 {
			return fmt.Errorf("plan currency must be an ISO 4217 code")
		}
		if v.PriceCents < 0 {
			return fmt.Errorf("plan price must not be negative")
		}
		if v.BillingCycleMonths <= 0 {
			return fmt.Errorf("plan billing cycle must be positive")
		}
	case models.OfferPayload:
		return checkCoupon(v.PlanCode, v.CouponCode, v.DiscountPercent, v.DurationMonths)
	case models.RetentionOfferPayload:
		if v.EligibleAfterDays < 0 {
			return fmt.Errorf("eligibleAfterDays must not be negative")
		}
		return checkCoupon(v.PlanCode, v.CouponCode, v.DiscountPercent, v.DurationMonths)
	case models.ExtensionOfferPayload:
		if v.PlanCode == "" {
			return fmt.Errorf("planCode required")
		}
		if v.ExtensionDays <= 0 {
			return fmt.Errorf("extensionDays must be positive")
		}
	case models.StoreConfigPayload:
	case nil:
		return fmt.Errorf("payload required")
	default:
		return fmt.Errorf("unsupported payload %T", p)
	}
	return nil
}

func checkCoupon(planCode, couponCode string, discount, months int) error {
	if planCode == "" {
		return fmt.Errorf("planCode required")
	}
	if couponCode == "" {
		return fmt.Errorf("couponCode required")
	}
	if discount < 1 || discount > 100 {
		return fmt.Errorf("discountPercent must be between 1 and 100")
	}
	if months < 0 {
		return fmt.Errorf("durationMonths must not be negative")
	}
	return nil
}
