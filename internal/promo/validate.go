package promo

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Validate audits a promotion for well-formedness and returns the list of
// human-readable violations. The list gates activation in the admin workflow;
// the engine itself never refuses to evaluate an already-activated promotion,
// malformed pieces simply contribute nothing.
func Validate(p *Promotion) []string {
	var violations []string
	if strings.TrimSpace(p.Name) == "" {
		violations = append(violations, "name is required")
	}
	if p.Kind == KindCoupon && strings.TrimSpace(p.Code) == "" {
		violations = append(violations, "coupon promotions require a code")
	}
	switch p.Kind {
	case KindCoupon, KindAutomatic, KindCampaign:
	default:
		violations = append(violations, fmt.Sprintf("unknown promotion kind %q", p.Kind))
	}
	if !p.StartAt.Before(p.EndAt) {
		violations = append(violations, "startAt must be before endAt")
	}
	if len(p.Conditions) == 0 {
		violations = append(violations, "at least one condition is required")
	}
	if len(p.Actions) == 0 {
		violations = append(violations, "at least one action is required")
	}
	if p.MaxUses != UnlimitedUses && p.MaxUses <= 0 {
		violations = append(violations, "maxUses must be positive or -1 for unlimited")
	}
	if p.MaxUsesPerUser != UnlimitedUses && p.MaxUsesPerUser <= 0 {
		violations = append(violations, "maxUsesPerUser must be positive or -1 for unlimited")
	}
	for i, action := range p.Actions {
		violations = append(violations, validateAction(i, action)...)
	}
	return violations
}

func validateAction(index int, action Action) []string {
	var violations []string
	switch action.Type {
	case ActionPercentageDiscount:
		if action.Value.IsNegative() || action.Value.GreaterThan(decimal.NewFromInt(100)) {
			violations = append(violations, fmt.Sprintf("action %d: percentage must be between 0 and 100", index))
		}
	case ActionFixedDiscount:
		if action.Value.IsNegative() {
			violations = append(violations, fmt.Sprintf("action %d: fixed discount must not be negative", index))
		}
	case ActionBuyXGetY:
		if action.BuyQuantity <= 0 || action.GetQuantity <= 0 {
			violations = append(violations, fmt.Sprintf("action %d: buyQuantity and getQuantity must be positive", index))
		}
		if len(action.ProductIDs) == 0 {
			violations = append(violations, fmt.Sprintf("action %d: buy_x_get_y requires productIds", index))
		}
	case ActionBundleDiscount:
		if len(action.BundleProducts) < 2 {
			violations = append(violations, fmt.Sprintf("action %d: bundle requires at least two products", index))
		}
		switch action.BundleKind {
		case BundlePercentage, BundleFixed:
		default:
			violations = append(violations, fmt.Sprintf("action %d: bundle discountType must be percentage or fixed", index))
		}
	case ActionFreeShipping:
	default:
		violations = append(violations, fmt.Sprintf("action %d: unknown action type %q", index, action.Type))
	}
	return violations
}
