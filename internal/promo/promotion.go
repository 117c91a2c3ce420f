package promo

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arkastore/backend-promo/internal/money"
)

// UnlimitedUses is the sentinel for uncapped usage limits.
const UnlimitedUses = -1

// Kind distinguishes how a promotion is triggered.
type Kind string

const (
	KindCoupon    Kind = "coupon"
	KindAutomatic Kind = "automatic"
	KindCampaign  Kind = "campaign"
)

// ConditionType enumerates the closed set of rule predicates.
type ConditionType string

const (
	ConditionMinPurchase       ConditionType = "min_purchase"
	ConditionCategoryPurchase  ConditionType = "category_purchase"
	ConditionProductSpecific   ConditionType = "product_specific"
	ConditionQuantityThreshold ConditionType = "quantity_threshold"
	ConditionUserSegment       ConditionType = "user_segment"
	ConditionFirstPurchase     ConditionType = "first_purchase"
	ConditionLocationBased     ConditionType = "location_based"
)

// Operator enumerates the comparison operators a condition may use.
type Operator string

const (
	OpGreaterThan    Operator = "gt"
	OpGreaterOrEqual Operator = "gte"
	OpLessThan       Operator = "lt"
	OpLessOrEqual    Operator = "lte"
	OpEqual          Operator = "eq"
	OpIn             Operator = "in"
	OpNotIn          Operator = "not_in"
)

// Condition is one predicate tested against the derived cart/user context.
// Each condition type reads only the field it needs: Number for numeric
// thresholds, Text for single-value equality, List for membership tests and
// Flag for boolean predicates.
type Condition struct {
	Type   ConditionType `json:"type"`
	Op     Operator      `json:"operator"`
	Number float64       `json:"number,omitempty"`
	Text   string        `json:"text,omitempty"`
	List   []string      `json:"list,omitempty"`
	Flag   bool          `json:"flag,omitempty"`
}

// ActionType enumerates the closed set of discount calculation strategies.
type ActionType string

const (
	ActionPercentageDiscount ActionType = "percentage_discount"
	ActionFixedDiscount      ActionType = "fixed_discount"
	ActionFreeShipping       ActionType = "free_shipping"
	ActionBuyXGetY           ActionType = "buy_x_get_y"
	ActionBundleDiscount     ActionType = "bundle_discount"
)

// Target names what an action's discount applies against.
type Target string

const (
	TargetCartTotal Target = "cart_total"
	TargetProduct   Target = "product"
	TargetCategory  Target = "category"
	TargetShipping  Target = "shipping"
)

// BundleKind selects the bundle_discount sub-strategy.
type BundleKind string

const (
	BundlePercentage BundleKind = "percentage"
	BundleFixed      BundleKind = "fixed"
)

// Action converts an eligible promotion into a monetary discount. Only the
// parameters relevant to its Type are populated.
type Action struct {
	Type   ActionType      `json:"type"`
	Value  decimal.Decimal `json:"value"`
	Target Target          `json:"target,omitempty"`

	// buy_x_get_y parameters.
	BuyQuantity int      `json:"buyQuantity,omitempty"`
	GetQuantity int      `json:"getQuantity,omitempty"`
	ProductIDs  []string `json:"productIds,omitempty"`

	// bundle_discount parameters.
	BundleProducts []string   `json:"bundleProducts,omitempty"`
	BundleKind     BundleKind `json:"discountType,omitempty"`
}

// Usage is a read snapshot of the persisted usage ledger. The ledger itself
// lives in its own table keyed (promotion_id, user_id) and is advanced only
// through the store's transactional settlement path.
type Usage struct {
	TotalUses         int            `json:"totalUses"`
	UsesByUser        map[string]int `json:"usesByUser,omitempty"`
	LastUsedAt        *time.Time     `json:"lastUsedAt,omitempty"`
	AttributedRevenue money.Money    `json:"attributedRevenue"`
}

// Promotion is the rule bundle: identity, validity window, usage caps,
// stacking flag, conditions and actions.
type Promotion struct {
	ID             uuid.UUID   `json:"id"`
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	Code           string      `json:"code,omitempty"`
	Kind           Kind        `json:"kind"`
	Conditions     []Condition `json:"conditions"`
	Actions        []Action    `json:"actions"`
	Priority       int         `json:"priority"`
	StartAt        time.Time   `json:"startAt"`
	EndAt          time.Time   `json:"endAt"`
	MaxUses        int         `json:"maxUses"`
	MaxUsesPerUser int         `json:"maxUsesPerUser"`
	Stackable      bool        `json:"stackable"`
	IsActive       bool        `json:"isActive"`
	Usage          Usage       `json:"usage"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// State is the derived lifecycle position of a promotion at an instant.
type State string

const (
	StateInactive  State = "inactive"
	StateScheduled State = "scheduled"
	StateActive    State = "active"
	StateExhausted State = "exhausted"
	StateExpired   State = "expired"
)

// StateAt derives the lifecycle state at the given instant. States are never
// stored; they follow from the activation flag, the validity window and the
// usage ledger.
func (p *Promotion) StateAt(now time.Time) State {
	if !p.IsActive {
		return StateInactive
	}
	if now.Before(p.StartAt) {
		return StateScheduled
	}
	if now.After(p.EndAt) {
		return StateExpired
	}
	if p.MaxUses != UnlimitedUses && p.Usage.TotalUses >= p.MaxUses {
		return StateExhausted
	}
	return StateActive
}

// IsValidNow reports whether the promotion is usable at the given instant.
func (p *Promotion) IsValidNow(now time.Time) bool {
	return p.StateAt(now) == StateActive
}

// CanUserUse reports whether the given user still has allowance left. It is
// false whenever the promotion itself is not currently valid.
func (p *Promotion) CanUserUse(userID string, now time.Time) bool {
	if !p.IsValidNow(now) {
		return false
	}
	if p.MaxUsesPerUser == UnlimitedUses {
		return true
	}
	return p.Usage.UsesByUser[userID] < p.MaxUsesPerUser
}

// RemainingUses returns -1 for unlimited promotions, otherwise the uses left.
func (p *Promotion) RemainingUses() int {
	if p.MaxUses == UnlimitedUses {
		return UnlimitedUses
	}
	return clampNonNegative(p.MaxUses - p.Usage.TotalUses)
}

// UserRemainingUses returns -1 for unlimited per-user caps, otherwise the
// uses the given user has left.
func (p *Promotion) UserRemainingUses(userID string) int {
	if p.MaxUsesPerUser == UnlimitedUses {
		return UnlimitedUses
	}
	return clampNonNegative(p.MaxUsesPerUser - p.Usage.UsesByUser[userID])
}

// IncrementUsage advances the in-memory usage snapshot: one total use, one
// use for the given user, the last-used timestamp and the attributed revenue.
// Callers must invoke it exactly once per completed order that consumed the
// promotion; persistence and serialization are the store's concern.
func (p *Promotion) IncrementUsage(userID string, orderValue money.Money, now time.Time) {
	p.Usage.TotalUses++
	if userID != "" {
		if p.Usage.UsesByUser == nil {
			p.Usage.UsesByUser = make(map[string]int)
		}
		p.Usage.UsesByUser[userID]++
	}
	p.Usage.LastUsedAt = &now
	if p.Usage.AttributedRevenue.Currency() == "" {
		p.Usage.AttributedRevenue = money.Zero(orderValue.Currency())
	}
	if sum, err := p.Usage.AttributedRevenue.Add(orderValue); err == nil {
		p.Usage.AttributedRevenue = sum
	}
}

func clampNonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
