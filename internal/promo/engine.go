package promo

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arkastore/backend-promo/internal/cart"
	"github.com/arkastore/backend-promo/internal/money"
)

// Reason explains why a promotion was not applied during a scan.
type Reason string

const (
	ReasonExpired         Reason = "expired"
	ReasonUsageLimit      Reason = "usage_limit"
	ReasonConditionsUnmet Reason = "conditions_not_met"
)

// Result is the outcome of evaluating one promotion against one cart.
// Results are transient and never persisted.
type Result struct {
	Promotion   *Promotion  `json:"promotion"`
	Discount    money.Money `json:"discount"`
	Description string      `json:"description"`
	Applied     bool        `json:"applied"`
	Reason      Reason      `json:"reason,omitempty"`
}

// OptimalSet is the chosen best-value combination of applicable promotions.
type OptimalSet struct {
	Results           []Result    `json:"promotions"`
	TotalDiscount     money.Money `json:"totalDiscount"`
	FinalPrice        money.Money `json:"finalPrice"`
	Savings           money.Money `json:"savings"`
	SavingsPercentage float64     `json:"savingsPercentage"`
}

var hundred = decimal.NewFromInt(100)

// EvaluateCondition tests a single predicate against the derived context.
// Unknown operators evaluate false rather than erroring so that malformed
// rule data degrades to "not eligible" instead of breaking checkout.
func EvaluateCondition(c Condition, a cart.Analysis) bool {
	switch c.Type {
	case ConditionMinPurchase:
		subtotal, _ := a.Subtotal.Amount().Float64()
		return compareNumbers(c.Op, subtotal, c.Number)
	case ConditionQuantityThreshold:
		return compareNumbers(c.Op, float64(a.TotalQuantity), c.Number)
	case ConditionCategoryPurchase:
		return membership(c, a.Categories)
	case ConditionProductSpecific:
		return membership(c, a.Products)
	case ConditionUserSegment:
		return compareText(c, a.Segment)
	case ConditionLocationBased:
		return compareText(c, a.Country)
	case ConditionFirstPurchase:
		if c.Op != OpEqual {
			return false
		}
		return a.FirstPurchase == c.Flag
	default:
		return false
	}
}

// Eligible reports whether every condition of the promotion holds. Conditions
// combine with logical AND only.
func Eligible(p *Promotion, a cart.Analysis) bool {
	for _, c := range p.Conditions {
		if !EvaluateCondition(c, a) {
			return false
		}
	}
	return true
}

// CalculateDiscount sums the contribution of every action of the promotion.
// Each unknown action type contributes zero. The result is never negative.
func CalculateDiscount(p *Promotion, a cart.Analysis) (money.Money, error) {
	total := money.Zero(a.Currency)
	for _, action := range p.Actions {
		contribution, err := calculateAction(action, a)
		if err != nil {
			return money.Money{}, err
		}
		total, err = total.Add(contribution)
		if err != nil {
			return money.Money{}, err
		}
	}
	if total.IsNegative() {
		return money.Zero(a.Currency), nil
	}
	return total, nil
}

func calculateAction(action Action, a cart.Analysis) (money.Money, error) {
	switch action.Type {
	case ActionPercentageDiscount:
		return a.Subtotal.Mul(action.Value).Div(hundred)
	case ActionFixedDiscount:
		if action.Value.IsNegative() {
			return money.Zero(a.Currency), nil
		}
		return money.New(action.Value, a.Currency), nil
	case ActionFreeShipping:
		if a.ShippingCost.Currency() == "" {
			return money.Zero(a.Currency), nil
		}
		return a.ShippingCost, nil
	case ActionBuyXGetY:
		return buyXGetY(action, a)
	case ActionBundleDiscount:
		return bundleDiscount(action, a)
	default:
		return money.Zero(a.Currency), nil
	}
}

// buyXGetY grants freeUnits = min(floor(qty/buyQty)*getQty, qty) units of
// each listed product at its unit price.
func buyXGetY(action Action, a cart.Analysis) (money.Money, error) {
	total := money.Zero(a.Currency)
	if action.BuyQuantity <= 0 || action.GetQuantity <= 0 {
		return total, nil
	}
	for _, productID := range action.ProductIDs {
		qty := a.QuantityByProduct[productID]
		if qty < action.BuyQuantity {
			continue
		}
		eligibleSets := qty / action.BuyQuantity
		freeUnits := eligibleSets * action.GetQuantity
		if freeUnits > qty {
			freeUnits = qty
		}
		unitPrice, ok := unitPriceOf(a, productID)
		if !ok {
			continue
		}
		contribution := unitPrice.MulFloat(float64(freeUnits))
		var err error
		total, err = total.Add(contribution)
		if err != nil {
			return money.Money{}, err
		}
	}
	return total, nil
}

// bundleDiscount contributes only when every listed product is in the cart.
func bundleDiscount(action Action, a cart.Analysis) (money.Money, error) {
	if len(action.BundleProducts) == 0 {
		return money.Zero(a.Currency), nil
	}
	for _, productID := range action.BundleProducts {
		if !a.HasProduct(productID) {
			return money.Zero(a.Currency), nil
		}
	}
	bundleValue := money.Zero(a.Currency)
	listed := make(map[string]struct{}, len(action.BundleProducts))
	for _, productID := range action.BundleProducts {
		listed[productID] = struct{}{}
	}
	for _, it := range a.Items {
		if _, ok := listed[it.ProductID]; !ok {
			continue
		}
		var err error
		bundleValue, err = bundleValue.Add(it.Subtotal())
		if err != nil {
			return money.Money{}, err
		}
	}
	switch action.BundleKind {
	case BundlePercentage:
		return bundleValue.Mul(action.Value).Div(hundred)
	case BundleFixed:
		fixed := money.New(action.Value, a.Currency)
		return money.Min(fixed, bundleValue)
	default:
		return money.Zero(a.Currency), nil
	}
}

// Scan evaluates every candidate promotion against one cart snapshot. It is
// read only: usage ledgers are never touched here.
func Scan(promotions []*Promotion, a cart.Analysis, userID string, now time.Time) ([]Result, error) {
	results := make([]Result, 0, len(promotions))
	for _, p := range promotions {
		if !p.IsValidNow(now) {
			results = append(results, Result{Promotion: p, Discount: money.Zero(a.Currency), Reason: ReasonExpired})
			continue
		}
		if userID != "" && !p.CanUserUse(userID, now) {
			results = append(results, Result{Promotion: p, Discount: money.Zero(a.Currency), Reason: ReasonUsageLimit})
			continue
		}
		if !Eligible(p, a) {
			results = append(results, Result{Promotion: p, Discount: money.Zero(a.Currency), Reason: ReasonConditionsUnmet})
			continue
		}
		discount, err := CalculateDiscount(p, a)
		if err != nil {
			return nil, err
		}
		if !discount.IsPositive() {
			results = append(results, Result{Promotion: p, Discount: money.Zero(a.Currency), Reason: ReasonConditionsUnmet})
			continue
		}
		results = append(results, Result{
			Promotion:   p,
			Discount:    discount,
			Description: describe(p, discount),
			Applied:     true,
		})
	}
	return results, nil
}

// SelectOptimal picks the best-value rule-consistent subset of applied
// results. Exclusive (non-stackable) promotions cannot combine with each
// other; stackable promotions combine freely with each other. The selection
// is a deliberate two-candidate heuristic, not an exhaustive subset search:
// it compares the best single exclusive promotion against the sum of all
// stackable promotions and keeps whichever is worth more, preferring the
// exclusive promotion on ties.
func SelectOptimal(results []Result, cartTotal money.Money) (OptimalSet, error) {
	currency := cartTotal.Currency()
	var stackable, exclusive []Result
	for _, r := range results {
		if !r.Applied {
			continue
		}
		if r.Promotion != nil && r.Promotion.Stackable {
			stackable = append(stackable, r)
		} else {
			exclusive = append(exclusive, r)
		}
	}
	sort.SliceStable(exclusive, func(i, j int) bool {
		greater, _ := exclusive[i].Discount.GreaterThan(exclusive[j].Discount)
		return greater
	})

	stackTotal, err := sumDiscounts(stackable, currency)
	if err != nil {
		return OptimalSet{}, err
	}

	chosen := stackable
	chosenTotal := stackTotal
	if len(exclusive) > 0 {
		best := exclusive[0]
		stackOnlyWins := false
		if len(stackable) > 0 {
			stackOnlyWins, err = stackTotal.GreaterThan(best.Discount)
			if err != nil {
				return OptimalSet{}, err
			}
		}
		if !stackOnlyWins {
			chosen = []Result{best}
			chosenTotal = best.Discount
		}
	}

	finalPrice, err := cartTotal.Sub(chosenTotal)
	if err != nil {
		return OptimalSet{}, err
	}
	if finalPrice.IsNegative() {
		finalPrice = money.Zero(currency)
	}
	savingsPct := 0.0
	if cartTotal.IsPositive() {
		savingsPct, _ = chosenTotal.Amount().Div(cartTotal.Amount()).Mul(hundred).Round(2).Float64()
	}
	return OptimalSet{
		Results:           chosen,
		TotalDiscount:     chosenTotal,
		FinalPrice:        finalPrice,
		Savings:           chosenTotal,
		SavingsPercentage: savingsPct,
	}, nil
}

func sumDiscounts(results []Result, currency string) (money.Money, error) {
	total := money.Zero(currency)
	for _, r := range results {
		var err error
		total, err = total.Add(r.Discount)
		if err != nil {
			return money.Money{}, err
		}
	}
	return total, nil
}

func unitPriceOf(a cart.Analysis, productID string) (money.Money, bool) {
	for _, it := range a.Items {
		if it.ProductID == productID {
			return it.UnitPrice, true
		}
	}
	return money.Money{}, false
}

func describe(p *Promotion, discount money.Money) string {
	for _, action := range p.Actions {
		if action.Type == ActionPercentageDiscount {
			return fmt.Sprintf("%s%% off, you save %s", action.Value.String(), discount)
		}
	}
	name := p.Name
	if name == "" {
		name = p.Code
	}
	return fmt.Sprintf("%s: you save %s", name, discount)
}

func compareNumbers(op Operator, left, right float64) bool {
	switch op {
	case OpGreaterThan:
		return left > right
	case OpGreaterOrEqual:
		return left >= right
	case OpLessThan:
		return left < right
	case OpLessOrEqual:
		return left <= right
	case OpEqual:
		return left == right
	default:
		return false
	}
}

// membership tests the cart-side value set against the condition list:
// "in" holds when any context value appears in the list, "not_in" when none
// does, and "eq" when the single Text value is present in the context.
func membership(c Condition, values map[string]struct{}) bool {
	switch c.Op {
	case OpIn:
		for _, candidate := range c.List {
			if _, ok := values[candidate]; ok {
				return true
			}
		}
		return false
	case OpNotIn:
		for _, candidate := range c.List {
			if _, ok := values[candidate]; ok {
				return false
			}
		}
		return true
	case OpEqual:
		_, ok := values[c.Text]
		return ok
	default:
		return false
	}
}

func compareText(c Condition, value string) bool {
	switch c.Op {
	case OpEqual:
		return value == c.Text
	case OpIn:
		return containsString(c.List, value)
	case OpNotIn:
		return !containsString(c.List, value)
	default:
		return false
	}
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
