package promo

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arkastore/backend-promo/internal/cart"
	"github.com/arkastore/backend-promo/internal/money"
)

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func activePromotion(mutate func(*Promotion)) *Promotion {
	p := &Promotion{
		ID:             uuid.New(),
		Name:           "Test promo",
		Code:           "TEST",
		Kind:           KindCoupon,
		Conditions:     []Condition{{Type: ConditionMinPurchase, Op: OpGreaterOrEqual, Number: 0}},
		Actions:        []Action{{Type: ActionPercentageDiscount, Value: decimal.NewFromInt(10)}},
		StartAt:        testNow.Add(-time.Hour),
		EndAt:          testNow.Add(time.Hour),
		MaxUses:        UnlimitedUses,
		MaxUsesPerUser: UnlimitedUses,
		IsActive:       true,
	}
	if mutate != nil {
		mutate(p)
	}
	return p
}

func usdCart(subtotal float64, items ...cart.Item) cart.Analysis {
	c := cart.Cart{
		Items: items,
		Pricing: cart.Pricing{
			Subtotal: money.NewFromFloat(subtotal, "USD"),
			Total:    money.NewFromFloat(subtotal, "USD"),
			Currency: "USD",
		},
	}
	return cart.Analyze(c, nil)
}

func TestEvaluateConditionMinPurchase(t *testing.T) {
	a := usdCart(100)
	cases := []struct {
		op   Operator
		n    float64
		want bool
	}{
		{OpGreaterThan, 50, true},
		{OpGreaterThan, 100, false},
		{OpGreaterOrEqual, 100, true},
		{OpLessThan, 100, false},
		{OpLessOrEqual, 100, true},
		{OpEqual, 100, true},
		{Operator("like"), 100, false},
	}
	for _, tc := range cases {
		c := Condition{Type: ConditionMinPurchase, Op: tc.op, Number: tc.n}
		if got := EvaluateCondition(c, a); got != tc.want {
			t.Fatalf("op %s against %v: expected %v, got %v", tc.op, tc.n, tc.want, got)
		}
	}
}

func TestEvaluateConditionMembership(t *testing.T) {
	a := usdCart(50,
		cart.Item{ProductID: "p1", Quantity: 1, UnitPrice: money.NewFromFloat(50, "USD"), CategoryID: "books"},
	)
	in := Condition{Type: ConditionCategoryPurchase, Op: OpIn, List: []string{"books", "toys"}}
	if !EvaluateCondition(in, a) {
		t.Fatal("expected category membership to hold")
	}
	notIn := Condition{Type: ConditionCategoryPurchase, Op: OpNotIn, List: []string{"toys"}}
	if !EvaluateCondition(notIn, a) {
		t.Fatal("expected not_in to hold for absent category")
	}
	eq := Condition{Type: ConditionProductSpecific, Op: OpEqual, Text: "p1"}
	if !EvaluateCondition(eq, a) {
		t.Fatal("expected product equality to hold")
	}
}

func TestEvaluateConditionUserContext(t *testing.T) {
	c := cart.Cart{Pricing: cart.Pricing{Subtotal: money.NewFromFloat(10, "USD"), Currency: "USD"}}
	a := cart.Analyze(c, &cart.User{ID: "u1", Segment: "vip", OrderCount: 0, Country: "ID"})

	if !EvaluateCondition(Condition{Type: ConditionUserSegment, Op: OpEqual, Text: "vip"}, a) {
		t.Fatal("segment eq should hold")
	}
	if !EvaluateCondition(Condition{Type: ConditionFirstPurchase, Op: OpEqual, Flag: true}, a) {
		t.Fatal("first purchase should hold for orderCount 0")
	}
	if !EvaluateCondition(Condition{Type: ConditionLocationBased, Op: OpIn, List: []string{"ID", "SG"}}, a) {
		t.Fatal("location in list should hold")
	}
	if EvaluateCondition(Condition{Type: ConditionType("weather"), Op: OpEqual}, a) {
		t.Fatal("unknown condition type must evaluate false")
	}
}

func TestEligibleRequiresAllConditions(t *testing.T) {
	a := usdCart(100)
	p := activePromotion(func(p *Promotion) {
		p.Conditions = []Condition{
			{Type: ConditionMinPurchase, Op: OpGreaterOrEqual, Number: 50},
			{Type: ConditionMinPurchase, Op: OpGreaterOrEqual, Number: 200},
		}
	})
	if Eligible(p, a) {
		t.Fatal("one failing condition must make the promotion ineligible")
	}
}

func TestPercentageDiscount(t *testing.T) {
	a := usdCart(100)
	p := activePromotion(nil)
	discount, err := CalculateDiscount(p, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := discount.String(); got != "10.00 USD" {
		t.Fatalf("expected 10.00 USD, got %s", got)
	}
}

func TestFixedDiscountAndFreeShipping(t *testing.T) {
	c := cart.Cart{
		Pricing:      cart.Pricing{Subtotal: money.NewFromFloat(50, "USD"), Currency: "USD"},
		ShippingCost: money.NewFromFloat(5, "USD"),
	}
	a := cart.Analyze(c, nil)
	p := activePromotion(func(p *Promotion) {
		p.Actions = []Action{
			{Type: ActionFixedDiscount, Value: decimal.NewFromInt(5)},
			{Type: ActionFreeShipping, Target: TargetShipping},
		}
	})
	discount, err := CalculateDiscount(p, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := discount.String(); got != "10.00 USD" {
		t.Fatalf("expected combined 10.00 USD, got %s", got)
	}
}

func TestScanPropagatesCurrencyMismatch(t *testing.T) {
	c := cart.Cart{
		Pricing: cart.Pricing{
			Subtotal: money.NewFromFloat(100, "USD"),
			Total:    money.NewFromFloat(100, "USD"),
			Currency: "USD",
		},
		ShippingCost: money.NewFromFloat(5, "EUR"),
	}
	a := cart.Analyze(c, nil)
	p := activePromotion(func(p *Promotion) {
		p.Actions = []Action{
			{Type: ActionFixedDiscount, Value: decimal.NewFromInt(5)},
			{Type: ActionFreeShipping, Target: TargetShipping},
		}
	})
	if _, err := Scan([]*Promotion{p}, a, "", testNow); !errors.Is(err, money.ErrCurrencyMismatch) {
		t.Fatalf("expected currency mismatch error, got %v", err)
	}
}

func TestBuyXGetY(t *testing.T) {
	a := usdCart(50, cart.Item{ProductID: "p1", Quantity: 5, UnitPrice: money.NewFromFloat(10, "USD")})
	p := activePromotion(func(p *Promotion) {
		p.Actions = []Action{{
			Type:        ActionBuyXGetY,
			BuyQuantity: 2,
			GetQuantity: 1,
			ProductIDs:  []string{"p1"},
		}}
	})
	discount, err := CalculateDiscount(p, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// eligibleSets = floor(5/2) = 2, freeUnits = min(2*1, 5) = 2
	if got := discount.String(); got != "20.00 USD" {
		t.Fatalf("expected 20.00 USD, got %s", got)
	}
}

func TestBuyXGetYFreeUnitsCappedByQuantity(t *testing.T) {
	a := usdCart(40, cart.Item{ProductID: "p1", Quantity: 4, UnitPrice: money.NewFromFloat(10, "USD")})
	p := activePromotion(func(p *Promotion) {
		p.Actions = []Action{{
			Type:        ActionBuyXGetY,
			BuyQuantity: 1,
			GetQuantity: 3,
			ProductIDs:  []string{"p1"},
		}}
	})
	discount, err := CalculateDiscount(p, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// floor(4/1)*3 = 12 free units, capped at the 4 units actually in the cart
	if got := discount.String(); got != "40.00 USD" {
		t.Fatalf("expected 40.00 USD, got %s", got)
	}
}

func TestBundleDiscountRequiresAllProducts(t *testing.T) {
	full := usdCart(80,
		cart.Item{ProductID: "p1", Quantity: 1, UnitPrice: money.NewFromFloat(30, "USD")},
		cart.Item{ProductID: "p2", Quantity: 1, UnitPrice: money.NewFromFloat(50, "USD")},
	)
	partial := usdCart(30, cart.Item{ProductID: "p1", Quantity: 1, UnitPrice: money.NewFromFloat(30, "USD")})
	p := activePromotion(func(p *Promotion) {
		p.Actions = []Action{{
			Type:           ActionBundleDiscount,
			Value:          decimal.NewFromInt(25),
			BundleProducts: []string{"p1", "p2"},
			BundleKind:     BundlePercentage,
		}}
	})
	discount, err := CalculateDiscount(p, full)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := discount.String(); got != "20.00 USD" {
		t.Fatalf("expected 25%% of bundle value 80, got %s", got)
	}
	discount, err = CalculateDiscount(p, partial)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !discount.IsZero() {
		t.Fatalf("incomplete bundle must contribute zero, got %s", discount)
	}
}

func TestBundleFixedCappedAtBundleValue(t *testing.T) {
	a := usdCart(20,
		cart.Item{ProductID: "p1", Quantity: 1, UnitPrice: money.NewFromFloat(10, "USD")},
		cart.Item{ProductID: "p2", Quantity: 1, UnitPrice: money.NewFromFloat(10, "USD")},
	)
	p := activePromotion(func(p *Promotion) {
		p.Actions = []Action{{
			Type:           ActionBundleDiscount,
			Value:          decimal.NewFromInt(500),
			BundleProducts: []string{"p1", "p2"},
			BundleKind:     BundleFixed,
		}}
	})
	discount, err := CalculateDiscount(p, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := discount.String(); got != "20.00 USD" {
		t.Fatalf("fixed bundle discount must cap at bundle value, got %s", got)
	}
}

func TestUnknownActionContributesZero(t *testing.T) {
	a := usdCart(100)
	p := activePromotion(func(p *Promotion) {
		p.Actions = []Action{{Type: ActionType("mystery"), Value: decimal.NewFromInt(50)}}
	})
	discount, err := CalculateDiscount(p, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !discount.IsZero() {
		t.Fatalf("unknown action must contribute zero, got %s", discount)
	}
}

func TestDiscountNeverNegative(t *testing.T) {
	a := usdCart(100)
	p := activePromotion(func(p *Promotion) {
		p.Actions = []Action{{Type: ActionFixedDiscount, Value: decimal.NewFromInt(-20)}}
	})
	discount, err := CalculateDiscount(p, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if discount.IsNegative() {
		t.Fatalf("discount must never be negative, got %s", discount)
	}
}

func TestScanReasons(t *testing.T) {
	a := usdCart(100)
	expired := activePromotion(func(p *Promotion) {
		p.EndAt = testNow.Add(-time.Minute)
	})
	capped := activePromotion(func(p *Promotion) {
		p.MaxUsesPerUser = 1
		p.Usage.UsesByUser = map[string]int{"u1": 1}
	})
	unmet := activePromotion(func(p *Promotion) {
		p.Conditions = []Condition{{Type: ConditionMinPurchase, Op: OpGreaterOrEqual, Number: 500}}
	})
	ok := activePromotion(nil)

	results, err := Scan([]*Promotion{expired, capped, unmet, ok}, a, "u1", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Reason != ReasonExpired || results[0].Applied {
		t.Fatalf("expected expired reason, got %+v", results[0])
	}
	if results[1].Reason != ReasonUsageLimit {
		t.Fatalf("expected usage_limit reason, got %+v", results[1])
	}
	if results[2].Reason != ReasonConditionsUnmet {
		t.Fatalf("expected conditions_not_met reason, got %+v", results[2])
	}
	if !results[3].Applied || !results[3].Discount.Equal(money.NewFromFloat(10, "USD")) {
		t.Fatalf("expected applied 10.00 USD, got %+v", results[3])
	}
}

func TestScanDoesNotMutateUsage(t *testing.T) {
	a := usdCart(100)
	p := activePromotion(nil)
	if _, err := Scan([]*Promotion{p}, a, "u1", testNow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Usage.TotalUses != 0 || p.Usage.LastUsedAt != nil {
		t.Fatal("scan must not touch usage ledgers")
	}
}

// Scenario 1: a single exclusive 10% promotion on a 100 USD cart.
func TestOptimalSingleExclusive(t *testing.T) {
	a := usdCart(100)
	p := activePromotion(nil)
	results, err := Scan([]*Promotion{p}, a, "", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	set, err := SelectOptimal(results, a.Subtotal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := set.TotalDiscount.String(); got != "10.00 USD" {
		t.Fatalf("expected total discount 10.00 USD, got %s", got)
	}
	if got := set.FinalPrice.String(); got != "90.00 USD" {
		t.Fatalf("expected final price 90.00 USD, got %s", got)
	}
	if set.SavingsPercentage != 10 {
		t.Fatalf("expected 10%% savings, got %v", set.SavingsPercentage)
	}
}

// Scenario 2: two stackable promotions combine.
func TestOptimalStacksStackables(t *testing.T) {
	c := cart.Cart{
		Pricing:      cart.Pricing{Subtotal: money.NewFromFloat(50, "USD"), Total: money.NewFromFloat(50, "USD"), Currency: "USD"},
		ShippingCost: money.NewFromFloat(5, "USD"),
	}
	a := cart.Analyze(c, nil)
	fixed := activePromotion(func(p *Promotion) {
		p.Stackable = true
		p.Actions = []Action{{Type: ActionFixedDiscount, Value: decimal.NewFromInt(5)}}
	})
	shipping := activePromotion(func(p *Promotion) {
		p.Stackable = true
		p.Actions = []Action{{Type: ActionFreeShipping}}
	})
	results, err := Scan([]*Promotion{fixed, shipping}, a, "", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	set, err := SelectOptimal(results, money.NewFromFloat(50, "USD"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := set.TotalDiscount.String(); got != "10.00 USD" {
		t.Fatalf("expected stacked 10.00 USD, got %s", got)
	}
	if got := set.FinalPrice.String(); got != "40.00 USD" {
		t.Fatalf("expected final price 40.00 USD, got %s", got)
	}
	if len(set.Results) != 2 {
		t.Fatalf("expected both stackable promotions kept, got %d", len(set.Results))
	}
}

// Scenario 3: a 20 USD exclusive beats a 15 USD stackable combination.
func TestOptimalPrefersLargerCandidate(t *testing.T) {
	a := usdCart(100)
	exclusive := activePromotion(func(p *Promotion) {
		p.Actions = []Action{{Type: ActionFixedDiscount, Value: decimal.NewFromInt(20)}}
	})
	stackA := activePromotion(func(p *Promotion) {
		p.Stackable = true
		p.Actions = []Action{{Type: ActionFixedDiscount, Value: decimal.NewFromInt(10)}}
	})
	stackB := activePromotion(func(p *Promotion) {
		p.Stackable = true
		p.Actions = []Action{{Type: ActionFixedDiscount, Value: decimal.NewFromInt(5)}}
	})
	results, err := Scan([]*Promotion{exclusive, stackA, stackB}, a, "", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	set, err := SelectOptimal(results, a.Subtotal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := set.TotalDiscount.String(); got != "20.00 USD" {
		t.Fatalf("expected max(20, 15) = 20.00 USD, got %s", got)
	}
	if len(set.Results) != 1 || set.Results[0].Promotion.Stackable {
		t.Fatal("expected the single exclusive promotion to be chosen")
	}
}

func TestOptimalPrefersStackablesWhenWorthMore(t *testing.T) {
	a := usdCart(100)
	exclusive := activePromotion(func(p *Promotion) {
		p.Actions = []Action{{Type: ActionFixedDiscount, Value: decimal.NewFromInt(12)}}
	})
	stack := activePromotion(func(p *Promotion) {
		p.Stackable = true
		p.Actions = []Action{{Type: ActionFixedDiscount, Value: decimal.NewFromInt(15)}}
	})
	results, err := Scan([]*Promotion{exclusive, stack}, a, "", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	set, err := SelectOptimal(results, a.Subtotal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := set.TotalDiscount.String(); got != "15.00 USD" {
		t.Fatalf("expected stackable total 15.00 USD, got %s", got)
	}
}

func TestOptimalTieKeepsExclusive(t *testing.T) {
	a := usdCart(100)
	exclusive := activePromotion(func(p *Promotion) {
		p.Actions = []Action{{Type: ActionFixedDiscount, Value: decimal.NewFromInt(15)}}
	})
	stack := activePromotion(func(p *Promotion) {
		p.Stackable = true
		p.Actions = []Action{{Type: ActionFixedDiscount, Value: decimal.NewFromInt(15)}}
	})
	results, err := Scan([]*Promotion{exclusive, stack}, a, "", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	set, err := SelectOptimal(results, a.Subtotal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set.Results) != 1 || set.Results[0].Promotion.Stackable {
		t.Fatal("economically equal candidates must keep the exclusive promotion")
	}
}

func TestOptimalEmptyYieldsZeroDiscount(t *testing.T) {
	total := money.NewFromFloat(42, "USD")
	set, err := SelectOptimal(nil, total)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !set.TotalDiscount.IsZero() {
		t.Fatalf("expected zero discount, got %s", set.TotalDiscount)
	}
	if !set.FinalPrice.Equal(total) {
		t.Fatalf("expected final price to equal cart total, got %s", set.FinalPrice)
	}
	if set.SavingsPercentage != 0 {
		t.Fatalf("expected 0%% savings, got %v", set.SavingsPercentage)
	}
}

func TestFinalPriceNeverNegative(t *testing.T) {
	a := usdCart(10)
	p := activePromotion(func(p *Promotion) {
		p.Actions = []Action{{Type: ActionFixedDiscount, Value: decimal.NewFromInt(50)}}
	})
	results, err := Scan([]*Promotion{p}, a, "", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	set, err := SelectOptimal(results, a.Subtotal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.FinalPrice.IsNegative() {
		t.Fatalf("final price must clamp at zero, got %s", set.FinalPrice)
	}
	if !set.FinalPrice.IsZero() {
		t.Fatalf("expected zero final price, got %s", set.FinalPrice)
	}
}
