package suggest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arkastore/backend-promo/internal/promo"
)

// ProductSales is an aggregate sales row for one product.
type ProductSales struct {
	ProductID string
	Name      string
	Units     int
	Revenue   decimal.Decimal
}

// MonthlySales is the revenue total for one calendar month.
type MonthlySales struct {
	Year    int
	Month   time.Month
	Revenue decimal.Decimal
}

// SalesSource supplies the aggregates the draft heuristics read. The numbers
// come from the order system's fact table; this package never writes to it.
type SalesSource interface {
	TopProducts(ctx context.Context, since time.Time, limit int) ([]ProductSales, error)
	MonthlyRevenue(ctx context.Context, months int) ([]MonthlySales, error)
}

// Draft is a generated promotion proposal. The embedded promotion is always
// deactivated; a human promotes it through the normal admin endpoints.
type Draft struct {
	ID        uuid.UUID        `json:"id"`
	Reason    string           `json:"reason"`
	Promotion *promo.Promotion `json:"promotion"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Generator derives draft promotions from recent sales aggregates. Every
// heuristic is best effort: a thin or empty fact table yields fewer drafts,
// never an error.
type Generator struct {
	Sales    SalesSource
	Now      func() time.Time
	Lookback time.Duration
}

func (g *Generator) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now().UTC()
}

func (g *Generator) lookback() time.Duration {
	if g.Lookback > 0 {
		return g.Lookback
	}
	return 90 * 24 * time.Hour
}

// Generate runs every heuristic and returns the drafts that pass definition
// validation. Drafts that fail validation are silently dropped; a suggestion
// the admin surface cannot accept is worthless.
func (g *Generator) Generate(ctx context.Context) ([]Draft, error) {
	if g == nil || g.Sales == nil {
		return nil, fmt.Errorf("suggest: sales source not configured")
	}
	now := g.now()
	var drafts []Draft

	top, err := g.Sales.TopProducts(ctx, now.Add(-g.lookback()), 5)
	if err != nil {
		return nil, fmt.Errorf("suggest: load top products: %w", err)
	}
	if d, ok := g.bundleDraft(top, now); ok {
		drafts = append(drafts, d)
	}
	if d, ok := g.buyXGetYDraft(top, now); ok {
		drafts = append(drafts, d)
	}

	months, err := g.Sales.MonthlyRevenue(ctx, 12)
	if err != nil {
		return nil, fmt.Errorf("suggest: load monthly revenue: %w", err)
	}
	if d, ok := g.slowMonthDraft(months, now); ok {
		drafts = append(drafts, d)
	}

	out := drafts[:0]
	for _, d := range drafts {
		if violations := promo.Validate(d.Promotion); len(violations) == 0 {
			out = append(out, d)
		}
	}
	return out, nil
}

// bundleDraft pairs the two best sellers into a bundle discount.
func (g *Generator) bundleDraft(top []ProductSales, now time.Time) (Draft, bool) {
	if len(top) < 2 {
		return Draft{}, false
	}
	first, second := top[0], top[1]
	p := &promo.Promotion{
		Name:        fmt.Sprintf("Bundle: %s + %s", first.Name, second.Name),
		Description: "Bundle of the two current best sellers.",
		Kind:        promo.KindAutomatic,
		Conditions: []promo.Condition{
			{Type: promo.ConditionProductSpecific, Op: promo.OpIn, List: []string{first.ProductID, second.ProductID}},
		},
		Actions: []promo.Action{{
			Type:           promo.ActionBundleDiscount,
			Value:          decimal.NewFromInt(10),
			BundleProducts: []string{first.ProductID, second.ProductID},
			BundleKind:     promo.BundlePercentage,
		}},
		StartAt:        now,
		EndAt:          now.AddDate(0, 1, 0),
		MaxUses:        promo.UnlimitedUses,
		MaxUsesPerUser: promo.UnlimitedUses,
		Stackable:      false,
		IsActive:       false,
	}
	return Draft{
		Reason:    fmt.Sprintf("%s and %s are the top sellers of the last quarter", first.Name, second.Name),
		Promotion: p,
	}, true
}

// buyXGetYDraft proposes buy-2-get-1 on the single best seller when it moves
// enough units to make free stock worthwhile.
func (g *Generator) buyXGetYDraft(top []ProductSales, now time.Time) (Draft, bool) {
	if len(top) == 0 || top[0].Units < 50 {
		return Draft{}, false
	}
	best := top[0]
	p := &promo.Promotion{
		Name:        fmt.Sprintf("Buy 2 get 1: %s", best.Name),
		Description: "Volume reward on the current best seller.",
		Kind:        promo.KindAutomatic,
		Conditions: []promo.Condition{
			{Type: promo.ConditionProductSpecific, Op: promo.OpEqual, Text: best.ProductID},
		},
		Actions: []promo.Action{{
			Type:        promo.ActionBuyXGetY,
			BuyQuantity: 2,
			GetQuantity: 1,
			ProductIDs:  []string{best.ProductID},
		}},
		StartAt:        now,
		EndAt:          now.AddDate(0, 1, 0),
		MaxUses:        promo.UnlimitedUses,
		MaxUsesPerUser: 3,
		Stackable:      false,
		IsActive:       false,
	}
	return Draft{
		Reason:    fmt.Sprintf("%s sold %d units in the lookback window", best.Name, best.Units),
		Promotion: p,
	}, true
}

// slowMonthDraft schedules a storewide percentage campaign for the upcoming
// month when its historical revenue runs below the yearly average.
func (g *Generator) slowMonthDraft(months []MonthlySales, now time.Time) (Draft, bool) {
	if len(months) < 3 {
		return Draft{}, false
	}
	total := decimal.Zero
	byMonth := make(map[time.Month]decimal.Decimal, len(months))
	for _, m := range months {
		total = total.Add(m.Revenue)
		byMonth[m.Month] = byMonth[m.Month].Add(m.Revenue)
	}
	average := total.Div(decimal.NewFromInt(int64(len(months))))

	next := now.AddDate(0, 1, 0).Month()
	revenue, seen := byMonth[next]
	if !seen || revenue.GreaterThanOrEqual(average) {
		return Draft{}, false
	}

	start := time.Date(now.Year(), next, 1, 0, 0, 0, 0, time.UTC)
	if start.Before(now) {
		start = start.AddDate(1, 0, 0)
	}
	p := &promo.Promotion{
		Name:        fmt.Sprintf("%s boost campaign", next),
		Description: "Storewide discount for a historically slow month.",
		Kind:        promo.KindCampaign,
		Conditions: []promo.Condition{
			{Type: promo.ConditionMinPurchase, Op: promo.OpGreaterOrEqual, Number: 0},
		},
		Actions: []promo.Action{{
			Type:  promo.ActionPercentageDiscount,
			Value: decimal.NewFromInt(15),
		}},
		StartAt:        start,
		EndAt:          start.AddDate(0, 1, 0),
		MaxUses:        promo.UnlimitedUses,
		MaxUsesPerUser: promo.UnlimitedUses,
		Stackable:      true,
		IsActive:       false,
	}
	return Draft{
		Reason:    fmt.Sprintf("%s revenue historically runs below the monthly average", next),
		Promotion: p,
	}, true
}
