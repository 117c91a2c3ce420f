package promo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arkastore/backend-promo/internal/cart"
	"github.com/arkastore/backend-promo/internal/money"
)

type stubStore struct {
	active      []*Promotion
	created     []*Promotion
	updated     []*Promotion
	deactivated []uuid.UUID
	settlements []Settlement
	settleErr   error
	settled     map[string]bool
	enforceCaps bool
	uses        map[uuid.UUID]int
}

func (s *stubStore) Create(_ context.Context, p *Promotion) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.created = append(s.created, p)
	return nil
}

func (s *stubStore) Update(_ context.Context, p *Promotion) error {
	s.updated = append(s.updated, p)
	return nil
}

func (s *stubStore) Get(_ context.Context, id uuid.UUID) (*Promotion, error) {
	for _, p := range s.active {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

func (s *stubStore) GetByCode(_ context.Context, code string) (*Promotion, error) {
	for _, p := range s.active {
		if p.Code == code {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

func (s *stubStore) List(_ context.Context, _ bool, _, _ int) ([]*Promotion, int64, error) {
	return s.active, int64(len(s.active)), nil
}

func (s *stubStore) ListActive(_ context.Context, _ time.Time, _ string) ([]*Promotion, error) {
	return s.active, nil
}

func (s *stubStore) Deactivate(_ context.Context, id uuid.UUID) error {
	s.deactivated = append(s.deactivated, id)
	return nil
}

func (s *stubStore) Settle(_ context.Context, stl Settlement) error {
	if s.settleErr != nil {
		return s.settleErr
	}
	key := stl.PromotionID.String() + "/" + stl.OrderID
	if s.settled == nil {
		s.settled = make(map[string]bool)
	}
	if s.settled[key] {
		return ErrAlreadySettled
	}
	if s.enforceCaps {
		if s.uses == nil {
			s.uses = make(map[uuid.UUID]int)
		}
		for _, p := range s.active {
			if p.ID == stl.PromotionID && p.MaxUses != UnlimitedUses && s.uses[p.ID] >= p.MaxUses {
				return ErrExhausted
			}
		}
		s.uses[stl.PromotionID]++
	}
	s.settled[key] = true
	s.settlements = append(s.settlements, stl)
	return nil
}

func newService(store *stubStore) *Service {
	return &Service{
		Store: store,
		Now:   func() time.Time { return testNow },
	}
}

func TestServiceCreateRejectsInvalid(t *testing.T) {
	store := &stubStore{}
	svc := newService(store)

	p := activePromotion(func(p *Promotion) { p.Name = "" })
	err := svc.Create(context.Background(), p)
	if !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected ErrInvalidDefinition, got %v", err)
	}
	if len(store.created) != 0 {
		t.Fatal("invalid definitions must not reach the store")
	}
}

func TestServiceCreatePersistsValid(t *testing.T) {
	store := &stubStore{}
	svc := newService(store)

	if err := svc.Create(context.Background(), activePromotion(nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.created) != 1 {
		t.Fatalf("expected 1 create, got %d", len(store.created))
	}
}

func TestServicePreview(t *testing.T) {
	store := &stubStore{active: []*Promotion{activePromotion(nil)}}
	svc := newService(store)

	c := cart.Cart{Pricing: cart.Pricing{
		Subtotal: money.NewFromFloat(100, "USD"),
		Total:    money.NewFromFloat(100, "USD"),
		Currency: "USD",
	}}
	got, err := svc.Preview(context.Background(), c, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotStr := got.Optimal.TotalDiscount.String(); gotStr != "10.00 USD" {
		t.Fatalf("expected 10.00 USD discount, got %s", gotStr)
	}
	if gotStr := got.Cart.Pricing.Total.String(); gotStr != "90.00 USD" {
		t.Fatalf("expected discounted total 90.00 USD, got %s", gotStr)
	}
	if len(store.settlements) != 0 {
		t.Fatal("preview must never settle usage")
	}
}

func TestServiceApplySettlesOncePerOrder(t *testing.T) {
	store := &stubStore{active: []*Promotion{activePromotion(nil)}}
	svc := newService(store)

	c := cart.Cart{Pricing: cart.Pricing{
		Subtotal: money.NewFromFloat(100, "USD"),
		Total:    money.NewFromFloat(100, "USD"),
		Currency: "USD",
	}}
	u := &cart.User{ID: "u1", OrderCount: 2}

	first, err := svc.Apply(context.Background(), c, u, "ord-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Apply(context.Background(), c, u, "ord-1")
	if err != nil {
		t.Fatalf("replay must succeed, got %v", err)
	}
	if len(store.settlements) != 1 {
		t.Fatalf("expected exactly 1 settlement, got %d", len(store.settlements))
	}
	if !first.Optimal.TotalDiscount.Equal(second.Optimal.TotalDiscount) {
		t.Fatal("replay must return the same discount")
	}
	stl := store.settlements[0]
	if stl.OrderID != "ord-1" || stl.UserID != "u1" {
		t.Fatalf("unexpected settlement: %+v", stl)
	}
}

func TestServiceApplyRechecksGlobalCap(t *testing.T) {
	// ListActive serves the same stale snapshot (TotalUses stays 0) for
	// both checkouts, so only the settlement re-check can stop the second
	// order from consuming the single remaining use.
	capped := activePromotion(func(p *Promotion) { p.MaxUses = 1 })
	store := &stubStore{active: []*Promotion{capped}, enforceCaps: true}
	svc := newService(store)

	c := cart.Cart{Pricing: cart.Pricing{
		Subtotal: money.NewFromFloat(100, "USD"),
		Total:    money.NewFromFloat(100, "USD"),
		Currency: "USD",
	}}

	if _, err := svc.Apply(context.Background(), c, nil, "ord-a"); err != nil {
		t.Fatalf("first order must settle, got %v", err)
	}
	if _, err := svc.Apply(context.Background(), c, nil, "ord-b"); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted for second order, got %v", err)
	}
	if len(store.settlements) != 1 {
		t.Fatalf("expected exactly 1 settlement, got %d", len(store.settlements))
	}
}

func TestServiceApplyRequiresOrderID(t *testing.T) {
	svc := newService(&stubStore{})
	_, err := svc.Apply(context.Background(), cart.Cart{}, nil, "  ")
	if err == nil {
		t.Fatal("expected error for missing order id")
	}
}

func TestServiceApplyNoPromotionsNoSettlement(t *testing.T) {
	store := &stubStore{}
	svc := newService(store)

	c := cart.Cart{Pricing: cart.Pricing{
		Subtotal: money.NewFromFloat(50, "USD"),
		Total:    money.NewFromFloat(50, "USD"),
		Currency: "USD",
	}}
	got, err := svc.Apply(context.Background(), c, nil, "ord-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Optimal.TotalDiscount.IsZero() {
		t.Fatalf("expected zero discount, got %s", got.Optimal.TotalDiscount)
	}
	if len(store.settlements) != 0 {
		t.Fatal("nothing to settle without applicable promotions")
	}
}

func TestServiceApplyPropagatesSettleFailure(t *testing.T) {
	store := &stubStore{
		active:    []*Promotion{activePromotion(nil)},
		settleErr: errors.New("db down"),
	}
	svc := newService(store)

	c := cart.Cart{Pricing: cart.Pricing{
		Subtotal: money.NewFromFloat(100, "USD"),
		Total:    money.NewFromFloat(100, "USD"),
		Currency: "USD",
	}}
	if _, err := svc.Apply(context.Background(), c, nil, "ord-3"); err == nil {
		t.Fatal("expected settlement error to propagate")
	}
}

func TestServicePreviewRespectsUserCaps(t *testing.T) {
	capped := activePromotion(func(p *Promotion) {
		p.MaxUsesPerUser = 1
		p.Usage.UsesByUser = map[string]int{"u1": 1}
		p.Actions = []Action{{Type: ActionFixedDiscount, Value: decimal.NewFromInt(5)}}
	})
	store := &stubStore{active: []*Promotion{capped}}
	svc := newService(store)

	c := cart.Cart{Pricing: cart.Pricing{
		Subtotal: money.NewFromFloat(100, "USD"),
		Total:    money.NewFromFloat(100, "USD"),
		Currency: "USD",
	}}
	got, err := svc.Preview(context.Background(), c, &cart.User{ID: "u1", OrderCount: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Optimal.TotalDiscount.IsZero() {
		t.Fatalf("capped user must get no discount, got %s", got.Optimal.TotalDiscount)
	}
	if got.Results[0].Reason != ReasonUsageLimit {
		t.Fatalf("expected usage_limit reason, got %+v", got.Results[0])
	}
}
