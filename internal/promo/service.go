package promo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arkastore/backend-promo/internal/cart"
	"github.com/arkastore/backend-promo/internal/events"
	"github.com/arkastore/backend-promo/internal/lock"
	"github.com/arkastore/backend-promo/internal/money"
	"github.com/arkastore/backend-promo/internal/obs"
)

var (
	// ErrNotConfigured indicates a required service dependency is missing.
	ErrNotConfigured = errors.New("promo: service not configured")
	// ErrInvalidDefinition indicates the promotion definition failed validation.
	ErrInvalidDefinition = errors.New("promo: invalid definition")
)

// PreviewResult is the read-only outcome of scanning a cart: every
// evaluation with its reason, plus the chosen best-value combination.
type PreviewResult struct {
	Results []Result    `json:"results"`
	Optimal OptimalSet  `json:"optimal"`
	Cart    cart.Cart   `json:"cart"`
	Savings money.Money `json:"savings"`
}

// Service wires the rule engine to storage, caching, locking and events.
type Service struct {
	Store   Store
	Cache   *Cache
	Locker  lock.Locker
	Bus     *events.Bus
	Log     zerolog.Logger
	Now     func() time.Time
	LockTTL time.Duration
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Create validates and persists a new promotion definition.
func (s *Service) Create(ctx context.Context, p *Promotion) error {
	if s == nil || s.Store == nil {
		return ErrNotConfigured
	}
	if violations := Validate(p); len(violations) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDefinition, strings.Join(violations, "; "))
	}
	if err := s.Store.Create(ctx, p); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.emit(ctx, events.TopicPromotionCreated, p.ID, map[string]any{"name": p.Name, "kind": p.Kind})
	return nil
}

// Update validates and rewrites an existing definition.
func (s *Service) Update(ctx context.Context, p *Promotion) error {
	if s == nil || s.Store == nil {
		return ErrNotConfigured
	}
	if violations := Validate(p); len(violations) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDefinition, strings.Join(violations, "; "))
	}
	if err := s.Store.Update(ctx, p); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.emit(ctx, events.TopicPromotionUpdated, p.ID, map[string]any{"name": p.Name})
	return nil
}

// Get returns one promotion by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Promotion, error) {
	if s == nil || s.Store == nil {
		return nil, ErrNotConfigured
	}
	return s.Store.Get(ctx, id)
}

// GetByCode returns one promotion by its coupon code.
func (s *Service) GetByCode(ctx context.Context, code string) (*Promotion, error) {
	if s == nil || s.Store == nil {
		return nil, ErrNotConfigured
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrNotFound
	}
	return s.Store.GetByCode(ctx, code)
}

// List returns promotions for the admin surface.
func (s *Service) List(ctx context.Context, includeInactive bool, limit, offset int) ([]*Promotion, int64, error) {
	if s == nil || s.Store == nil {
		return nil, 0, ErrNotConfigured
	}
	return s.Store.List(ctx, includeInactive, limit, offset)
}

// Deactivate turns a promotion off. Historical usage stays intact.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.Store == nil {
		return ErrNotConfigured
	}
	if err := s.Store.Deactivate(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.emit(ctx, events.TopicPromotionDeactivated, id, nil)
	return nil
}

// Preview evaluates every active promotion against the cart without touching
// any ledger. Safe to call on every cart render.
func (s *Service) Preview(ctx context.Context, c cart.Cart, u *cart.User) (PreviewResult, error) {
	if s == nil || s.Store == nil {
		return PreviewResult{}, ErrNotConfigured
	}
	now := s.now()
	promotions, err := s.activePromotions(ctx, now, userIDOf(u))
	if err != nil {
		return PreviewResult{}, err
	}
	analysis := cart.Analyze(c, u)
	scanStart := time.Now()
	results, err := Scan(promotions, analysis, userIDOf(u), now)
	if err != nil {
		if obs.PromotionScanTotal != nil {
			obs.PromotionScanTotal.WithLabelValues("error").Inc()
		}
		return PreviewResult{}, err
	}
	recordScanMetrics(results, time.Since(scanStart))
	total := cartTotal(c, analysis)
	optimal, err := SelectOptimal(results, total)
	if err != nil {
		return PreviewResult{}, err
	}
	discounted, err := cart.ApplyDiscount(c, optimal.TotalDiscount)
	if err != nil {
		return PreviewResult{}, err
	}
	return PreviewResult{
		Results: results,
		Optimal: optimal,
		Cart:    discounted,
		Savings: optimal.Savings,
	}, nil
}

// Apply runs the same scan as Preview and then settles the chosen promotions
// against the order. Settlement is serialized per promotion through the lock
// so checkouts racing over a capped promotion queue instead of both passing
// the scan, and the unique usage row keeps retries idempotent. Replays return
// the same discounted cart without advancing any ledger twice.
func (s *Service) Apply(ctx context.Context, c cart.Cart, u *cart.User, orderID string) (PreviewResult, error) {
	if s == nil || s.Store == nil {
		return PreviewResult{}, ErrNotConfigured
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return PreviewResult{}, errors.New("promo: order id is required")
	}
	preview, err := s.Preview(ctx, c, u)
	if err != nil {
		return PreviewResult{}, err
	}
	if len(preview.Optimal.Results) == 0 {
		return preview, nil
	}

	now := s.now()
	orderValue := preview.Optimal.FinalPrice
	for _, r := range preview.Optimal.Results {
		settle := func(ctx context.Context) error {
			return s.Store.Settle(ctx, Settlement{
				PromotionID: r.Promotion.ID,
				UserID:      userIDOf(u),
				OrderID:     orderID,
				Discount:    r.Discount,
				OrderValue:  orderValue,
				SettledAt:   now,
			})
		}
		if s.Locker.R != nil {
			err = s.Locker.WithLock(ctx, lock.PromotionKey(r.Promotion.ID), s.LockTTL, settle)
		} else {
			err = settle(ctx)
		}
		if errors.Is(err, ErrAlreadySettled) {
			continue
		}
		if err != nil {
			return PreviewResult{}, err
		}
		s.emit(ctx, events.TopicPromotionApplied, r.Promotion.ID, map[string]any{
			"orderId":  orderID,
			"discount": r.Discount,
		})
		recordApplyMetrics(r)
	}
	s.invalidate(ctx)
	return preview, nil
}

// ValidateDefinition reports every rule violation in the definition without
// persisting anything.
func (s *Service) ValidateDefinition(p *Promotion) []string {
	return Validate(p)
}

// activePromotions loads the active set, preferring the cached snapshot.
// Scans on behalf of an identified user bypass the cache because their
// per-user ledger counts must be fresh.
func (s *Service) activePromotions(ctx context.Context, now time.Time, userID string) ([]*Promotion, error) {
	if userID == "" && s.Cache != nil {
		if cached, ok, err := s.Cache.GetActive(ctx); err == nil && ok {
			if obs.CacheSnapshotHits != nil {
				obs.CacheSnapshotHits.WithLabelValues("hit").Inc()
			}
			return cached, nil
		} else if err != nil {
			s.Log.Warn().Err(err).Msg("promotion cache read failed")
		}
		if obs.CacheSnapshotHits != nil {
			obs.CacheSnapshotHits.WithLabelValues("miss").Inc()
		}
	}
	promotions, err := s.Store.ListActive(ctx, now, userID)
	if err != nil {
		return nil, err
	}
	if userID == "" && s.Cache != nil {
		if err := s.Cache.SetActive(ctx, promotions); err != nil {
			s.Log.Warn().Err(err).Msg("promotion cache write failed")
		}
	}
	return promotions, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Invalidate(ctx); err != nil {
		s.Log.Warn().Err(err).Msg("promotion cache invalidation failed")
	}
}

func (s *Service) emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) {
	if s.Bus == nil {
		return
	}
	if _, err := s.Bus.Emit(ctx, topic, aggregateID, payload); err != nil {
		s.Log.Warn().Err(err).Str("topic", topic).Msg("event emit failed")
	}
}

func recordScanMetrics(results []Result, elapsed time.Duration) {
	if obs.ScanDuration != nil {
		obs.ScanDuration.Observe(float64(elapsed.Milliseconds()))
	}
	if obs.PromotionScanTotal == nil {
		return
	}
	obs.PromotionScanTotal.WithLabelValues("ok").Inc()
	for _, r := range results {
		if !r.Applied && obs.PromotionRejectedTotal != nil {
			obs.PromotionRejectedTotal.WithLabelValues(string(r.Reason)).Inc()
		}
	}
}

func recordApplyMetrics(r Result) {
	if obs.PromotionAppliedTotal != nil {
		obs.PromotionAppliedTotal.WithLabelValues(string(r.Promotion.Kind)).Inc()
	}
	if obs.DiscountAmount != nil {
		amount, _ := r.Discount.Amount().Float64()
		obs.DiscountAmount.WithLabelValues(string(r.Promotion.Kind)).Observe(amount)
	}
}

func userIDOf(u *cart.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}

func cartTotal(c cart.Cart, a cart.Analysis) money.Money {
	if !c.Pricing.Total.IsZero() {
		return c.Pricing.Total
	}
	return a.Subtotal
}
