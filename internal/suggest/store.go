package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/arkastore/backend-promo/internal/promo"
)

// ErrStoreUnavailable indicates the database dependency is not configured.
var ErrStoreUnavailable = errors.New("suggest: store unavailable")

// Store persists generated drafts.
type Store interface {
	InsertDraft(ctx context.Context, d *Draft) error
	ListDrafts(ctx context.Context, limit int) ([]Draft, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

func (s *pgStore) InsertDraft(ctx context.Context, d *Draft) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	payload, err := json.Marshal(d.Promotion)
	if err != nil {
		return fmt.Errorf("marshal draft promotion: %w", err)
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO suggestion_drafts (id, reason, promotion, created_at)
VALUES ($1, $2, $3, $4)`, d.ID, d.Reason, payload, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert draft: %w", err)
	}
	return nil
}

func (s *pgStore) ListDrafts(ctx context.Context, limit int) ([]Draft, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `SELECT id, reason, promotion, created_at
FROM suggestion_drafts ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	var out []Draft
	for rows.Next() {
		var (
			d       Draft
			payload []byte
		)
		if err := rows.Scan(&d.ID, &d.Reason, &payload, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		d.Promotion = &promo.Promotion{}
		if err := json.Unmarshal(payload, d.Promotion); err != nil {
			return nil, fmt.Errorf("unmarshal draft promotion: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// NewSalesSource constructs a SalesSource reading the sales fact table the
// order system maintains.
func NewSalesSource(pool *pgxpool.Pool) SalesSource {
	return &pgSales{pool: pool}
}

type pgSales struct {
	pool *pgxpool.Pool
}

func (s *pgSales) TopProducts(ctx context.Context, since time.Time, limit int) ([]ProductSales, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx, `SELECT product_id, product_name, sum(units), sum(revenue)
FROM sales_facts
WHERE sold_at >= $1
GROUP BY product_id, product_name
ORDER BY sum(units) DESC
LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("top products: %w", err)
	}
	defer rows.Close()

	var out []ProductSales
	for rows.Next() {
		var (
			p       ProductSales
			units   int64
			revenue decimal.Decimal
		)
		if err := rows.Scan(&p.ProductID, &p.Name, &units, &revenue); err != nil {
			return nil, fmt.Errorf("scan product sales: %w", err)
		}
		p.Units = int(units)
		p.Revenue = revenue
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *pgSales) MonthlyRevenue(ctx context.Context, months int) ([]MonthlySales, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	if months <= 0 {
		months = 12
	}
	rows, err := s.pool.Query(ctx, `SELECT
extract(year from sold_at)::int,
extract(month from sold_at)::int,
sum(revenue)
FROM sales_facts
WHERE sold_at >= now() - make_interval(months => $1)
GROUP BY 1, 2
ORDER BY 1, 2`, months)
	if err != nil {
		return nil, fmt.Errorf("monthly revenue: %w", err)
	}
	defer rows.Close()

	var out []MonthlySales
	for rows.Next() {
		var (
			m     MonthlySales
			month int
		)
		if err := rows.Scan(&m.Year, &month, &m.Revenue); err != nil {
			return nil, fmt.Errorf("scan monthly revenue: %w", err)
		}
		m.Month = time.Month(month)
		out = append(out, m)
	}
	return out, rows.Err()
}
