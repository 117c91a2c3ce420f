package promo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/arkastore/backend-promo/internal/money"
)

var (
	// ErrNotFound indicates the promotion does not exist.
	ErrNotFound = errors.New("promo: promotion not found")
	// ErrDuplicateCode indicates another promotion already owns the code.
	ErrDuplicateCode = errors.New("promo: code already in use")
	// ErrAlreadySettled indicates the order was settled against the
	// promotion before; the ledger is advanced at most once per order.
	ErrAlreadySettled = errors.New("promo: order already settled")
	// ErrExhausted indicates the promotion's global usage cap was consumed
	// between the scan and settlement.
	ErrExhausted = errors.New("promo: usage cap reached")
	// ErrStoreUnavailable indicates the database dependency is not configured.
	ErrStoreUnavailable = errors.New("promo: store unavailable")
)

// Settlement records one completed order consuming one promotion.
type Settlement struct {
	PromotionID uuid.UUID
	UserID      string
	OrderID     string
	Discount    money.Money
	OrderValue  money.Money
	SettledAt   time.Time
}

// Store provides database accessors for promotion definitions and the
// usage ledger.
type Store interface {
	Create(ctx context.Context, p *Promotion) error
	Update(ctx context.Context, p *Promotion) error
	Get(ctx context.Context, id uuid.UUID) (*Promotion, error)
	GetByCode(ctx context.Context, code string) (*Promotion, error)
	List(ctx context.Context, includeInactive bool, limit, offset int) ([]*Promotion, int64, error)
	ListActive(ctx context.Context, now time.Time, userID string) ([]*Promotion, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	Settle(ctx context.Context, s Settlement) error
}

// NewStore constructs a Store backed by a pgx connection pool. currency is
// the ledger currency recorded for promotions that have not attributed any
// revenue yet; empty means USD.
func NewStore(pool *pgxpool.Pool, currency string) Store {
	return &pgStore{pool: pool, currency: currency}
}

type pgStore struct {
	pool     *pgxpool.Pool
	currency string
}

const promotionColumns = `id, name, description, code, kind, conditions, actions, priority,
start_at, end_at, max_uses, max_uses_per_user, stackable, is_active,
total_uses, attributed_revenue, currency, last_used_at, created_at, updated_at`

// Create persists a new promotion definition.
func (s *pgStore) Create(ctx context.Context, p *Promotion) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	conditions, actions, err := marshalRules(p)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err = s.pool.Exec(ctx, `INSERT INTO promotions (
id, name, description, code, kind, conditions, actions, priority,
start_at, end_at, max_uses, max_uses_per_user, stackable, is_active,
total_uses, attributed_revenue, currency, created_at, updated_at
) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 0, 0, $15, $16, $16)`,
		p.ID, p.Name, p.Description, p.Code, p.Kind, conditions, actions, p.Priority,
		p.StartAt, p.EndAt, p.MaxUses, p.MaxUsesPerUser, p.Stackable, p.IsActive,
		s.currencyOf(p), now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCode
		}
		return fmt.Errorf("insert promotion: %w", err)
	}
	return nil
}

// Update rewrites the mutable definition fields. Usage counters are owned by
// Settle and deliberately untouched here.
func (s *pgStore) Update(ctx context.Context, p *Promotion) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	conditions, actions, err := marshalRules(p)
	if err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()
	ct, err := s.pool.Exec(ctx, `UPDATE promotions SET
name = $2, description = $3, code = NULLIF($4, ''), kind = $5,
conditions = $6, actions = $7, priority = $8, start_at = $9, end_at = $10,
max_uses = $11, max_uses_per_user = $12, stackable = $13, is_active = $14,
updated_at = $15
WHERE id = $1`,
		p.ID, p.Name, p.Description, p.Code, p.Kind, conditions, actions, p.Priority,
		p.StartAt, p.EndAt, p.MaxUses, p.MaxUsesPerUser, p.Stackable, p.IsActive,
		p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCode
		}
		return fmt.Errorf("update promotion: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get fetches one promotion by ID, including its aggregate usage snapshot.
func (s *pgStore) Get(ctx context.Context, id uuid.UUID) (*Promotion, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+promotionColumns+` FROM promotions WHERE id = $1`, id)
	return scanPromotion(row)
}

// GetByCode fetches one promotion by its coupon code.
func (s *pgStore) GetByCode(ctx context.Context, code string) (*Promotion, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+promotionColumns+` FROM promotions WHERE code = $1`, code)
	return scanPromotion(row)
}

// List returns promotions newest first with the total row count.
func (s *pgStore) List(ctx context.Context, includeInactive bool, limit, offset int) ([]*Promotion, int64, error) {
	if s == nil || s.pool == nil {
		return nil, 0, ErrStoreUnavailable
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, `SELECT `+promotionColumns+`, count(*) OVER() AS total
FROM promotions
WHERE is_active OR $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, includeInactive, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list promotions: %w", err)
	}
	defer rows.Close()

	var (
		out   []*Promotion
		total int64
	)
	for rows.Next() {
		p, t, err := scanPromotionRow(rows, true)
		if err != nil {
			return nil, 0, err
		}
		total = t
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate promotions: %w", err)
	}
	return out, total, nil
}

// ListActive returns every activated promotion whose window covers the given
// instant, ordered by priority. When userID is non-empty the per-user ledger
// entry for that user is attached so cap checks see the caller's history.
func (s *pgStore) ListActive(ctx context.Context, now time.Time, userID string) ([]*Promotion, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+promotionColumns+`
FROM promotions
WHERE is_active AND start_at <= $1 AND end_at >= $1
ORDER BY priority DESC, created_at`, now)
	if err != nil {
		return nil, fmt.Errorf("list active promotions: %w", err)
	}
	defer rows.Close()

	var out []*Promotion
	for rows.Next() {
		p, _, err := scanPromotionRow(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active promotions: %w", err)
	}
	if userID == "" || len(out) == 0 {
		return out, nil
	}
	if err := s.attachUserUsage(ctx, out, userID); err != nil {
		return nil, err
	}
	return out, nil
}

// Deactivate turns the promotion off without deleting it; the usage ledger
// and the definition stay queryable.
func (s *pgStore) Deactivate(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	ct, err := s.pool.Exec(ctx, `UPDATE promotions SET is_active = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate promotion: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Settle records one order consuming one promotion and advances the aggregate
// counters in the same transaction. The unique (promotion_id, order_id) index
// makes retries idempotent, and the counter update re-checks the global cap so
// orders scanned against a stale snapshot cannot oversubscribe the promotion.
func (s *pgStore) Settle(ctx context.Context, stl Settlement) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin settle: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO promotion_usage (id, promotion_id, user_id, order_id, discount, order_value, currency, used_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)`,
		uuid.New(), stl.PromotionID, stl.UserID, stl.OrderID,
		stl.Discount.Amount(), stl.OrderValue.Amount(), stl.OrderValue.Currency(), stl.SettledAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadySettled
		}
		return fmt.Errorf("insert usage: %w", err)
	}

	ct, err := tx.Exec(ctx, `UPDATE promotions SET
total_uses = total_uses + 1,
attributed_revenue = attributed_revenue + $2,
last_used_at = $3,
updated_at = $3
WHERE id = $1 AND (max_uses = $4 OR total_uses < max_uses)`,
		stl.PromotionID, stl.OrderValue.Amount(), stl.SettledAt, UnlimitedUses)
	if err != nil {
		return fmt.Errorf("advance counters: %w", err)
	}
	if ct.RowsAffected() == 0 {
		// The usage insert above passed the foreign key, so the promotion
		// exists and the zero-row update means the cap is spent. Rolling
		// back discards the usage row.
		return ErrExhausted
	}
	return tx.Commit(ctx)
}

func (s *pgStore) attachUserUsage(ctx context.Context, promotions []*Promotion, userID string) error {
	ids := make([]uuid.UUID, 0, len(promotions))
	byID := make(map[uuid.UUID]*Promotion, len(promotions))
	for _, p := range promotions {
		ids = append(ids, p.ID)
		byID[p.ID] = p
	}
	rows, err := s.pool.Query(ctx, `SELECT promotion_id, count(*)
FROM promotion_usage
WHERE user_id = $1 AND promotion_id = ANY($2)
GROUP BY promotion_id`, userID, ids)
	if err != nil {
		return fmt.Errorf("load user usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    uuid.UUID
			count int
		)
		if err := rows.Scan(&id, &count); err != nil {
			return fmt.Errorf("scan user usage: %w", err)
		}
		p := byID[id]
		if p == nil {
			continue
		}
		if p.Usage.UsesByUser == nil {
			p.Usage.UsesByUser = make(map[string]int)
		}
		p.Usage.UsesByUser[userID] = count
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate user usage: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPromotion(row pgx.Row) (*Promotion, error) {
	p, _, err := scanPromotionRow(row, false)
	return p, err
}

func scanPromotionRow(row rowScanner, withTotal bool) (*Promotion, int64, error) {
	var (
		p          Promotion
		code       *string
		conditions []byte
		actions    []byte
		revenue    decimal.Decimal
		currency   string
		lastUsed   *time.Time
		total      int64
	)
	dest := []any{
		&p.ID, &p.Name, &p.Description, &code, &p.Kind, &conditions, &actions, &p.Priority,
		&p.StartAt, &p.EndAt, &p.MaxUses, &p.MaxUsesPerUser, &p.Stackable, &p.IsActive,
		&p.Usage.TotalUses, &revenue, &currency, &lastUsed, &p.CreatedAt, &p.UpdatedAt,
	}
	if withTotal {
		dest = append(dest, &total)
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("scan promotion: %w", err)
	}
	if code != nil {
		p.Code = *code
	}
	if err := json.Unmarshal(conditions, &p.Conditions); err != nil {
		return nil, 0, fmt.Errorf("unmarshal conditions: %w", err)
	}
	if err := json.Unmarshal(actions, &p.Actions); err != nil {
		return nil, 0, fmt.Errorf("unmarshal actions: %w", err)
	}
	p.Usage.AttributedRevenue = money.New(revenue, currency)
	p.Usage.LastUsedAt = lastUsed
	return &p, total, nil
}

func marshalRules(p *Promotion) (conditions, actions []byte, err error) {
	conditions, err = json.Marshal(p.Conditions)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal conditions: %w", err)
	}
	actions, err = json.Marshal(p.Actions)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal actions: %w", err)
	}
	return conditions, actions, nil
}

func (s *pgStore) currencyOf(p *Promotion) string {
	if c := p.Usage.AttributedRevenue.Currency(); c != "" {
		return c
	}
	if s.currency != "" {
		return s.currency
	}
	return "USD"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
