package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vstarostin/cart-discount-service/internal/domain/coupon"
)

const (
	couponColumns = `id, code, kind, value, expires_at, max_discount_cents,
		min_cart_total_cents, min_cart_items, max_uses, uses, version, auto_apply`

	getCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	getCouponByIDSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE id = $1`

	// Auto-apply coupons are scanned in full on every reconciliation; the
	// bound keeps a runaway catalog from turning reads into table scans.
	listAutoApplySQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE auto_apply ORDER BY id LIMIT 100`

	// The version guard makes the increment a compare-and-swap: zero rows
	// affected means another writer updated the coupon since it was read.
	conditionalIncrementSQL = `UPDATE coupons
		SET uses = uses + 1, version = version + 1
		WHERE id = $1 AND version = $2`

	decrementUsesSQL = `UPDATE coupons
		SET uses = GREATEST(uses - 1, 0), version = version + 1
		WHERE id = $1`

	restrictedProductsSQL = `SELECT product_id FROM coupon_products WHERE coupon_id = $1`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive).
// Returns coupon.ErrNotFound when no such coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// FindByID looks up a coupon by its identifier.
// Returns coupon.ErrNotFound when no such coupon exists.
func (r *CouponRepository) FindByID(ctx context.Context, id int64) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("finding coupon %d: %w", id, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon %d: %w", id, err)
	}
	return &c, nil
}

// ListAutoApply returns all auto-apply coupons ordered by ID.
func (r *CouponRepository) ListAutoApply(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listAutoApplySQL)
	if err != nil {
		return nil, fmt.Errorf("listing auto-apply coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// ConditionalIncrementUses increments the usage counter and version of the
// coupon only if its stored version still equals expectedVersion. It reports
// whether the write happened; a false return is an optimistic-concurrency
// conflict, not an error.
func (r *CouponRepository) ConditionalIncrementUses(ctx context.Context, id, expectedVersion int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, conditionalIncrementSQL, id, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("incrementing uses for coupon %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// DecrementUses unconditionally releases one use of the coupon, clamping the
// counter at zero and bumping the version.
func (r *CouponRepository) DecrementUses(ctx context.Context, id int64) error {
	if _, err := r.pool.Exec(ctx, decrementUsesSQL, id); err != nil {
		return fmt.Errorf("decrementing uses for coupon %d: %w", id, err)
	}
	return nil
}

// RestrictedProductIDs returns the set of product IDs the coupon is limited
// to. An empty set means the coupon is unrestricted.
func (r *CouponRepository) RestrictedProductIDs(ctx context.Context, couponID int64) (map[int64]struct{}, error) {
	rows, err := r.pool.Query(ctx, restrictedProductsSQL, couponID)
	if err != nil {
		return nil, fmt.Errorf("listing restricted products for coupon %d: %w", couponID, err)
	}

	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (int64, error) {
		var id int64
		err := row.Scan(&id)
		return id, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing restricted products for coupon %d: %w", couponID, err)
	}

	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c         coupon.Coupon
		kind      string
		value     decimal.Decimal
		expiresAt *time.Time
	)
	err := row.Scan(
		&c.ID, &c.Code, &kind, &value, &expiresAt, &c.MaxDiscountCents,
		&c.MinCartTotalCents, &c.MinCartItems, &c.MaxUses, &c.Uses,
		&c.Version, &c.AutoApply,
	)
	c.Kind = coupon.Kind(kind)
	// NUMERIC(12,2) -> fixed-point: cents for fixed coupons, basis points
	// for percentage coupons. Shift(2) is exact for scale-2 values.
	c.Value = value.Shift(2).IntPart()
	c.ExpiresAt = expiresAt
	return c, err
}
