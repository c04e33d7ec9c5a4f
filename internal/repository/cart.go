package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vstarostin/cart-discount-service/internal/domain/cart"
)

const (
	getCartByUserSQL = `SELECT id, user_id, applied_coupon_code
		FROM carts WHERE user_id = $1`

	getCartItemsSQL = `SELECT ci.product_id, p.sku, p.name, p.price_cents, ci.quantity
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.product_id`

	// ON CONFLICT DO NOTHING keeps the one-cart-per-user constraint safe
	// under concurrent first accesses; the follow-up read returns whichever
	// row won.
	createCartSQL = `INSERT INTO carts (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING`

	// Upsert-by-product: adding a product already in the cart accumulates
	// quantity instead of inserting a duplicate row.
	addItemQuantitySQL = `INSERT INTO cart_items (cart_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`

	setItemQuantitySQL = `UPDATE cart_items SET quantity = $3
		WHERE cart_id = $1 AND product_id = $2`

	deleteItemSQL = `DELETE FROM cart_items
		WHERE cart_id = $1 AND product_id = $2`

	setAppliedCouponSQL = `UPDATE carts SET applied_coupon_code = $2 WHERE id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// GetByUser returns the user's cart with its items joined against the
// product catalog. Returns cart.ErrNotFound when the user has no cart.
func (r *CartRepository) GetByUser(ctx context.Context, userID string) (*cart.Cart, error) {
	rows, err := r.pool.Query(ctx, getCartByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("getting cart for user %q: %w", userID, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("getting cart for user %q: %w", userID, err)
	}

	itemRows, err := r.pool.Query(ctx, getCartItemsSQL, c.ID)
	if err != nil {
		return nil, fmt.Errorf("getting items for cart %d: %w", c.ID, err)
	}
	c.Items, err = pgx.CollectRows(itemRows, scanCartItem)
	if err != nil {
		return nil, fmt.Errorf("getting items for cart %d: %w", c.ID, err)
	}
	return &c, nil
}

// Create inserts an empty cart for the user and returns it. Safe to call
// concurrently for the same user: exactly one cart row survives.
func (r *CartRepository) Create(ctx context.Context, userID string) (*cart.Cart, error) {
	if _, err := r.pool.Exec(ctx, createCartSQL, userID); err != nil {
		return nil, fmt.Errorf("creating cart for user %q: %w", userID, err)
	}
	return r.GetByUser(ctx, userID)
}

// AddItemQuantity adds delta units of the product to the cart, creating the
// line on first add.
func (r *CartRepository) AddItemQuantity(ctx context.Context, cartID, productID int64, delta int32) error {
	if _, err := r.pool.Exec(ctx, addItemQuantitySQL, cartID, productID, delta); err != nil {
		return fmt.Errorf("adding item %d to cart %d: %w", productID, cartID, err)
	}
	return nil
}

// SetItemQuantity sets the line quantity, deleting the line when the
// quantity is zero or below. Updating an absent line is a no-op.
func (r *CartRepository) SetItemQuantity(ctx context.Context, cartID, productID int64, quantity int32) error {
	if quantity <= 0 {
		return r.DeleteItem(ctx, cartID, productID)
	}
	if _, err := r.pool.Exec(ctx, setItemQuantitySQL, cartID, productID, quantity); err != nil {
		return fmt.Errorf("updating item %d in cart %d: %w", productID, cartID, err)
	}
	return nil
}

// DeleteItem removes the line from the cart. Deleting an absent line is a
// no-op.
func (r *CartRepository) DeleteItem(ctx context.Context, cartID, productID int64) error {
	if _, err := r.pool.Exec(ctx, deleteItemSQL, cartID, productID); err != nil {
		return fmt.Errorf("deleting item %d from cart %d: %w", productID, cartID, err)
	}
	return nil
}

// SetAppliedCoupon stores the applied coupon code on the cart; nil clears it.
func (r *CartRepository) SetAppliedCoupon(ctx context.Context, cartID int64, code *string) error {
	if _, err := r.pool.Exec(ctx, setAppliedCouponSQL, cartID, code); err != nil {
		return fmt.Errorf("setting applied coupon on cart %d: %w", cartID, err)
	}
	return nil
}

func scanCart(row pgx.CollectableRow) (cart.Cart, error) {
	var c cart.Cart
	err := row.Scan(&c.ID, &c.UserID, &c.AppliedCouponCode)
	return c, err
}

func scanCartItem(row pgx.CollectableRow) (cart.Item, error) {
	var it cart.Item
	err := row.Scan(&it.ProductID, &it.SKU, &it.Name, &it.UnitPriceCents, &it.Quantity)
	return it, err
}
