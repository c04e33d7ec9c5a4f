package cart

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/vstarostin/cart-discount-service/internal/domain/coupon"
)

// ErrNotFound is returned when no cart exists for a user identifier and the
// operation does not create one implicitly.
var ErrNotFound = errors.New("cart not found")

// InvalidQuantityError indicates a requested item quantity is not positive.
type InvalidQuantityError struct {
	ProductID int64
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %d", e.ProductID)
}

// Item is a cart line joined with the product data needed for pricing.
// At most one Item exists per (cart, product) pair.
type Item struct {
	ProductID      int64
	SKU            string
	Name           string
	UnitPriceCents int64
	Quantity       int32
}

// Cart holds a user's items and the currently applied coupon code, if any.
// Each user identifier owns exactly one cart, created lazily on first access.
type Cart struct {
	ID                int64
	UserID            string
	AppliedCouponCode *string
	Items             []Item
}

// Snapshot projects the cart into the view coupon evaluation operates on.
func (c *Cart) Snapshot() coupon.Snapshot {
	items := make([]coupon.SnapshotItem, len(c.Items))
	for i, it := range c.Items {
		items[i] = coupon.SnapshotItem{
			ProductID:      it.ProductID,
			UnitPriceCents: it.UnitPriceCents,
			Quantity:       it.Quantity,
		}
	}
	return coupon.Snapshot{Items: items}
}

// Totals is the priced summary of a cart after coupon reconciliation.
type Totals struct {
	SubtotalCents     int64   `json:"subtotalCents"`
	DiscountCents     int64   `json:"discountCents"`
	FinalTotalCents   int64   `json:"finalTotalCents"`
	AppliedCouponCode *string `json:"appliedCouponCode"`
}

// ItemView is the API projection of a cart line.
type ItemView struct {
	ProductID      int64  `json:"productId"`
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	Quantity       int32  `json:"quantity"`
	LineTotalCents int64  `json:"lineTotalCents"`
}

// Response is the shape every cart operation returns.
type Response struct {
	Items  []ItemView `json:"items"`
	Totals Totals     `json:"totals"`
}

// Repository defines persistence operations for carts and their items.
//
// AddItemQuantity upserts by (cart, product): adding a product already in the
// cart increases its quantity instead of inserting a second row.
// SetItemQuantity removes the row when the quantity is zero or below.
// DeleteItem is a no-op when the item is absent.
type Repository interface {
	GetByUser(ctx context.Context, userID string) (*Cart, error)
	Create(ctx context.Context, userID string) (*Cart, error)
	AddItemQuantity(ctx context.Context, cartID, productID int64, delta int32) error
	SetItemQuantity(ctx context.Context, cartID, productID int64, quantity int32) error
	DeleteItem(ctx context.Context, cartID, productID int64) error
	SetAppliedCoupon(ctx context.Context, cartID int64, code *string) error
}
