package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// RestrictionLookup resolves the set of product IDs a coupon is limited to.
// An empty set means the coupon applies to any product.
type RestrictionLookup interface {
	RestrictedProductIDs(ctx context.Context, couponID int64) (map[int64]struct{}, error)
}

// Validator is a stateless predicate deciding whether a coupon may be applied
// to a cart snapshot. The checks run in a fixed order and short-circuit on
// the first failure: expiry, usage cap, minimum items, minimum subtotal,
// product restriction.
//
// A passing validation is advisory only with respect to concurrency: the
// usage counter may still reject the coupon at application time if a
// concurrent request exhausts MaxUses after this read.
type Validator struct {
	restrictions RestrictionLookup
	now          func() time.Time
}

// NewValidator creates a Validator backed by the given restriction lookup.
func NewValidator(restrictions RestrictionLookup) *Validator {
	return &Validator{restrictions: restrictions, now: time.Now}
}

// Validate returns nil when c can be applied to snap, a *ValidationError
// describing the failed rule otherwise. Errors from the restriction lookup
// propagate unchanged.
func (v *Validator) Validate(ctx context.Context, c *Coupon, snap Snapshot) error {
	if c.ExpiresAt != nil && v.now().After(*c.ExpiresAt) {
		return &ValidationError{Reason: fmt.Sprintf("Coupon %s expired on %s", c.Code, c.ExpiresAt.Format(time.RFC3339))}
	}

	if c.MaxUses != nil && c.Uses >= *c.MaxUses {
		return &ValidationError{Reason: fmt.Sprintf("Coupon %s has reached its usage limit", c.Code)}
	}

	if c.MinCartItems != nil && snap.TotalQuantity() < *c.MinCartItems {
		return &ValidationError{Reason: fmt.Sprintf("Minimum cart items of %d not met", *c.MinCartItems)}
	}

	if c.MinCartTotalCents != nil && snap.SubtotalCents() < *c.MinCartTotalCents {
		return &ValidationError{Reason: fmt.Sprintf("Minimum cart total of %d cents not met", *c.MinCartTotalCents)}
	}

	restricted, err := v.restrictions.RestrictedProductIDs(ctx, c.ID)
	if err != nil {
		return errors.Wrap(err, "load coupon product restrictions")
	}
	if len(restricted) > 0 && !snapContainsAny(snap, restricted) {
		return &ValidationError{Reason: fmt.Sprintf("Coupon %s does not apply to any product in the cart", c.Code)}
	}

	return nil
}

func snapContainsAny(snap Snapshot, ids map[int64]struct{}) bool {
	for _, it := range snap.Items {
		if _, ok := ids[it.ProductID]; ok {
			return true
		}
	}
	return false
}
