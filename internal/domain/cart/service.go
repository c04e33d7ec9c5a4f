package cart

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/vstarostin/cart-discount-service/internal/domain/coupon"
	"github.com/vstarostin/cart-discount-service/internal/domain/product"
)

// Service orchestrates cart mutations and the coupon reconciliation that
// runs on every totals computation. Reads are self-healing: a stored coupon
// code that no longer exists or no longer validates is cleared, and a better
// auto-apply coupon may take the slot, as side effects of computing totals.
type Service struct {
	carts    Repository
	products product.Repository
	coupons  coupon.Repository

	validator *coupon.Validator
	selector  *coupon.Selector
	usage     *coupon.UsageCounter
}

// NewService creates a cart Service over the given persistence collaborators.
func NewService(carts Repository, products product.Repository, coupons coupon.Repository) *Service {
	v := coupon.NewValidator(coupons)
	return &Service{
		carts:     carts,
		products:  products,
		coupons:   coupons,
		validator: v,
		selector:  coupon.NewSelector(coupons, v),
		usage:     coupon.NewUsageCounter(coupons),
	}
}

// GetTotals returns the cart's reconciled contents and totals, creating the
// cart if the user does not have one yet. Despite being a read operation it
// may write: coupon reconciliation can clear a stale applied code or adopt
// a better auto-apply coupon.
func (s *Service) GetTotals(ctx context.Context, userID string) (*Response, error) {
	c, err := s.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.reconcile(ctx, c)
}

// AddItem adds quantity units of a product to the user's cart, creating the
// cart on first access. Adding a product already present increases its
// quantity. Returns freshly reconciled totals.
func (s *Service) AddItem(ctx context.Context, userID string, productID int64, quantity int32) (*Response, error) {
	if quantity <= 0 {
		return nil, &InvalidQuantityError{ProductID: productID}
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	c, err := s.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.carts.AddItemQuantity(ctx, c.ID, p.ID, quantity); err != nil {
		return nil, errors.Wrap(err, "add cart item")
	}
	return s.refresh(ctx, userID)
}

// UpdateItemQuantity sets the quantity of a cart line. A quantity of zero or
// below removes the line. Updating a line that does not exist is a no-op.
func (s *Service) UpdateItemQuantity(ctx context.Context, userID string, productID int64, quantity int32) (*Response, error) {
	c, err := s.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.carts.SetItemQuantity(ctx, c.ID, productID, quantity); err != nil {
		return nil, errors.Wrap(err, "set cart item quantity")
	}
	return s.refresh(ctx, userID)
}

// RemoveItem deletes a cart line. Removing an absent line is a no-op.
func (s *Service) RemoveItem(ctx context.Context, userID string, productID int64) (*Response, error) {
	c, err := s.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.carts.DeleteItem(ctx, c.ID, productID); err != nil {
		return nil, errors.Wrap(err, "delete cart item")
	}
	return s.refresh(ctx, userID)
}

// ApplyCoupon applies the coupon with the given code to the user's cart.
// It fails with ErrNotFound / coupon.ErrNotFound when the cart or code is
// unknown, a *coupon.ValidationError when the cart does not qualify, and
// coupon.ErrUsageLimitReached when the usage counter cannot reserve a use.
// A previously applied coupon releases its reservation.
func (s *Service) ApplyCoupon(ctx context.Context, userID, code string) (*Response, error) {
	c, err := s.carts.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	cpn, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if err := s.validator.Validate(ctx, cpn, c.Snapshot()); err != nil {
		return nil, err
	}

	ok, err := s.usage.Increment(ctx, cpn.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coupon.ErrUsageLimitReached
	}

	if c.AppliedCouponCode != nil {
		if err := s.releaseByCode(ctx, *c.AppliedCouponCode); err != nil {
			return nil, err
		}
	}

	if err := s.carts.SetAppliedCoupon(ctx, c.ID, &cpn.Code); err != nil {
		return nil, errors.Wrap(err, "persist applied coupon")
	}
	return s.refresh(ctx, userID)
}

// RemoveCoupon releases and clears the cart's applied coupon, then recomputes
// totals. The recompute may immediately adopt an eligible auto-apply coupon.
func (s *Service) RemoveCoupon(ctx context.Context, userID string) (*Response, error) {
	c, err := s.carts.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if c.AppliedCouponCode != nil {
		if err := s.releaseByCode(ctx, *c.AppliedCouponCode); err != nil {
			return nil, err
		}
		if err := s.carts.SetAppliedCoupon(ctx, c.ID, nil); err != nil {
			return nil, errors.Wrap(err, "clear applied coupon")
		}
	}
	return s.refresh(ctx, userID)
}

// loadOrCreate fetches the user's cart, creating it lazily on first access.
func (s *Service) loadOrCreate(ctx context.Context, userID string) (*Cart, error) {
	c, err := s.carts.GetByUser(ctx, userID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	c, err = s.carts.Create(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "create cart")
	}
	return c, nil
}

// refresh re-reads the cart and runs reconciliation, so callers always see
// totals computed against current persisted state.
func (s *Service) refresh(ctx context.Context, userID string) (*Response, error) {
	c, err := s.carts.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.reconcile(ctx, c)
}

// reconcile resolves the cart's active coupon slot and computes totals.
//
// Step 1 re-validates the stored coupon: a dead or no-longer-valid code is
// cleared (a recovery action, not an error). A valid manual coupon wins
// outright and is never displaced. Step 2, when no manual coupon holds the
// slot, compares the best auto-apply candidate against the incumbent and
// swaps only if the candidate's discount is strictly larger and its usage
// reservation succeeds.
func (s *Service) reconcile(ctx context.Context, c *Cart) (*Response, error) {
	snap := c.Snapshot()
	subtotal := snap.SubtotalCents()

	var (
		active *coupon.Coupon
		manual bool
	)

	if c.AppliedCouponCode != nil {
		stored, err := s.coupons.FindByCode(ctx, *c.AppliedCouponCode)
		switch {
		case errors.Is(err, coupon.ErrNotFound):
			if err := s.clearApplied(ctx, c); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, errors.Wrap(err, "load applied coupon")
		default:
			// The cart already holds one of the coupon's uses; exclude that
			// reservation from the cap check or a coupon at its limit would
			// invalidate the very cart it is applied to.
			if vErr := s.validator.Validate(ctx, ownHoldView(stored), snap); vErr != nil {
				var ve *coupon.ValidationError
				if !errors.As(vErr, &ve) {
					return nil, vErr
				}
				// Release the hold the cart had on this coupon before
				// dropping it, or the use would leak.
				if err := s.usage.Decrement(ctx, stored.ID); err != nil {
					return nil, err
				}
				if err := s.clearApplied(ctx, c); err != nil {
					return nil, err
				}
			} else if !stored.AutoApply {
				active, manual = stored, true
			} else {
				active = stored
			}
		}
	}

	if !manual {
		best, err := s.selector.BestAutoCoupon(ctx, snap)
		if err != nil {
			return nil, err
		}

		var incumbentDiscount int64
		if active != nil {
			incumbentDiscount = coupon.ComputeDiscount(active, subtotal)
		}

		if best != nil && (active == nil || best.ID != active.ID) &&
			coupon.ComputeDiscount(best, subtotal) > incumbentDiscount {
			// Reserve the candidate first: if the reservation loses the race
			// the incumbent stays untouched.
			ok, err := s.usage.Increment(ctx, best.ID)
			if err != nil {
				return nil, err
			}
			if ok {
				if active != nil {
					if err := s.usage.Decrement(ctx, active.ID); err != nil {
						return nil, err
					}
				}
				if err := s.carts.SetAppliedCoupon(ctx, c.ID, &best.Code); err != nil {
					return nil, errors.Wrap(err, "persist auto coupon")
				}
				c.AppliedCouponCode = &best.Code
				active = best
			}
		}
	}

	var discount int64
	if active != nil {
		discount = coupon.ComputeDiscount(active, subtotal)
	}

	return buildResponse(c, subtotal, discount), nil
}

// releaseByCode decrements the usage of the coupon with the given code.
// A code pointing at a deleted coupon has nothing to release.
func (s *Service) releaseByCode(ctx context.Context, code string) error {
	prev, err := s.coupons.FindByCode(ctx, code)
	if errors.Is(err, coupon.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "load previous coupon")
	}
	return s.usage.Decrement(ctx, prev.ID)
}

func (s *Service) clearApplied(ctx context.Context, c *Cart) error {
	if err := s.carts.SetAppliedCoupon(ctx, c.ID, nil); err != nil {
		return errors.Wrap(err, "clear applied coupon")
	}
	c.AppliedCouponCode = nil
	return nil
}

// ownHoldView returns a view of c with one use excluded from the counter,
// representing the reservation the current cart already holds.
func ownHoldView(c *coupon.Coupon) *coupon.Coupon {
	if c.MaxUses == nil || c.Uses == 0 {
		return c
	}
	cp := *c
	cp.Uses--
	return &cp
}

func buildResponse(c *Cart, subtotal, discount int64) *Response {
	items := make([]ItemView, len(c.Items))
	for i, it := range c.Items {
		items[i] = ItemView{
			ProductID:      it.ProductID,
			SKU:            it.SKU,
			Name:           it.Name,
			UnitPriceCents: it.UnitPriceCents,
			Quantity:       it.Quantity,
			LineTotalCents: it.UnitPriceCents * int64(it.Quantity),
		}
	}
	return &Response{
		Items: items,
		Totals: Totals{
			SubtotalCents:     subtotal,
			DiscountCents:     discount,
			FinalTotalCents:   subtotal - discount,
			AppliedCouponCode: c.AppliedCouponCode,
		},
	}
}
