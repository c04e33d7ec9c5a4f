package coupon

import (
	"context"

	"github.com/go-faster/errors"
)

// Selector picks the best auto-apply coupon for a cart snapshot.
type Selector struct {
	repo      Repository
	validator *Validator
}

// NewSelector creates a Selector using the given repository and validator.
func NewSelector(repo Repository, validator *Validator) *Selector {
	return &Selector{repo: repo, validator: validator}
}

// BestAutoCoupon scans all auto-apply coupons, discards those failing
// validation, and returns the one granting the largest discount for the
// snapshot. Equal discounts break toward the lowest coupon ID so selection
// is deterministic. Returns nil when no auto-apply coupon validates.
func (s *Selector) BestAutoCoupon(ctx context.Context, snap Snapshot) (*Coupon, error) {
	candidates, err := s.repo.ListAutoApply(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list auto-apply coupons")
	}

	subtotal := snap.SubtotalCents()

	var (
		best         *Coupon
		bestDiscount int64
	)
	for i := range candidates {
		c := &candidates[i]
		if err := s.validator.Validate(ctx, c, snap); err != nil {
			var vErr *ValidationError
			if errors.As(err, &vErr) {
				continue
			}
			return nil, err
		}

		d := ComputeDiscount(c, subtotal)
		switch {
		case best == nil, d > bestDiscount:
			best, bestDiscount = c, d
		case d == bestDiscount && c.ID < best.ID:
			best = c
		}
	}
	return best, nil
}
