package coupon

// ComputeDiscount returns the discount in cents that coupon c grants against
// the given subtotal. It is pure: same inputs, same result, no side effects.
//
// Fixed coupons discount their Value (cents) outright. Percentage coupons
// discount floor(subtotal * bps / 10000), clamped to MaxDiscountCents when
// set. The result is always clamped to the subtotal so a discount can never
// drive the final total negative.
func ComputeDiscount(c *Coupon, subtotalCents int64) int64 {
	if c == nil || subtotalCents <= 0 {
		return 0
	}

	var discount int64
	switch c.Kind {
	case KindFixed:
		discount = c.Value
	case KindPercentage:
		// Integer division floors for non-negative operands.
		discount = subtotalCents * c.Value / 10000
		if c.MaxDiscountCents != nil && discount > *c.MaxDiscountCents {
			discount = *c.MaxDiscountCents
		}
	default:
		return 0
	}

	if discount > subtotalCents {
		discount = subtotalCents
	}
	if discount < 0 {
		return 0
	}
	return discount
}
