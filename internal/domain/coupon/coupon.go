package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Kind enumerates the supported coupon discount strategies.
type Kind string

const (
	// KindFixed subtracts a fixed monetary amount from the subtotal.
	KindFixed Kind = "fixed"
	// KindPercentage subtracts a percentage of the subtotal, optionally
	// capped at MaxDiscountCents.
	KindPercentage Kind = "percentage"
)

var (
	// ErrNotFound is returned when no coupon exists for a given code or ID.
	ErrNotFound = errors.New("coupon not found")
	// ErrUsageLimitReached is returned when a coupon has exhausted its
	// allowed uses, or the conditional increment lost every retry.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
)

// ValidationError describes why a coupon cannot be applied to a cart.
// The Reason is human-readable and safe to surface to API clients.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Coupon is a discount rule identified by a unique code.
//
// Value is a fixed-point integer whose unit depends on Kind: cents for fixed
// coupons, basis points (hundredths of a percent) for percentage coupons.
// The NUMERIC column is converted exactly once at the repository boundary.
//
// Uses and Version back the optimistic concurrency scheme: every successful
// mutation of Uses bumps Version, and conditional writes are guarded by the
// version observed at read time.
type Coupon struct {
	ID                int64
	Code              string
	Kind              Kind
	Value             int64
	ExpiresAt         *time.Time
	MaxDiscountCents  *int64
	MinCartTotalCents *int64
	MinCartItems      *int32
	MaxUses           *int32
	Uses              int32
	Version           int64
	AutoApply         bool
}

// SnapshotItem is a cart line as seen by coupon evaluation.
type SnapshotItem struct {
	ProductID      int64
	UnitPriceCents int64
	Quantity       int32
}

// Snapshot is a point-in-time view of a cart's contents, sufficient for
// validating coupons and computing discounts without touching persistence.
type Snapshot struct {
	Items []SnapshotItem
}

// SubtotalCents returns the pre-discount total of the snapshot.
func (s Snapshot) SubtotalCents() int64 {
	var sum int64
	for _, it := range s.Items {
		sum += it.UnitPriceCents * int64(it.Quantity)
	}
	return sum
}

// TotalQuantity returns the sum of item quantities in the snapshot.
func (s Snapshot) TotalQuantity() int32 {
	var total int32
	for _, it := range s.Items {
		total += it.Quantity
	}
	return total
}

// Repository provides lookup and usage-counter mutation of coupons.
//
// ConditionalIncrementUses must be atomic with respect to the version check:
// it increments Uses and Version only when the stored Version still equals
// expectedVersion, reporting whether the write happened. This is the sole
// primitive the usage counter relies on for its at-most-MaxUses guarantee.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	FindByID(ctx context.Context, id int64) (*Coupon, error)
	ListAutoApply(ctx context.Context) ([]Coupon, error)
	ConditionalIncrementUses(ctx context.Context, id, expectedVersion int64) (bool, error)
	DecrementUses(ctx context.Context, id int64) error
	RestrictedProductIDs(ctx context.Context, couponID int64) (map[int64]struct{}, error)
}
