package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type stubRestrictions struct {
	byCoupon map[int64]map[int64]struct{}
	err      error
}

func (s *stubRestrictions) RestrictedProductIDs(_ context.Context, couponID int64) (map[int64]struct{}, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.byCoupon[couponID], nil
}

// --- Helpers ---

func testValidator(restrictions *stubRestrictions, at time.Time) *Validator {
	if restrictions == nil {
		restrictions = &stubRestrictions{}
	}
	v := NewValidator(restrictions)
	v.now = func() time.Time { return at }
	return v
}

func testSnapshot() Snapshot {
	return Snapshot{Items: []SnapshotItem{
		{ProductID: 1, UnitPriceCents: 2000, Quantity: 2},
		{ProductID: 2, UnitPriceCents: 1000, Quantity: 1},
	}}
}

var validatorNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// --- Tests ---

func TestValidate_Passes(t *testing.T) {
	v := testValidator(nil, validatorNow)
	expiry := validatorNow.Add(24 * time.Hour)
	c := &Coupon{
		ID:                1,
		Code:              "SAVE5",
		Kind:              KindFixed,
		Value:             500,
		ExpiresAt:         &expiry,
		MinCartItems:      i32(2),
		MinCartTotalCents: i64(4000),
		MaxUses:           i32(10),
		Uses:              3,
	}

	require.NoError(t, v.Validate(context.Background(), c, testSnapshot()))
}

func TestValidate_Expired(t *testing.T) {
	v := testValidator(nil, validatorNow)
	expiry := validatorNow.Add(-time.Hour)
	c := &Coupon{Code: "OLD", Kind: KindFixed, Value: 500, ExpiresAt: &expiry}

	err := v.Validate(context.Background(), c, testSnapshot())

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "Coupon OLD expired on")
}

func TestValidate_UsageLimit(t *testing.T) {
	v := testValidator(nil, validatorNow)
	c := &Coupon{Code: "CAPPED", Kind: KindFixed, Value: 500, MaxUses: i32(5), Uses: 5}

	err := v.Validate(context.Background(), c, testSnapshot())

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "Coupon CAPPED has reached its usage limit", vErr.Reason)
}

func TestValidate_MinItems(t *testing.T) {
	v := testValidator(nil, validatorNow)
	c := &Coupon{Code: "BULK", Kind: KindFixed, Value: 500, MinCartItems: i32(5)}

	err := v.Validate(context.Background(), c, testSnapshot())

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "Minimum cart items of 5 not met", vErr.Reason)
}

func TestValidate_MinSubtotal(t *testing.T) {
	v := testValidator(nil, validatorNow)
	c := &Coupon{Code: "BIG", Kind: KindFixed, Value: 500, MinCartTotalCents: i64(10000)}

	err := v.Validate(context.Background(), c, testSnapshot())

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "Minimum cart total of 10000 cents not met", vErr.Reason)
}

func TestValidate_RestrictionNoMatch(t *testing.T) {
	restrictions := &stubRestrictions{byCoupon: map[int64]map[int64]struct{}{
		7: {99: {}},
	}}
	v := testValidator(restrictions, validatorNow)
	c := &Coupon{ID: 7, Code: "COFFEE20", Kind: KindPercentage, Value: 2000}

	err := v.Validate(context.Background(), c, testSnapshot())

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "Coupon COFFEE20 does not apply to any product in the cart", vErr.Reason)
}

func TestValidate_RestrictionMatch(t *testing.T) {
	restrictions := &stubRestrictions{byCoupon: map[int64]map[int64]struct{}{
		7: {2: {}, 99: {}},
	}}
	v := testValidator(restrictions, validatorNow)
	c := &Coupon{ID: 7, Code: "COFFEE20", Kind: KindPercentage, Value: 2000}

	require.NoError(t, v.Validate(context.Background(), c, testSnapshot()))
}

func TestValidate_ChecksOrdered(t *testing.T) {
	// Expiry wins over every later rule when several fail at once.
	v := testValidator(nil, validatorNow)
	expiry := validatorNow.Add(-time.Hour)
	c := &Coupon{
		Code:         "MULTI",
		Kind:         KindFixed,
		Value:        500,
		ExpiresAt:    &expiry,
		MaxUses:      i32(1),
		Uses:         1,
		MinCartItems: i32(100),
	}

	err := v.Validate(context.Background(), c, testSnapshot())

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "expired")
}

func TestValidate_RestrictionLookupError(t *testing.T) {
	restrictions := &stubRestrictions{err: errors.New("db down")}
	v := testValidator(restrictions, validatorNow)
	c := &Coupon{ID: 7, Code: "COFFEE20", Kind: KindPercentage, Value: 2000}

	err := v.Validate(context.Background(), c, testSnapshot())

	require.Error(t, err)
	var vErr *ValidationError
	assert.False(t, errors.As(err, &vErr), "infrastructure errors must not masquerade as validation failures")
}

func TestValidate_NoExpiryNeverExpires(t *testing.T) {
	v := testValidator(nil, validatorNow.Add(100*365*24*time.Hour))
	c := &Coupon{Code: "FOREVER", Kind: KindFixed, Value: 500}

	require.NoError(t, v.Validate(context.Background(), c, testSnapshot()))
}
