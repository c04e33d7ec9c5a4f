package coupon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func i32(v int32) *int32 { return &v }
func i64(v int64) *int64 { return &v }

func TestComputeDiscount_Fixed(t *testing.T) {
	c := &Coupon{Kind: KindFixed, Value: 2000}

	assert.Equal(t, int64(2000), ComputeDiscount(c, 5000))
}

func TestComputeDiscount_Percentage(t *testing.T) {
	// 10% stored as 1000 basis points.
	c := &Coupon{Kind: KindPercentage, Value: 1000}

	assert.Equal(t, int64(500), ComputeDiscount(c, 5000))
}

func TestComputeDiscount_PercentageFloors(t *testing.T) {
	c := &Coupon{Kind: KindPercentage, Value: 1000}

	// 10% of 999 is 99.9, floored to 99.
	assert.Equal(t, int64(99), ComputeDiscount(c, 999))
}

func TestComputeDiscount_PercentageCap(t *testing.T) {
	c := &Coupon{Kind: KindPercentage, Value: 5000, MaxDiscountCents: i64(2000)}

	// 50% of 10000 is 5000, capped at 2000.
	assert.Equal(t, int64(2000), ComputeDiscount(c, 10000))
}

func TestComputeDiscount_PercentageCapNotReached(t *testing.T) {
	c := &Coupon{Kind: KindPercentage, Value: 1000, MaxDiscountCents: i64(2000)}

	assert.Equal(t, int64(500), ComputeDiscount(c, 5000))
}

func TestComputeDiscount_ClampedToSubtotal(t *testing.T) {
	c := &Coupon{Kind: KindFixed, Value: 2000}

	assert.Equal(t, int64(1000), ComputeDiscount(c, 1000))
}

func TestComputeDiscount_ZeroSubtotal(t *testing.T) {
	c := &Coupon{Kind: KindFixed, Value: 2000}

	assert.Equal(t, int64(0), ComputeDiscount(c, 0))
	assert.Equal(t, int64(0), ComputeDiscount(c, -50))
}

func TestComputeDiscount_NilCoupon(t *testing.T) {
	assert.Equal(t, int64(0), ComputeDiscount(nil, 5000))
}

func TestComputeDiscount_UnknownKind(t *testing.T) {
	c := &Coupon{Kind: "mystery", Value: 2000}

	assert.Equal(t, int64(0), ComputeDiscount(c, 5000))
}

func TestComputeDiscount_FullPercentage(t *testing.T) {
	c := &Coupon{Kind: KindPercentage, Value: 10000}

	assert.Equal(t, int64(5000), ComputeDiscount(c, 5000))
}

func TestSnapshot_Subtotal(t *testing.T) {
	snap := Snapshot{Items: []SnapshotItem{
		{ProductID: 1, UnitPriceCents: 2000, Quantity: 2},
		{ProductID: 2, UnitPriceCents: 350, Quantity: 3},
	}}

	assert.Equal(t, int64(5050), snap.SubtotalCents())
	assert.Equal(t, int32(5), snap.TotalQuantity())
}
