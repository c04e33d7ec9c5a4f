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

type selectorRepo struct {
	autoApply  []Coupon
	restricted map[int64]map[int64]struct{}
	listErr    error
}

func (r *selectorRepo) FindByCode(context.Context, string) (*Coupon, error) {
	return nil, ErrNotFound
}

func (r *selectorRepo) FindByID(context.Context, int64) (*Coupon, error) {
	return nil, ErrNotFound
}

func (r *selectorRepo) ListAutoApply(context.Context) ([]Coupon, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.autoApply, nil
}

func (r *selectorRepo) ConditionalIncrementUses(context.Context, int64, int64) (bool, error) {
	return false, nil
}

func (r *selectorRepo) DecrementUses(context.Context, int64) error {
	return nil
}

func (r *selectorRepo) RestrictedProductIDs(_ context.Context, couponID int64) (map[int64]struct{}, error) {
	return r.restricted[couponID], nil
}

// --- Helpers ---

func newSelector(repo *selectorRepo) *Selector {
	v := NewValidator(repo)
	v.now = func() time.Time { return validatorNow }
	return NewSelector(repo, v)
}

// --- Tests ---

func TestBestAutoCoupon_PicksLargestDiscount(t *testing.T) {
	repo := &selectorRepo{autoApply: []Coupon{
		{ID: 1, Code: "TEN", Kind: KindPercentage, Value: 1000, AutoApply: true},
		{ID: 2, Code: "SAVE8", Kind: KindFixed, Value: 800, AutoApply: true},
		{ID: 3, Code: "FIVE", Kind: KindPercentage, Value: 500, AutoApply: true},
	}}
	s := newSelector(repo)

	// Subtotal 5000: TEN grants 500, SAVE8 grants 800, FIVE grants 250.
	best, err := s.BestAutoCoupon(context.Background(), testSnapshot())

	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "SAVE8", best.Code)
}

func TestBestAutoCoupon_TieBreaksOnLowestID(t *testing.T) {
	repo := &selectorRepo{autoApply: []Coupon{
		{ID: 9, Code: "LATER", Kind: KindFixed, Value: 500, AutoApply: true},
		{ID: 4, Code: "EARLIER", Kind: KindFixed, Value: 500, AutoApply: true},
	}}
	s := newSelector(repo)

	best, err := s.BestAutoCoupon(context.Background(), testSnapshot())

	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "EARLIER", best.Code)
}

func TestBestAutoCoupon_SkipsInvalid(t *testing.T) {
	expired := validatorNow.Add(-time.Hour)
	repo := &selectorRepo{autoApply: []Coupon{
		{ID: 1, Code: "DEAD", Kind: KindFixed, Value: 9999, ExpiresAt: &expired, AutoApply: true},
		{ID: 2, Code: "ALIVE", Kind: KindFixed, Value: 100, AutoApply: true},
	}}
	s := newSelector(repo)

	best, err := s.BestAutoCoupon(context.Background(), testSnapshot())

	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "ALIVE", best.Code)
}

func TestBestAutoCoupon_SkipsRestricted(t *testing.T) {
	repo := &selectorRepo{
		autoApply: []Coupon{
			{ID: 1, Code: "NARROW", Kind: KindFixed, Value: 9999, AutoApply: true},
			{ID: 2, Code: "WIDE", Kind: KindFixed, Value: 100, AutoApply: true},
		},
		restricted: map[int64]map[int64]struct{}{
			1: {999: {}},
		},
	}
	s := newSelector(repo)

	best, err := s.BestAutoCoupon(context.Background(), testSnapshot())

	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "WIDE", best.Code)
}

func TestBestAutoCoupon_NoneValid(t *testing.T) {
	expired := validatorNow.Add(-time.Hour)
	repo := &selectorRepo{autoApply: []Coupon{
		{ID: 1, Code: "DEAD", Kind: KindFixed, Value: 500, ExpiresAt: &expired, AutoApply: true},
	}}
	s := newSelector(repo)

	best, err := s.BestAutoCoupon(context.Background(), testSnapshot())

	require.NoError(t, err)
	assert.Nil(t, best)
}

func TestBestAutoCoupon_EmptyList(t *testing.T) {
	s := newSelector(&selectorRepo{})

	best, err := s.BestAutoCoupon(context.Background(), testSnapshot())

	require.NoError(t, err)
	assert.Nil(t, best)
}

func TestBestAutoCoupon_ListError(t *testing.T) {
	s := newSelector(&selectorRepo{listErr: errors.New("db down")})

	_, err := s.BestAutoCoupon(context.Background(), testSnapshot())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "list auto-apply coupons")
}
