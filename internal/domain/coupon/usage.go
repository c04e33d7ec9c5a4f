package coupon

import (
	"context"

	"github.com/go-faster/errors"
)

// incrementAttempts bounds the read-check-write retry loop. A conflict means
// another writer bumped the version between our read and our conditional
// write; after this many lost races the increment is reported as failed.
const incrementAttempts = 3

// UsageCounter serializes coupon usage accounting through the repository's
// conditional write primitive. It is the only path allowed to increment a
// coupon's usage count: every increment re-reads the current counter, checks
// the cap, and writes guarded by the version observed at read time. No
// in-process locking is involved; correctness rests entirely on the atomicity
// of the backing store's conditional update.
type UsageCounter struct {
	repo Repository
}

// NewUsageCounter creates a UsageCounter over the given repository.
func NewUsageCounter(repo Repository) *UsageCounter {
	return &UsageCounter{repo: repo}
}

// Increment reserves one use of the coupon. It returns (true, nil) when the
// use was recorded, (false, nil) when the cap is already exhausted or every
// retry lost its optimistic-concurrency race. Persistence failures propagate
// as errors and are never retried here.
func (u *UsageCounter) Increment(ctx context.Context, id int64) (bool, error) {
	for range incrementAttempts {
		c, err := u.repo.FindByID(ctx, id)
		if err != nil {
			return false, errors.Wrap(err, "read coupon usage")
		}
		if c.MaxUses != nil && c.Uses >= *c.MaxUses {
			return false, nil
		}

		ok, err := u.repo.ConditionalIncrementUses(ctx, id, c.Version)
		if err != nil {
			return false, errors.Wrap(err, "increment coupon uses")
		}
		if ok {
			return true, nil
		}
		// Version conflict: another writer got there first. Re-read and retry.
	}
	return false, nil
}

// Decrement releases one use of the coupon. Removing a coupon from a cart
// always succeeds — it cannot violate the usage cap — so no conflict-retry
// guard is needed; the store clamps the counter at zero.
func (u *UsageCounter) Decrement(ctx context.Context, id int64) error {
	if err := u.repo.DecrementUses(ctx, id); err != nil {
		return errors.Wrap(err, "decrement coupon uses")
	}
	return nil
}
