package settlement

import (
	"errors"

	"github.com/hangarshare/backend-hangar/internal/money"
	"github.com/hangarshare/backend-hangar/internal/pricing"
)

// ErrInvalidCommissionRate is returned for a commission outside [0, 10000] bps.
var ErrInvalidCommissionRate = errors.New("settlement: commission rate out of range")

// Split records how a charged total divides between the owner payout and the
// platform take. PlatformAmount is always derived by subtraction, so the two
// sides sum to the charged total no matter how rounding falls; any residual
// cent lands on the platform side.
type Split struct {
	OwnerAmount    money.Money
	PlatformAmount money.Money
	Total          money.Money
}

// ComputeSplit divides a quoted total between owner and platform. The owner
// receives the base amount net of commission, rounded half-up; the platform
// keeps everything else (all fee components plus the commission).
func ComputeSplit(q pricing.Quote, commissionBps int64) (Split, error) {
	if commissionBps < 0 || commissionBps > 10000 {
		return Split{}, ErrInvalidCommissionRate
	}
	owner := q.Base.MulRate(10000 - commissionBps)
	platform, err := q.Total.Sub(owner)
	if err != nil {
		return Split{}, err
	}
	return Split{OwnerAmount: owner, PlatformAmount: platform, Total: q.Total}, nil
}
