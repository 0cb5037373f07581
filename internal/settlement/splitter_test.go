package settlement

import (
	"errors"
	"testing"

	"github.com/hangarshare/backend-hangar/internal/money"
	"github.com/hangarshare/backend-hangar/internal/pricing"
)

func quoteForTest(t *testing.T, rateCents, hours int64) pricing.Quote {
	t.Helper()
	e := pricing.Engine{Schedule: pricing.FeeSchedule{
		Currency:         "USD",
		TaxBps:           825,
		BookingFeeBps:    600,
		ProcessingFeeBps: 300,
	}}
	q, err := e.QuoteHourly(money.New(rateCents, "USD"), hours)
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	return q
}

func TestComputeSplitSumsToTotal(t *testing.T) {
	q := quoteForTest(t, 10_000, 3)
	for _, bps := range []int64{0, 1, 825, 1_000, 3_333, 9_999, 10_000} {
		split, err := ComputeSplit(q, bps)
		if err != nil {
			t.Fatalf("split(%d bps) failed: %v", bps, err)
		}
		if split.OwnerAmount.Amount+split.PlatformAmount.Amount != q.Total.Amount {
			t.Fatalf("split(%d bps): owner %d + platform %d != total %d",
				bps, split.OwnerAmount.Amount, split.PlatformAmount.Amount, q.Total.Amount)
		}
	}
}

func TestComputeSplitOwnerShare(t *testing.T) {
	q := quoteForTest(t, 10_000, 3) // base 30000, total 35175
	split, err := ComputeSplit(q, 1_000)
	if err != nil {
		t.Fatalf("split failed: %v", err)
	}
	if split.OwnerAmount.Amount != 27_000 {
		t.Fatalf("owner amount = %d, want 27000", split.OwnerAmount.Amount)
	}
	if split.PlatformAmount.Amount != 8_175 {
		t.Fatalf("platform amount = %d, want 8175", split.PlatformAmount.Amount)
	}
}

func TestComputeSplitResidualCentGoesToPlatform(t *testing.T) {
	// base 101 with 3.33% commission: owner share 101*0.9667 = 97.64... -> rounding
	// residue must end up on the platform side, never leak.
	q := quoteForTest(t, 101, 1)
	split, err := ComputeSplit(q, 333)
	if err != nil {
		t.Fatalf("split failed: %v", err)
	}
	if split.OwnerAmount.Amount+split.PlatformAmount.Amount != q.Total.Amount {
		t.Fatal("rounding residue leaked out of the split")
	}
}

func TestComputeSplitRejectsOutOfRangeCommission(t *testing.T) {
	q := quoteForTest(t, 10_000, 1)
	for _, bps := range []int64{-1, 10_001, 15_000} {
		if _, err := ComputeSplit(q, bps); !errors.Is(err, ErrInvalidCommissionRate) {
			t.Fatalf("commission %d bps: expected ErrInvalidCommissionRate, got %v", bps, err)
		}
	}
}
