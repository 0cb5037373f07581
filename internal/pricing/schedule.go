package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hangarshare/backend-hangar/internal/money"
)

// Tier identifies a classifieds listing tier.
type Tier string

const (
	TierBasic     Tier = "BASIC"
	TierFeatured  Tier = "FEATURED"
	TierEnhanced  Tier = "ENHANCED"
	TierFreeTrial Tier = "FREE_TRIAL"
)

// ErrUnknownTier is returned when a tier name has no price in the schedule.
var ErrUnknownTier = errors.New("pricing: unknown listing tier")

// ParseTier normalises a tier name from external input.
func ParseTier(s string) (Tier, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BASIC":
		return TierBasic, nil
	case "FEATURED":
		return TierFeatured, nil
	case "ENHANCED":
		return TierEnhanced, nil
	case "FREE_TRIAL", "FREETRIAL":
		return TierFreeTrial, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
}

// FeeSchedule is the immutable fee configuration loaded once at startup. All
// rates are integer basis points (10000 bps = 100%); tier prices are minor
// units. Instances are shared read-only across concurrent quote computations.
type FeeSchedule struct {
	Currency         string
	TaxBps           int64
	BookingFeeBps    int64
	ProcessingFeeBps int64
	CommissionBps    int64
	TierPrices       map[Tier]int64
}

// TierPrice resolves the flat price for a listing tier. The free trial tier is
// always zero even when absent from the configured table.
func (s FeeSchedule) TierPrice(tier Tier) (money.Money, error) {
	if tier == TierFreeTrial {
		return money.Zero(s.Currency), nil
	}
	cents, ok := s.TierPrices[tier]
	if !ok {
		return money.Money{}, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	return money.New(cents, s.Currency), nil
}

// Validate checks the schedule for values that would make every quote invalid.
func (s FeeSchedule) Validate() error {
	if strings.TrimSpace(s.Currency) == "" {
		return errors.New("pricing: schedule currency is required")
	}
	for name, bps := range map[string]int64{
		"tax":            s.TaxBps,
		"booking fee":    s.BookingFeeBps,
		"processing fee": s.ProcessingFeeBps,
	} {
		if bps < 0 || bps > 10000 {
			return fmt.Errorf("pricing: %s rate %d bps out of range", name, bps)
		}
	}
	if s.CommissionBps < 0 || s.CommissionBps > 10000 {
		return fmt.Errorf("pricing: commission rate %d bps out of range", s.CommissionBps)
	}
	for tier, cents := range s.TierPrices {
		if cents < 0 {
			return fmt.Errorf("pricing: tier %s has negative price", tier)
		}
	}
	return nil
}
