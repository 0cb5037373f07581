package pricing

import (
	"errors"

	"github.com/hangarshare/backend-hangar/internal/money"
)

var (
	// ErrInvalidQuoteInput is returned when neither or both pricing modes are supplied.
	ErrInvalidQuoteInput = errors.New("pricing: exactly one of hourly or flat pricing must be supplied")
	// ErrInvalidQuantity is returned for a non-positive hour count.
	ErrInvalidQuantity = errors.New("pricing: hours must be positive")
	// ErrInvalidRate is returned for a negative base rate or flat price.
	ErrInvalidRate = errors.New("pricing: rate must not be negative")
)

// QuoteInput carries the parameters for a single quote computation. Hourly
// rentals set HourlyRate and Hours; flat-priced purchases (listing tiers) set
// FlatPrice. Booking and processing fees apply to rentals only.
type QuoteInput struct {
	HourlyRate *money.Money
	Hours      int64
	FlatPrice  *money.Money

	ApplyBookingFees bool
}

// Quote is the itemised result of a pricing computation. Each fee component is
// derived independently from Base (never from a running subtotal) and rounded
// half-up before summation, so Total is always the exact sum of its parts.
type Quote struct {
	Base          money.Money
	Tax           money.Money
	BookingFee    money.Money
	ProcessingFee money.Money
	Total         money.Money
}

// IsFree reports whether the quote requires no charge at all.
func (q Quote) IsFree() bool { return q.Total.IsZero() }

// Engine computes itemised quotes against a fee schedule.
type Engine struct {
	Schedule FeeSchedule
}

// Quote validates the input and produces an itemised quote.
func (e Engine) Quote(in QuoteInput) (Quote, error) {
	base, err := e.baseAmount(in)
	if err != nil {
		return Quote{}, err
	}

	tax := base.MulRate(e.Schedule.TaxBps)
	booking := money.Zero(base.Currency)
	processing := money.Zero(base.Currency)
	if in.ApplyBookingFees {
		booking = base.MulRate(e.Schedule.BookingFeeBps)
		processing = base.MulRate(e.Schedule.ProcessingFeeBps)
	}

	total := base
	for _, component := range []money.Money{tax, booking, processing} {
		total, err = total.Add(component)
		if err != nil {
			return Quote{}, err
		}
	}
	return Quote{
		Base:          base,
		Tax:           tax,
		BookingFee:    booking,
		ProcessingFee: processing,
		Total:         total,
	}, nil
}

// QuoteHourly is the rental path: rate times hours plus all fees.
func (e Engine) QuoteHourly(rate money.Money, hours int64) (Quote, error) {
	return e.Quote(QuoteInput{HourlyRate: &rate, Hours: hours, ApplyBookingFees: true})
}

// QuoteTier prices a classifieds tier purchase: flat tier price plus tax.
func (e Engine) QuoteTier(tier Tier) (Quote, error) {
	price, err := e.Schedule.TierPrice(tier)
	if err != nil {
		return Quote{}, err
	}
	return e.Quote(QuoteInput{FlatPrice: &price})
}

func (e Engine) baseAmount(in QuoteInput) (money.Money, error) {
	hourly := in.HourlyRate != nil
	flat := in.FlatPrice != nil
	if hourly == flat {
		return money.Money{}, ErrInvalidQuoteInput
	}
	if hourly {
		if in.Hours <= 0 {
			return money.Money{}, ErrInvalidQuantity
		}
		if in.HourlyRate.IsNegative() {
			return money.Money{}, ErrInvalidRate
		}
		return in.HourlyRate.MulInt(in.Hours), nil
	}
	if in.FlatPrice.IsNegative() {
		return money.Money{}, ErrInvalidRate
	}
	return *in.FlatPrice, nil
}
