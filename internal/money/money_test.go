package money

import (
	"errors"
	"testing"
)

func TestFromDecimalString(t *testing.T) {
	m, err := FromDecimalString("100.00", "usd")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if m.Amount != 10_000 || m.Currency != "USD" {
		t.Fatalf("unexpected result: %+v", m)
	}

	m, err = FromDecimalString("70", "USD")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if m.Amount != 7_000 {
		t.Fatalf("expected 7000 minor units, got %d", m.Amount)
	}
}

func TestFromDecimalStringRejectsBadInput(t *testing.T) {
	for _, input := range []string{"", "abc", "1.005", "10,00"} {
		if _, err := FromDecimalString(input, "USD"); !errors.Is(err, ErrInvalidFormat) {
			t.Fatalf("input %q: expected ErrInvalidFormat, got %v", input, err)
		}
	}
}

func TestMulRateRoundsHalfUp(t *testing.T) {
	cases := []struct {
		amount int64
		bps    int64
		want   int64
	}{
		{30_000, 825, 2_475},  // 8.25% of $300.00
		{7_000, 825, 578},     // 8.25% of $70.00 -> 577.5 rounds up
		{10_000, 10_000, 10_000},
		{1, 50, 0},            // 0.005 cents rounds down
		{100, 50, 1},          // exactly half a cent rounds up
		{0, 825, 0},
	}
	for _, tc := range cases {
		got := New(tc.amount, "USD").MulRate(tc.bps)
		if got.Amount != tc.want {
			t.Fatalf("MulRate(%d, %d) = %d, want %d", tc.amount, tc.bps, got.Amount, tc.want)
		}
	}
}

func TestAddSubCurrencyMismatch(t *testing.T) {
	usd := New(100, "USD")
	eur := New(100, "EUR")
	if _, err := usd.Add(eur); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
	if _, err := usd.Sub(eur); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
	sum, err := usd.Add(New(50, "USD"))
	if err != nil || sum.Amount != 150 {
		t.Fatalf("add failed: %v %+v", err, sum)
	}
}

func TestString(t *testing.T) {
	if got := New(35_175, "USD").String(); got != "351.75 USD" {
		t.Fatalf("unexpected string: %q", got)
	}
}
