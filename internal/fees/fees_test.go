package fees

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func rate(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestFees_Rounding(t *testing.T) {
	tests := []struct {
		amount int64
		rate   string
		want   int64
	}{
		{10000, "0.02", 200},
		{0, "0.02", 0},
		{25, "0.02", 1},    // 0.5 rounds up
		{24, "0.02", 0},    // 0.48 rounds down
		{75, "0.02", 2},    // 1.5 rounds up
		{125, "0.1", 13},   // 12.5 rounds up
		{1, "0.5", 1},      // 0.5 rounds up
		{999, "0.015", 15}, // 14.985
		{10000, "0", 0},
	}
	for _, tt := range tests {
		if got := BuyerFee(tt.amount, rate(tt.rate)); got != tt.want {
			t.Errorf("BuyerFee(%d, %s) = %d, want %d", tt.amount, tt.rate, got, tt.want)
		}
		if got := SellerFee(tt.amount, rate(tt.rate)); got != tt.want {
			t.Errorf("SellerFee(%d, %s) = %d, want %d", tt.amount, tt.rate, got, tt.want)
		}
	}
}

func TestQuote_NairaFigures(t *testing.T) {
	s, err := NewSchedule(rate("0.02"), rate("0.02"))
	if err != nil {
		t.Fatal(err)
	}
	q, err := s.Quote(10000)
	if err != nil {
		t.Fatal(err)
	}
	if q.TotalCharge != 10200 {
		t.Errorf("TotalCharge = %d, want 10200", q.TotalCharge)
	}
	if q.Payout != 9800 {
		t.Errorf("Payout = %d, want 9800", q.Payout)
	}
	if q.BuyerFee != 200 || q.SellerFee != 200 {
		t.Errorf("fees = %d/%d, want 200/200", q.BuyerFee, q.SellerFee)
	}
}

func TestFeeConservation(t *testing.T) {
	rates := []string{"0", "0.005", "0.01", "0.015", "0.02", "0.025", "0.1", "0.333", "0.5", "0.999"}
	for _, rb := range rates {
		for _, rs := range rates {
			s, err := NewSchedule(rate(rb), rate(rs))
			if err != nil {
				t.Fatal(err)
			}
			for a := int64(0); a <= 2000; a++ {
				q, _ := s.Quote(a)
				if q.TotalCharge-q.Payout != q.BuyerFee+q.SellerFee {
					t.Fatalf("a=%d rb=%s rs=%s: total-payout=%d, fees=%d",
						a, rb, rs, q.TotalCharge-q.Payout, q.PlatformTake())
				}
				if TotalCharge(a, s.Buyer) != q.TotalCharge || Payout(a, s.Seller) != q.Payout {
					t.Fatalf("a=%d: free functions disagree with Quote", a)
				}
				if q.Payout < 0 || q.Payout > a {
					t.Fatalf("a=%d: payout %d out of range", a, q.Payout)
				}
			}
		}
	}
}

func TestFees_Deterministic(t *testing.T) {
	r := rate("0.0175")
	first := BuyerFee(123457, r)
	for i := 0; i < 100; i++ {
		if BuyerFee(123457, r) != first {
			t.Fatal("BuyerFee is not deterministic")
		}
	}
}

func TestParseRate(t *testing.T) {
	if r, err := ParseRate("0.02"); err != nil || !r.Equal(rate("0.02")) {
		t.Fatalf("ParseRate(0.02) = %s, %v", r, err)
	}
	for _, bad := range []string{"", "abc", "-0.01", "1", "1.5"} {
		if _, err := ParseRate(bad); !errors.Is(err, ErrInvalidRate) {
			t.Errorf("ParseRate(%q) err = %v, want ErrInvalidRate", bad, err)
		}
	}
}

func TestQuote_NegativeAmount(t *testing.T) {
	s := Schedule{Buyer: rate("0.02"), Seller: rate("0.02")}
	if _, err := s.Quote(-1); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("err = %v, want ErrNegativeAmount", err)
	}
}

func TestNewSchedule_RejectsBadRates(t *testing.T) {
	if _, err := NewSchedule(rate("-0.1"), rate("0.02")); !errors.Is(err, ErrInvalidRate) {
		t.Errorf("negative buyer rate accepted")
	}
	if _, err := NewSchedule(rate("0.02"), rate("1")); !errors.Is(err, ErrInvalidRate) {
		t.Errorf("seller rate of 1 accepted")
	}
}
