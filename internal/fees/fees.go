// Package fees computes escrow fees in integer minor units.
//
// Both fees are round-half-up of amount*rate. The buyer pays amount+buyerFee
// at checkout; the seller receives amount-sellerFee on release. The functions
// are pure so reconciliation can recompute a recorded fee and get the same
// number.
package fees

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount = errors.New("fees: amount must not be negative")
	ErrInvalidRate    = errors.New("fees: rate must be in [0, 1)")
)

var one = decimal.NewFromInt(1)

// ParseRate parses a decimal rate such as "0.02".
func ParseRate(s string) (decimal.Decimal, error) {
	r, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidRate, s)
	}
	if err := checkRate(r); err != nil {
		return decimal.Zero, err
	}
	return r, nil
}

func checkRate(r decimal.Decimal) error {
	if r.IsNegative() || r.GreaterThanOrEqual(one) {
		return fmt.Errorf("%w: %s", ErrInvalidRate, r)
	}
	return nil
}

// fee is round-half-up(amount*rate). decimal.Round rounds half away from
// zero, which is half-up for the non-negative amounts accepted here.
func fee(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart()
}

// BuyerFee is the fee added on top of the order total at checkout.
func BuyerFee(amount int64, rate decimal.Decimal) int64 { return fee(amount, rate) }

// SellerFee is the fee withheld from the seller at release.
func SellerFee(amount int64, rate decimal.Decimal) int64 { return fee(amount, rate) }

// TotalCharge is what the gateway charges the buyer.
func TotalCharge(amount int64, rate decimal.Decimal) int64 {
	return amount + BuyerFee(amount, rate)
}

// Payout is what the seller's account is credited on release.
func Payout(amount int64, rate decimal.Decimal) int64 {
	return amount - SellerFee(amount, rate)
}

// Schedule carries the configured buyer and seller rates.
type Schedule struct {
	Buyer  decimal.Decimal
	Seller decimal.Decimal
}

// NewSchedule validates both rates.
func NewSchedule(buyer, seller decimal.Decimal) (Schedule, error) {
	if err := checkRate(buyer); err != nil {
		return Schedule{}, fmt.Errorf("buyer: %w", err)
	}
	if err := checkRate(seller); err != nil {
		return Schedule{}, fmt.Errorf("seller: %w", err)
	}
	return Schedule{Buyer: buyer, Seller: seller}, nil
}

// Quote is the full fee breakdown for one escrow amount.
type Quote struct {
	Amount      int64 `json:"amount"`
	BuyerFee    int64 `json:"buyerFee"`
	SellerFee   int64 `json:"sellerFee"`
	TotalCharge int64 `json:"totalCharge"`
	Payout      int64 `json:"payout"`
}

// PlatformTake is the platform's revenue for the escrow.
func (q Quote) PlatformTake() int64 { return q.BuyerFee + q.SellerFee }

// Quote computes every figure for amount.
func (s Schedule) Quote(amount int64) (Quote, error) {
	if amount < 0 {
		return Quote{}, ErrNegativeAmount
	}
	bf := BuyerFee(amount, s.Buyer)
	sf := SellerFee(amount, s.Seller)
	return Quote{
		Amount:      amount,
		BuyerFee:    bf,
		SellerFee:   sf,
		TotalCharge: amount + bf,
		Payout:      amount - sf,
	}, nil
}
