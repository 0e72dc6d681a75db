package coupon

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Discount computes the amount the coupon takes off price. The result is
// rounded half-to-even to cents and never exceeds price, so the final price
// price-Discount(price) is never negative.
func (c *Coupon) Discount(price decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		amount = price.Mul(c.Value).Div(hundred)
	case DiscountFixed:
		amount = c.Value
	default:
		return decimal.Zero
	}

	amount = amount.RoundBank(2)
	if amount.IsNegative() {
		return decimal.Zero
	}
	if amount.GreaterThan(price) {
		return price
	}
	return amount
}

// ValidateTerms checks the discount definition itself, independent of any
// purchase.
func (c *Coupon) ValidateTerms() error {
	switch c.DiscountType {
	case DiscountPercentage:
		if !c.Value.IsPositive() || c.Value.GreaterThan(hundred) {
			return ErrInvalidTerms
		}
	case DiscountFixed:
		if c.Value.IsNegative() {
			return ErrInvalidTerms
		}
	default:
		return ErrInvalidTerms
	}
	if !c.Value.Equal(c.Value.Round(2)) {
		return ErrInvalidTerms
	}
	if c.MaxUses < 0 {
		return ErrInvalidTerms
	}
	if c.ValidFrom != nil && c.ValidUntil != nil && !c.ValidFrom.Before(*c.ValidUntil) {
		return ErrInvalidTerms
	}
	return nil
}
