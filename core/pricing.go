package core

import "github.com/shopspring/decimal"

var (
	defaultRaiseFactor   = decimal.NewFromInt(50)
	defaultRaiseFloorUSD = decimal.RequireFromString("0.5")
	atomicUnitsPerUSD    = decimal.NewFromInt(1_000_000)
)

// PricingPolicy prices a protected request.
type PricingPolicy struct {
	BasePriceUSD  decimal.Decimal
	RaiseFactor   decimal.Decimal
	RaiseFloorUSD decimal.Decimal
}

// NewPricingPolicy returns the demo pricing policy for a base price.
func NewPricingPolicy(basePriceUSD decimal.Decimal) PricingPolicy {
	return PricingPolicy{
		BasePriceUSD:  basePriceUSD,
		RaiseFactor:   defaultRaiseFactor,
		RaiseFloorUSD: defaultRaiseFloorUSD,
	}
}

// PriceUSD returns max(base*factor, floor) in raise mode and the base price otherwise.
func (p PricingPolicy) PriceUSD(raiseMode bool) decimal.Decimal {
	if !raiseMode {
		return p.BasePriceUSD
	}
	return decimal.Max(p.BasePriceUSD.Mul(p.RaiseFactor), p.RaiseFloorUSD)
}

// ToAtomicUnits converts a USD amount to integer atomic units (6 decimal
// places), rounding half up.
func ToAtomicUnits(amountUSD decimal.Decimal) string {
	return amountUSD.Mul(atomicUnitsPerUSD).Round(0).String()
}

// AtomicToUSD converts integer atomic units back to a USD amount.
func AtomicToUSD(amount string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Div(atomicUnitsPerUSD), nil
}
