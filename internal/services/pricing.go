package services

import (
	"github.com/shopspring/decimal"
	"github.com/storefront/checkout-api/pkg/config"
)

var hundred = decimal.NewFromInt(100)

// Pricing turns a cart subtotal into the amounts charged
type Pricing struct {
	Currency              string
	FreeShippingThreshold decimal.Decimal
	FlatShipping          decimal.Decimal
	TaxRate               decimal.Decimal
}

// Quote is the priced breakdown of one checkout
type Quote struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

func NewPricing(cfg *config.Config) Pricing {
	return Pricing{
		Currency:              cfg.Checkout.Currency,
		FreeShippingThreshold: decimal.NewFromFloat(cfg.Checkout.FreeShippingThreshold),
		FlatShipping:          decimal.NewFromFloat(cfg.Checkout.FlatShipping),
		TaxRate:               decimal.NewFromFloat(cfg.Checkout.TaxRate),
	}
}

// DefaultPricing is 8% tax and a flat 5 shipping below 50
func DefaultPricing() Pricing {
	return NewPricing(config.Default())
}

// Quote prices subtotal. Tax and total are rounded half up to cents.
func (p Pricing) Quote(subtotal decimal.Decimal) Quote {
	shipping := p.FlatShipping
	if subtotal.GreaterThanOrEqual(p.FreeShippingThreshold) {
		shipping = decimal.Zero
	}
	tax := subtotal.Mul(p.TaxRate).Round(2)
	return Quote{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal.Add(shipping).Add(tax).Round(2),
	}
}

// MinorUnits converts an amount to the smallest currency unit
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}
