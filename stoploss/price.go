package stoploss

import "github.com/shopspring/decimal"

// DefaultPrecision is the number of decimal places prices are rounded to.
const DefaultPrecision int32 = 2

var one = decimal.NewFromInt(1)

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// stopBelow returns price × (1 − pct/100) rounded to places.
func stopBelow(price, pct float64, places int32) float64 {
	factor := one.Sub(decimal.NewFromFloat(pct).Shift(-2))
	return toFloat(decimal.NewFromFloat(price).Mul(factor).Round(places))
}

// weightedEntry is the quantity-weighted average of two fills.
func weightedEntry(entry, qty, price, addQty float64, places int32) float64 {
	q0 := decimal.NewFromFloat(qty)
	q1 := decimal.NewFromFloat(addQty)
	num := decimal.NewFromFloat(entry).Mul(q0).Add(decimal.NewFromFloat(price).Mul(q1))
	return toFloat(num.Div(q0.Add(q1)).Round(places))
}

func addQuantity(a, b float64) float64 {
	return toFloat(decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)))
}

func subQuantity(a, b float64) float64 {
	return toFloat(decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)))
}

func roundPrice(p float64, places int32) float64 {
	return toFloat(decimal.NewFromFloat(p).Round(places))
}

// pnl is (exit − entry) × quantity.
func pnl(entry, exit, qty float64, places int32) float64 {
	d := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry)).Mul(decimal.NewFromFloat(qty))
	return toFloat(d.Round(places))
}
