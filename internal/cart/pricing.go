package cart

import (
	"github.com/shopspring/decimal"

	"github.com/roach88/posvault/internal/model"
)

var hundred = decimal.NewFromInt(100)

// LineTotal is (unit price + add-ons per unit) times quantity.
func LineTotal(l model.LineItem) decimal.Decimal {
	unit := l.UnitPrice
	for _, a := range l.AddOns {
		unit = unit.Add(a.Price)
	}
	return unit.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Totals computes subtotal, tax and total from scratch.
// Tax applies only when enabled with a positive rate, and is rounded half-up
// to cents.
func (c *Cart) Totals(tax model.TaxConfig) model.Totals {
	return ComputeTotals(c.lines, tax)
}

// ComputeTotals prices a list of lines.
func ComputeTotals(lines []model.LineItem, tax model.TaxConfig) model.Totals {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(LineTotal(l))
	}

	taxAmount := decimal.Zero
	if tax.Enabled && tax.Percentage.IsPositive() {
		taxAmount = subtotal.Mul(tax.Percentage).Div(hundred).Round(2)
	}

	return model.Totals{
		Subtotal: subtotal,
		Tax:      taxAmount,
		Total:    subtotal.Add(taxAmount),
	}
}
