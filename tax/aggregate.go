package tax

import "github.com/shopspring/decimal"

// ItemTax is the tax owed on one resolved line.
func ItemTax(cost, taxRate decimal.Decimal) decimal.Decimal {
	return cost.Mul(taxRate)
}

// NetPosition is tax owed minus tax paid. Positive means tax is due.
func NetPosition(totalTax, totalPayments decimal.Decimal) decimal.Decimal {
	return totalTax.Sub(totalPayments)
}

// SumTax adds the tax of every resolved item.
func SumTax(items []ResolvedItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(ItemTax(it.Cost, it.TaxRate))
	}
	return total
}
