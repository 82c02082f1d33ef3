package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ValueSample is one point of a portfolio value series.
type ValueSample struct {
	Date  time.Time
	Value decimal.Decimal
}

// Portfolio is a synthetic holdings snapshot. The backtest driver owns and
// mutates these; the interpreter only ever reads them.
type Portfolio struct {
	Positions map[string]*Position
	Cash      decimal.Decimal
}

func NewPortfolio() *Portfolio {
	return &Portfolio{
		Positions: map[string]*Position{},
		Cash:      decimal.Zero,
	}
}

type Position struct {
	Symbol   string
	Quantity decimal.Decimal
}

func (p Position) DeepCopy() *Position {
	return &Position{
		Symbol:   p.Symbol,
		Quantity: p.Quantity,
	}
}

func (p Portfolio) HeldSymbols() []string {
	symbols := make([]string, 0, len(p.Positions))
	for symbol := range p.Positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

func (p Portfolio) DeepCopy() *Portfolio {
	newPortfolio := &Portfolio{
		Cash:      p.Cash,
		Positions: map[string]*Position{},
	}
	for symbol, position := range p.Positions {
		newPortfolio.Positions[symbol] = position.DeepCopy()
	}
	return newPortfolio
}

func (p Portfolio) TotalValue(priceMap map[string]decimal.Decimal) (decimal.Decimal, error) {
	totalValue := p.Cash
	for symbol, position := range p.Positions {
		price, ok := priceMap[symbol]
		if !ok {
			return decimal.Zero, fmt.Errorf("cannot compute portfolio total value: price map missing %s", symbol)
		}
		totalValue = totalValue.Add(position.Quantity.Mul(price))
	}
	return totalValue, nil
}

// Weights returns the value-weighted allocation of the portfolio, with
// uninvested cash reported under CashTicker. An empty portfolio has no
// weights at all.
func (p Portfolio) Weights(priceMap map[string]decimal.Decimal) (map[string]float64, error) {
	total, err := p.TotalValue(priceMap)
	if err != nil {
		return nil, err
	}
	weights := map[string]float64{}
	if total.IsZero() {
		return weights, nil
	}
	for symbol, position := range p.Positions {
		value := position.Quantity.Mul(priceMap[symbol])
		weights[symbol] = value.Div(total).InexactFloat64()
	}
	if p.Cash.IsPositive() {
		weights[CashTicker] = p.Cash.Div(total).InexactFloat64()
	}
	return weights, nil
}
