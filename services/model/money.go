package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money converts between integer coins and decimal USD at a fixed rate.
type Money struct {
	CoinsPerUSD int64
	Markup      decimal.Decimal
}

func NewMoney(coinsPerUSD int64, markup string) (Money, error) {
	if coinsPerUSD <= 0 {
		return Money{}, fmt.Errorf("coins per usd must be positive, got %d", coinsPerUSD)
	}
	m, err := decimal.NewFromString(markup)
	if err != nil {
		return Money{}, fmt.Errorf("parse markup factor: %w", err)
	}
	if m.LessThan(decimal.NewFromInt(1)) {
		return Money{}, fmt.Errorf("markup factor must be >= 1, got %s", markup)
	}
	return Money{CoinsPerUSD: coinsPerUSD, Markup: m}, nil
}

func (m Money) USD(coins int64) decimal.Decimal {
	return decimal.NewFromInt(coins).DivRound(decimal.NewFromInt(m.CoinsPerUSD), 8)
}

// Coins rounds usd to the nearest whole coin.
func (m Money) Coins(usd decimal.Decimal) int64 {
	return usd.Mul(decimal.NewFromInt(m.CoinsPerUSD)).Round(0).IntPart()
}

// Split returns (gross, commission) for a user earning.
func (m Money) Split(earning decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	gross := earning.Mul(m.Markup)
	return gross, gross.Sub(earning)
}
