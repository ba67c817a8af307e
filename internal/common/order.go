package common

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidSide     = errors.New("invalid order side")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidPrice    = errors.New("price is not a whole tick")
	ErrDuplicateOrder  = errors.New("order id already resting")
)

type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	}
	return "UNKNOWN"
}

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func ParseSide(s string) (Side, error) {
	switch s {
	case "BUY", "buy", "B":
		return Buy, nil
	case "SELL", "sell", "S":
		return Sell, nil
	}
	return Buy, ErrInvalidSide
}

// Prices are fixed-point integers scaled by PriceScale,
// e.g. 10500 represents $105.00.
const PriceScale = 100

var priceScaleDec = decimal.New(PriceScale, 0)

// PriceToDecimal converts a scaled price to its decimal representation.
func PriceToDecimal(price int64) decimal.Decimal {
	return decimal.New(price, 0).Div(priceScaleDec)
}

// DecimalToPrice converts a decimal price into its scaled representation,
// rejecting values finer than one tick.
func DecimalToPrice(d decimal.Decimal) (int64, error) {
	scaled := d.Mul(priceScaleDec)
	if !scaled.IsInteger() {
		return 0, ErrInvalidPrice
	}
	return scaled.IntPart(), nil
}
