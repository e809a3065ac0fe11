package inventory

import (
	"github.com/shopspring/decimal"
)

type unitPair struct {
	from, to Unit
}

// conversionFactors holds the only convertible unit pairs: from * factor = to
// 変換可能な単位ペア（from × 係数 = to）
var conversionFactors = map[unitPair]decimal.Decimal{
	{UnitGram, UnitKilogram}:    decimal.RequireFromString("0.001"),
	{UnitKilogram, UnitGram}:    decimal.NewFromInt(1000),
	{UnitMilliliter, UnitLiter}: decimal.RequireFromString("0.001"),
	{UnitLiter, UnitMilliliter}: decimal.NewFromInt(1000),
}

// Convert returns the multiplier from one unit to another.
// Same-unit and unknown pairs return 1.
// 単位変換係数を返す（同一単位・未定義ペアは1）
func Convert(from, to Unit) decimal.Decimal {
	if factor, ok := conversionFactors[unitPair{from, to}]; ok {
		return factor
	}
	return decimal.NewFromInt(1)
}

// CanConvert reports whether the pair is the same unit or in the table
// 単位ペアが変換可能かチェック
func CanConvert(from, to Unit) bool {
	if from == to {
		return true
	}
	_, ok := conversionFactors[unitPair{from, to}]
	return ok
}

// QuantityInUnit converts a quantity expressed in from into to
// 数量を指定単位に換算
func QuantityInUnit(quantity decimal.Decimal, from, to Unit) decimal.Decimal {
	return quantity.Mul(Convert(from, to))
}

// IsValid reports whether the unit belongs to the closed unit set
// 単位が定義済みかチェック
func (u Unit) IsValid() bool {
	switch u {
	case UnitKilogram, UnitGram, UnitLiter, UnitMilliliter, UnitPiece:
		return true
	}
	return false
}
