// internal/pricing/amount.go
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const (
	// DefaultScaleFactor переводит USD/цену в минимальные единицы токена
	DefaultScaleFactor = 1_000_000_000_000
	// DefaultDisplayDivisor переводит минимальные единицы в отображаемое количество
	DefaultDisplayDivisor = 1_000_000
	// DefaultRewardRate - доля реферального вознаграждения
	DefaultRewardRate = 0.05

	maxInputExponent = 18
	maxInputDigits   = 38
)

var (
	ErrNegativeAmount = errors.New("token amount is negative")
	ErrAmountOverflow = errors.New("token amount overflows uint64")
	// ErrAmountOutOfRange - входная сумма с недопустимым порядком или длиной
	ErrAmountOutOfRange = errors.New("amount is out of range")
)

var maxUint64 = decimal.NewFromUint64(math.MaxUint64)

// CheckMagnitude отклоняет входные суммы с показателем степени вне
// [-18, 18] или длиннее 38 значащих цифр. Значение не масштабируется,
// поэтому проверка дешева для любого разобранного JSON числа.
func CheckMagnitude(d decimal.Decimal) error {
	if exp := d.Exponent(); exp < -maxInputExponent || exp > maxInputExponent {
		return ErrAmountOutOfRange
	}
	if d.NumDigits() > maxInputDigits {
		return ErrAmountOutOfRange
	}
	return nil
}

// Quote - результат расчета для одной заявки. Считается один раз и дальше
// не пересчитывается.
type Quote struct {
	SoldAmount  decimal.Decimal
	UnitPrice   decimal.Decimal
	TokenAmount uint64
}

// Calculator объединяет таблицу фаз и параметры пересчета.
type Calculator struct {
	table          *PhaseTable
	totalSupply    decimal.Decimal
	scaleFactor    decimal.Decimal
	displayDivisor decimal.Decimal
	rewardRate     decimal.Decimal
}

// NewCalculator создает калькулятор
func NewCalculator(table *PhaseTable, totalSupply, scaleFactor, displayDivisor, rewardRate decimal.Decimal) *Calculator {
	return &Calculator{
		table:          table,
		totalSupply:    totalSupply,
		scaleFactor:    scaleFactor,
		displayDivisor: displayDivisor,
		rewardRate:     rewardRate,
	}
}

// DefaultCalculator - параметры продажи по умолчанию
func DefaultCalculator() *Calculator {
	return NewCalculator(
		DefaultPhaseTable(),
		decimal.NewFromInt(DefaultTotalSupply),
		decimal.NewFromInt(DefaultScaleFactor),
		decimal.NewFromInt(DefaultDisplayDivisor),
		decimal.NewFromFloat(DefaultRewardRate),
	)
}

// TotalSupply возвращает общий объем продажи
func (c *Calculator) TotalSupply() decimal.Decimal {
	return c.totalSupply
}

// Quote считает цену и количество токенов по снимку остатка.
// Результат зависит только от аргументов.
func (c *Calculator) Quote(paidAmount, paidUnitPriceUSD, remainingSupply decimal.Decimal) (Quote, error) {
	sold := c.totalSupply.Sub(remainingSupply)
	unitPrice := c.table.Lookup(sold)

	amount, err := TokenAmount(paidAmount, paidUnitPriceUSD, unitPrice, c.scaleFactor)
	if err != nil {
		return Quote{}, err
	}
	return Quote{SoldAmount: sold, UnitPrice: unitPrice, TokenAmount: amount}, nil
}

// TokenAmount = floor(paid * paidUnitPriceUSD / unitPrice * scale).
// Умножение выполняется до деления, чтобы не терять точность.
func TokenAmount(paid, paidUnitPriceUSD, unitPrice, scale decimal.Decimal) (uint64, error) {
	if !unitPrice.IsPositive() {
		return 0, fmt.Errorf("unit price must be positive, got %s", unitPrice)
	}

	value := paid.Mul(paidUnitPriceUSD).Mul(scale).Div(unitPrice).Floor()
	if value.IsNegative() {
		return 0, ErrNegativeAmount
	}
	if value.GreaterThan(maxUint64) {
		return 0, ErrAmountOverflow
	}
	return value.BigInt().Uint64(), nil
}

// DisplayAmount переводит минимальные единицы в отображаемое количество,
// округленное до трех знаков.
func (c *Calculator) DisplayAmount(tokenAmount uint64) decimal.Decimal {
	return decimal.NewFromUint64(tokenAmount).Div(c.displayDivisor).Round(3)
}

// RewardAmount = round2(display(tokenAmount) * rewardRate)
func (c *Calculator) RewardAmount(tokenAmount uint64) decimal.Decimal {
	return c.DisplayAmount(tokenAmount).Mul(c.rewardRate).Round(2)
}
