// internal/transfer/request.go
package transfer

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/presale-transfer/internal/pricing"
)

// Request - входящая заявка на перевод. RemainingSupply - снимок остатка
// на момент приема заявки.
type Request struct {
	BuyerAddress     string          `json:"buyerAddress"`
	PaidAmount       decimal.Decimal `json:"paidAmount"`
	PaidUnitPriceUSD decimal.Decimal `json:"paidUnitPriceUSD"`
	RemainingSupply  decimal.Decimal `json:"remainingSupplySnapshot"`
}

// checkMagnitude выполняется до любой арифметики над суммами заявки
func (r Request) checkMagnitude() error {
	for _, f := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"paidAmount", r.PaidAmount},
		{"paidUnitPriceUSD", r.PaidUnitPriceUSD},
		{"remainingSupplySnapshot", r.RemainingSupply},
	} {
		if err := pricing.CheckMagnitude(f.value); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidRequest, f.name, err)
		}
	}
	return nil
}

// Template - неизменяемый набор инструкций заявки. Цена и количество
// посчитаны один раз и переиспользуются на всех ступенях комиссий.
type Template struct {
	Buyer      solana.PublicKey
	BuyerATA   solana.PublicKey
	Quote      pricing.Quote
	CreatesATA bool

	instructions []solana.Instruction
}

// Instructions возвращает копию списка инструкций
func (t *Template) Instructions() []solana.Instruction {
	return append([]solana.Instruction(nil), t.instructions...)
}

// Result - итог обработки заявки
type Result struct {
	Signature   solana.Signature
	TokenAmount uint64
	FeeTier     int
	State       State
}
