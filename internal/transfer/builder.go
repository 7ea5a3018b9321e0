// internal/transfer/builder.go
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/presale-transfer/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/presale-transfer/internal/pricing"
	"github.com/rovshanmuradov/presale-transfer/internal/wallet"
)

// Order - проверенная заявка с зафиксированной котировкой
type Order struct {
	Buyer solana.PublicKey
	Quote pricing.Quote
}

// Builder проверяет заявки и собирает шаблон инструкций
type Builder struct {
	calc        *pricing.Calculator
	sender      *wallet.Wallet
	mint        solana.PublicKey
	minPaid     decimal.Decimal
	maxPaid     decimal.Decimal
	callTimeout time.Duration
	logger      *zap.Logger
}

type BuilderOption func(*Builder)

// WithAccountCheckTimeout ограничивает проверку наличия ATA покупателя
func WithAccountCheckTimeout(d time.Duration) BuilderOption {
	return func(b *Builder) {
		if d > 0 {
			b.callTimeout = d
		}
	}
}

// NewBuilder создает Builder. Нулевые minPaid/maxPaid не проверяются.
func NewBuilder(calc *pricing.Calculator, sender *wallet.Wallet, mint solana.PublicKey, minPaid, maxPaid decimal.Decimal, logger *zap.Logger, opts ...BuilderOption) *Builder {
	b := &Builder{
		calc:        calc,
		sender:      sender,
		mint:        mint,
		minPaid:     minPaid,
		maxPaid:     maxPaid,
		callTimeout: rpc.DefaultCallTimeout,
		logger:      logger.Named("request-builder"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Prepare проверяет заявку и считает котировку. Сетевых вызовов нет.
func (b *Builder) Prepare(req Request) (*Order, error) {
	if err := req.checkMagnitude(); err != nil {
		return nil, err
	}
	if !req.PaidAmount.IsPositive() {
		return nil, invalidf("paidAmount must be positive")
	}
	if b.minPaid.IsPositive() && req.PaidAmount.LessThan(b.minPaid) {
		return nil, invalidf("paidAmount is below minimum %s", b.minPaid)
	}
	if b.maxPaid.IsPositive() && req.PaidAmount.GreaterThan(b.maxPaid) {
		return nil, invalidf("paidAmount exceeds maximum %s", b.maxPaid)
	}
	if !req.PaidUnitPriceUSD.IsPositive() {
		return nil, invalidf("paidUnitPriceUSD must be positive")
	}
	if req.RemainingSupply.IsNegative() || req.RemainingSupply.GreaterThan(b.calc.TotalSupply()) {
		return nil, invalidf("remainingSupplySnapshot is outside [0, %s]", b.calc.TotalSupply())
	}

	buyer, err := solana.PublicKeyFromBase58(req.BuyerAddress)
	if err != nil {
		return nil, invalidf("buyerAddress is not a valid address")
	}

	quote, err := b.calc.Quote(req.PaidAmount, req.PaidUnitPriceUSD, req.RemainingSupply)
	if err != nil {
		return nil, invalidf("token amount: %v", err)
	}
	if quote.TokenAmount == 0 {
		return nil, invalidf("paid amount buys zero tokens at unit price %s", quote.UnitPrice)
	}

	return &Order{Buyer: buyer, Quote: quote}, nil
}

// Build выполняет одну проверку наличия ATA покупателя и собирает шаблон:
// [создание ATA, если отсутствует] + перевод токенов.
// Шаблон не меняется между попытками отправки.
func (b *Builder) Build(ctx context.Context, session *rpc.Session, order *Order) (*Template, error) {
	sourceATA, err := b.sender.GetATA(b.mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive sender ATA: %w", err)
	}
	buyerATA, err := b.sender.FindATA(order.Buyer, b.mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive buyer ATA: %w", err)
	}

	var instructions []solana.Instruction
	createsATA := false

	checkCtx, cancel := rpc.CallContext(ctx, b.callTimeout)
	_, err = session.Conn.GetAccountInfo(checkCtx, buyerATA)
	cancel()
	switch {
	case err == nil:
	case errors.Is(err, solanarpc.ErrNotFound):
		createsATA = true
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(b.sender.PublicKey, order.Buyer, b.mint).Build())
	default:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// Проверка не дала ответа: CreateIdempotent безопасен в обоих случаях
		b.logger.Warn("ATA existence check failed, using idempotent create",
			zap.String("endpoint", session.URL()),
			zap.String("ata", buyerATA.String()),
			zap.Error(err))
		createsATA = true
		ix, ixErr := b.sender.CreateATAIdempotentInstruction(b.sender.PublicKey, order.Buyer, b.mint)
		if ixErr != nil {
			return nil, fmt.Errorf("failed to build ATA instruction: %w", ixErr)
		}
		instructions = append(instructions, ix)
	}

	instructions = append(instructions, token.NewTransferInstruction(
		order.Quote.TokenAmount,
		sourceATA,
		buyerATA,
		b.sender.PublicKey,
		[]solana.PublicKey{},
	).Build())

	b.logger.Debug("Transfer template built",
		zap.String("buyer", order.Buyer.String()),
		zap.Uint64("token_amount", order.Quote.TokenAmount),
		zap.String("unit_price", order.Quote.UnitPrice.String()),
		zap.Bool("creates_ata", createsATA))

	return &Template{
		Buyer:        order.Buyer,
		BuyerATA:     buyerATA,
		Quote:        order.Quote,
		CreatesATA:   createsATA,
		instructions: instructions,
	}, nil
}
