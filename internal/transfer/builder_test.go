package transfer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/presale-transfer/internal/blockchain/solbc/rpc/rpctest"
	"github.com/rovshanmuradov/presale-transfer/internal/pricing"
)

func newTestBuilder(t *testing.T, minPaid, maxPaid decimal.Decimal) (*Builder, solana.PublicKey) {
	t.Helper()
	mint := solana.NewWallet().PublicKey()
	return NewBuilder(pricing.DefaultCalculator(), newTestWallet(t), mint, minPaid, maxPaid, zaptest.NewLogger(t)), mint
}

func validRequest() Request {
	return Request{
		BuyerAddress:     solana.NewWallet().PublicKey().String(),
		PaidAmount:       decimal.NewFromInt(1),
		PaidUnitPriceUSD: decimal.NewFromInt(150),
		RemainingSupply:  decimal.NewFromInt(11_000_000),
	}
}

func TestPrepareQuotesPhasePrice(t *testing.T) {
	b, _ := newTestBuilder(t, decimal.Zero, decimal.Zero)

	tests := []struct {
		name       string
		remaining  int64
		wantPrice  int64
		wantAmount uint64
	}{
		// продано 9M: первая фаза
		{name: "phase one", remaining: 11_000_000, wantPrice: 1500, wantAmount: 100_000_000_000},
		// продано 12M: вторая фаза
		{name: "phase two", remaining: 8_000_000, wantPrice: 6000, wantAmount: 25_000_000_000},
		// ровно на границе первой фазы действует более дешевая цена
		{name: "phase boundary", remaining: 10_000_000, wantPrice: 1500, wantAmount: 100_000_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			req.RemainingSupply = decimal.NewFromInt(tt.remaining)

			order, err := b.Prepare(req)
			require.NoError(t, err)
			assert.True(t, order.Quote.UnitPrice.Equal(decimal.NewFromInt(tt.wantPrice)), "price %s", order.Quote.UnitPrice)
			assert.Equal(t, tt.wantAmount, order.Quote.TokenAmount)

			again, err := b.Prepare(req)
			require.NoError(t, err)
			assert.Equal(t, order.Quote.TokenAmount, again.Quote.TokenAmount)
		})
	}
}

func TestPrepareRejectsInvalidRequests(t *testing.T) {
	b, _ := newTestBuilder(t, decimal.RequireFromString("0.5"), decimal.NewFromInt(1000))

	tests := []struct {
		name   string
		mutate func(r *Request)
	}{
		{name: "zero paid amount", mutate: func(r *Request) { r.PaidAmount = decimal.Zero }},
		{name: "negative paid amount", mutate: func(r *Request) { r.PaidAmount = decimal.NewFromInt(-1) }},
		{name: "below minimum", mutate: func(r *Request) { r.PaidAmount = decimal.RequireFromString("0.1") }},
		{name: "above maximum", mutate: func(r *Request) { r.PaidAmount = decimal.NewFromInt(1001) }},
		{name: "zero unit price", mutate: func(r *Request) { r.PaidUnitPriceUSD = decimal.Zero }},
		{name: "negative remaining supply", mutate: func(r *Request) { r.RemainingSupply = decimal.NewFromInt(-1) }},
		{name: "remaining above total supply", mutate: func(r *Request) { r.RemainingSupply = decimal.NewFromInt(20_000_001) }},
		{name: "malformed buyer address", mutate: func(r *Request) { r.BuyerAddress = "not-an-address" }},
		{name: "empty buyer address", mutate: func(r *Request) { r.BuyerAddress = "" }},
		{name: "buys zero tokens", mutate: func(r *Request) {
			r.PaidAmount = decimal.NewFromInt(1)
			r.PaidUnitPriceUSD = decimal.RequireFromString("0.000000000000001")
		}},
		{name: "paid amount exponent too small", mutate: func(r *Request) { r.PaidAmount = decimal.New(1, -30_000_000) }},
		{name: "unit price exponent too large", mutate: func(r *Request) { r.PaidUnitPriceUSD = decimal.New(1, 30_000_000) }},
		{name: "remaining supply too many digits", mutate: func(r *Request) {
			r.RemainingSupply = decimal.RequireFromString(strings.Repeat("1", 60))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := b.Prepare(req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestPrepareRejectsHugeExponentQuickly(t *testing.T) {
	b, _ := newTestBuilder(t, decimal.RequireFromString("0.0001"), decimal.NewFromInt(100))
	req := validRequest()
	req.PaidAmount = decimal.RequireFromString("1e-30000000")

	start := time.Now()
	_, err := b.Prepare(req)
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorIs(t, err, pricing.ErrAmountOutOfRange)
	assert.Less(t, time.Since(start), time.Second)
	assert.Less(t, len(err.Error()), 256)
}

func TestBuildTemplate(t *testing.T) {
	tests := []struct {
		name       string
		accountErr error
		wantCreate bool
		wantFirst  solana.PublicKey
		wantData   []byte
	}{
		{name: "existing account", accountErr: nil, wantFirst: solana.TokenProgramID},
		{name: "missing account", accountErr: solanarpc.ErrNotFound, wantCreate: true, wantFirst: solana.SPLAssociatedTokenAccountProgramID},
		{name: "check failed", accountErr: errors.New("node unavailable"), wantCreate: true, wantFirst: solana.SPLAssociatedTokenAccountProgramID, wantData: []byte{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, mint := newTestBuilder(t, decimal.Zero, decimal.Zero)
			order, err := b.Prepare(validRequest())
			require.NoError(t, err)

			conn := new(rpctest.MockConn)
			var info *solanarpc.GetAccountInfoResult
			if tt.accountErr == nil {
				info = &solanarpc.GetAccountInfoResult{}
			}
			conn.On("GetAccountInfo", mock.Anything, mock.Anything).Return(info, tt.accountErr).Once()

			tmpl, err := b.Build(context.Background(), sessionFor(primaryURL, conn), order)
			require.NoError(t, err)
			conn.AssertExpectations(t)

			wantATA, _, err := solana.FindAssociatedTokenAddress(order.Buyer, mint)
			require.NoError(t, err)
			assert.Equal(t, wantATA, tmpl.BuyerATA)
			assert.Equal(t, tt.wantCreate, tmpl.CreatesATA)

			instructions := tmpl.Instructions()
			if tt.wantCreate {
				require.Len(t, instructions, 2)
			} else {
				require.Len(t, instructions, 1)
			}
			assert.Equal(t, tt.wantFirst, instructions[0].ProgramID())
			if tt.wantData != nil {
				data, err := instructions[0].Data()
				require.NoError(t, err)
				assert.Equal(t, tt.wantData, data)
			}
			assert.Equal(t, solana.TokenProgramID, instructions[len(instructions)-1].ProgramID())
		})
	}
}

func TestBuildBoundsHangingAccountCheck(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	b := NewBuilder(pricing.DefaultCalculator(), newTestWallet(t), mint, decimal.Zero, decimal.Zero, zaptest.NewLogger(t),
		WithAccountCheckTimeout(50*time.Millisecond))
	order, err := b.Prepare(validRequest())
	require.NoError(t, err)

	conn := new(rpctest.MockConn)
	conn.On("GetAccountInfo", mock.Anything, mock.Anything).
		Run(hangUntilDone).Return(nil, context.DeadlineExceeded).Once()

	start := time.Now()
	tmpl, err := b.Build(context.Background(), sessionFor(primaryURL, conn), order)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	// без ответа проверки используется идемпотентное создание ATA
	assert.True(t, tmpl.CreatesATA)
	data, err := tmpl.Instructions()[0].Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, data)
}

func TestBuildReturnsContextError(t *testing.T) {
	b, _ := newTestBuilder(t, decimal.Zero, decimal.Zero)
	order, err := b.Prepare(validRequest())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	conn := new(rpctest.MockConn)
	conn.On("GetAccountInfo", mock.Anything, mock.Anything).Return(nil, context.Canceled)

	_, err = b.Build(ctx, sessionFor(primaryURL, conn), order)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTemplateInstructionsAreCopied(t *testing.T) {
	b, _ := newTestBuilder(t, decimal.Zero, decimal.Zero)
	order, err := b.Prepare(validRequest())
	require.NoError(t, err)

	conn := new(rpctest.MockConn)
	conn.On("GetAccountInfo", mock.Anything, mock.Anything).Return(&solanarpc.GetAccountInfoResult{}, nil)

	tmpl, err := b.Build(context.Background(), sessionFor(primaryURL, conn), order)
	require.NoError(t, err)

	first := tmpl.Instructions()
	first[0] = nil
	assert.NotNil(t, tmpl.Instructions()[0])
}
