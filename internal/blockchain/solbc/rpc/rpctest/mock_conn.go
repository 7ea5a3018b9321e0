// Package rpctest содержит моки RPC соединений для тестов.
package rpctest

import (
	"context"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/mock"

	"github.com/rovshanmuradov/presale-transfer/internal/blockchain/solbc/rpc"
)

// MockConn реализует интерфейс rpc.Conn
type MockConn struct {
	mock.Mock
}

var _ rpc.Conn = (*MockConn)(nil)

func (m *MockConn) GetLatestBlockhash(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error) {
	args := m.Called(ctx, commitment)
	res, _ := args.Get(0).(*solanarpc.GetLatestBlockhashResult)
	return res, args.Error(1)
}

func (m *MockConn) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*solanarpc.GetAccountInfoResult, error) {
	args := m.Called(ctx, account)
	res, _ := args.Get(0).(*solanarpc.GetAccountInfoResult)
	return res, args.Error(1)
}

func (m *MockConn) SendRawTransactionWithOpts(ctx context.Context, rawTx []byte, opts solanarpc.TransactionOpts) (solana.Signature, error) {
	args := m.Called(ctx, rawTx, opts)
	sig, _ := args.Get(0).(solana.Signature)
	return sig, args.Error(1)
}

func (m *MockConn) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error) {
	args := m.Called(ctx, searchTransactionHistory, transactionSignatures)
	res, _ := args.Get(0).(*solanarpc.GetSignatureStatusesResult)
	return res, args.Error(1)
}

// Blockhash возвращает ответ getLatestBlockhash с заданным hash
func Blockhash(h solana.Hash) *solanarpc.GetLatestBlockhashResult {
	return &solanarpc.GetLatestBlockhashResult{
		Value: &solanarpc.LatestBlockhashResult{Blockhash: h},
	}
}

// Status возвращает ответ getSignatureStatuses с одним статусом
func Status(status solanarpc.ConfirmationStatusType, txErr interface{}) *solanarpc.GetSignatureStatusesResult {
	return &solanarpc.GetSignatureStatusesResult{
		Value: []*solanarpc.SignatureStatusesResult{
			{ConfirmationStatus: status, Err: txErr},
		},
	}
}

// NoStatus возвращает ответ getSignatureStatuses без сведений о подписи
func NoStatus() *solanarpc.GetSignatureStatusesResult {
	return &solanarpc.GetSignatureStatusesResult{
		Value: []*solanarpc.SignatureStatusesResult{nil},
	}
}

// Pool создает пул из моков, URL -> соединение
func Pool(urls []string, conns map[string]*MockConn) *rpc.Pool {
	pool, err := rpc.NewPool(urls, func(url string) rpc.Conn {
		return conns[url]
	})
	if err != nil {
		panic(err)
	}
	return pool
}
