// internal/blockchain/solbc/rpc/types.go
package rpc

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

const (
	// DefaultProbeTimeout ограничивает время одной liveness-проверки узла.
	DefaultProbeTimeout = 5 * time.Second
	// DefaultCallTimeout ограничивает остальные вызовы узла: blockhash,
	// проверку аккаунта, отправку и финальный запрос статуса.
	DefaultCallTimeout = 10 * time.Second
)

// ProbeMode определяет порядок проверки узлов.
type ProbeMode string

const (
	ProbeSequential ProbeMode = "sequential"
	ProbeRace       ProbeMode = "race"
)

// Conn - минимальная поверхность RPC, нужная для submit/query/confirm.
// *solanarpc.Client удовлетворяет этому интерфейсу напрямую.
type Conn interface {
	GetLatestBlockhash(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*solanarpc.GetAccountInfoResult, error)
	SendRawTransactionWithOpts(ctx context.Context, rawTx []byte, opts solanarpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error)
}

// DialFunc создает соединение для URL узла.
type DialFunc func(url string) Conn

// Endpoint - адрес узла и признак "предпочтительный".
type Endpoint struct {
	URL       string
	Preferred bool
}

// Node связывает Endpoint с готовым соединением.
type Node struct {
	Endpoint Endpoint
	Conn     Conn
}

// Session - узел, прошедший liveness-проверку. Передается по цепочке вызовов
// явно, глобального "текущего соединения" нет.
type Session struct {
	Endpoint Endpoint
	Conn     Conn
}

// URL возвращает адрес узла сессии.
func (s *Session) URL() string {
	if s == nil {
		return ""
	}
	return s.Endpoint.URL
}

// CallContext ограничивает один вызов узла таймаутом d.
// При d <= 0 используется DefaultCallTimeout.
func CallContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultCallTimeout
	}
	return context.WithTimeout(ctx, d)
}

// ProbeObserver получает результаты проверок узлов (метрики).
type ProbeObserver interface {
	RecordProbe(endpoint string, ok bool, latency time.Duration)
}
