package transfer

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/presale-transfer/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/presale-transfer/internal/blockchain/solbc/rpc/rpctest"
	"github.com/rovshanmuradov/presale-transfer/internal/wallet"
)

const (
	primaryURL = "https://primary"
	secondURL  = "https://second"
)

// Длительности различны, чтобы fakeClock мог отличать таймеры
var testPollerConfig = PollerConfig{
	AttemptTimeout: 60 * time.Second,
	MaxRetries:     10,
	RetryDelay:     2 * time.Second,
	PollInterval:   time.Second,
}

// fakeClock срабатывает сразу для всех длительностей, кроме blocked
type fakeClock struct {
	mu      sync.Mutex
	blocked map[time.Duration]bool
	calls   map[time.Duration]int
}

func newFakeClock(blocked ...time.Duration) *fakeClock {
	c := &fakeClock{
		blocked: make(map[time.Duration]bool),
		calls:   make(map[time.Duration]int),
	}
	for _, d := range blocked {
		c.blocked[d] = true
	}
	return c
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[d]++
	ch := make(chan time.Time, 1)
	if !c.blocked[d] {
		ch <- time.Time{}
	}
	return ch
}

func (c *fakeClock) count(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[d]
}

func newTestWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	w, err := wallet.NewWallet(key.String())
	require.NoError(t, err)
	return w
}

func sessionFor(url string, conn *rpctest.MockConn) *rpc.Session {
	return &rpc.Session{Endpoint: rpc.Endpoint{URL: url}, Conn: conn}
}

// recordingSigner подписывает кошельком и запоминает лимиты compute units
// и blockhash каждой подписанной транзакции
type recordingSigner struct {
	wallet *wallet.Wallet

	mu         sync.Mutex
	unitLimits []uint32
	hashes     []solana.Hash
}

func (s *recordingSigner) SignTransaction(tx *solana.Transaction) error {
	s.mu.Lock()
	data := tx.Message.Instructions[0].Data
	s.unitLimits = append(s.unitLimits, binary.LittleEndian.Uint32(data[1:5]))
	s.hashes = append(s.hashes, tx.Message.RecentBlockhash)
	s.mu.Unlock()
	return s.wallet.SignTransaction(tx)
}

func (s *recordingSigner) limits() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.unitLimits...)
}

// testSignature - детерминированная подпись для ответов мока
func testSignature(b byte) solana.Signature {
	var sig solana.Signature
	sig[0] = b
	return sig
}

// hangUntilDone имитирует зависший узел: вызов возвращается только по
// отмене своего контекста
func hangUntilDone(args mock.Arguments) {
	<-args.Get(0).(context.Context).Done()
}
