package transfer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rovshanmuradov/presale-transfer/internal/blockchain/solbc/programs/computebudget"
	"github.com/rovshanmuradov/presale-transfer/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/presale-transfer/internal/blockchain/solbc/rpc/rpctest"
)

type submitRecorder struct {
	mu         sync.Mutex
	broadcasts []string
	accepted   []int
	failed     int
}

func (r *submitRecorder) RecordBroadcast(endpoint string, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, endpoint)
}

func (r *submitRecorder) RecordSubmission(ok bool, tier int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.accepted = append(r.accepted, tier)
	} else {
		r.failed++
	}
}

type submitFixture struct {
	conns    map[string]*rpctest.MockConn
	prober   *rpc.Prober
	signer   *recordingSigner
	recorder *submitRecorder
	sub      *Submitter
	tmpl     *Template
}

func newSubmitFixture(t *testing.T, urls ...string) *submitFixture {
	t.Helper()
	return newSubmitFixtureWith(t, 0, zaptest.NewLogger(t), nil, urls...)
}

func newSubmitFixtureWith(t *testing.T, tierDelay time.Duration, log *zap.Logger, opts []SubmitterOption, urls ...string) *submitFixture {
	t.Helper()
	conns := make(map[string]*rpctest.MockConn, len(urls))
	for _, url := range urls {
		conns[url] = new(rpctest.MockConn)
	}
	prober := rpc.NewProber(rpctest.Pool(urls, conns), log)
	w := newTestWallet(t)
	signer := &recordingSigner{wallet: w}
	recorder := &submitRecorder{}

	opts = append([]SubmitterOption{WithSubmitObserver(recorder), WithNodeMaxRetries(3)}, opts...)
	sub, err := NewSubmitter(prober, signer, w.PublicKey, computebudget.DefaultLadder(), tierDelay, log, opts...)
	require.NoError(t, err)

	b := NewBuilder(nil, w, solana.NewWallet().PublicKey(), decimal.Zero, decimal.Zero, log)
	conn := new(rpctest.MockConn)
	conn.On("GetAccountInfo", mock.Anything, mock.Anything).Return(&solanarpc.GetAccountInfoResult{}, nil)
	tmpl, err := b.Build(context.Background(), sessionFor(urls[0], conn), &Order{
		Buyer: solana.NewWallet().PublicKey(),
	})
	require.NoError(t, err)

	return &submitFixture{conns: conns, prober: prober, signer: signer, recorder: recorder, sub: sub, tmpl: tmpl}
}

func TestNewSubmitterRejectsInvalidLadder(t *testing.T) {
	w := newTestWallet(t)
	_, err := NewSubmitter(nil, w, w.PublicKey, []computebudget.FeeTier{
		{ComputeUnitLimit: 800_000, PriorityFeeMicroUnits: 25},
		{ComputeUnitLimit: 500_000, PriorityFeeMicroUnits: 10},
	}, 0, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, computebudget.ErrLadderNotIncreasing)
}

func TestSubmitStopsAtFirstAcceptedTier(t *testing.T) {
	f := newSubmitFixture(t, primaryURL)
	conn := f.conns[primaryURL]

	hashes := []solana.Hash{{1}, {2}, {3}}
	for _, h := range hashes {
		conn.On("GetLatestBlockhash", mock.Anything, solanarpc.CommitmentConfirmed).Return(rpctest.Blockhash(h), nil).Once()
	}
	conn.On("SendRawTransactionWithOpts", mock.Anything, mock.Anything, mock.Anything).
		Return(solana.Signature{}, errors.New("transaction dropped")).Twice()
	conn.On("SendRawTransactionWithOpts", mock.Anything, mock.Anything, mock.Anything).
		Return(testSignature(7), nil).Once()

	sub, err := f.sub.Submit(context.Background(), sessionFor(primaryURL, conn), f.tmpl)
	require.NoError(t, err)

	assert.Equal(t, testSignature(7), sub.Signature)
	assert.Equal(t, 2, sub.Tier)
	assert.Equal(t, primaryURL, sub.Endpoint)
	conn.AssertNumberOfCalls(t, "SendRawTransactionWithOpts", 3)

	// ступени строго по порядку лестницы, 4 и 5 не пробовались
	assert.Equal(t, []uint32{500_000, 800_000, 1_000_000}, f.signer.limits())
	// свежий blockhash на каждой попытке
	assert.Equal(t, hashes, f.signer.hashes)
	assert.Equal(t, []int{2}, f.recorder.accepted)
}

func TestSubmitBroadcastOptions(t *testing.T) {
	f := newSubmitFixture(t, primaryURL)
	conn := f.conns[primaryURL]
	conn.On("GetLatestBlockhash", mock.Anything, mock.Anything).Return(rpctest.Blockhash(solana.Hash{1}), nil)
	conn.On("SendRawTransactionWithOpts", mock.Anything, mock.Anything, mock.MatchedBy(func(opts solanarpc.TransactionOpts) bool {
		return !opts.SkipPreflight &&
			opts.PreflightCommitment == solanarpc.CommitmentConfirmed &&
			opts.MaxRetries != nil && *opts.MaxRetries == 3
	})).Return(testSignature(1), nil).Once()

	sub, err := f.sub.Submit(context.Background(), sessionFor(primaryURL, conn), f.tmpl)
	require.NoError(t, err)
	assert.Equal(t, 0, sub.Tier)
	conn.AssertExpectations(t)
}

func TestSubmitPrefersOtherEndpointsForBroadcast(t *testing.T) {
	f := newSubmitFixture(t, primaryURL, secondURL)
	primary, second := f.conns[primaryURL], f.conns[secondURL]

	primary.On("GetLatestBlockhash", mock.Anything, mock.Anything).Return(rpctest.Blockhash(solana.Hash{1}), nil)
	second.On("SendRawTransactionWithOpts", mock.Anything, mock.Anything, mock.Anything).
		Return(solana.Signature{}, errors.New("node is behind")).Once()
	primary.On("SendRawTransactionWithOpts", mock.Anything, mock.Anything, mock.Anything).
		Return(testSignature(2), nil).Once()

	sub, err := f.sub.Submit(context.Background(), sessionFor(primaryURL, primary), f.tmpl)
	require.NoError(t, err)

	assert.Equal(t, primaryURL, sub.Endpoint)
	assert.Equal(t, 0, sub.Tier)
	assert.Equal(t, []string{secondURL, primaryURL}, f.recorder.broadcasts)
}

func TestSubmitExhaustsLadder(t *testing.T) {
	f := newSubmitFixture(t, primaryURL)
	conn := f.conns[primaryURL]
	conn.On("GetLatestBlockhash", mock.Anything, mock.Anything).Return(rpctest.Blockhash(solana.Hash{1}), nil)
	conn.On("SendRawTransactionWithOpts", mock.Anything, mock.Anything, mock.Anything).
		Return(solana.Signature{}, errors.New("insufficient priority"))

	_, err := f.sub.Submit(context.Background(), sessionFor(primaryURL, conn), f.tmpl)
	require.Error(t, err)

	var exhausted *SubmissionExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, exhausted.Tiers)
	assert.Contains(t, err.Error(), "insufficient priority")
	conn.AssertNumberOfCalls(t, "SendRawTransactionWithOpts", 5)
	assert.Equal(t, []uint32{500_000, 800_000, 1_000_000, 1_200_000, 1_400_000}, f.signer.limits())
	assert.Equal(t, 1, f.recorder.failed)
}

func TestSubmitReacquiresEndpointWhenBlockhashFails(t *testing.T) {
	f := newSubmitFixture(t, primaryURL, secondURL)
	primary, second := f.conns[primaryURL], f.conns[secondURL]

	primary.On("GetLatestBlockhash", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))
	second.On("GetLatestBlockhash", mock.Anything, mock.Anything).Return(rpctest.Blockhash(solana.Hash{9}), nil)
	primary.On("SendRawTransactionWithOpts", mock.Anything, mock.Anything, mock.Anything).
		Return(solana.Signature{}, errors.New("connection reset"))
	second.On("SendRawTransactionWithOpts", mock.Anything, mock.Anything, mock.Anything).
		Return(testSignature(3), nil).Once()

	sub, err := f.sub.Submit(context.Background(), sessionFor(primaryURL, primary), f.tmpl)
	require.NoError(t, err)

	assert.Equal(t, secondURL, sub.Session.URL())
	assert.Equal(t, secondURL, sub.Endpoint)
	assert.Equal(t, []solana.Hash{{9}}, f.signer.hashes)
}

func TestSubmitFailsWhenNoEndpointCanProvideBlockhash(t *testing.T) {
	f := newSubmitFixture(t, primaryURL, secondURL)
	for _, conn := range f.conns {
		conn.On("GetLatestBlockhash", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))
	}

	_, err := f.sub.Submit(context.Background(), sessionFor(primaryURL, f.conns[primaryURL]), f.tmpl)
	assert.ErrorIs(t, err, rpc.ErrNoEndpointAvailable)
	assert.Empty(t, f.signer.limits())
}

func TestSubmitHonoursCancelledContext(t *testing.T) {
	f := newSubmitFixture(t, primaryURL)
	conn := f.conns[primaryURL]
	conn.On("GetLatestBlockhash", mock.Anything, mock.Anything).Return(nil, context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.sub.Submit(ctx, sessionFor(primaryURL, conn), f.tmpl)
	assert.ErrorIs(t, err, context.Canceled)
	conn.AssertNotCalled(t, "SendRawTransactionWithOpts", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitWaitsTierDelayOnlyBetweenFailedTiers(t *testing.T) {
	const tierDelay = 30 * time.Millisecond

	tests := []struct {
		name      string
		failures  int
		wantWaits int
		wantErr   bool
	}{
		{name: "accepted on first tier", failures: 0, wantWaits: 0},
		{name: "accepted on third tier", failures: 2, wantWaits: 2},
		// после последней ступени пауза не нужна
		{name: "ladder exhausted", failures: 5, wantWaits: 4, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.DebugLevel)
			f := newSubmitFixtureWith(t, tierDelay, zap.New(core), nil, primaryURL)
			conn := f.conns[primaryURL]
			conn.On("GetLatestBlockhash", mock.Anything, mock.Anything).Return(rpctest.Blockhash(solana.Hash{1}), nil)
			if tt.failures > 0 {
				conn.On("SendRawTransactionWithOpts", mock.Anything, mock.Anything, mock.Anything).
					Return(solana.Signature{}, errors.New("priced out")).Times(tt.failures)
			}
			conn.On("SendRawTransactionWithOpts", mock.Anything, mock.Anything, mock.Anything).
				Return(testSignature(5), nil).Maybe()

			start := time.Now()
			_, err := f.sub.Submit(context.Background(), sessionFor(primaryURL, conn), f.tmpl)
			elapsed := time.Since(start)

			if tt.wantErr {
				var exhausted *SubmissionExhaustedError
				require.ErrorAs(t, err, &exhausted)
			} else {
				require.NoError(t, err)
			}

			waits := logs.FilterMessage("Fee tier failed, escalating").All()
			require.Len(t, waits, tt.wantWaits)
			for _, entry := range waits {
				assert.Equal(t, tierDelay, entry.ContextMap()["delay"])
			}
			assert.GreaterOrEqual(t, elapsed, time.Duration(tt.wantWaits)*tierDelay)
		})
	}
}

func TestSubmitSkipsHangingBroadcastNode(t *testing.T) {
	const thirdURL = "https://third"
	f := newSubmitFixtureWith(t, 0, zaptest.NewLogger(t),
		[]SubmitterOption{WithCallTimeout(50 * time.Millisecond)},
		primaryURL, secondURL, thirdURL)
	primary, hanging, healthy := f.conns[primaryURL], f.conns[secondURL], f.conns[thirdURL]

	primary.On("GetLatestBlockhash", mock.Anything, mock.Anything).Return(rpctest.Blockhash(solana.Hash{1}), nil)
	hanging.On("SendRawTransactionWithOpts", mock.Anything, mock.Anything, mock.Anything).
		Run(hangUntilDone).Return(solana.Signature{}, context.DeadlineExceeded).Once()
	healthy.On("SendRawTransactionWithOpts", mock.Anything, mock.Anything, mock.Anything).
		Return(testSignature(8), nil).Once()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	sub, err := f.sub.Submit(ctx, sessionFor(primaryURL, primary), f.tmpl)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, thirdURL, sub.Endpoint)
	assert.Equal(t, 0, sub.Tier)
	assert.Equal(t, []string{secondURL, thirdURL}, f.recorder.broadcasts)
	primary.AssertNotCalled(t, "SendRawTransactionWithOpts", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitReacquiresWhenBlockhashHangs(t *testing.T) {
	f := newSubmitFixtureWith(t, 0, zaptest.NewLogger(t),
		[]SubmitterOption{WithCallTimeout(50 * time.Millisecond)},
		primaryURL, secondURL)
	primary, second := f.conns[primaryURL], f.conns[secondURL]

	primary.On("GetLatestBlockhash", mock.Anything, mock.Anything).
		Run(hangUntilDone).Return(nil, context.DeadlineExceeded)
	second.On("GetLatestBlockhash", mock.Anything, mock.Anything).Return(rpctest.Blockhash(solana.Hash{4}), nil)
	primary.On("SendRawTransactionWithOpts", mock.Anything, mock.Anything, mock.Anything).
		Return(solana.Signature{}, errors.New("node is behind")).Maybe()
	second.On("SendRawTransactionWithOpts", mock.Anything, mock.Anything, mock.Anything).
		Return(testSignature(4), nil).Once()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	sub, err := f.sub.Submit(ctx, sessionFor(primaryURL, primary), f.tmpl)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, secondURL, sub.Session.URL())
	assert.Equal(t, []solana.Hash{{4}}, f.signer.hashes)
}
