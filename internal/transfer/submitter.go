// internal/transfer/submitter.go
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/presale-transfer/internal/blockchain/solbc/programs/computebudget"
	"github.com/rovshanmuradov/presale-transfer/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/presale-transfer/internal/logger"
)

// DefaultMaxRetries - maxRetries для sendTransaction на стороне узла
const DefaultMaxRetries uint = 5

// Signer подписывает транзакцию единственным ключом отправителя
type Signer interface {
	SignTransaction(tx *solana.Transaction) error
}

// SubmitObserver получает результаты отправки (метрики)
type SubmitObserver interface {
	RecordBroadcast(endpoint string, ok bool)
	RecordSubmission(ok bool, tier int)
}

// Submission - принятая сетью транзакция
type Submission struct {
	Signature solana.Signature
	Tier      int
	Endpoint  string
	// Session - узел, через который получен recency token последней попытки
	Session *rpc.Session
}

// Submitter проходит лестницу комиссий по возрастанию стоимости
type Submitter struct {
	prober      *rpc.Prober
	signer      Signer
	payer       solana.PublicKey
	ladder      []computebudget.FeeTier
	tierDelay   time.Duration
	callTimeout time.Duration
	maxRetries  uint
	observer    SubmitObserver
	logger      *zap.Logger
}

type SubmitterOption func(*Submitter)

// WithSubmitObserver подключает метрики отправки
func WithSubmitObserver(o SubmitObserver) SubmitterOption {
	return func(s *Submitter) {
		s.observer = o
	}
}

// WithNodeMaxRetries задает maxRetries, передаваемый узлу при отправке
func WithNodeMaxRetries(n uint) SubmitterOption {
	return func(s *Submitter) {
		s.maxRetries = n
	}
}

// WithCallTimeout ограничивает каждый вызов узла: запрос blockhash и
// отправку на один узел. Зависший узел не блокирует переход к следующему.
func WithCallTimeout(d time.Duration) SubmitterOption {
	return func(s *Submitter) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// NewSubmitter создает Submitter. Лестница должна пройти ValidateLadder.
func NewSubmitter(prober *rpc.Prober, signer Signer, payer solana.PublicKey, ladder []computebudget.FeeTier, tierDelay time.Duration, logger *zap.Logger, opts ...SubmitterOption) (*Submitter, error) {
	if err := computebudget.ValidateLadder(ladder); err != nil {
		return nil, err
	}
	s := &Submitter{
		prober:      prober,
		signer:      signer,
		payer:       payer,
		ladder:      append([]computebudget.FeeTier(nil), ladder...),
		tierDelay:   tierDelay,
		callTimeout: rpc.DefaultCallTimeout,
		maxRetries:  DefaultMaxRetries,
		logger:      logger.Named("fee-submitter"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Submit для каждой ступени: свежий blockhash, сборка [compute budget] +
// шаблон, одна подпись, рассылка по узлам (узел сессии последним).
// Возвращается после первой успешной рассылки; более дорогие ступени
// не пробуются.
func (s *Submitter) Submit(ctx context.Context, session *rpc.Session, tmpl *Template) (*Submission, error) {
	tier := 0
	current := session

	operation := func() (*Submission, error) {
		idx := tier
		tier++

		sub, next, err := s.attempt(ctx, current, idx, tmpl)
		current = next
		if err != nil {
			return nil, err
		}
		return sub, nil
	}

	notify := func(err error, wait time.Duration) {
		s.logger.Warn("Fee tier failed, escalating",
			zap.Int("failed_tier", tier-1),
			zap.Duration("delay", wait),
			zap.Error(err))
	}

	sub, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(s.tierDelay)),
		backoff.WithMaxTries(uint(len(s.ladder))),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify))
	if err == nil {
		s.recordSubmission(true, sub.Tier)
		s.logger.Info("Transaction accepted",
			zap.String("signature", sub.Signature.String()),
			zap.Int("tier", sub.Tier),
			zap.String("endpoint", sub.Endpoint))
		return sub, nil
	}

	s.recordSubmission(false, tier-1)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return nil, permanent.Unwrap()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return nil, &SubmissionExhaustedError{Tiers: tier, Last: err}
}

// attempt - одна ступень. Возвращает сессию, с которой работала попытка.
func (s *Submitter) attempt(ctx context.Context, session *rpc.Session, idx int, tmpl *Template) (*Submission, *rpc.Session, error) {
	feeTier := s.ladder[idx]
	log := s.logger.With(
		zap.Int("tier", idx),
		zap.Uint32("compute_units", feeTier.ComputeUnitLimit),
		zap.Uint64("priority_fee", feeTier.PriorityFeeMicroUnits))

	hash, session, err := s.recencyToken(ctx, session)
	if err != nil {
		return nil, session, err
	}

	budget, err := computebudget.BuildTierInstructions(feeTier)
	if err != nil {
		return nil, session, backoff.Permanent(fmt.Errorf("failed to build compute budget instructions: %w", err))
	}
	instructions := append(budget, tmpl.Instructions()...)

	tx, err := solana.NewTransaction(instructions, hash, solana.TransactionPayer(s.payer))
	if err != nil {
		return nil, session, backoff.Permanent(fmt.Errorf("failed to create transaction: %w", err))
	}
	if err := s.signer.SignTransaction(tx); err != nil {
		return nil, session, backoff.Permanent(fmt.Errorf("failed to sign transaction: %w", err))
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, session, backoff.Permanent(fmt.Errorf("failed to serialize transaction: %w", err))
	}

	log.Debug("Broadcasting transaction", zap.String("signature", logger.ShortSignature(tx.Signatures[0].String())))

	sig, endpoint, err := s.broadcast(ctx, session, raw, log)
	if err != nil {
		return nil, session, err
	}
	return &Submission{Signature: sig, Tier: idx, Endpoint: endpoint, Session: session}, session, nil
}

// recencyToken получает свежий blockhash. При ошибке узла сессии
// переподключается, исключая этот узел.
func (s *Submitter) recencyToken(ctx context.Context, session *rpc.Session) (solana.Hash, *rpc.Session, error) {
	hash, err := s.latestBlockhash(ctx, session)
	if err == nil {
		return hash, session, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return solana.Hash{}, session, backoff.Permanent(ctxErr)
	}

	s.logger.Warn("Failed to get blockhash, re-acquiring endpoint",
		zap.String("endpoint", session.URL()),
		zap.Error(err))

	next, acqErr := s.prober.Acquire(ctx, session.URL())
	if acqErr != nil {
		return solana.Hash{}, session, backoff.Permanent(acqErr)
	}
	hash, err = s.latestBlockhash(ctx, next)
	if err != nil {
		return solana.Hash{}, next, err
	}
	return hash, next, nil
}

func (s *Submitter) latestBlockhash(ctx context.Context, session *rpc.Session) (solana.Hash, error) {
	callCtx, cancel := rpc.CallContext(ctx, s.callTimeout)
	defer cancel()

	res, err := session.Conn.GetLatestBlockhash(callCtx, solanarpc.CommitmentConfirmed)
	if err != nil {
		return solana.Hash{}, rpc.NewError(err, session.URL(), "getLatestBlockhash")
	}
	if res == nil || res.Value == nil {
		return solana.Hash{}, rpc.NewError(errors.New("empty blockhash response"), session.URL(), "getLatestBlockhash")
	}
	return res.Value.Blockhash, nil
}

// broadcast отправляет подписанные байты по узлам пула: сначала все
// узлы, кроме узла сессии, затем он сам. Первый успех завершает рассылку.
func (s *Submitter) broadcast(ctx context.Context, session *rpc.Session, raw []byte, log *zap.Logger) (solana.Signature, string, error) {
	maxRetries := s.maxRetries
	opts := solanarpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: solanarpc.CommitmentConfirmed,
		MaxRetries:          &maxRetries,
	}

	var lastErr error
	for _, node := range s.prober.Pool().BroadcastOrder(session.URL()) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return solana.Signature{}, "", backoff.Permanent(ctxErr)
		}
		callCtx, cancel := rpc.CallContext(ctx, s.callTimeout)
		sig, err := node.Conn.SendRawTransactionWithOpts(callCtx, raw, opts)
		cancel()
		s.recordBroadcast(node.Endpoint.URL, err == nil)
		if err == nil {
			return sig, node.Endpoint.URL, nil
		}
		lastErr = rpc.NewError(err, node.Endpoint.URL, "sendTransaction")
		fields := append([]zap.Field{zap.String("endpoint", node.Endpoint.URL)}, rpc.ErrorFields(err)...)
		if rpc.IsSimulationFailure(err) {
			log.Warn("Broadcast rejected by preflight", fields...)
			continue
		}
		log.Debug("Broadcast failed", fields...)
	}
	if lastErr == nil {
		lastErr = rpc.ErrNoEndpoints
	}
	return solana.Signature{}, "", lastErr
}

func (s *Submitter) recordBroadcast(endpoint string, ok bool) {
	if s.observer != nil {
		s.observer.RecordBroadcast(endpoint, ok)
	}
}

func (s *Submitter) recordSubmission(ok bool, tier int) {
	if s.observer != nil {
		s.observer.RecordSubmission(ok, tier)
	}
}
