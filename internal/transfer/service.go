// internal/transfer/service.go
package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/presale-transfer/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/presale-transfer/internal/logger"
	"github.com/rovshanmuradov/presale-transfer/internal/storage"
)

// Исходы заявки для метрик
const (
	OutcomeConfirmed   = "confirmed"
	OutcomeInvalid     = "invalid"
	OutcomeNoEndpoint  = "no_endpoint"
	OutcomeExhausted   = "exhausted"
	OutcomeRejected    = "rejected"
	OutcomeUnknown     = "unknown"
	OutcomeCancelled   = "cancelled"
	OutcomeError       = "error"
	recordWriteTimeout = 5 * time.Second
)

// TransferObserver получает итог заявки целиком (метрики)
type TransferObserver interface {
	RecordTransfer(outcome string, duration time.Duration)
}

// Service проводит заявку по этапам строго последовательно:
// проверка -> узел -> шаблон -> лестница комиссий -> подтверждение -> награда.
type Service struct {
	builder   *Builder
	prober    *rpc.Prober
	submitter *Submitter
	poller    *Poller
	rewards   *RewardUpdater
	transfers storage.TransferLog
	observer  TransferObserver
	logger    *zap.Logger
}

type ServiceOption func(*Service)

// WithTransferLog сохраняет подписи и исходы для ручной сверки
func WithTransferLog(l storage.TransferLog) ServiceOption {
	return func(s *Service) {
		s.transfers = l
	}
}

func WithTransferObserver(o TransferObserver) ServiceOption {
	return func(s *Service) {
		s.observer = o
	}
}

func NewService(builder *Builder, prober *rpc.Prober, submitter *Submitter, poller *Poller, rewards *RewardUpdater, log *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		builder:   builder,
		prober:    prober,
		submitter: submitter,
		poller:    poller,
		rewards:   rewards,
		logger:    log.Named("transfer-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transfer выполняет заявку. Ошибки этапов возвращаются без повторов:
// ErrInvalidRequest, rpc.ErrNoEndpointAvailable, *SubmissionExhaustedError,
// *LedgerRejectedError, *ConfirmationUnknownError или ошибка контекста.
// Ошибка начисления награды никогда не меняет итог.
func (s *Service) Transfer(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	log := logger.WithTransfer(s.logger, logger.NewRequestID(), req.BuyerAddress)
	defer func() {
		s.recordTransfer(outcome(err), time.Since(start))
	}()

	order, err := s.builder.Prepare(req)
	if err != nil {
		log.Warn("Transfer request rejected", zap.Error(err))
		return nil, err
	}

	session, err := s.prober.Acquire(ctx, "")
	if err != nil {
		log.Error("No RPC endpoint available", zap.Error(err))
		return nil, err
	}

	tmpl, err := s.builder.Build(ctx, session, order)
	if err != nil {
		log.Error("Failed to build transfer template", zap.Error(err))
		return nil, err
	}

	sub, err := s.submitter.Submit(ctx, session, tmpl)
	if err != nil {
		log.Error("Transfer submission failed", zap.Error(err))
		return nil, err
	}

	log = log.With(zap.String("signature", sub.Signature.String()))
	log.Info("Transfer submitted",
		zap.String("status", logger.TransferPending),
		zap.Uint64("token_amount", tmpl.Quote.TokenAmount),
		zap.Int("tier", sub.Tier),
		zap.Bool("creates_ata", tmpl.CreatesATA))
	s.saveRecord(ctx, log, &storage.TransferRecord{
		Signature:    sub.Signature.String(),
		BuyerAddress: tmpl.Buyer.String(),
		TokenAmount:  tmpl.Quote.TokenAmount,
		FeeTier:      sub.Tier,
		Status:       storage.TransferSubmitted,
	})

	res = &Result{
		Signature:   sub.Signature,
		TokenAmount: tmpl.Quote.TokenAmount,
		FeeTier:     sub.Tier,
	}

	state, err := s.poller.Poll(ctx, sub.Session, sub.Signature)
	res.State = state
	switch state {
	case StateConfirmed:
		log.Info("Transfer confirmed", zap.String("status", logger.TransferConfirmed))
		s.updateRecord(ctx, log, sub.Signature, storage.TransferConfirmed, nil)
		s.rewards.Credit(ctx, sub.Signature, tmpl.Buyer.String(), tmpl.Quote.TokenAmount)
		return res, nil
	case StateFailed:
		log.Error("Transfer rejected by ledger", zap.String("status", logger.TransferFailed), zap.Error(err))
		s.updateRecord(ctx, log, sub.Signature, storage.TransferFailed, err)
	case StateUnknown:
		log.Error("Transfer needs manual reconciliation", zap.String("status", logger.TransferUnknown), zap.Error(err))
		s.updateRecord(ctx, log, sub.Signature, storage.TransferUnknown, err)
	default:
		// Транзакция уже в сети и может подтвердиться позже
		log.Warn("Confirmation abandoned after broadcast", zap.Error(err))
	}
	return res, err
}

func (s *Service) saveRecord(ctx context.Context, log *zap.Logger, rec *storage.TransferRecord) {
	if s.transfers == nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordWriteTimeout)
	defer cancel()
	if err := s.transfers.SaveTransfer(writeCtx, rec); err != nil {
		log.Error("Failed to save transfer record", zap.Error(err))
	}
}

func (s *Service) updateRecord(ctx context.Context, log *zap.Logger, sig solana.Signature, status string, cause error) {
	if s.transfers == nil {
		return
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordWriteTimeout)
	defer cancel()
	if err := s.transfers.UpdateTransferStatus(writeCtx, sig.String(), status, msg); err != nil {
		log.Error("Failed to update transfer record", zap.String("status", status), zap.Error(err))
	}
}

func (s *Service) recordTransfer(outcome string, d time.Duration) {
	if s.observer != nil {
		s.observer.RecordTransfer(outcome, d)
	}
}

func outcome(err error) string {
	var (
		exhausted *SubmissionExhaustedError
		rejected  *LedgerRejectedError
		unknown   *ConfirmationUnknownError
	)
	switch {
	case err == nil:
		return OutcomeConfirmed
	case errors.Is(err, ErrInvalidRequest):
		return OutcomeInvalid
	case errors.Is(err, rpc.ErrNoEndpointAvailable), errors.Is(err, rpc.ErrNoEndpoints):
		return OutcomeNoEndpoint
	case errors.As(err, &exhausted):
		return OutcomeExhausted
	case errors.As(err, &rejected):
		return OutcomeRejected
	case errors.As(err, &unknown):
		return OutcomeUnknown
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}
