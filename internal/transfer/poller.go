// internal/transfer/poller.go
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/presale-transfer/internal/blockchain/solbc/rpc"
)

// State - состояние подтверждения транзакции
type State int

const (
	StatePending State = iota
	StateConfirmed
	StateFailed
	StateUnknown
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	case StateUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Clock - источник таймеров опроса. В продакшене clock.New().
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

var _ Clock = clock.New()

var (
	errAttemptTimeout = errors.New("confirmation attempt timed out")
	errNoStatus       = errors.New("signature status not available")
)

// ConfirmObserver получает итоговые состояния (метрики)
type ConfirmObserver interface {
	RecordConfirmation(state string)
}

// PollerConfig - бюджет опроса
type PollerConfig struct {
	// AttemptTimeout ограничивает одну попытку подтверждения
	AttemptTimeout time.Duration
	// MaxRetries - число попыток до финальной прямой проверки
	MaxRetries int
	// RetryDelay - пауза между попытками
	RetryDelay time.Duration
	// PollInterval - период запроса статуса внутри попытки
	PollInterval time.Duration
	// CallTimeout ограничивает финальную прямую проверку статуса
	CallTimeout time.Duration
}

// Poller ведет транзакцию Pending -> {Confirmed, Failed, Unknown}
type Poller struct {
	cfg      PollerConfig
	clock    Clock
	observer ConfirmObserver
	logger   *zap.Logger
}

type PollerOption func(*Poller)

// WithClock подменяет источник времени
func WithClock(c Clock) PollerOption {
	return func(p *Poller) {
		p.clock = c
	}
}

// WithConfirmObserver подключает метрики подтверждений
func WithConfirmObserver(o ConfirmObserver) PollerOption {
	return func(p *Poller) {
		p.observer = o
	}
}

func NewPoller(cfg PollerConfig, logger *zap.Logger, opts ...PollerOption) *Poller {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = rpc.DefaultCallTimeout
	}
	p := &Poller{
		cfg:    cfg,
		clock:  clock.New(),
		logger: logger.Named("confirmation-poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// attemptResult - итог одной попытки
type attemptResult struct {
	state  State
	reason string
	err    error
}

// Poll ожидает подтверждения sig через узел сессии.
// Confirmed -> nil; Failed -> *LedgerRejectedError; Unknown -> *ConfirmationUnknownError.
// При отмене ctx возвращает StatePending и ошибку контекста.
func (p *Poller) Poll(ctx context.Context, session *rpc.Session, sig solana.Signature) (State, error) {
	log := p.logger.With(zap.String("signature", sig.String()), zap.String("endpoint", session.URL()))

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		res := p.attempt(ctx, session.Conn, sig)
		switch res.state {
		case StateConfirmed:
			log.Info("Transaction confirmed", zap.Int("attempt", attempt))
			return p.finish(StateConfirmed, nil)
		case StateFailed:
			log.Warn("Transaction rejected by ledger", zap.String("reason", res.reason))
			return p.finish(StateFailed, &LedgerRejectedError{Signature: sig, Reason: res.reason})
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return StatePending, ctxErr
		}
		lastErr = res.err
		log.Debug("Confirmation attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", p.cfg.MaxRetries),
			zap.Error(res.err))

		if attempt == p.cfg.MaxRetries {
			break
		}
		select {
		case <-p.clock.After(p.cfg.RetryDelay):
		case <-ctx.Done():
			return StatePending, ctx.Err()
		}
	}

	// Бюджет исчерпан: одна прямая проверка статуса без гонки с таймером
	log.Warn("Confirmation budget exhausted, checking status directly", zap.Error(lastErr))

	checkCtx, cancel := rpc.CallContext(ctx, p.cfg.CallTimeout)
	status, err := signatureStatus(checkCtx, session.Conn, sig, true)
	cancel()
	switch {
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return StatePending, ctxErr
		}
		lastErr = err
	case status.Err != nil:
		reason := fmt.Sprint(status.Err)
		log.Warn("Final status check reports ledger error", zap.String("reason", reason))
		return p.finish(StateFailed, &LedgerRejectedError{Signature: sig, Reason: reason})
	case isConfirmed(status.ConfirmationStatus):
		log.Info("Transaction confirmed by final status check",
			zap.String("status", string(status.ConfirmationStatus)))
		return p.finish(StateConfirmed, nil)
	default:
		lastErr = fmt.Errorf("final status %q", status.ConfirmationStatus)
	}

	log.Error("Confirmation unknown, manual reconciliation required", zap.Error(lastErr))
	return p.finish(StateUnknown, &ConfirmationUnknownError{Signature: sig, Last: lastErr})
}

func (p *Poller) finish(state State, err error) (State, error) {
	if p.observer != nil {
		p.observer.RecordConfirmation(state.String())
	}
	return state, err
}

// attempt гоняет ожидание подтверждения против таймаута попытки
func (p *Poller) attempt(ctx context.Context, conn rpc.Conn, sig solana.Signature) attemptResult {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		done <- p.waitConfirmed(attemptCtx, conn, sig)
	}()

	select {
	case res := <-done:
		return res
	case <-p.clock.After(p.cfg.AttemptTimeout):
		return attemptResult{state: StatePending, err: errAttemptTimeout}
	case <-ctx.Done():
		return attemptResult{state: StatePending, err: ctx.Err()}
	}
}

// waitConfirmed опрашивает статус подписи, пока она не станет confirmed
// или не появится ошибка исполнения. Ошибка запроса завершает попытку.
func (p *Poller) waitConfirmed(ctx context.Context, conn rpc.Conn, sig solana.Signature) attemptResult {
	for {
		status, err := signatureStatus(ctx, conn, sig, false)
		switch {
		case errors.Is(err, errNoStatus):
		case err != nil:
			return attemptResult{state: StatePending, err: err}
		case status.Err != nil:
			return attemptResult{state: StateFailed, reason: fmt.Sprint(status.Err)}
		case isConfirmed(status.ConfirmationStatus):
			return attemptResult{state: StateConfirmed}
		}

		select {
		case <-p.clock.After(p.cfg.PollInterval):
		case <-ctx.Done():
			return attemptResult{state: StatePending, err: ctx.Err()}
		}
	}
}

func signatureStatus(ctx context.Context, conn rpc.Conn, sig solana.Signature, searchHistory bool) (*solanarpc.SignatureStatusesResult, error) {
	out, err := conn.GetSignatureStatuses(ctx, searchHistory, sig)
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return nil, errNoStatus
	}
	return out.Value[0], nil
}

func isConfirmed(status solanarpc.ConfirmationStatusType) bool {
	return status == solanarpc.ConfirmationStatusConfirmed || status == solanarpc.ConfirmationStatusFinalized
}
