// internal/transfer/rewards.go
package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/presale-transfer/internal/pricing"
	"github.com/rovshanmuradov/presale-transfer/internal/storage"
)

const creditedCacheSize = 16384

// Исходы начисления для метрик
const (
	RewardCredited   = "credited"
	RewardNoReferrer = "no_referrer"
	RewardDuplicate  = "duplicate"
	RewardFailed     = "failed"
)

// UserDirectory - часть справочника пользователей, нужная для начислений
type UserDirectory interface {
	FindByAddress(ctx context.Context, address string) (*storage.User, error)
	IncrementReward(ctx context.Context, refCode string, amount decimal.Decimal) (*storage.User, error)
}

// RewardObserver получает исходы начислений (метрики)
type RewardObserver interface {
	RecordRewardCredit(outcome string)
}

// RewardUpdater начисляет реферальное вознаграждение после подтверждения.
// Ошибки логируются и не возвращаются.
type RewardUpdater struct {
	users    UserDirectory
	calc     *pricing.Calculator
	timeout  time.Duration
	credited *lru.Cache[solana.Signature, struct{}]
	observer RewardObserver
	logger   *zap.Logger
}

type RewardOption func(*RewardUpdater)

func WithRewardObserver(o RewardObserver) RewardOption {
	return func(r *RewardUpdater) {
		r.observer = o
	}
}

func NewRewardUpdater(users UserDirectory, calc *pricing.Calculator, timeout time.Duration, logger *zap.Logger, opts ...RewardOption) (*RewardUpdater, error) {
	credited, err := lru.New[solana.Signature, struct{}](creditedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create credit cache: %w", err)
	}
	r := &RewardUpdater{
		users:    users,
		calc:     calc,
		timeout:  timeout,
		credited: credited,
		logger:   logger.Named("reward-updater"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Credit начисляет вознаграждение реферу покупателя не более одного раза
// на подпись. Отмена ctx вызывающего не прерывает начисление.
func (r *RewardUpdater) Credit(ctx context.Context, sig solana.Signature, buyer string, tokenAmount uint64) string {
	log := r.logger.With(zap.String("signature", sig.String()), zap.String("buyer", buyer))

	if seen, _ := r.credited.ContainsOrAdd(sig, struct{}{}); seen {
		log.Debug("Reward already processed for signature")
		return r.record(RewardDuplicate)
	}

	creditCtx := context.WithoutCancel(ctx)
	if r.timeout > 0 {
		var cancel context.CancelFunc
		creditCtx, cancel = context.WithTimeout(creditCtx, r.timeout)
		defer cancel()
	}

	user, err := r.users.FindByAddress(creditCtx, buyer)
	if err != nil {
		log.Error("Failed to look up buyer", zap.Error(fmt.Errorf("%w: %v", ErrRewardCreditFailed, err)))
		return r.record(RewardFailed)
	}
	if user == nil || user.ReferredBy == "" {
		log.Debug("Buyer has no referrer")
		return r.record(RewardNoReferrer)
	}

	amount := r.calc.RewardAmount(tokenAmount)
	if !amount.IsPositive() {
		log.Debug("Reward rounds to zero", zap.Uint64("token_amount", tokenAmount))
		return r.record(RewardNoReferrer)
	}

	referrer, err := r.users.IncrementReward(creditCtx, user.ReferredBy, amount)
	switch {
	case err != nil:
		log.Error("Failed to credit referral reward",
			zap.String("ref_code", user.ReferredBy),
			zap.String("amount", amount.StringFixed(2)),
			zap.Error(fmt.Errorf("%w: %v", ErrRewardCreditFailed, err)))
		return r.record(RewardFailed)
	case referrer == nil:
		log.Error("Referrer not found",
			zap.String("ref_code", user.ReferredBy),
			zap.Error(ErrRewardCreditFailed))
		return r.record(RewardFailed)
	}

	log.Info("Referral reward credited",
		zap.String("ref_code", referrer.RefCode),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("total", referrer.ReferralRewards.StringFixed(2)))
	return r.record(RewardCredited)
}

func (r *RewardUpdater) record(outcome string) string {
	if r.observer != nil {
		r.observer.RecordRewardCredit(outcome)
	}
	return outcome
}
