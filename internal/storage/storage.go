// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateKey     = errors.New("duplicate key")
	ErrDuplicateAddress = errors.New("wallet address already registered")
	ErrDuplicateRefCode = errors.New("referral code already taken")
	ErrInvalidAddress   = errors.New("valid wallet address is required")
	ErrInvalidReferral  = errors.New("invalid referral code")
	ErrSelfReferral     = errors.New("cannot use your own referral code")
	ErrRefCodeExhausted = errors.New("failed to generate unique referral code")
)

// User - запись справочника пользователей. ReferredBy пуст, если реферера нет.
type User struct {
	WalletAddress   string          `json:"walletAddress"`
	RefCode         string          `json:"refCode"`
	ReferredBy      string          `json:"referredBy,omitempty"`
	ReferralRewards decimal.Decimal `json:"referralRewards"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Статусы записи о переводе
const (
	TransferSubmitted = "submitted"
	TransferConfirmed = "confirmed"
	TransferFailed    = "failed"
	TransferUnknown   = "unknown"
)

// TransferRecord - журнал отправленных транзакций для сверки
type TransferRecord struct {
	Signature    string    `json:"signature"`
	BuyerAddress string    `json:"buyerAddress"`
	TokenAmount  uint64    `json:"tokenAmount"`
	FeeTier      int       `json:"feeTier"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UserStore - справочник пользователей.
// Find* и IncrementReward возвращают nil, nil, если запись не найдена.
type UserStore interface {
	FindByAddress(ctx context.Context, address string) (*User, error)
	FindByRefCode(ctx context.Context, refCode string) (*User, error)
	// IncrementReward - одно атомарное обновление, без read-modify-write
	IncrementReward(ctx context.Context, refCode string, amount decimal.Decimal) (*User, error)
	FindOrCreate(ctx context.Context, address, referredBy string) (*User, error)
}

// TransferLog хранит исход переводов
type TransferLog interface {
	SaveTransfer(ctx context.Context, rec *TransferRecord) error
	UpdateTransferStatus(ctx context.Context, signature, status, errorMsg string) error
	// GetTransfer возвращает ErrNotFound, если записи нет
	GetTransfer(ctx context.Context, signature string) (*TransferRecord, error)
}

// Backend - операции конкретной базы. FindOrCreate строится поверх них.
type Backend interface {
	FindByAddress(ctx context.Context, address string) (*User, error)
	FindByRefCode(ctx context.Context, refCode string) (*User, error)
	IncrementReward(ctx context.Context, refCode string, amount decimal.Decimal) (*User, error)
	// InsertUser возвращает ErrDuplicateAddress или ErrDuplicateRefCode
	InsertUser(ctx context.Context, user *User) error
	// SetReferrer устанавливает реферера, только если он еще пуст, и
	// возвращает актуальную запись (nil, nil если пользователя нет)
	SetReferrer(ctx context.Context, address, refCode string) (*User, error)

	TransferLog
	Close() error
}

// Storage - полный интерфейс хранилища сервиса
type Storage interface {
	UserStore
	TransferLog
	Close() error
}
