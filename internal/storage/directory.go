// internal/storage/directory.go
package storage

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	refCodeAlphabet   = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	refCodeLength     = 8
	maxRefCodeRetries = 5
)

// RefCodeFunc генерирует реферальный код
type RefCodeFunc func() (string, error)

// NewRefCode возвращает 8 символов из [0-9A-Z]
func NewRefCode() (string, error) {
	buf := make([]byte, refCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = refCodeAlphabet[int(b)%len(refCodeAlphabet)]
	}
	return string(buf), nil
}

// Directory реализует Storage поверх Backend
type Directory struct {
	Backend
	newRefCode RefCodeFunc
	now        func() time.Time
	logger     *zap.Logger
}

var _ Storage = (*Directory)(nil)

type DirectoryOption func(*Directory)

// WithRefCodeFunc подменяет генератор кодов
func WithRefCodeFunc(f RefCodeFunc) DirectoryOption {
	return func(d *Directory) {
		d.newRefCode = f
	}
}

func NewDirectory(backend Backend, logger *zap.Logger, opts ...DirectoryOption) *Directory {
	d := &Directory{
		Backend:    backend,
		newRefCode: NewRefCode,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.Named("user-store"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FindOrCreate возвращает пользователя по адресу, создавая его при
// необходимости. Существующему пользователю без реферера назначается
// referredBy. Неизвестный код - ErrInvalidReferral, свой код - ErrSelfReferral.
func (d *Directory) FindOrCreate(ctx context.Context, address, referredBy string) (*User, error) {
	address = strings.TrimSpace(address)
	referredBy = strings.TrimSpace(referredBy)
	if address == "" {
		return nil, ErrInvalidAddress
	}

	user, err := d.FindByAddress(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	if user != nil {
		if referredBy == "" || user.ReferredBy != "" {
			return user, nil
		}
		if err := d.checkReferral(ctx, address, referredBy); err != nil {
			return nil, err
		}
		updated, err := d.SetReferrer(ctx, address, referredBy)
		if err != nil {
			return nil, fmt.Errorf("set referrer: %w", err)
		}
		d.logger.Info("Referrer attached", zap.String("wallet", address), zap.String("referred_by", referredBy))
		return updated, nil
	}

	if referredBy != "" {
		if err := d.checkReferral(ctx, address, referredBy); err != nil {
			return nil, err
		}
	}

	for attempt := 0; attempt < maxRefCodeRetries; attempt++ {
		code, err := d.newRefCode()
		if err != nil {
			return nil, fmt.Errorf("generate ref code: %w", err)
		}
		now := d.now()
		candidate := &User{
			WalletAddress: address,
			RefCode:       code,
			ReferredBy:    referredBy,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		err = d.InsertUser(ctx, candidate)
		switch {
		case err == nil:
			d.logger.Info("User created", zap.String("wallet", address), zap.String("ref_code", code))
			return candidate, nil
		case errors.Is(err, ErrDuplicateRefCode):
			d.logger.Debug("Ref code collision, regenerating", zap.String("ref_code", code))
			continue
		case errors.Is(err, ErrDuplicateAddress):
			// параллельная вставка того же адреса: читаем победителя
			existing, findErr := d.FindByAddress(ctx, address)
			if findErr != nil {
				return nil, fmt.Errorf("find user after conflict: %w", findErr)
			}
			if existing == nil {
				return nil, fmt.Errorf("user %s vanished after duplicate insert", address)
			}
			return existing, nil
		default:
			return nil, fmt.Errorf("insert user: %w", err)
		}
	}
	return nil, ErrRefCodeExhausted
}

func (d *Directory) checkReferral(ctx context.Context, address, referredBy string) error {
	referrer, err := d.FindByRefCode(ctx, referredBy)
	if err != nil {
		return fmt.Errorf("find referrer: %w", err)
	}
	if referrer == nil {
		return ErrInvalidReferral
	}
	if referrer.WalletAddress == address {
		return ErrSelfReferral
	}
	return nil
}
