// internal/storage/postgres/store.go
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/presale-transfer/internal/storage"
)

// Store implements storage.Backend using PostgreSQL.
type Store struct {
	pool *Pool
}

// NewStore creates a new Store.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Compile-time interface check.
var _ storage.Backend = (*Store)(nil)

const userColumns = `wallet_address, ref_code, COALESCE(referred_by, ''), referral_rewards::text, created_at, updated_at`

func scanUser(row pgx.Row) (*storage.User, error) {
	var (
		u       storage.User
		rewards string
	)
	if err := row.Scan(&u.WalletAddress, &u.RefCode, &u.ReferredBy, &rewards, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(rewards)
	if err != nil {
		return nil, fmt.Errorf("parse referral_rewards %q: %w", rewards, err)
	}
	u.ReferralRewards = amount
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

// queryUser returns nil, nil when no row matched.
func (s *Store) queryUser(ctx context.Context, query string, args ...any) (*storage.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func (s *Store) FindByAddress(ctx context.Context, address string) (*storage.User, error) {
	u, err := s.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE wallet_address = $1`, address)
	if err != nil {
		return nil, fmt.Errorf("find user by address: %w", err)
	}
	return u, nil
}

func (s *Store) FindByRefCode(ctx context.Context, refCode string) (*storage.User, error) {
	u, err := s.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE ref_code = $1`, refCode)
	if err != nil {
		return nil, fmt.Errorf("find user by ref code: %w", err)
	}
	return u, nil
}

// IncrementReward adds amount in a single UPDATE; concurrent credits never lose updates.
func (s *Store) IncrementReward(ctx context.Context, refCode string, amount decimal.Decimal) (*storage.User, error) {
	query := `
		UPDATE users
		SET referral_rewards = referral_rewards + $2::text::numeric, updated_at = now()
		WHERE ref_code = $1
		RETURNING ` + userColumns

	u, err := s.queryUser(ctx, query, refCode, amount.StringFixed(2))
	if err != nil {
		return nil, fmt.Errorf("increment reward: %w", err)
	}
	return u, nil
}

func (s *Store) InsertUser(ctx context.Context, user *storage.User) error {
	query := `
		INSERT INTO users (wallet_address, ref_code, referred_by, referral_rewards, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4::text::numeric, $5, $6)
	`
	_, err := s.pool.Exec(ctx, query,
		user.WalletAddress,
		user.RefCode,
		user.ReferredBy,
		user.ReferralRewards.StringFixed(2),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := duplicateConstraint(err); ok {
			if constraint == "users_ref_code_key" {
				return storage.ErrDuplicateRefCode
			}
			return storage.ErrDuplicateAddress
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) SetReferrer(ctx context.Context, address, refCode string) (*storage.User, error) {
	query := `
		UPDATE users
		SET referred_by = $2, updated_at = now()
		WHERE wallet_address = $1 AND referred_by IS NULL
		RETURNING ` + userColumns

	u, err := s.queryUser(ctx, query, address, refCode)
	if err != nil {
		return nil, fmt.Errorf("set referrer: %w", err)
	}
	if u != nil {
		return u, nil
	}
	// реферер уже был установлен параллельно, либо пользователя нет
	return s.FindByAddress(ctx, address)
}

func (s *Store) SaveTransfer(ctx context.Context, rec *storage.TransferRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	query := `
		INSERT INTO transfers (signature, buyer_address, token_amount, fee_tier, status, error, created_at, updated_at)
		VALUES ($1, $2, $3::text::numeric, $4, $5, $6, $7, $8)
	`
	_, err := s.pool.Exec(ctx, query,
		rec.Signature,
		rec.BuyerAddress,
		strconv.FormatUint(rec.TokenAmount, 10),
		rec.FeeTier,
		rec.Status,
		rec.Error,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		if _, ok := duplicateConstraint(err); ok {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

func (s *Store) UpdateTransferStatus(ctx context.Context, signature, status, errorMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transfers SET status = $2, error = $3, updated_at = now() WHERE signature = $1`,
		signature, status, errorMsg)
	if err != nil {
		return fmt.Errorf("update transfer status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) GetTransfer(ctx context.Context, signature string) (*storage.TransferRecord, error) {
	query := `
		SELECT signature, buyer_address, token_amount::text, fee_tier, status, error, created_at, updated_at
		FROM transfers
		WHERE signature = $1
	`
	var (
		rec    storage.TransferRecord
		amount string
	)
	err := s.pool.QueryRow(ctx, query, signature).Scan(
		&rec.Signature, &rec.BuyerAddress, &amount, &rec.FeeTier,
		&rec.Status, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get transfer: %w", err)
	}
	rec.TokenAmount, err = strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse token_amount %q: %w", amount, err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
