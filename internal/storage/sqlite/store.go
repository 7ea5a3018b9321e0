// Package sqlite provides a SQLite-backed user directory and transfer log.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/rovshanmuradov/presale-transfer/internal/storage"
)

// Store persists users and transfers in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.Backend = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// вознаграждения хранятся в сотых долях, чтобы инкремент оставался точным
func toCents(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

func fromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Open opens a SQLite store and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// один писатель: SQLite сериализует записи в любом случае
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

const userColumns = `wallet_address, ref_code, COALESCE(referred_by, ''), referral_rewards_cents, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*storage.User, error) {
	var (
		u                    storage.User
		cents                int64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&u.WalletAddress, &u.RefCode, &u.ReferredBy, &cents, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.ReferralRewards = fromCents(cents)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

func (s *Store) FindByAddress(ctx context.Context, address string) (*storage.User, error) {
	u, err := scanUser(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE wallet_address = ?`, address))
	if err != nil {
		return nil, fmt.Errorf("find user by address: %w", err)
	}
	return u, nil
}

func (s *Store) FindByRefCode(ctx context.Context, refCode string) (*storage.User, error) {
	u, err := scanUser(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE ref_code = ?`, refCode))
	if err != nil {
		return nil, fmt.Errorf("find user by ref code: %w", err)
	}
	return u, nil
}

// IncrementReward adds amount in a single UPDATE ... RETURNING.
func (s *Store) IncrementReward(ctx context.Context, refCode string, amount decimal.Decimal) (*storage.User, error) {
	u, err := scanUser(s.sqlDB.QueryRowContext(ctx,
		`UPDATE users
		 SET referral_rewards_cents = referral_rewards_cents + ?, updated_at = ?
		 WHERE ref_code = ?
		 RETURNING `+userColumns,
		toCents(amount), toMillis(time.Now()), refCode))
	if err != nil {
		return nil, fmt.Errorf("increment reward: %w", err)
	}
	return u, nil
}

func (s *Store) InsertUser(ctx context.Context, user *storage.User) error {
	var referredBy any
	if user.ReferredBy != "" {
		referredBy = user.ReferredBy
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (wallet_address, ref_code, referred_by, referral_rewards_cents, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.WalletAddress,
		user.RefCode,
		referredBy,
		toCents(user.ReferralRewards),
		toMillis(user.CreatedAt),
		toMillis(user.UpdatedAt),
	)
	if err != nil {
		if isConstraintError(err) {
			if strings.Contains(err.Error(), "users.ref_code") {
				return storage.ErrDuplicateRefCode
			}
			return storage.ErrDuplicateAddress
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) SetReferrer(ctx context.Context, address, refCode string) (*storage.User, error) {
	u, err := scanUser(s.sqlDB.QueryRowContext(ctx,
		`UPDATE users
		 SET referred_by = ?, updated_at = ?
		 WHERE wallet_address = ? AND referred_by IS NULL
		 RETURNING `+userColumns,
		refCode, toMillis(time.Now()), address))
	if err != nil {
		return nil, fmt.Errorf("set referrer: %w", err)
	}
	if u != nil {
		return u, nil
	}
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
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO transfers (signature, buyer_address, token_amount, fee_tier, status, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Signature,
		rec.BuyerAddress,
		strconv.FormatUint(rec.TokenAmount, 10),
		rec.FeeTier,
		rec.Status,
		rec.Error,
		toMillis(rec.CreatedAt),
		toMillis(rec.UpdatedAt),
	)
	if err != nil {
		if isConstraintError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

func (s *Store) UpdateTransferStatus(ctx context.Context, signature, status, errorMsg string) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE transfers SET status = ?, error = ?, updated_at = ? WHERE signature = ?`,
		status, errorMsg, toMillis(time.Now()), signature)
	if err != nil {
		return fmt.Errorf("update transfer status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transfer status: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) GetTransfer(ctx context.Context, signature string) (*storage.TransferRecord, error) {
	var (
		rec                  storage.TransferRecord
		amount               string
		createdAt, updatedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT signature, buyer_address, token_amount, fee_tier, status, error, created_at, updated_at
		 FROM transfers WHERE signature = ?`, signature).Scan(
		&rec.Signature, &rec.BuyerAddress, &amount, &rec.FeeTier,
		&rec.Status, &rec.Error, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get transfer: %w", err)
	}
	rec.TokenAmount, err = strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse token_amount %q: %w", amount, err)
	}
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return &rec, nil
}

func isConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
