// internal/storage/memory/memory.go
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/presale-transfer/internal/storage"
)

// Store - хранилище в памяти процесса, для разработки и тестов
type Store struct {
	mu        sync.RWMutex
	byAddress map[string]*storage.User
	byRefCode map[string]*storage.User
	transfers map[string]*storage.TransferRecord
}

var _ storage.Backend = (*Store)(nil)

func New() *Store {
	return &Store{
		byAddress: make(map[string]*storage.User),
		byRefCode: make(map[string]*storage.User),
		transfers: make(map[string]*storage.TransferRecord),
	}
}

func copyUser(u *storage.User) *storage.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func (s *Store) FindByAddress(_ context.Context, address string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyUser(s.byAddress[address]), nil
}

func (s *Store) FindByRefCode(_ context.Context, refCode string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyUser(s.byRefCode[refCode]), nil
}

func (s *Store) IncrementReward(_ context.Context, refCode string, amount decimal.Decimal) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byRefCode[refCode]
	if !ok {
		return nil, nil
	}
	u.ReferralRewards = u.ReferralRewards.Add(amount)
	u.UpdatedAt = time.Now().UTC()
	return copyUser(u), nil
}

func (s *Store) InsertUser(_ context.Context, user *storage.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byAddress[user.WalletAddress]; ok {
		return storage.ErrDuplicateAddress
	}
	if _, ok := s.byRefCode[user.RefCode]; ok {
		return storage.ErrDuplicateRefCode
	}
	u := copyUser(user)
	s.byAddress[u.WalletAddress] = u
	s.byRefCode[u.RefCode] = u
	return nil
}

func (s *Store) SetReferrer(_ context.Context, address, refCode string) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byAddress[address]
	if !ok {
		return nil, nil
	}
	if u.ReferredBy == "" {
		u.ReferredBy = refCode
		u.UpdatedAt = time.Now().UTC()
	}
	return copyUser(u), nil
}

func (s *Store) SaveTransfer(_ context.Context, rec *storage.TransferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transfers[rec.Signature]; ok {
		return storage.ErrDuplicateKey
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	c := *rec
	s.transfers[rec.Signature] = &c
	return nil
}

func (s *Store) UpdateTransferStatus(_ context.Context, signature, status, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.transfers[signature]
	if !ok {
		return storage.ErrNotFound
	}
	rec.Status = status
	rec.Error = errorMsg
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) GetTransfer(_ context.Context, signature string) (*storage.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.transfers[signature]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (s *Store) Close() error {
	return nil
}
