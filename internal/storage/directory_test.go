package storage_test

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/presale-transfer/internal/storage"
	"github.com/rovshanmuradov/presale-transfer/internal/storage/memory"
)

var refCodePattern = regexp.MustCompile(`^[0-9A-Z]{8}$`)

func newDirectory(t *testing.T, opts ...storage.DirectoryOption) *storage.Directory {
	t.Helper()
	return storage.NewDirectory(memory.New(), zaptest.NewLogger(t), opts...)
}

// codes возвращает генератор, выдающий коды по очереди
func codes(list ...string) storage.RefCodeFunc {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		code := list[i%len(list)]
		i++
		return code, nil
	}
}

func TestNewRefCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := storage.NewRefCode()
		require.NoError(t, err)
		assert.Regexp(t, refCodePattern, code)
	}
}

func TestFindOrCreateNewUser(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory(t)

	user, err := dir.FindOrCreate(ctx, "wallet-a", "")
	require.NoError(t, err)
	assert.Equal(t, "wallet-a", user.WalletAddress)
	assert.Regexp(t, refCodePattern, user.RefCode)
	assert.Empty(t, user.ReferredBy)
	assert.True(t, user.ReferralRewards.IsZero())

	again, err := dir.FindOrCreate(ctx, "wallet-a", "")
	require.NoError(t, err)
	assert.Equal(t, user.RefCode, again.RefCode)
}

func TestFindOrCreateReferrals(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory(t, storage.WithRefCodeFunc(codes("REFA0001", "REFB0002", "REFC0003")))

	referrer, err := dir.FindOrCreate(ctx, "wallet-a", "")
	require.NoError(t, err)
	require.Equal(t, "REFA0001", referrer.RefCode)

	t.Run("unknown code", func(t *testing.T) {
		_, err := dir.FindOrCreate(ctx, "wallet-x", "NOPE0000")
		assert.ErrorIs(t, err, storage.ErrInvalidReferral)
	})

	t.Run("own code", func(t *testing.T) {
		_, err := dir.FindOrCreate(ctx, "wallet-a", "REFA0001")
		assert.ErrorIs(t, err, storage.ErrSelfReferral)
	})

	t.Run("new user with referrer", func(t *testing.T) {
		user, err := dir.FindOrCreate(ctx, "wallet-b", "REFA0001")
		require.NoError(t, err)
		assert.Equal(t, "REFA0001", user.ReferredBy)
	})

	t.Run("existing user without referrer gets one", func(t *testing.T) {
		_, err := dir.FindOrCreate(ctx, "wallet-c", "")
		require.NoError(t, err)

		user, err := dir.FindOrCreate(ctx, "wallet-c", "REFA0001")
		require.NoError(t, err)
		assert.Equal(t, "REFA0001", user.ReferredBy)
	})

	t.Run("existing referrer is not replaced", func(t *testing.T) {
		user, err := dir.FindOrCreate(ctx, "wallet-b", "REFC0003")
		require.NoError(t, err)
		assert.Equal(t, "REFA0001", user.ReferredBy)
	})
}

func TestFindOrCreateRefCodeCollision(t *testing.T) {
	ctx := context.Background()

	dir := newDirectory(t, storage.WithRefCodeFunc(codes("SAME0000", "SAME0000", "NEXT0000")))
	_, err := dir.FindOrCreate(ctx, "wallet-a", "")
	require.NoError(t, err)

	user, err := dir.FindOrCreate(ctx, "wallet-b", "")
	require.NoError(t, err)
	assert.Equal(t, "NEXT0000", user.RefCode)

	stuck := newDirectory(t, storage.WithRefCodeFunc(codes("SAME0000")))
	_, err = stuck.FindOrCreate(ctx, "wallet-a", "")
	require.NoError(t, err)
	_, err = stuck.FindOrCreate(ctx, "wallet-b", "")
	assert.ErrorIs(t, err, storage.ErrRefCodeExhausted)
}

func TestFindOrCreateRequiresAddress(t *testing.T) {
	_, err := newDirectory(t).FindOrCreate(context.Background(), "  ", "")
	assert.ErrorIs(t, err, storage.ErrInvalidAddress)
}

func TestFindOrCreateConcurrentSameAddress(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory(t)

	const workers = 20
	results := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user, err := dir.FindOrCreate(ctx, "wallet-race", "")
			if assert.NoError(t, err) {
				results[i] = user.RefCode
			}
		}(i)
	}
	wg.Wait()

	for _, code := range results {
		assert.Equal(t, results[0], code)
	}
}

func TestIncrementRewardConcurrent(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory(t, storage.WithRefCodeFunc(codes("REFA0001")))
	_, err := dir.FindOrCreate(ctx, "wallet-a", "")
	require.NoError(t, err)

	amount := decimal.RequireFromString("0.05")
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := dir.IncrementReward(ctx, "REFA0001", amount)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	user, err := dir.FindByRefCode(ctx, "REFA0001")
	require.NoError(t, err)
	assert.Equal(t, "5.00", user.ReferralRewards.StringFixed(2))

	missing, err := dir.IncrementReward(ctx, "NOPE0000", amount)
	assert.NoError(t, err)
	assert.Nil(t, missing)
}
