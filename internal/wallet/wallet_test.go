package wallet

import (
	"encoding/json"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWalletFormats(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	arr := make([]int, len(key))
	for i, b := range key {
		arr[i] = int(b)
	}
	jsonKey, err := json.Marshal(arr)
	require.NoError(t, err)

	for name, raw := range map[string]string{
		"base58":     base58.Encode(key),
		"json array": string(jsonKey),
	} {
		t.Run(name, func(t *testing.T) {
			w, err := NewWallet(raw)
			require.NoError(t, err)
			assert.Equal(t, key.PublicKey(), w.PublicKey)
			assert.Equal(t, key.PublicKey().String(), w.String())
		})
	}
}

func TestNewWalletInvalid(t *testing.T) {
	for _, raw := range []string{"", "   ", "not-base58-0OIl", base58.Encode([]byte{1, 2, 3}), "[1,2,3", "[1,2,3]", "[256,1]", "[-1,1]"} {
		_, err := NewWallet(raw)
		assert.ErrorIs(t, err, ErrInvalidPrivateKey, "input %q", raw)
	}
}

func TestFindATACached(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	w, err := NewWallet(key.String())
	require.NoError(t, err)

	mint := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()

	want, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	require.NoError(t, err)

	got, err := w.FindATA(owner, mint)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	again, err := w.FindATA(owner, mint)
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Equal(t, 1, w.ataCache.Len())

	self, err := w.GetATA(mint)
	require.NoError(t, err)
	assert.NotEqual(t, got, self)
}

func TestSignTransaction(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	w, err := NewWallet(key.String())
	require.NoError(t, err)

	tx, err := solana.NewTransaction(
		[]solana.Instruction{solana.NewInstruction(solana.MemoProgramID, solana.AccountMetaSlice{}, []byte("hi"))},
		solana.Hash{7},
		solana.TransactionPayer(w.PublicKey),
	)
	require.NoError(t, err)
	require.NoError(t, w.SignTransaction(tx))
	require.Len(t, tx.Signatures, 1)
	assert.NoError(t, tx.VerifySignatures())
}
