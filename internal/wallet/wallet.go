// ==================================
// File: internal/wallet/wallet.go
// ==================================
package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mr-tron/base58"
)

const defaultATACacheSize = 4096

var ErrInvalidPrivateKey = errors.New("invalid private key")

// Wallet представляет кошелёк отправителя. Единственный ключ подписи.
type Wallet struct {
	PrivateKey solana.PrivateKey
	PublicKey  solana.PublicKey
	// Кеш ассоциированных адресов токен-аккаунтов (ATA), потокобезопасный
	ataCache *lru.Cache[ataKey, solana.PublicKey]
}

type ataKey struct {
	owner solana.PublicKey
	mint  solana.PublicKey
}

// NewWallet создаёт кошелёк из приватного ключа в base58 или в виде
// JSON-массива байт (формат solana-keygen).
func NewWallet(privateKey string) (*Wallet, error) {
	key, err := ParsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}

	cache, err := lru.New[ataKey, solana.PublicKey](defaultATACacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create ATA cache: %w", err)
	}

	return &Wallet{
		PrivateKey: key,
		PublicKey:  key.PublicKey(),
		ataCache:   cache,
	}, nil
}

// ParsePrivateKey разбирает ключ из base58 или JSON-массива байт.
func ParsePrivateKey(raw string) (solana.PrivateKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPrivateKey)
	}

	var keyBytes []byte
	if strings.HasPrefix(raw, "[") {
		// []byte из JSON декодируется как base64, поэтому читаем массив чисел
		var values []int
		if err := json.Unmarshal([]byte(raw), &values); err != nil {
			return nil, fmt.Errorf("%w: failed to decode JSON array: %v", ErrInvalidPrivateKey, err)
		}
		keyBytes = make([]byte, len(values))
		for i, v := range values {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("%w: byte %d out of range: %d", ErrInvalidPrivateKey, i, v)
			}
			keyBytes[i] = byte(v)
		}
	} else {
		decoded, err := base58.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decode base58: %v", ErrInvalidPrivateKey, err)
		}
		keyBytes = decoded
	}

	if len(keyBytes) != 64 {
		return nil, fmt.Errorf("%w: expected 64 bytes, got %d", ErrInvalidPrivateKey, len(keyBytes))
	}
	return solana.PrivateKey(keyBytes), nil
}

// SignTransaction подписывает транзакцию с помощью приватного ключа кошелька.
func (w *Wallet) SignTransaction(tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.PublicKey) {
			return &w.PrivateKey
		}
		return nil
	})
	return err
}

// GetATA возвращает ATA кошелька для заданного токена (mint).
func (w *Wallet) GetATA(mint solana.PublicKey) (solana.PublicKey, error) {
	return w.FindATA(w.PublicKey, mint)
}

// FindATA возвращает ATA владельца owner для mint.
// Если адрес уже был вычислен ранее, возвращается значение из кеша.
func (w *Wallet) FindATA(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	key := ataKey{owner: owner, mint: mint}
	if ata, ok := w.ataCache.Get(key); ok {
		return ata, nil
	}
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	w.ataCache.Add(key, ata)
	return ata, nil
}

// CreateATAIdempotentInstruction создает инструкцию CreateIdempotent
// ассоциированной программы: не падает, если аккаунт уже существует.
func (w *Wallet) CreateATAIdempotentInstruction(payer, owner, mint solana.PublicKey) (solana.Instruction, error) {
	ata, err := w.FindATA(owner, mint)
	if err != nil {
		return nil, err
	}

	return solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		[]*solana.AccountMeta{
			{PublicKey: payer, IsWritable: true, IsSigner: true},
			{PublicKey: ata, IsWritable: true, IsSigner: false},
			{PublicKey: owner, IsWritable: false, IsSigner: false},
			{PublicKey: mint, IsWritable: false, IsSigner: false},
			{PublicKey: solana.SystemProgramID, IsWritable: false, IsSigner: false},
			{PublicKey: solana.TokenProgramID, IsWritable: false, IsSigner: false},
		},
		[]byte{1}, // 1 = CreateIdempotent
	), nil
}

// String возвращает строковое представление кошелька (его публичный ключ).
func (w *Wallet) String() string {
	return w.PublicKey.String()
}
