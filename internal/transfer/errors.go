// internal/transfer/errors.go
package transfer

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrInvalidRequest - некорректные входные данные заявки (HTTP 400)
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRewardCreditFailed только логируется и никогда не возвращается вызывающему
	ErrRewardCreditFailed = errors.New("reward credit failed")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// SubmissionExhaustedError - лестница комиссий пройдена без успешной отправки
type SubmissionExhaustedError struct {
	Tiers int
	Last  error
}

func (e *SubmissionExhaustedError) Error() string {
	return fmt.Sprintf("submission exhausted after %d fee tiers: %v", e.Tiers, e.Last)
}

func (e *SubmissionExhaustedError) Unwrap() error {
	return e.Last
}

// LedgerRejectedError - сеть вернула ошибку исполнения транзакции.
// Окончательно, не повторяется.
type LedgerRejectedError struct {
	Signature solana.Signature
	Reason    string
}

func (e *LedgerRejectedError) Error() string {
	return fmt.Sprintf("transaction %s rejected by ledger: %s", e.Signature, e.Reason)
}

// ConfirmationUnknownError - бюджет опроса исчерпан, финальная проверка
// не дала авторитетного ответа. Требует ручной сверки по Signature.
type ConfirmationUnknownError struct {
	Signature solana.Signature
	Last      error
}

func (e *ConfirmationUnknownError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("confirmation of %s unknown", e.Signature)
	}
	return fmt.Sprintf("confirmation of %s unknown: %v", e.Signature, e.Last)
}

func (e *ConfirmationUnknownError) Unwrap() error {
	return e.Last
}
