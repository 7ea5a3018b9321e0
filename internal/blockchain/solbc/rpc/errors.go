// internal/blockchain/solbc/rpc/errors.go
package rpc

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEndpointAvailable возникает, когда ни один узел не прошел проверку
	ErrNoEndpointAvailable = errors.New("no RPC endpoint available")

	// ErrNoEndpoints возникает при пустом списке узлов
	ErrNoEndpoints = errors.New("no RPC endpoints configured")

	// ErrProbeTimeout возникает при превышении времени проверки узла
	ErrProbeTimeout = errors.New("probe timeout")
)

// Error представляет ошибку RPC с дополнительным контекстом
type Error struct {
	Err     error
	NodeURL string
	Method  string
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	return fmt.Sprintf("RPC error [%s] at %s: %v", e.Method, e.NodeURL, e.Err)
}

// Unwrap возвращает оригинальную ошибку
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError создает новую ошибку RPC
func NewError(err error, nodeURL, method string) error {
	return &Error{
		Err:     err,
		NodeURL: nodeURL,
		Method:  method,
	}
}
