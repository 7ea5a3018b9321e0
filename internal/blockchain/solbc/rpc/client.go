// internal/blockchain/solbc/rpc/client.go
package rpc

import (
	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

// Dial создает RPC клиент solana-go для узла
func Dial(url string) Conn {
	return solanarpc.New(url)
}
