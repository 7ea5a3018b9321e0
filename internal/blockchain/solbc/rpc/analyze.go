// internal/blockchain/solbc/rpc/analyze.go
package rpc

import (
	"errors"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"go.uber.org/zap"
)

const simulationFailedMsg = "Transaction simulation failed"

// maxLogLines ограничивает число строк логов симуляции в записи
const maxLogLines = 20

// IsSimulationFailure сообщает, что узел отклонил транзакцию на preflight
func IsSimulationFailure(err error) bool {
	var rpcErr *jsonrpc.RPCError
	return errors.As(err, &rpcErr) && strings.Contains(rpcErr.Message, simulationFailedMsg)
}

// ErrorFields раскладывает ошибку узла на поля лога: код и сообщение
// JSON-RPC, ошибку инструкции и хвост логов симуляции.
func ErrorFields(err error) []zap.Field {
	if err == nil {
		return nil
	}

	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return []zap.Field{zap.Error(err)}
	}

	fields := []zap.Field{
		zap.Int("rpc_code", rpcErr.Code),
		zap.String("rpc_message", rpcErr.Message),
	}
	if !strings.Contains(rpcErr.Message, simulationFailedMsg) {
		return fields
	}

	data, ok := rpcErr.Data.(map[string]interface{})
	if !ok {
		return fields
	}
	if instrErr, ok := data["err"]; ok && instrErr != nil {
		fields = append(fields, zap.Any("instruction_error", instrErr))
	}
	if rawLogs, ok := data["logs"].([]interface{}); ok {
		logs := make([]string, 0, len(rawLogs))
		for _, entry := range rawLogs {
			if line, ok := entry.(string); ok {
				logs = append(logs, line)
			}
		}
		if len(logs) > maxLogLines {
			logs = logs[len(logs)-maxLogLines:]
		}
		fields = append(fields, zap.Strings("simulation_logs", logs))
	}
	return fields
}
