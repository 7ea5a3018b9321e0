// internal/blockchain/solbc/programs/computebudget/computebudget.go
package computebudget

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var ProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

const (
	RequestUnitsDeprecated uint8 = 0
	RequestHeapFrame       uint8 = 1
	SetComputeUnitLimit    uint8 = 2
	SetComputeUnitPrice    uint8 = 3
)

// Структуры инструкций
type SetComputeUnitLimitInstruction struct {
	Units uint32
}

type SetComputeUnitPriceInstruction struct {
	MicroLamports uint64
}

// FeeTier - ступень лестницы комиссий: лимит compute units и priority fee
// в микролампортах за единицу.
type FeeTier struct {
	ComputeUnitLimit      uint32 `mapstructure:"compute_units" json:"compute_units"`
	PriorityFeeMicroUnits uint64 `mapstructure:"priority_fee" json:"priority_fee"`
}

// DefaultLadder - пять ступеней, по возрастанию стоимости.
func DefaultLadder() []FeeTier {
	return []FeeTier{
		{ComputeUnitLimit: 500_000, PriorityFeeMicroUnits: 10},
		{ComputeUnitLimit: 800_000, PriorityFeeMicroUnits: 25},
		{ComputeUnitLimit: 1_000_000, PriorityFeeMicroUnits: 50},
		{ComputeUnitLimit: 1_200_000, PriorityFeeMicroUnits: 100},
		{ComputeUnitLimit: 1_400_000, PriorityFeeMicroUnits: 200},
	}
}

var (
	ErrEmptyLadder         = errors.New("fee ladder is empty")
	ErrLadderNotIncreasing = errors.New("fee ladder must increase in both compute units and priority fee")
)

// ValidateLadder проверяет, что лестница монотонно возрастает по обоим полям.
func ValidateLadder(ladder []FeeTier) error {
	if len(ladder) == 0 {
		return ErrEmptyLadder
	}
	for i, tier := range ladder {
		if tier.ComputeUnitLimit == 0 {
			return fmt.Errorf("tier %d: compute unit limit is zero", i)
		}
		if i == 0 {
			continue
		}
		prev := ladder[i-1]
		if tier.ComputeUnitLimit < prev.ComputeUnitLimit || tier.PriorityFeeMicroUnits < prev.PriorityFeeMicroUnits {
			return fmt.Errorf("tier %d: %w", i, ErrLadderNotIncreasing)
		}
		if tier == prev {
			return fmt.Errorf("tier %d duplicates tier %d: %w", i, i-1, ErrLadderNotIncreasing)
		}
	}
	return nil
}

// BuildTierInstructions создает инструкции compute budget для ступени.
// Лимит идет первым, цена вторым.
func BuildTierInstructions(tier FeeTier) ([]solana.Instruction, error) {
	if tier.ComputeUnitLimit == 0 {
		return nil, fmt.Errorf("compute unit limit is zero")
	}

	instructions := make([]solana.Instruction, 0, 2)

	limitInstruction, err := (&SetComputeUnitLimitInstruction{
		Units: tier.ComputeUnitLimit,
	}).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build compute unit limit instruction: %w", err)
	}
	instructions = append(instructions, limitInstruction)

	priceInstruction, err := (&SetComputeUnitPriceInstruction{
		MicroLamports: tier.PriorityFeeMicroUnits,
	}).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build compute unit price instruction: %w", err)
	}
	instructions = append(instructions, priceInstruction)

	return instructions, nil
}

// Build создает инструкцию для установки лимита compute units
func (instr *SetComputeUnitLimitInstruction) Build() (solana.Instruction, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, SetComputeUnitLimit); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, instr.Units); err != nil {
		return nil, err
	}
	return solana.NewInstruction(
		ProgramID,
		[]*solana.AccountMeta{},
		buf.Bytes(),
	), nil
}

// Build создает инструкцию для установки цены compute units
func (instr *SetComputeUnitPriceInstruction) Build() (solana.Instruction, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, SetComputeUnitPrice); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, instr.MicroLamports); err != nil {
		return nil, err
	}
	return solana.NewInstruction(
		ProgramID,
		[]*solana.AccountMeta{},
		buf.Bytes(),
	), nil
}
