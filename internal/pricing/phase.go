// internal/pricing/phase.go
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// DefaultTotalSupply - общий объем токенов продажи
	DefaultTotalSupply = 20_000_000
	// DefaultPhase1End и DefaultPhase2End - границы фаз (включительно)
	DefaultPhase1End = 10_000_000
	DefaultPhase2End = 15_000_000
)

var (
	ErrEmptyTable       = errors.New("phase table is empty")
	ErrBoundsNotOrdered = errors.New("phase bounds must be strictly increasing")
	ErrLastNotUnbounded = errors.New("last phase must be unbounded")
	ErrInvalidPrice     = errors.New("phase price must be positive")
)

// Phase - ценовая фаза: цена действует, пока sold <= UpperBound.
// Последняя фаза таблицы всегда Unbounded.
type Phase struct {
	UpperBound decimal.Decimal
	Unbounded  bool
	Price      decimal.Decimal
}

// PhaseTable неизменяема после создания и безопасна для конкурентного чтения.
type PhaseTable struct {
	phases []Phase
}

// NewPhaseTable проверяет и создает таблицу фаз
func NewPhaseTable(phases []Phase) (*PhaseTable, error) {
	if len(phases) == 0 {
		return nil, ErrEmptyTable
	}

	for i, p := range phases {
		if !p.Price.IsPositive() {
			return nil, fmt.Errorf("phase %d: %w", i, ErrInvalidPrice)
		}
		last := i == len(phases)-1
		if last {
			if !p.Unbounded {
				return nil, ErrLastNotUnbounded
			}
			continue
		}
		if p.Unbounded {
			return nil, fmt.Errorf("phase %d: only the last phase may be unbounded", i)
		}
		if i > 0 && !p.UpperBound.GreaterThan(phases[i-1].UpperBound) {
			return nil, fmt.Errorf("phase %d: %w", i, ErrBoundsNotOrdered)
		}
	}

	return &PhaseTable{phases: append([]Phase(nil), phases...)}, nil
}

// DefaultPhaseTable - три фазы: 1500 до 10M, 6000 до 15M, далее 12000.
func DefaultPhaseTable() *PhaseTable {
	table, err := NewPhaseTable([]Phase{
		{UpperBound: decimal.NewFromInt(DefaultPhase1End), Price: decimal.NewFromInt(1500)},
		{UpperBound: decimal.NewFromInt(DefaultPhase2End), Price: decimal.NewFromInt(6000)},
		{Unbounded: true, Price: decimal.NewFromInt(12000)},
	})
	if err != nil {
		panic(err)
	}
	return table
}

// Phases возвращает копию фаз
func (t *PhaseTable) Phases() []Phase {
	return append([]Phase(nil), t.phases...)
}

// Lookup возвращает цену первой фазы, у которой граница >= sold.
// Граница включается в более дешевую фазу. Отрицательный sold - ошибка
// программиста, а не ошибка выполнения.
func (t *PhaseTable) Lookup(sold decimal.Decimal) decimal.Decimal {
	if sold.IsNegative() {
		panic(fmt.Sprintf("pricing: negative sold amount %s", sold))
	}
	for _, p := range t.phases {
		if p.Unbounded || sold.LessThanOrEqual(p.UpperBound) {
			return p.Price
		}
	}
	// недостижимо: последняя фаза всегда Unbounded
	return t.phases[len(t.phases)-1].Price
}
