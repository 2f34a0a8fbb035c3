package eff

import "fmt"

// Gas costs per interpreter transition. Performing an effect is an order of
// magnitude dearer than pure control flow; forks sit in between.
const (
	CostPure    uint64 = 1
	CostBind    uint64 = 1
	CostHandle  uint64 = 2
	CostFork    uint64 = 5
	CostPerform uint64 = 10
)

// DefaultGasBudget applies when the interpreter is built without an explicit
// budget.
const DefaultGasBudget uint64 = 100_000

// Meter tracks gas for one execution. All branches of a Parallel or Race
// draw from the same meter, so total work is bounded regardless of fan-out.
type Meter struct {
	budget uint64
	used   uint64
}

// NewMeter creates a meter with the given budget.
func NewMeter(budget uint64) *Meter {
	return &Meter{budget: budget}
}

// Charge deducts n units, failing with OutOfGas when the budget is passed.
func (m *Meter) Charge(n uint64) error {
	if m.used+n > m.budget {
		m.used = m.budget
		return &RuntimeError{
			Code:    ErrCodeOutOfGas,
			Message: fmt.Sprintf("budget %d exhausted", m.budget),
		}
	}
	m.used += n
	return nil
}

// Used returns the gas consumed so far.
func (m *Meter) Used() uint64 { return m.used }

// Remaining returns the gas left.
func (m *Meter) Remaining() uint64 { return m.budget - m.used }
