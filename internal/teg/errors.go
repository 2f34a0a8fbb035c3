package teg

import (
	"errors"
	"fmt"

	"github.com/telic-run/telic/internal/ir"
)

// InvalidTegCode categorizes graph validation failures.
type InvalidTegCode string

const (
	CodeCycle       InvalidTegCode = "DEPENDENCY_CYCLE"
	CodeDangling    InvalidTegCode = "DANGLING_EDGE"
	CodeBadEdge     InvalidTegCode = "BAD_EDGE"
	CodeUnbalanced  InvalidTegCode = "CONSERVATION_VIOLATION"
	CodeNodeBudget  InvalidTegCode = "NODE_BUDGET_EXCEEDED"
	CodeCrossDomain InvalidTegCode = "CROSS_DOMAIN_FORBIDDEN"
)

// InvalidTegError rejects a graph at validation or commit.
type InvalidTegError struct {
	Code    InvalidTegCode
	Message string
	Node    ir.NodeID
}

// Error implements the error interface.
func (e *InvalidTegError) Error() string {
	if !ir.IsZero(e.Node) {
		return fmt.Sprintf("invalid teg: %s: %s (node=%s)", e.Code, e.Message, ir.ShortHex(e.Node))
	}
	return fmt.Sprintf("invalid teg: %s: %s", e.Code, e.Message)
}

// IsInvalidTeg returns true if err is a graph validation failure.
func IsInvalidTeg(err error) bool {
	var te *InvalidTegError
	return errors.As(err, &te)
}
