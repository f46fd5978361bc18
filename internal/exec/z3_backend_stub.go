//go:build !z3

package exec

import (
	"errors"

	"go.uber.org/zap"
)

// NewSolverBackend reports that the SMT backend was not compiled in.
// Rebuild with -tags z3 to enable it.
func NewSolverBackend(*zap.Logger) (Backend, error) {
	return nil, errors.New("smt backend not available: rebuild with -tags z3")
}
