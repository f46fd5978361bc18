package exec

import (
	"context"
	"errors"

	"github.com/veristub-labs/veristub/internal/ir"
	tt "github.com/veristub-labs/veristub/internal/types"
)

// Backend decides the obligations of one instrumented subprogram. The
// enumerating Checker is always available; an SMT backend may be
// compiled in and handles the purely scalar fragment much faster.
type Backend interface {
	Name() string
	Check(ctx context.Context, fn *ir.Function, obs []tt.Obligation) ([]tt.Result, error)
}

// ErrUnsupported reports that a backend cannot represent the given
// subprogram; the caller falls back to enumeration.
var ErrUnsupported = errors.New("exec: subprogram outside this backend's fragment")

func (c *Checker) Name() string { return "enumerate" }
