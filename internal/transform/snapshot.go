// Package transform rewrites contracted subprograms into the
// assume/havoc/assert form the bounded checker executes. The checking
// form proves a contract against its body; the replacement form
// substitutes a proven contract for a call. Annotated loops are
// abstracted into a base case and a single arbitrary iteration.
package transform

import (
	"github.com/veristub-labs/veristub/internal/ir"
)

// snapshotter extracts historic sub-expressions (on_entry, prev) out of
// a contract clause. Each distinct captured expression gets one fresh
// temporary; the clause is rewritten to read the temporaries and the
// caller decides where the capture assignments land.
type snapshotter struct {
	fn       *ir.Function
	bindings []ir.HistoricBinding
	seen     map[string]string // name|expr -> temp
}

func newSnapshotter(fn *ir.Function) *snapshotter {
	return &snapshotter{fn: fn, seen: make(map[string]string)}
}

// rewrite replaces every on_entry(e) and prev(e) node in expr with a
// snapshot reference, allocating temporaries as needed. Nested historic
// operators were rejected by the parser, so a single bottom-up pass is
// enough.
func (s *snapshotter) rewrite(expr ir.Expr) ir.Expr {
	return ir.Rewrite(expr, func(e ir.Expr) ir.Expr {
		switch n := e.(type) {
		case *ir.OnEntry:
			return s.bind(ir.SnapOnEntry, n.X)
		case *ir.Prev:
			return s.bind(ir.SnapPrev, n.X)
		}
		return e
	})
}

func (s *snapshotter) bind(name ir.HistoricName, captured ir.Expr) ir.Expr {
	t := ir.TypeOf(captured)
	key := name.String() + "|" + captured.String()
	temp, ok := s.seen[key]
	if !ok {
		temp = s.fn.AddLocal(name.String(), t)
		s.seen[key] = temp
		s.bindings = append(s.bindings, ir.HistoricBinding{
			Name: name,
			Expr: captured,
			Temp: temp,
			Type: t,
		})
	}
	return &ir.SnapRef{Temp: temp, T: t}
}

// usesPrev reports whether any binding captures per-iteration state.
func (s *snapshotter) usesPrev() bool {
	for _, b := range s.bindings {
		if b.Name == ir.SnapPrev {
			return true
		}
	}
	return false
}

// allCaptures returns entry assignments for every binding, regardless
// of discipline.
func (s *snapshotter) allCaptures() []ir.Stmt {
	var out []ir.Stmt
	for _, b := range s.bindings {
		out = append(out, &ir.Assign{LHS: &ir.VarPlace{Name: b.Temp}, RHS: b.Expr})
	}
	return out
}

// temps returns the temporary names this snapshotter allocated, in
// allocation order.
func (s *snapshotter) temps() []string {
	out := make([]string, len(s.bindings))
	for i, b := range s.bindings {
		out[i] = b.Temp
	}
	return out
}
