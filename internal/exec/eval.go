package exec

import (
	"fmt"

	"github.com/veristub-labs/veristub/internal/ir"
	tt "github.com/veristub-labs/veristub/internal/types"
)

// pathFail aborts the current path with a failed obligation. It is
// thrown by the evaluator on dynamic faults (out-of-bounds access) and
// recovered per statement, matching how assert failures prune.
type pathFail struct {
	ob      tt.Obligation
	witness string
}

// eval computes a scalar expression in the given state. Well-typedness
// was established by the parser; a shape the evaluator cannot handle is
// an internal error, not a verification result.
func (r *runner) eval(st *state, en *env, e ir.Expr) value {
	switch n := e.(type) {
	case *ir.BoolLit:
		return boolVal(n.V)
	case *ir.IntLit:
		return intVal(n.T, n.V)
	case *ir.VarRef:
		return st.mem[en.slot(n.Name).base]
	case *ir.SnapRef:
		return st.mem[en.slot(n.Temp).base]
	case *ir.Unary:
		x := r.eval(st, en, n.X)
		if n.Op == ir.OpNot {
			return boolVal(!x.b)
		}
		return intVal(x.t, -x.i)
	case *ir.Binary:
		return r.evalBinary(st, en, n)
	case *ir.Index:
		return st.mem[r.elemLoc(st, en, n)]
	case *ir.Deref:
		x := r.eval(st, en, n.X)
		return st.mem[x.ref]
	case *ir.AddrOf:
		switch x := n.X.(type) {
		case *ir.VarRef:
			s := en.slot(x.Name)
			return refVal(ir.RefTo(s.t), s.base)
		case *ir.Index:
			return refVal(ir.RefTo(ir.TypeOf(x)), r.elemLoc(st, en, x))
		}
	}
	panic(fmt.Sprintf("exec: cannot evaluate %s", e))
}

func (r *runner) evalBinary(st *state, en *env, n *ir.Binary) value {
	// Short-circuit forms first; their right operand may be guarded by
	// the left (p != 0 && a[p] ...).
	switch n.Op {
	case ir.OpAnd:
		x := r.eval(st, en, n.X)
		if !x.b {
			return boolVal(false)
		}
		return boolVal(r.eval(st, en, n.Y).b)
	case ir.OpOr:
		x := r.eval(st, en, n.X)
		if x.b {
			return boolVal(true)
		}
		return boolVal(r.eval(st, en, n.Y).b)
	case ir.OpImplies:
		x := r.eval(st, en, n.X)
		if !x.b {
			return boolVal(true)
		}
		return boolVal(r.eval(st, en, n.Y).b)
	}

	x := r.eval(st, en, n.X)
	y := r.eval(st, en, n.Y)
	// uint cells hold the two's-complement bit pattern in an int64: add,
	// sub and mul wrap correctly as-is, but division and ordering must
	// reinterpret the bits as unsigned.
	unsigned := x.t.Kind == ir.KindUint
	switch n.Op {
	case ir.OpAdd:
		return intVal(x.t, x.i+y.i)
	case ir.OpSub:
		return intVal(x.t, x.i-y.i)
	case ir.OpMul:
		return intVal(x.t, x.i*y.i)
	case ir.OpDiv:
		if y.i == 0 {
			return intVal(x.t, 0) // defined as 0, like the solver's total division
		}
		if unsigned {
			return intVal(x.t, int64(uint64(x.i)/uint64(y.i)))
		}
		return intVal(x.t, x.i/y.i)
	case ir.OpMod:
		if y.i == 0 {
			return intVal(x.t, 0)
		}
		if unsigned {
			return intVal(x.t, int64(uint64(x.i)%uint64(y.i)))
		}
		return intVal(x.t, x.i%y.i)
	case ir.OpEq:
		return boolVal(scalarEq(x, y))
	case ir.OpNe:
		return boolVal(!scalarEq(x, y))
	case ir.OpLt:
		if unsigned {
			return boolVal(uint64(x.i) < uint64(y.i))
		}
		return boolVal(x.i < y.i)
	case ir.OpLe:
		if unsigned {
			return boolVal(uint64(x.i) <= uint64(y.i))
		}
		return boolVal(x.i <= y.i)
	case ir.OpGt:
		if unsigned {
			return boolVal(uint64(x.i) > uint64(y.i))
		}
		return boolVal(x.i > y.i)
	case ir.OpGe:
		if unsigned {
			return boolVal(uint64(x.i) >= uint64(y.i))
		}
		return boolVal(x.i >= y.i)
	}
	panic(fmt.Sprintf("exec: cannot evaluate operator %s", n.Op))
}

func scalarEq(x, y value) bool {
	switch x.t.Kind {
	case ir.KindBool:
		return x.b == y.b
	case ir.KindRef:
		return x.ref == y.ref
	default:
		return x.i == y.i
	}
}

// arrayAt resolves an array-valued expression to its base cell and
// element count, dereferencing one reference level if present.
func (r *runner) arrayAt(st *state, en *env, e ir.Expr) (loc, int) {
	switch n := e.(type) {
	case *ir.VarRef:
		s := en.slot(n.Name)
		t := s.t
		base := s.base
		if t.Kind == ir.KindRef {
			base = st.mem[s.base].ref
			t = *t.Elem
		}
		if t.Kind != ir.KindArray {
			panic(fmt.Sprintf("exec: %s is not an array", n.Name))
		}
		return base, t.Len
	case *ir.Deref:
		v := r.eval(st, en, n.X)
		t := ir.TypeOf(n.X)
		if t.Kind == ir.KindRef && t.Elem.Kind == ir.KindArray {
			return v.ref, t.Elem.Len
		}
	}
	panic(fmt.Sprintf("exec: cannot resolve array %s", e))
}

// elemLoc resolves an index expression to a cell, failing the path on
// an out-of-bounds index.
func (r *runner) elemLoc(st *state, en *env, n *ir.Index) loc {
	base, length := r.arrayAt(st, en, n.X)
	i := r.eval(st, en, n.I).i
	if i < 0 || i >= int64(length) {
		ob := tt.Obligation{
			Kind:   tt.Assertion,
			Target: en.fn.Name,
			Expr:   fmt.Sprintf("%s within bounds", n),
			Site:   en.fn.Pos,
			Note:   "index in range",
		}
		panic(pathFail{ob: ob, witness: fmt.Sprintf("index %d of %d-element array; %s", i, length, renderEnv(st, en))})
	}
	return base + int(i)
}

// placeLoc resolves an assignment target to a cell.
func (r *runner) placeLoc(st *state, en *env, p ir.Place) loc {
	switch n := p.(type) {
	case *ir.VarPlace:
		return en.slot(n.Name).base
	case *ir.IndexPlace:
		return r.elemLoc(st, en, &ir.Index{X: varExpr(en, n.Arr), I: n.I})
	case *ir.DerefPlace:
		return st.mem[en.slot(n.Name).base].ref
	}
	panic(fmt.Sprintf("exec: cannot resolve place %s", p))
}

func varExpr(en *env, name string) ir.Expr {
	return &ir.VarRef{Name: name, T: en.slot(name).t}
}
