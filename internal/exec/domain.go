package exec

import (
	"github.com/veristub-labs/veristub/internal/ir"
)

// interval is an inclusive enumeration range for one integer cell.
type interval struct {
	lo, hi int64
}

func (iv interval) clampLo(v int64) interval {
	if v > iv.lo {
		iv.lo = v
	}
	return iv
}

func (iv interval) clampHi(v int64) interval {
	if v < iv.hi {
		iv.hi = v
	}
	return iv
}

// refine computes the enumeration interval for each havocked integer
// cell. The default is the configured domain; top-level conjuncts of an
// immediately following assume narrow it, since any value they exclude
// would only be enumerated and then pruned.
func (r *runner) refine(st *state, en *env, locs []loc, rest []ir.Stmt) map[loc]interval {
	iv := make(map[loc]interval, len(locs))
	member := make(map[loc]bool, len(locs))
	for _, l := range locs {
		member[l] = true
		switch st.mem[l].t.Kind {
		case ir.KindUint:
			iv[l] = interval{0, r.c.opts.UintMax}
		case ir.KindInt:
			iv[l] = interval{r.c.opts.IntMin, r.c.opts.IntMax}
		}
	}
	if len(rest) == 0 {
		return iv
	}
	a, ok := rest[0].(*ir.Assume)
	if !ok {
		return iv
	}
	for _, c := range conjuncts(a.X) {
		r.narrow(st, en, iv, member, c)
	}
	return iv
}

func conjuncts(e ir.Expr) []ir.Expr {
	if b, ok := e.(*ir.Binary); ok && b.Op == ir.OpAnd {
		return append(conjuncts(b.X), conjuncts(b.Y)...)
	}
	return []ir.Expr{e}
}

// narrow applies one comparison conjunct of the form var op lit (or its
// mirror) to the interval of the cell the variable resolves to.
func (r *runner) narrow(st *state, en *env, iv map[loc]interval, member map[loc]bool, e ir.Expr) {
	b, ok := e.(*ir.Binary)
	if !ok {
		return
	}
	if l, c, ok := r.varLit(st, en, member, b.X, b.Y); ok {
		r.apply(iv, l, b.Op, c, false)
	} else if l, c, ok := r.varLit(st, en, member, b.Y, b.X); ok {
		r.apply(iv, l, b.Op, c, true)
	}
}

// varLit matches one side as a havocked cell and the other as an
// integer constant.
func (r *runner) varLit(st *state, en *env, member map[loc]bool, v, lit ir.Expr) (loc, int64, bool) {
	var name string
	switch n := v.(type) {
	case *ir.VarRef:
		name = n.Name
	case *ir.SnapRef:
		name = n.Temp
	default:
		return 0, 0, false
	}
	s, ok := en.vars[name]
	if !ok || !member[s.base] {
		return 0, 0, false
	}
	c, ok := lit.(*ir.IntLit)
	if !ok {
		return 0, 0, false
	}
	return s.base, c.V, true
}

// apply narrows one interval by "cell op c" (mirrored = "c op cell").
func (r *runner) apply(iv map[loc]interval, l loc, op ir.Op, c int64, mirrored bool) {
	d, ok := iv[l]
	if !ok {
		return
	}
	if mirrored {
		switch op {
		case ir.OpLt:
			op = ir.OpGt
		case ir.OpLe:
			op = ir.OpGe
		case ir.OpGt:
			op = ir.OpLt
		case ir.OpGe:
			op = ir.OpLe
		}
	}
	switch op {
	case ir.OpEq:
		d = d.clampLo(c).clampHi(c)
	case ir.OpLt:
		d = d.clampHi(c - 1)
	case ir.OpLe:
		d = d.clampHi(c)
	case ir.OpGt:
		d = d.clampLo(c + 1)
	case ir.OpGe:
		d = d.clampLo(c)
	default:
		return
	}
	iv[l] = d
}
