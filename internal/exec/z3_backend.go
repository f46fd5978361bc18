//go:build z3

package exec

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/aclements/go-z3/z3"
	"go.uber.org/zap"

	"github.com/veristub-labs/veristub/internal/ir"
	tt "github.com/veristub-labs/veristub/internal/types"
)

// SolverBackend discharges obligations of purely scalar subprograms
// with an SMT solver instead of enumeration: integers are unbounded and
// each assertion is a single satisfiability query on the negated
// condition under the path constraint.
type SolverBackend struct {
	log *zap.Logger
}

// NewSolverBackend returns the SMT backend. It is only compiled in
// under the z3 build tag; the stub variant reports unavailability.
func NewSolverBackend(log *zap.Logger) (Backend, error) {
	if log == nil {
		log = zap.NewNop()
	}
	return &SolverBackend{log: log}, nil
}

func (b *SolverBackend) Name() string { return "z3" }

func (b *SolverBackend) Check(ctx context.Context, fn *ir.Function, obs []tt.Obligation) ([]tt.Result, error) {
	if !scalarOnly(fn) {
		return nil, ErrUnsupported
	}
	zr := &z3run{
		ctx:     ctx,
		z:       z3.NewContext(nil),
		results: make(map[string]*tt.Result),
		log:     b.log,
	}
	zr.solver = z3.NewSolver(zr.z)
	zr.intSort = zr.z.IntSort()
	zero := zr.intLit(0)
	zr.trueB = zero.Eq(zero)
	zr.two64 = zr.z.FromBigInt(new(big.Int).Lsh(big.NewInt(1), 64), zr.intSort).(z3.Int)
	for _, ob := range obs {
		zr.register(ob)
	}

	st := symState{vars: make(map[string]symVal), path: zr.trueB}
	for _, p := range fn.Params {
		st = zr.declare(st, p.Name, p.Type, true)
	}
	for _, l := range fn.Locals {
		st = zr.declare(st, l.Name, l.Type, false)
	}
	if err := zr.run(st, fn.Body); err != nil {
		return nil, err
	}

	out := make([]tt.Result, 0, len(zr.order))
	for _, id := range zr.order {
		out = append(out, *zr.results[id])
	}
	b.log.Debug("smt check finished",
		zap.String("target", fn.Name),
		zap.Int("obligations", len(out)),
		zap.Int("queries", zr.queries))
	return out, nil
}

type symVal struct {
	isBool bool
	b      z3.Bool
	i      z3.Int
}

// symState is one symbolic path: variable valuation plus the path
// constraint. Maps are copied on branch.
type symState struct {
	vars map[string]symVal
	path z3.Bool
}

func (st symState) fork() symState {
	vars := make(map[string]symVal, len(st.vars))
	for k, v := range st.vars {
		vars[k] = v
	}
	return symState{vars: vars, path: st.path}
}

// symFrame is one active write frame, tracked by variable name. Names
// declared after the frame was entered are exempt.
type symFrame struct {
	allowed map[string]bool
	before  map[string]bool
	ob      tt.Obligation
}

type z3run struct {
	ctx     context.Context
	z       *z3.Context
	solver  *z3.Solver
	intSort z3.Sort
	trueB   z3.Bool
	two64   z3.Int
	results map[string]*tt.Result
	order   []string
	frames  []symFrame
	fresh   int
	queries int
	log     *zap.Logger
}

func (zr *z3run) register(ob tt.Obligation) {
	id := ob.ID()
	if _, ok := zr.results[id]; ok {
		return
	}
	zr.results[id] = &tt.Result{Obligation: ob, Status: tt.StatusPass}
	zr.order = append(zr.order, id)
}

func (zr *z3run) fail(ob tt.Obligation, witness string) {
	zr.register(ob)
	res := zr.results[ob.ID()]
	if res.Status == tt.StatusPass {
		res.Status = tt.StatusFail
		res.Witness = witness
	}
}

func (zr *z3run) intLit(v int64) z3.Int {
	return zr.z.FromInt(v, zr.intSort).(z3.Int)
}

// declare binds a name to a fresh constant (for inputs) or to the zero
// value (for locals). Unsigned inputs carry a [0, 2^64) range fact.
func (zr *z3run) declare(st symState, name string, t ir.Type, input bool) symState {
	switch {
	case t.Kind == ir.KindBool && input:
		st.vars[name] = symVal{isBool: true, b: zr.z.BoolConst(name)}
	case t.Kind == ir.KindBool:
		st.vars[name] = symVal{isBool: true, b: zr.trueB.Not()}
	case input:
		i := zr.z.IntConst(name)
		st.vars[name] = symVal{i: i}
		if t.Kind == ir.KindUint {
			st.path = st.path.And(i.GE(zr.intLit(0))).And(i.LT(zr.two64))
		}
	default:
		st.vars[name] = symVal{i: zr.intLit(0)}
	}
	return st
}

// havocVar rebinds a name to a fresh constant.
func (zr *z3run) havocVar(st symState, name string, t ir.Type) symState {
	zr.fresh++
	fresh := fmt.Sprintf("%s!h%d", name, zr.fresh)
	if t.Kind == ir.KindBool {
		st.vars[name] = symVal{isBool: true, b: zr.z.BoolConst(fresh)}
		return st
	}
	i := zr.z.IntConst(fresh)
	st.vars[name] = symVal{i: i}
	if t.Kind == ir.KindUint {
		st.path = st.path.And(i.GE(zr.intLit(0))).And(i.LT(zr.two64))
	}
	return st
}

// sat asks whether cond is reachable, returning a model witness.
func (zr *z3run) sat(st symState, cond z3.Bool) (bool, string, error) {
	if err := zr.ctx.Err(); err != nil {
		return false, "", err
	}
	zr.queries++
	zr.solver.Push()
	defer zr.solver.Pop()
	zr.solver.Assert(st.path)
	zr.solver.Assert(cond)
	ok, err := zr.solver.Check()
	if err != nil || !ok {
		return false, "", err
	}
	m := zr.solver.Model()
	names := make([]string, 0, len(st.vars))
	for n := range st.vars {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	for idx, n := range names {
		if idx > 0 {
			b.WriteString(", ")
		}
		v := st.vars[n]
		b.WriteString(n)
		b.WriteString("=")
		if v.isBool {
			b.WriteString(m.Eval(v.b, true).String())
		} else {
			b.WriteString(m.Eval(v.i, true).String())
		}
	}
	return true, b.String(), nil
}

func (zr *z3run) run(st symState, stmts []ir.Stmt) error {
	for idx, s := range stmts {
		rest := stmts[idx+1:]
		switch n := s.(type) {
		case *ir.Assign:
			vp := n.LHS.(*ir.VarPlace)
			if err := zr.checkFrames(st, vp.Name); err != nil {
				return err
			}
			st.vars[vp.Name] = zr.eval(st, n.RHS)
		case *ir.Assume:
			st.path = st.path.And(zr.eval(st, n.X).b)
		case *ir.Assert:
			ok, witness, err := zr.sat(st, zr.eval(st, n.X).b.Not())
			if err != nil {
				return err
			}
			if ok {
				zr.fail(n.Ob, witness)
			}
			st.path = st.path.And(zr.eval(st, n.X).b)
		case *ir.If:
			c := zr.eval(st, n.Cond).b
			then := st.fork()
			then.path = then.path.And(c)
			if err := zr.run(then, append(append([]ir.Stmt(nil), n.Then...), rest...)); err != nil {
				return err
			}
			st = st.fork()
			st.path = st.path.And(c.Not())
			return zr.run(st, append(append([]ir.Stmt(nil), n.Else...), rest...))
		case *ir.Havoc:
			for _, t := range n.Targets {
				name, typ := scalarTarget(t)
				st = zr.havocVar(st, name, typ)
			}
		case *ir.WithFrame:
			allowed := make(map[string]bool, len(n.Targets))
			for _, t := range n.Targets {
				name, _ := scalarTarget(t)
				allowed[name] = true
			}
			before := make(map[string]bool, len(st.vars))
			for name := range st.vars {
				before[name] = true
			}
			zr.frames = append(zr.frames, symFrame{allowed: allowed, before: before, ob: n.Ob})
			if err := zr.run(st, append(append([]ir.Stmt(nil), n.Body...), rest...)); err != nil {
				return err
			}
			zr.frames = zr.frames[:len(zr.frames)-1]
			return nil
		case *ir.Return:
			return nil
		default:
			return ErrUnsupported
		}
	}
	return nil
}

// checkFrames holds a store against every active frame. A reachable
// store outside a frame fails that frame's obligation.
func (zr *z3run) checkFrames(st symState, name string) error {
	for _, f := range zr.frames {
		if f.allowed[name] || !f.before[name] {
			continue
		}
		ok, witness, err := zr.sat(st, zr.trueB)
		if err != nil {
			return err
		}
		if ok {
			zr.fail(f.ob, fmt.Sprintf("store to %s outside the frame; %s", name, witness))
		}
	}
	return nil
}

func (zr *z3run) eval(st symState, e ir.Expr) symVal {
	switch n := e.(type) {
	case *ir.BoolLit:
		if n.V {
			return symVal{isBool: true, b: zr.trueB}
		}
		return symVal{isBool: true, b: zr.trueB.Not()}
	case *ir.IntLit:
		return symVal{i: zr.intLit(n.V)}
	case *ir.VarRef:
		return st.vars[n.Name]
	case *ir.SnapRef:
		return st.vars[n.Temp]
	case *ir.Unary:
		x := zr.eval(st, n.X)
		if n.Op == ir.OpNot {
			return symVal{isBool: true, b: x.b.Not()}
		}
		return symVal{i: zr.intLit(0).Sub(x.i)}
	case *ir.Binary:
		x := zr.eval(st, n.X)
		y := zr.eval(st, n.Y)
		// uint values live in [0, 2^64); arithmetic wraps modulo 2^64.
		// SMT-LIB mod is Euclidean, so a negative difference comes back
		// as its wrapped non-negative counterpart. Division and ordering
		// need no special case once operands stay in range.
		wrap := func(i z3.Int) symVal {
			if ir.TypeOf(n.X).Kind == ir.KindUint {
				return symVal{i: i.Mod(zr.two64)}
			}
			return symVal{i: i}
		}
		switch n.Op {
		case ir.OpAdd:
			return wrap(x.i.Add(y.i))
		case ir.OpSub:
			return wrap(x.i.Sub(y.i))
		case ir.OpMul:
			return wrap(x.i.Mul(y.i))
		case ir.OpDiv:
			return symVal{i: x.i.Div(y.i)}
		case ir.OpMod:
			return symVal{i: x.i.Mod(y.i)}
		case ir.OpEq:
			if x.isBool {
				return symVal{isBool: true, b: x.b.Eq(y.b)}
			}
			return symVal{isBool: true, b: x.i.Eq(y.i)}
		case ir.OpNe:
			if x.isBool {
				return symVal{isBool: true, b: x.b.Eq(y.b).Not()}
			}
			return symVal{isBool: true, b: x.i.NE(y.i)}
		case ir.OpLt:
			return symVal{isBool: true, b: x.i.LT(y.i)}
		case ir.OpLe:
			return symVal{isBool: true, b: x.i.LE(y.i)}
		case ir.OpGt:
			return symVal{isBool: true, b: x.i.GT(y.i)}
		case ir.OpGe:
			return symVal{isBool: true, b: x.i.GE(y.i)}
		case ir.OpAnd:
			return symVal{isBool: true, b: x.b.And(y.b)}
		case ir.OpOr:
			return symVal{isBool: true, b: x.b.Or(y.b)}
		case ir.OpImplies:
			return symVal{isBool: true, b: x.b.Implies(y.b)}
		}
	}
	panic(fmt.Sprintf("exec: smt backend cannot translate %s", e))
}

// scalarTarget extracts the variable a frame target addresses. The
// fragment check guaranteed the shape.
func scalarTarget(t ir.FrameTarget) (string, ir.Type) {
	addr := t.Addr.(*ir.AddrOf)
	v := addr.X.(*ir.VarRef)
	return v.Name, v.T
}

// scalarOnly reports whether the subprogram fits the SMT fragment:
// scalar variables, straight-line or branching control flow, frames
// over single addresses, no calls and no concrete loops.
func scalarOnly(fn *ir.Function) bool {
	for _, p := range fn.Params {
		if !p.Type.IsScalar() {
			return false
		}
	}
	for _, l := range fn.Locals {
		if !l.Type.IsScalar() {
			return false
		}
	}
	return scalarStmts(fn.Body)
}

func scalarStmts(stmts []ir.Stmt) bool {
	for _, s := range stmts {
		switch n := s.(type) {
		case *ir.Assign:
			if _, ok := n.LHS.(*ir.VarPlace); !ok {
				return false
			}
			if !scalarExpr(n.RHS) {
				return false
			}
		case *ir.Assume:
			if !scalarExpr(n.X) {
				return false
			}
		case *ir.Assert:
			if !scalarExpr(n.X) {
				return false
			}
		case *ir.If:
			if !scalarExpr(n.Cond) || !scalarStmts(n.Then) || !scalarStmts(n.Else) {
				return false
			}
		case *ir.Havoc:
			if !scalarTargets(n.Targets) {
				return false
			}
		case *ir.WithFrame:
			if !scalarTargets(n.Targets) || !scalarStmts(n.Body) {
				return false
			}
		case *ir.Return:
			if n.X != nil && !scalarExpr(n.X) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func scalarTargets(targets []ir.FrameTarget) bool {
	for _, t := range targets {
		if t.Kind != ir.TargetAddress {
			return false
		}
		addr, ok := t.Addr.(*ir.AddrOf)
		if !ok {
			return false
		}
		if _, ok := addr.X.(*ir.VarRef); !ok {
			return false
		}
	}
	return true
}

func scalarExpr(e ir.Expr) bool {
	ok := true
	ir.Walk(e, func(n ir.Expr) bool {
		switch n.(type) {
		case *ir.Index, *ir.Deref, *ir.AddrOf, *ir.OnEntry, *ir.Prev, *ir.IndexRef, *ir.LenRef, *ir.ResultRef:
			ok = false
			return false
		}
		return true
	})
	return ok
}
