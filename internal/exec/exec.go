package exec

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/veristub-labs/veristub/internal/ir"
	tt "github.com/veristub-labs/veristub/internal/types"
)

// Options bounds the exploration. Zero values select the defaults.
type Options struct {
	// Unwind is the number of iterations a concrete loop may run before
	// the path is cut with an unwinding obligation.
	Unwind int

	// IntMin and IntMax bound the enumeration domain for signed
	// integers; UintMax bounds unsigned ones (from zero).
	IntMin, IntMax int64
	UintMax        int64

	// MaxDepth bounds the concrete call stack.
	MaxDepth int

	// MaxSteps caps the total statement count of one Check call; past
	// it the run is reported as timed out.
	MaxSteps int
}

func (o Options) withDefaults() Options {
	if o.Unwind == 0 {
		o.Unwind = 12
	}
	if o.IntMin == 0 && o.IntMax == 0 {
		o.IntMin, o.IntMax = -3, 3
	}
	if o.UintMax == 0 {
		o.UintMax = 4
	}
	if o.MaxDepth == 0 {
		o.MaxDepth = 16
	}
	if o.MaxSteps == 0 {
		o.MaxSteps = 4 << 20
	}
	return o
}

// Checker explores instrumented subprograms exhaustively over bounded
// input domains. It is safe for concurrent use; each Check call owns
// its own exploration state.
type Checker struct {
	prog *ir.Program
	opts Options
	log  *zap.Logger
}

func NewChecker(prog *ir.Program, opts Options, log *zap.Logger) *Checker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{prog: prog, opts: opts.withDefaults(), log: log}
}

// Check runs fn over every bounded input assignment and reports one
// result per obligation. Obligations never reached on any path pass
// vacuously; obligations minted during the run (unwinding, bounds) are
// appended after the declared ones.
func (c *Checker) Check(ctx context.Context, fn *ir.Function, obs []tt.Obligation) ([]tt.Result, error) {
	r := &runner{c: c, ctx: ctx, results: make(map[string]*tt.Result)}
	for _, ob := range obs {
		r.register(ob)
	}

	st := &state{}
	en := &env{fn: fn, vars: make(map[string]slot)}
	en.ret = func(*state, *value) {}
	inputs := newLocSet()
	for _, p := range fn.Params {
		bindInput(st, en, p, inputs)
	}
	for _, l := range fn.Locals {
		en.vars[l.Name] = slot{t: l.Type, base: st.alloc(cellType(l.Type), cellCount(l.Type))}
	}

	r.enumerate(st, en, inputs.sorted(), fn.Body, 0, func(*state) {})

	out := make([]tt.Result, 0, len(r.order))
	for _, id := range r.order {
		res := *r.results[id]
		if r.timedOut && res.Status == tt.StatusPass {
			res.Status = tt.StatusTimeout
		}
		out = append(out, res)
	}
	c.log.Debug("bounded check finished",
		zap.String("target", fn.Name),
		zap.Int("obligations", len(out)),
		zap.Int("steps", r.steps),
		zap.Bool("timed_out", r.timedOut))
	return out, nil
}

// bindInput allocates storage for one parameter and registers its
// scalar cells as enumerated inputs. A reference parameter gets a fresh
// pointee with no aliasing between parameters.
func bindInput(st *state, en *env, p ir.Param, inputs *locSet) {
	t := p.Type
	if t.Kind == ir.KindRef {
		pt := *t.Elem
		base := st.alloc(cellType(pt), cellCount(pt))
		inputs.addRun(base, cellCount(pt))
		cell := st.alloc(t, 1)
		st.mem[cell] = refVal(t, base)
		en.vars[p.Name] = slot{t: t, base: cell}
		return
	}
	base := st.alloc(cellType(t), cellCount(t))
	inputs.addRun(base, cellCount(t))
	en.vars[p.Name] = slot{t: t, base: base}
}

type runner struct {
	c        *Checker
	ctx      context.Context
	results  map[string]*tt.Result
	order    []string
	steps    int
	timedOut bool
}

func (r *runner) register(ob tt.Obligation) {
	id := ob.ID()
	if _, ok := r.results[id]; ok {
		return
	}
	r.results[id] = &tt.Result{Obligation: ob, Status: tt.StatusPass}
	r.order = append(r.order, id)
}

func (r *runner) fail(ob tt.Obligation, witness string) {
	r.register(ob)
	res := r.results[ob.ID()]
	if res.Status == tt.StatusPass {
		res.Status = tt.StatusFail
		res.Witness = witness
		r.c.log.Debug("obligation failed", zap.String("id", ob.ID()))
	}
}

// stopped checks the deadline and the step budget. Once either trips,
// every remaining path is abandoned and undecided obligations report as
// timed out.
func (r *runner) stopped() bool {
	if r.timedOut {
		return true
	}
	r.steps++
	if r.steps > r.c.opts.MaxSteps {
		r.timedOut = true
		return true
	}
	if r.steps&1023 == 0 && r.ctx.Err() != nil {
		r.timedOut = true
		return true
	}
	return false
}

// guard runs one path, converting a dynamic fault into a recorded
// failure that prunes only that path.
func (r *runner) guard(f func()) {
	defer func() {
		if p := recover(); p != nil {
			if pf, ok := p.(pathFail); ok {
				r.fail(pf.ob, pf.witness)
				return
			}
			panic(p)
		}
	}()
	f()
}

// run executes a statement sequence on one path, calling k with every
// state that completes the sequence. Forks come only from havoc
// enumeration; branches and loops are concrete in any single state.
func (r *runner) run(st *state, en *env, stmts []ir.Stmt, depth int, k func(*state)) {
	for len(stmts) > 0 {
		if r.stopped() {
			return
		}
		s := stmts[0]
		rest := stmts[1:]
		switch n := s.(type) {
		case *ir.Assign:
			r.assign(st, en, n)
		case *ir.Assume:
			if !r.eval(st, en, n.X).b {
				return
			}
		case *ir.Assert:
			if !r.eval(st, en, n.X).b {
				r.fail(n.Ob, renderEnv(st, en))
				return
			}
		case *ir.If:
			branch := n.Else
			if r.eval(st, en, n.Cond).b {
				branch = n.Then
			}
			r.run(st, en, branch, depth, func(st2 *state) {
				r.run(st2, en, rest, depth, k)
			})
			return
		case *ir.While:
			r.runWhile(st, en, n, rest, depth, k)
			return
		case *ir.ForRange:
			r.runFor(st, en, n, rest, depth, k)
			return
		case *ir.Call:
			r.runCall(st, en, n, rest, depth, k)
			return
		case *ir.Return:
			if n.X != nil {
				v := r.eval(st, en, n.X)
				en.ret(st, &v)
			} else {
				en.ret(st, nil)
			}
			return
		case *ir.Havoc:
			r.enumerate(st, en, r.targetLocs(st, en, n.Targets).sorted(), rest, depth, k)
			return
		case *ir.WithFrame:
			fs := frameScope{
				allowed:   r.targetLocs(st, en, n.Targets).cells,
				watermark: len(st.mem),
				ob:        n.Ob,
			}
			st.frames = append(append([]frameScope(nil), st.frames...), fs)
			r.run(st, en, n.Body, depth, func(st2 *state) {
				st2.frames = st2.frames[:len(st2.frames)-1]
				r.run(st2, en, rest, depth, k)
			})
			return
		}
		stmts = rest
	}
	k(st)
}

func (r *runner) runWhile(st *state, en *env, n *ir.While, rest []ir.Stmt, depth int, k func(*state)) {
	var iter func(st *state, count int)
	iter = func(st *state, count int) {
		if r.stopped() {
			return
		}
		if !r.eval(st, en, n.Cond).b {
			r.run(st, en, rest, depth, k)
			return
		}
		if count >= r.c.opts.Unwind {
			r.fail(r.unwindOb(en, n.Cond.String(), n.Pos), renderEnv(st, en))
			return
		}
		r.run(st, en, n.Body, depth, func(st2 *state) {
			iter(st2, count+1)
		})
	}
	iter(st, 0)
}

func (r *runner) runFor(st *state, en *env, n *ir.ForRange, rest []ir.Stmt, depth int, k func(*state)) {
	bound := r.eval(st, en, n.N).i
	s := en.slot(n.Var)
	if bound > int64(r.c.opts.Unwind) {
		r.fail(r.unwindOb(en, fmt.Sprintf("%s in %s", n.Var, n.N), n.Pos), renderEnv(st, en))
		return
	}
	var iter func(st *state, i int64)
	iter = func(st *state, i int64) {
		if r.stopped() {
			return
		}
		r.store(st, en, s.base, intVal(s.t, i))
		if i >= bound {
			r.run(st, en, rest, depth, k)
			return
		}
		r.run(st, en, n.Body, depth, func(st2 *state) {
			iter(st2, i+1)
		})
	}
	iter(st, 0)
}

func (r *runner) runCall(st *state, en *env, n *ir.Call, rest []ir.Stmt, depth int, k func(*state)) {
	if depth >= r.c.opts.MaxDepth {
		r.fail(r.unwindOb(en, "call to "+n.Callee, n.Pos), renderEnv(st, en))
		return
	}
	callee, ok := r.c.prog.Func(n.Callee)
	if !ok {
		panic(fmt.Sprintf("exec: unknown callee %q", n.Callee))
	}
	f := callee
	if len(f.TypeParams) > 0 {
		f = Instantiate(callee, n.TypeArgs)
	}

	en2 := &env{fn: f, vars: make(map[string]slot, len(f.Params)+len(f.Locals))}
	for i, p := range f.Params {
		if p.Type.Kind == ir.KindArray {
			src, ln := r.arrayAt(st, en, n.Args[i])
			base := st.alloc(cellType(p.Type), ln)
			copy(st.mem[base:base+ln], st.mem[src:src+ln])
			en2.vars[p.Name] = slot{t: p.Type, base: base}
			continue
		}
		v := r.eval(st, en, n.Args[i])
		base := st.alloc(cellType(p.Type), 1)
		st.mem[base] = v
		en2.vars[p.Name] = slot{t: p.Type, base: base}
	}
	for _, l := range f.Locals {
		en2.vars[l.Name] = slot{t: l.Type, base: st.alloc(cellType(l.Type), cellCount(l.Type))}
	}
	en2.ret = func(st2 *state, v *value) {
		if n.Dst != nil && v != nil {
			r.store(st2, en, r.placeLoc(st2, en, n.Dst), *v)
		}
		r.run(st2, en, rest, depth, k)
	}
	r.run(st, en2, f.Body, depth+1, func(st2 *state) {
		en2.ret(st2, nil)
	})
}

func (r *runner) unwindOb(en *env, guard string, pos tt.Position) tt.Obligation {
	return tt.Obligation{
		Kind:   tt.Unwinding,
		Target: en.fn.Name,
		Expr:   guard,
		Site:   pos,
		Note:   "bound exhausted before the loop or call chain finished",
	}
}

// store writes one cell, holding the write against every active frame
// the cell predates.
func (r *runner) store(st *state, en *env, l loc, v value) {
	for i := len(st.frames) - 1; i >= 0; i-- {
		f := st.frames[i]
		if l >= f.watermark {
			continue
		}
		if !f.allowed[l] {
			r.fail(f.ob, fmt.Sprintf("store to cell #%d outside the frame; %s", l, renderEnv(st, en)))
		}
	}
	st.mem[l] = v
}

func (r *runner) assign(st *state, en *env, n *ir.Assign) {
	if vp, ok := n.LHS.(*ir.VarPlace); ok {
		s := en.slot(vp.Name)
		if s.t.Kind == ir.KindArray {
			src, ln := r.arrayAt(st, en, n.RHS)
			for j := 0; j < ln; j++ {
				r.store(st, en, s.base+j, st.mem[src+j])
			}
			return
		}
	}
	r.store(st, en, r.placeLoc(st, en, n.LHS), r.eval(st, en, n.RHS))
}

// targetLocs resolves frame targets to the cells they cover in the
// current state. Resolution is dynamic and exact; an address target
// covers precisely the addressed location.
func (r *runner) targetLocs(st *state, en *env, targets []ir.FrameTarget) *locSet {
	set := newLocSet()
	for _, t := range targets {
		switch t.Kind {
		case ir.TargetAddress:
			v := r.eval(st, en, t.Addr)
			if v.t.Kind == ir.KindRef && v.t.Elem != nil && v.t.Elem.Kind == ir.KindArray {
				set.addRun(v.ref, v.t.Elem.Len)
				continue
			}
			set.add(v.ref)
		case ir.TargetWholeObject:
			obj, ok := t.Obj.(*ir.VarRef)
			if !ok {
				v := r.eval(st, en, t.Obj)
				set.add(v.ref)
				continue
			}
			s := en.slot(obj.Name)
			switch s.t.Kind {
			case ir.KindArray:
				set.addRun(s.base, cellCount(s.t))
			case ir.KindRef:
				pv := st.mem[s.base]
				if s.t.Elem.Kind == ir.KindArray {
					set.addRun(pv.ref, cellCount(*s.t.Elem))
				} else {
					set.add(pv.ref)
				}
			default:
				set.add(s.base)
			}
		case ir.TargetRange:
			base, length := r.arrayAt(st, en, t.Obj)
			lo := r.eval(st, en, t.Base).i
			ln := r.eval(st, en, t.Len).i
			for j := lo; j < lo+ln && j < int64(length); j++ {
				if j >= 0 {
					set.add(base + int(j))
				}
			}
		}
	}
	return set
}

// enumerate forks the exploration over every bounded assignment to the
// given cells, then continues with rest. The domain of each cell is
// narrowed by the conjuncts of an immediately following assume, which
// would prune the dropped values anyway.
func (r *runner) enumerate(st *state, en *env, locs []loc, rest []ir.Stmt, depth int, k func(*state)) {
	iv := r.refine(st, en, locs, rest)
	var rec func(st *state, idx int)
	rec = func(st *state, idx int) {
		if r.stopped() {
			return
		}
		if idx == len(locs) {
			r.guard(func() {
				r.run(st, en, rest, depth, k)
			})
			return
		}
		l := locs[idx]
		switch st.mem[l].t.Kind {
		case ir.KindBool:
			for _, b := range [2]bool{false, true} {
				st2 := st.fork()
				st2.mem[l] = boolVal(b)
				rec(st2, idx+1)
			}
		case ir.KindRef:
			// references are never retargeted
			rec(st, idx+1)
		default:
			d := iv[l]
			t := st.mem[l].t
			for v := d.lo; v <= d.hi; v++ {
				if r.stopped() {
					return
				}
				st2 := st.fork()
				st2.mem[l] = intVal(t, v)
				rec(st2, idx+1)
			}
		}
	}
	rec(st, 0)
}

// Instantiate monomorphizes a generic function at concrete type
// arguments. Extra or missing arguments leave the corresponding
// parameters abstract, which the caller validated beforehand.
func Instantiate(fn *ir.Function, args []ir.Type) *ir.Function {
	sub := make(map[string]ir.Type, len(fn.TypeParams))
	for i, tp := range fn.TypeParams {
		if i < len(args) {
			sub[tp] = args[i]
		}
	}
	cp := fn.Clone()
	for i := range cp.Params {
		cp.Params[i].Type = cp.Params[i].Type.Substitute(sub)
	}
	for i := range cp.Locals {
		cp.Locals[i].Type = cp.Locals[i].Type.Substitute(sub)
	}
	if cp.Result != nil {
		t := cp.Result.Substitute(sub)
		cp.Result = &t
	}
	cp.TypeParams = nil
	return cp
}
