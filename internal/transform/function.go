package transform

import (
	"fmt"

	"github.com/veristub-labs/veristub/internal/frame"
	"github.com/veristub-labs/veristub/internal/ir"
	tt "github.com/veristub-labs/veristub/internal/types"
)

// Options selects which rewrites a Transformer performs.
type Options struct {
	// LoopContracts enables loop abstraction. When disabled, annotated
	// loops stay concrete and fall under the checker's unwinding bound.
	LoopContracts bool

	// Stubs maps a callee name to the subprogram whose contract stands
	// in for the call. Mapping a name to itself replaces calls with the
	// callee's own contract.
	Stubs map[string]string
}

// Transformer rewrites functions of one program snapshot. It never
// mutates the snapshot: every entry point clones its input and returns
// the instrumented copy together with the obligations the copy carries.
type Transformer struct {
	prog *ir.Program
	res  *frame.Resolver
	opts Options
}

func New(prog *ir.Program, res *frame.Resolver, opts Options) *Transformer {
	return &Transformer{prog: prog, res: res, opts: opts}
}

// Error reports a transformation that cannot proceed, as opposed to an
// obligation the checker may still decide.
type Error struct {
	Target string
	Pos    tt.Position
	Msg    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Pos, e.Target, e.Msg)
}

// CheckForm instruments fn to verify its own contract: the body runs
// once under the assumed precondition, with the frame havocked and
// enforced, and the postcondition asserted on every exit path.
func (t *Transformer) CheckForm(fn *ir.Function) (*ir.Function, []tt.Obligation, error) {
	if fn.Contract == nil {
		return nil, nil, &Error{Target: fn.Name, Pos: fn.Pos, Msg: "no contract to check"}
	}
	if fn.Transformed {
		return nil, nil, &Error{Target: fn.Name, Pos: fn.Pos, Msg: "already transformed"}
	}
	c := fn.Contract
	targets, err := t.res.ResolveFunction(fn, c.Frame)
	if err != nil {
		return nil, nil, err
	}

	cp := fn.Clone()
	cp.Transformed = true
	p := &pass{t: t, fn: cp}
	body, _, err := p.block(cp.Body)
	if err != nil {
		return nil, nil, err
	}

	snap := newSnapshotter(cp)
	post := snap.rewrite(c.PostOrTrue())
	postOb := tt.Obligation{
		Kind:   tt.Postcondition,
		Target: fn.Name,
		Expr:   c.PostOrTrue().String(),
		Site:   c.Pos,
		Note:   "ensures of " + fn.Name,
	}
	if cp.Result != nil && referencesResult(post) {
		temp := cp.AddLocal("result", *cp.Result)
		post = rewriteResult(post, temp, *cp.Result)
		body = rewriteReturns(body, post, temp, postOb)
	} else {
		body = rewriteReturns(body, post, "", postOb)
	}

	frameOb := tt.Obligation{
		Kind:   tt.FrameInclusion,
		Target: fn.Name,
		Expr:   frame.Render(targets),
		Site:   c.Pos,
		Note:   "writes of " + fn.Name + " stay inside the declared frame",
	}

	// Locals are invisible to callers, so the enforced frame admits
	// them; only stores reaching caller-visible state are held against
	// the declared targets.
	enforced := append([]ir.FrameTarget(nil), targets...)
	for _, l := range cp.Locals {
		enforced = append(enforced, localTarget(cp, l.Name))
	}
	enforced = frame.Canonicalize(enforced)

	out := []ir.Stmt{&ir.Assume{X: c.PreOrTrue()}}
	if len(targets) > 0 {
		out = append(out, &ir.Havoc{Targets: targets})
	}
	out = append(out, snap.allCaptures()...)
	out = append(out, &ir.WithFrame{Targets: enforced, Body: body, Ob: frameOb})
	out = append(out, &ir.Assert{X: post, Ob: postOb})
	cp.Body = out

	obs := append(p.obs, frameOb, postOb)
	return cp, dedupe(obs), nil
}

// PrepareHarness instruments a verification entry point: annotated
// loops are abstracted and stubbed calls are replaced, but no contract
// of its own is assumed or asserted.
func (t *Transformer) PrepareHarness(fn *ir.Function) (*ir.Function, []tt.Obligation, error) {
	if fn.Transformed {
		return nil, nil, &Error{Target: fn.Name, Pos: fn.Pos, Msg: "already transformed"}
	}
	cp := fn.Clone()
	cp.Transformed = true
	p := &pass{t: t, fn: cp}
	body, _, err := p.block(cp.Body)
	if err != nil {
		return nil, nil, err
	}
	cp.Body = body
	return cp, dedupe(p.obs), nil
}

// pass walks one function body, abstracting annotated loops and
// replacing stubbed calls. It records every obligation it mints and the
// temporaries it introduces, so enclosing frames can admit writes made
// by the instrumentation itself.
type pass struct {
	t   *Transformer
	fn  *ir.Function
	obs []tt.Obligation
}

// block rewrites a statement sequence, returning the rewritten
// statements and the names of temporaries introduced inside it.
func (p *pass) block(stmts []ir.Stmt) ([]ir.Stmt, []string, error) {
	var out []ir.Stmt
	var temps []string
	for _, s := range stmts {
		switch n := s.(type) {
		case *ir.If:
			then, tt1, err := p.block(n.Then)
			if err != nil {
				return nil, nil, err
			}
			els, tt2, err := p.block(n.Else)
			if err != nil {
				return nil, nil, err
			}
			temps = append(temps, tt1...)
			temps = append(temps, tt2...)
			out = append(out, &ir.If{Cond: n.Cond, Then: then, Else: els, Pos: n.Pos})
		case *ir.While:
			if n.Site != nil && p.t.opts.LoopContracts {
				rs, ts, err := p.transformWhile(n)
				if err != nil {
					return nil, nil, err
				}
				temps = append(temps, ts...)
				out = append(out, rs...)
				continue
			}
			body, ts, err := p.block(n.Body)
			if err != nil {
				return nil, nil, err
			}
			temps = append(temps, ts...)
			out = append(out, &ir.While{Cond: n.Cond, Body: body, Pos: n.Pos})
		case *ir.ForRange:
			if n.Site != nil && p.t.opts.LoopContracts {
				rs, ts, err := p.transformFor(n)
				if err != nil {
					return nil, nil, err
				}
				temps = append(temps, ts...)
				out = append(out, rs...)
				continue
			}
			body, ts, err := p.block(n.Body)
			if err != nil {
				return nil, nil, err
			}
			temps = append(temps, ts...)
			out = append(out, &ir.ForRange{Var: n.Var, N: n.N, Body: body, Pos: n.Pos})
		case *ir.Assert:
			// user assertions carry their own obligation
			p.obs = append(p.obs, n.Ob)
			out = append(out, n)
		case *ir.Call:
			if _, ok := p.t.opts.Stubs[n.Callee]; ok {
				rs, ts, err := p.replaceCall(n)
				if err != nil {
					return nil, nil, err
				}
				temps = append(temps, ts...)
				out = append(out, rs...)
				continue
			}
			out = append(out, n)
		default:
			out = append(out, s)
		}
	}
	return out, temps, nil
}

// replaceCall substitutes a trusted contract for a call: the
// precondition becomes a caller-side obligation, the callee's frame is
// havocked through the argument binding, and the postcondition is
// assumed of a fresh result.
func (p *pass) replaceCall(c *ir.Call) ([]ir.Stmt, []string, error) {
	stubName := p.t.opts.Stubs[c.Callee]
	stub, ok := p.t.prog.Func(stubName)
	if !ok {
		return nil, nil, &Error{Target: p.fn.Name, Pos: c.Pos, Msg: fmt.Sprintf("replacement %q not found", stubName)}
	}
	if stub.Contract == nil {
		return nil, nil, &Error{Target: p.fn.Name, Pos: c.Pos, Msg: fmt.Sprintf("replacement %q has no contract", stubName)}
	}
	if len(stub.Params) != len(c.Args) {
		return nil, nil, &Error{Target: p.fn.Name, Pos: c.Pos, Msg: fmt.Sprintf("call to %s has %d arguments, replacement %s takes %d", c.Callee, len(c.Args), stubName, len(stub.Params))}
	}

	typeSub := make(map[string]ir.Type, len(stub.TypeParams))
	for i, tp := range stub.TypeParams {
		if i < len(c.TypeArgs) {
			typeSub[tp] = c.TypeArgs[i]
		}
	}

	var out []ir.Stmt
	var temps []string

	// Parameters are by-value at entry: capture scalar arguments into
	// temporaries so the postcondition reads entry values even after
	// the frame is havocked. Reference arguments bind directly.
	bind := make(map[string]ir.Expr, len(stub.Params))
	for i, prm := range stub.Params {
		arg := c.Args[i]
		pt := prm.Type.Substitute(typeSub)
		if pt.Kind == ir.KindRef || isPure(arg) {
			bind[prm.Name] = arg
			continue
		}
		temp := p.fn.AddLocal(c.Callee+"_arg", pt)
		temps = append(temps, temp)
		out = append(out, &ir.Assign{LHS: &ir.VarPlace{Name: temp}, RHS: arg, Pos: c.Pos})
		bind[prm.Name] = &ir.VarRef{Name: temp, T: pt}
	}

	ct := stub.Contract
	pre := ir.SubstituteVars(ct.PreOrTrue(), bind)
	preOb := tt.Obligation{
		Kind:   tt.Precondition,
		Target: p.fn.Name,
		Expr:   pre.String(),
		Site:   c.Pos,
		Note:   "requires of " + stubName,
	}
	p.obs = append(p.obs, preOb)
	out = append(out, &ir.Assert{X: pre, Ob: preOb})

	targets, err := p.t.res.ResolveFunction(stub, ct.Frame)
	if err != nil {
		return nil, nil, err
	}
	havoc := make([]ir.FrameTarget, 0, len(targets)+1)
	for _, tgt := range targets {
		havoc = append(havoc, substTarget(tgt, bind))
	}

	snap := newSnapshotter(p.fn)
	post := snap.rewrite(ir.SubstituteVars(ct.PostOrTrue(), bind))
	temps = append(temps, snap.temps()...)
	out = append(out, snap.allCaptures()...)

	if stub.Result != nil {
		rt := stub.Result.Substitute(typeSub)
		rTemp := p.fn.AddLocal(c.Callee+"_ret", rt)
		temps = append(temps, rTemp)
		havoc = append(havoc, localTarget(p.fn, rTemp))
		post = rewriteResult(post, rTemp, rt)
		out = append(out, &ir.Havoc{Targets: havoc})
		out = append(out, &ir.Assume{X: post})
		if c.Dst != nil {
			out = append(out, &ir.Assign{LHS: c.Dst, RHS: &ir.VarRef{Name: rTemp, T: rt}, Pos: c.Pos})
		}
		return out, temps, nil
	}

	if len(havoc) > 0 {
		out = append(out, &ir.Havoc{Targets: havoc})
	}
	out = append(out, &ir.Assume{X: post})
	return out, temps, nil
}

// rewriteReturns instruments every return path to assert the
// postcondition, binding the returned value to the result temporary
// first. The trailing assertion for the fall-through path is added by
// the caller; all paths share one obligation.
func rewriteReturns(stmts []ir.Stmt, post ir.Expr, resultTemp string, ob tt.Obligation) []ir.Stmt {
	var out []ir.Stmt
	for _, s := range stmts {
		switch n := s.(type) {
		case *ir.Return:
			if resultTemp != "" && n.X != nil {
				out = append(out, &ir.Assign{LHS: &ir.VarPlace{Name: resultTemp}, RHS: n.X, Pos: n.Pos})
			}
			out = append(out, &ir.Assert{X: post, Ob: ob})
			out = append(out, n)
		case *ir.If:
			out = append(out, &ir.If{
				Cond: n.Cond,
				Then: rewriteReturns(n.Then, post, resultTemp, ob),
				Else: rewriteReturns(n.Else, post, resultTemp, ob),
				Pos:  n.Pos,
			})
		case *ir.While:
			out = append(out, &ir.While{Cond: n.Cond, Body: rewriteReturns(n.Body, post, resultTemp, ob), Site: n.Site, Pos: n.Pos})
		case *ir.ForRange:
			out = append(out, &ir.ForRange{Var: n.Var, N: n.N, Body: rewriteReturns(n.Body, post, resultTemp, ob), Site: n.Site, Pos: n.Pos})
		case *ir.WithFrame:
			out = append(out, &ir.WithFrame{Targets: n.Targets, Body: rewriteReturns(n.Body, post, resultTemp, ob), Ob: n.Ob})
		default:
			out = append(out, s)
		}
	}
	return out
}

func rewriteResult(e ir.Expr, temp string, t ir.Type) ir.Expr {
	return ir.Rewrite(e, func(n ir.Expr) ir.Expr {
		if _, ok := n.(*ir.ResultRef); ok {
			return &ir.VarRef{Name: temp, T: t}
		}
		return n
	})
}

func referencesResult(e ir.Expr) bool {
	found := false
	ir.Walk(e, func(n ir.Expr) bool {
		if _, ok := n.(*ir.ResultRef); ok {
			found = true
			return false
		}
		return true
	})
	return found
}

// isPure reports whether re-evaluating the expression after a havoc
// yields the same value: only literals qualify, since any variable read
// may be invalidated by the havocked frame.
func isPure(e ir.Expr) bool {
	switch e.(type) {
	case *ir.BoolLit, *ir.IntLit:
		return true
	}
	return false
}

// localTarget describes the frame entry covering one local: whole
// object for arrays, a single address otherwise. Stores through a
// reference-typed local are deliberately not admitted; they may reach
// caller-visible state.
func localTarget(fn *ir.Function, name string) ir.FrameTarget {
	t, _ := fn.LookupVar(name)
	if t.Kind == ir.KindArray {
		return ir.FrameTarget{Kind: ir.TargetWholeObject, Obj: &ir.VarRef{Name: name, T: t}}
	}
	return ir.FrameTarget{Kind: ir.TargetAddress, Addr: &ir.AddrOf{X: &ir.VarRef{Name: name, T: t}}}
}

// substTarget rebinds a frame target from callee parameter space into
// caller expression space. A whole-object or range target whose base
// substitutes to an address expression collapses to the addressed
// location.
func substTarget(t ir.FrameTarget, bind map[string]ir.Expr) ir.FrameTarget {
	switch t.Kind {
	case ir.TargetAddress:
		return ir.FrameTarget{Kind: ir.TargetAddress, Addr: ir.SubstituteVars(t.Addr, bind)}
	case ir.TargetWholeObject:
		obj := ir.SubstituteVars(t.Obj, bind)
		if addr, ok := obj.(*ir.AddrOf); ok {
			if v, isVar := addr.X.(*ir.VarRef); isVar && v.T.Kind != ir.KindArray {
				return ir.FrameTarget{Kind: ir.TargetAddress, Addr: addr}
			}
			if v, isVar := addr.X.(*ir.VarRef); isVar {
				return ir.FrameTarget{Kind: ir.TargetWholeObject, Obj: v}
			}
			return ir.FrameTarget{Kind: ir.TargetAddress, Addr: addr}
		}
		return ir.FrameTarget{Kind: ir.TargetWholeObject, Obj: obj}
	default:
		obj := ir.SubstituteVars(t.Obj, bind)
		if addr, ok := obj.(*ir.AddrOf); ok {
			if v, isVar := addr.X.(*ir.VarRef); isVar {
				obj = v
			}
		}
		return ir.FrameTarget{
			Kind: ir.TargetRange,
			Obj:  obj,
			Base: ir.SubstituteVars(t.Base, bind),
			Len:  ir.SubstituteVars(t.Len, bind),
		}
	}
}

// dedupe drops obligations with duplicate IDs, keeping first
// occurrences in order. Return-path instrumentation shares one
// obligation across several assert sites.
func dedupe(obs []tt.Obligation) []tt.Obligation {
	seen := make(map[string]bool, len(obs))
	out := obs[:0]
	for _, o := range obs {
		if seen[o.ID()] {
			continue
		}
		seen[o.ID()] = true
		out = append(out, o)
	}
	return out
}
