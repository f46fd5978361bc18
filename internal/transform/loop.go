package transform

import (
	"github.com/veristub-labs/veristub/internal/frame"
	"github.com/veristub-labs/veristub/internal/ir"
	tt "github.com/veristub-labs/veristub/internal/types"
)

// transformWhile abstracts one annotated condition loop into base case
// plus a single arbitrary iteration:
//
//	captures; assert(inv); havoc(frame); assume(inv);
//	if guard { body; assert(inv); assume(false) }
//
// The path after the if models loop exit and carries inv && !guard.
// Historic captures run before the havoc: on_entry once for the base
// case, prev per traversal of the inductive branch, which in the
// abstracted program is the same point.
func (p *pass) transformWhile(n *ir.While) ([]ir.Stmt, []string, error) {
	site := n.Site
	targets, err := p.t.res.ResolveLoop(p.fn, n.Body, site.Frame)
	if err != nil {
		return nil, nil, err
	}
	body, innerTemps, err := p.block(n.Body)
	if err != nil {
		return nil, nil, err
	}

	snap := newSnapshotter(p.fn)
	inv := snap.rewrite(site.Invariant)

	out := snap.allCaptures()
	out = append(out, p.baseAndIterate(inv, n.Cond, snap, site)...)
	out = append(out, &ir.Havoc{Targets: targets})
	out = append(out, &ir.Assume{X: inv})

	enforced := p.enforcedTargets(targets, innerTemps)
	out = append(out, &ir.If{
		Cond: n.Cond,
		Then: p.inductiveBranch(ir.CloneStmts(body), enforced, targets, inv, site),
		Pos:  n.Pos,
	})
	return out, append(snap.temps(), innerTemps...), nil
}

// transformFor abstracts one annotated enumerable loop. The iteration
// count is captured once, the index is zeroed for the base case and
// havocked within bounds for the inductive step, and the invariant sees
// the index and count through its per-site bindings.
func (p *pass) transformFor(n *ir.ForRange) ([]ir.Stmt, []string, error) {
	site := n.Site
	targets, err := p.t.res.ResolveLoop(p.fn, n.Body, site.Frame)
	if err != nil {
		return nil, nil, err
	}
	body, innerTemps, err := p.block(n.Body)
	if err != nil {
		return nil, nil, err
	}

	nt := ir.TypeOf(n.N)
	iRef := &ir.VarRef{Name: n.Var, T: nt}
	lenTemp := p.fn.AddLocal(n.Var+"_len", nt)
	lenRef := &ir.VarRef{Name: lenTemp, T: nt}
	guard := &ir.Binary{Op: ir.OpLt, X: iRef, Y: lenRef}
	zero := &ir.IntLit{V: 0, T: nt}
	one := &ir.IntLit{V: 1, T: nt}

	snap := newSnapshotter(p.fn)
	inv := snap.rewrite(bindEnumerable(site.Invariant, iRef, lenRef))

	out := []ir.Stmt{
		&ir.Assign{LHS: &ir.VarPlace{Name: lenTemp}, RHS: n.N, Pos: n.Pos},
		&ir.Assign{LHS: &ir.VarPlace{Name: n.Var}, RHS: zero, Pos: n.Pos},
	}
	out = append(out, snap.allCaptures()...)
	atLeastOnce := &ir.Binary{Op: ir.OpGt, X: lenRef, Y: zero}
	out = append(out, p.baseAndIterate(inv, atLeastOnce, snap, site)...)

	havoc := append(append([]ir.FrameTarget(nil), targets...), localTarget(p.fn, n.Var))
	out = append(out, &ir.Havoc{Targets: havoc})
	out = append(out, &ir.Assume{X: ir.And(inv, &ir.Binary{Op: ir.OpLe, X: iRef, Y: lenRef})})

	step := append(ir.CloneStmts(body), &ir.Assign{
		LHS: &ir.VarPlace{Name: n.Var},
		RHS: &ir.Binary{Op: ir.OpAdd, X: iRef, Y: one},
		Pos: n.Pos,
	})
	enforced := p.enforcedTargets(havoc, innerTemps)
	out = append(out, &ir.If{
		Cond: guard,
		Then: p.inductiveBranch(step, enforced, targets, inv, site),
		Pos:  n.Pos,
	})
	temps := append(snap.temps(), lenTemp, n.Var)
	return out, append(temps, innerTemps...), nil
}

// baseAndIterate emits the base-case assertion and, when the invariant
// reads prev, the obligation that the loop iterates at least once.
func (p *pass) baseAndIterate(inv, entered ir.Expr, snap *snapshotter, site *ir.LoopContractSite) []ir.Stmt {
	baseOb := tt.Obligation{
		Kind:   tt.BaseCase,
		Target: p.fn.Name,
		Expr:   site.Invariant.String(),
		Site:   site.Pos,
		Note:   "loop invariant holds on entry",
	}
	p.obs = append(p.obs, baseOb)
	out := []ir.Stmt{&ir.Assert{X: inv, Ob: baseOb}}
	if snap.usesPrev() {
		iterOb := tt.Obligation{
			Kind:   tt.IteratesAtLeastOnce,
			Target: p.fn.Name,
			Expr:   entered.String(),
			Site:   site.Pos,
			Note:   "prev in the invariant requires at least one iteration",
		}
		p.obs = append(p.obs, iterOb)
		out = append(out, &ir.Assert{X: entered, Ob: iterOb})
	}
	return out
}

// inductiveBranch wraps one arbitrary iteration: the body runs under
// the loop frame, the invariant is re-asserted, and the path is blocked
// so induction replaces unrolling.
func (p *pass) inductiveBranch(body []ir.Stmt, enforced, declared []ir.FrameTarget, inv ir.Expr, site *ir.LoopContractSite) []ir.Stmt {
	frameOb := tt.Obligation{
		Kind:   tt.FrameInclusion,
		Target: p.fn.Name,
		Expr:   frame.Render(declared),
		Site:   site.Pos,
		Note:   "loop writes stay inside the declared frame",
	}
	indOb := tt.Obligation{
		Kind:   tt.InductiveStep,
		Target: p.fn.Name,
		Expr:   site.Invariant.String(),
		Site:   site.Pos,
		Note:   "loop invariant is preserved by an arbitrary iteration",
	}
	p.obs = append(p.obs, frameOb, indOb)
	return []ir.Stmt{
		&ir.WithFrame{Targets: enforced, Body: body, Ob: frameOb},
		&ir.Assert{X: inv, Ob: indOb},
		&ir.Assume{X: ir.False()},
	}
}

// enforcedTargets extends the resolved loop frame with the temporaries
// nested instrumentation assigns inside the branch, so the frame check
// holds the program's own stores, not the transformer's, against the
// declared targets.
func (p *pass) enforcedTargets(targets []ir.FrameTarget, innerTemps []string) []ir.FrameTarget {
	out := append([]ir.FrameTarget(nil), targets...)
	for _, temp := range innerTemps {
		out = append(out, localTarget(p.fn, temp))
	}
	return frame.Canonicalize(out)
}

// bindEnumerable substitutes the per-site index and length bindings of
// an enumerable loop invariant.
func bindEnumerable(e ir.Expr, index, length ir.Expr) ir.Expr {
	return ir.Rewrite(e, func(n ir.Expr) ir.Expr {
		switch n.(type) {
		case *ir.IndexRef:
			return index
		case *ir.LenRef:
			return length
		}
		return n
	})
}
