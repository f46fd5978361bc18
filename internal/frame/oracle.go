package frame

import (
	"sort"

	"github.com/veristub-labs/veristub/internal/ir"
)

// Oracle answers "which caller-visible locations may this subprogram
// write, anywhere in its call graph, including through references?".
// Implementations must be read-only after construction and computed once
// per whole-program snapshot, so concurrent transformations observe
// consistent write sets.
//
// The completeness flag is soundness-critical: when an oracle cannot
// account for every write (a callee it cannot see into, a reference it
// cannot trace), it must return complete == false, and frame inference
// must fail loudly rather than silently under-report.
type Oracle interface {
	// Writes returns frame targets expressed over fn's own parameters.
	Writes(fn string) (targets []ir.FrameTarget, complete bool)
}

// CallGraphOracle infers write sets over the IR by walking each
// function's body and composing callee write sets through call edges.
type CallGraphOracle struct {
	prog *ir.Program
	memo map[string]inferred
}

type inferred struct {
	targets  []ir.FrameTarget
	complete bool
}

// NewCallGraphOracle analyzes the whole program eagerly. The returned
// oracle never touches the program again.
func NewCallGraphOracle(prog *ir.Program) *CallGraphOracle {
	o := &CallGraphOracle{prog: prog, memo: make(map[string]inferred, len(prog.Funcs))}
	onStack := make(map[string]bool)
	for _, name := range prog.Names() {
		o.infer(name, onStack)
	}
	return o
}

func (o *CallGraphOracle) Writes(fn string) ([]ir.FrameTarget, bool) {
	inf, ok := o.memo[fn]
	if !ok {
		return nil, false
	}
	return inf.targets, inf.complete
}

func (o *CallGraphOracle) infer(name string, onStack map[string]bool) inferred {
	if inf, ok := o.memo[name]; ok {
		return inf
	}
	if onStack[name] {
		// recursive cycle: cannot bound the write set
		return inferred{complete: false}
	}
	fn, ok := o.prog.Funcs[name]
	if !ok {
		return inferred{complete: false}
	}
	onStack[name] = true
	w := newWriteCollector(o, fn, onStack)
	w.block(fn.Body)
	delete(onStack, name)

	// keep only caller-visible targets: writes through reference-typed
	// parameters; everything else is local storage
	var visible []ir.FrameTarget
	for _, t := range w.targets {
		base := targetBase(t)
		if isRefParam(fn, base) {
			visible = append(visible, t)
		}
	}
	inf := inferred{targets: canonical(visible), complete: w.complete}
	o.memo[name] = inf
	return inf
}

// InferLoopWrites infers the write set of one loop body, relative to the
// enclosing function: locals count as writes here, since a loop frame
// havocs function-local state too.
func (o *CallGraphOracle) InferLoopWrites(fn *ir.Function, body []ir.Stmt) ([]ir.FrameTarget, bool) {
	w := newWriteCollector(o, fn, map[string]bool{fn.Name: true})
	w.localsVisible = true
	w.block(body)
	return canonical(w.targets), w.complete
}

type writeCollector struct {
	oracle        *CallGraphOracle
	fn            *ir.Function
	onStack       map[string]bool
	localsVisible bool
	targets       []ir.FrameTarget
	complete      bool
}

func newWriteCollector(o *CallGraphOracle, fn *ir.Function, onStack map[string]bool) *writeCollector {
	return &writeCollector{oracle: o, fn: fn, onStack: onStack, complete: true}
}

func (w *writeCollector) block(stmts []ir.Stmt) {
	for _, s := range stmts {
		w.stmt(s)
	}
}

func (w *writeCollector) stmt(s ir.Stmt) {
	switch n := s.(type) {
	case *ir.Assign:
		w.place(n.LHS)
	case *ir.If:
		w.block(n.Then)
		w.block(n.Else)
	case *ir.While:
		w.block(n.Body)
	case *ir.ForRange:
		w.add(addrTarget(n.Var))
		w.block(n.Body)
	case *ir.Call:
		w.call(n)
	case *ir.Havoc:
		w.targets = append(w.targets, n.Targets...)
	case *ir.WithFrame:
		w.block(n.Body)
	}
}

func (w *writeCollector) place(p ir.Place) {
	switch n := p.(type) {
	case *ir.VarPlace:
		w.add(addrTarget(n.Name))
	case *ir.IndexPlace:
		// index may be arbitrary: cover the whole object
		w.add(wholeTarget(w.fn, n.Arr))
	case *ir.DerefPlace:
		t, _ := w.fn.LookupVar(n.Name)
		if !isRefParam(w.fn, n.Name) && !w.paramAliasFree(n.Name) {
			// write through a reference-typed local whose pointee we
			// cannot trace: under-reporting here would be unsound
			w.complete = false
			return
		}
		w.add(ir.FrameTarget{Kind: ir.TargetWholeObject, Obj: &ir.VarRef{Name: n.Name, T: t}})
	}
}

// paramAliasFree reports whether a reference-typed local is known to
// point only at function-local storage. Without value tracking the only
// safe answer is false.
func (w *writeCollector) paramAliasFree(string) bool { return false }

func (w *writeCollector) call(c *ir.Call) {
	if c.Dst != nil {
		w.place(c.Dst)
	}
	callee, ok := w.oracle.prog.Funcs[c.Callee]
	if !ok {
		w.complete = false
		return
	}
	if w.onStack[c.Callee] {
		w.complete = false
		return
	}
	inf := w.oracle.infer(c.Callee, w.onStack)
	if !inf.complete {
		w.complete = false
	}
	// rebind callee targets to caller expressions
	bind := make(map[string]ir.Expr, len(callee.Params))
	for i, p := range callee.Params {
		if i < len(c.Args) {
			bind[p.Name] = c.Args[i]
		}
	}
	for _, t := range inf.targets {
		rt, ok := rebindTarget(t, bind, w.fn)
		if !ok {
			w.complete = false
			continue
		}
		if rt != nil {
			w.targets = append(w.targets, *rt)
		}
	}
}

// rebindTarget maps a callee-relative frame target onto the caller's
// frame. A nil result with ok means the write lands in storage local to
// the caller (or deeper) and is therefore not a caller-visible target.
func rebindTarget(t ir.FrameTarget, bind map[string]ir.Expr, caller *ir.Function) (*ir.FrameTarget, bool) {
	base := targetBase(t)
	arg, ok := bind[base]
	if !ok {
		return nil, false
	}
	switch a := arg.(type) {
	case *ir.VarRef:
		// reference forwarded as-is: retarget onto the caller variable
		rt := t
		sub := map[string]ir.Expr{base: a}
		rt = substituteTarget(rt, sub)
		return &rt, true
	case *ir.AddrOf:
		// &local or &param: the write lands in the caller's own frame
		if v, ok := a.X.(*ir.VarRef); ok {
			rt := retargetWhole(t, v)
			return rt, true
		}
		return nil, false
	default:
		return nil, false
	}
}

// retargetWhole maps any callee target through &v to a target on v
// itself.
func retargetWhole(t ir.FrameTarget, v *ir.VarRef) *ir.FrameTarget {
	switch t.Kind {
	case ir.TargetWholeObject, ir.TargetAddress:
		if v.T.Kind == ir.KindArray {
			return &ir.FrameTarget{Kind: ir.TargetWholeObject, Obj: v}
		}
		return &ir.FrameTarget{Kind: ir.TargetAddress, Addr: &ir.AddrOf{X: v}}
	case ir.TargetRange:
		return &ir.FrameTarget{Kind: ir.TargetWholeObject, Obj: v}
	}
	return nil
}

func substituteTarget(t ir.FrameTarget, sub map[string]ir.Expr) ir.FrameTarget {
	out := t
	if t.Addr != nil {
		out.Addr = ir.SubstituteVars(t.Addr, sub)
	}
	if t.Obj != nil {
		out.Obj = ir.SubstituteVars(t.Obj, sub)
	}
	if t.Base != nil {
		out.Base = ir.SubstituteVars(t.Base, sub)
	}
	if t.Len != nil {
		out.Len = ir.SubstituteVars(t.Len, sub)
	}
	return out
}

func (w *writeCollector) add(t ir.FrameTarget) {
	w.targets = append(w.targets, t)
}

func addrTarget(name string) ir.FrameTarget {
	return ir.FrameTarget{Kind: ir.TargetAddress, Addr: &ir.AddrOf{X: &ir.VarRef{Name: name}}}
}

func wholeTarget(fn *ir.Function, name string) ir.FrameTarget {
	t, _ := fn.LookupVar(name)
	return ir.FrameTarget{Kind: ir.TargetWholeObject, Obj: &ir.VarRef{Name: name, T: t}}
}

// targetBase returns the variable a frame target is rooted at.
func targetBase(t ir.FrameTarget) string {
	var root ir.Expr
	switch t.Kind {
	case ir.TargetAddress:
		root = t.Addr
	default:
		root = t.Obj
	}
	name := ""
	ir.Walk(root, func(e ir.Expr) bool {
		if v, ok := e.(*ir.VarRef); ok && name == "" {
			name = v.Name
		}
		return true
	})
	return name
}

func isRefParam(fn *ir.Function, name string) bool {
	for _, p := range fn.Params {
		if p.Name == name {
			return p.Type.Kind == ir.KindRef
		}
	}
	return false
}

// canonical dedupes targets by rendered form, keeping first-occurrence
// order, then drops targets already covered by a whole-object entry on
// the same base.
func canonical(targets []ir.FrameTarget) []ir.FrameTarget {
	seen := make(map[string]bool)
	whole := make(map[string]bool)
	var out []ir.FrameTarget
	for _, t := range targets {
		if t.Kind == ir.TargetWholeObject {
			whole[targetBase(t)] = true
		}
	}
	for _, t := range targets {
		key := t.String()
		if seen[key] {
			continue
		}
		if t.Kind != ir.TargetWholeObject && whole[targetBase(t)] && coveredByWhole(t) {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

// coveredByWhole reports whether a non-whole target is subsumed by a
// whole-object target on the same base: any range, and any address of an
// element of that base.
func coveredByWhole(t ir.FrameTarget) bool {
	switch t.Kind {
	case ir.TargetRange:
		return true
	case ir.TargetAddress:
		if a, ok := t.Addr.(*ir.AddrOf); ok {
			if _, isIdx := a.X.(*ir.Index); isIdx {
				return true
			}
		}
	}
	return false
}

// SortedBases lists the distinct base variables of a target set, for
// diagnostics.
func SortedBases(targets []ir.FrameTarget) []string {
	set := make(map[string]bool)
	for _, t := range targets {
		set[targetBase(t)] = true
	}
	out := make([]string, 0, len(set))
	for b := range set {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}
