package parser

import (
	"github.com/veristub-labs/veristub/internal/ir"
)

// checkCalls validates every parsed call site once all signatures are
// known: callee existence, arity, type-argument count, and argument and
// destination types under the site's type substitution. Errors are
// recorded against the calling target, matching the per-target fatality
// of other specification errors.
func (p *parser) checkCalls() {
	for _, dc := range p.deferredCalls {
		p.checkOneCall(dc)
	}
	for _, dd := range p.deferredCallDsts {
		p.checkCallDst(dd)
	}
}

func (p *parser) checkOneCall(dc deferredCall) {
	defer p.recoverSpecError()
	p.fn = dc.fn
	call := dc.call

	callee, ok := p.prog.Funcs[call.Callee]
	if !ok {
		p.errf(call.Pos, "call to undefined function %q", call.Callee)
	}
	if callee.Harness {
		p.errf(call.Pos, "cannot call harness %q", call.Callee)
	}
	if len(call.Args) != len(callee.Params) {
		p.errf(call.Pos, "%q takes %d arguments, have %d", call.Callee, len(callee.Params), len(call.Args))
	}
	if len(call.TypeArgs) != len(callee.TypeParams) {
		p.errf(call.Pos, "%q takes %d type arguments, have %d", call.Callee, len(callee.TypeParams), len(call.TypeArgs))
	}

	sub := make(map[string]ir.Type, len(callee.TypeParams))
	for i, tp := range callee.TypeParams {
		sub[tp] = call.TypeArgs[i]
	}
	for i, arg := range call.Args {
		want := callee.Params[i].Type.Substitute(sub)
		have := p.exprType(arg, call.Pos)
		if !p.assignable(want, have) && !coerceLit(arg, want) {
			p.errf(call.Pos, "argument %d of %q: cannot use %s as %s", i+1, call.Callee, have, want)
		}
	}
	if call.Dst != nil && callee.Result == nil {
		p.errf(call.Pos, "%q returns nothing", call.Callee)
	}
}

func (p *parser) checkCallDst(dd deferredDst) {
	defer p.recoverSpecError()
	p.fn = dd.fn
	callee, ok := p.prog.Funcs[dd.call.Callee]
	if !ok || callee.Result == nil {
		return // already reported
	}
	sub := make(map[string]ir.Type, len(callee.TypeParams))
	for i, tp := range callee.TypeParams {
		if i < len(dd.call.TypeArgs) {
			sub[tp] = dd.call.TypeArgs[i]
		}
	}
	have := callee.Result.Substitute(sub)
	if !p.assignable(dd.dstT, have) {
		p.errf(dd.pos, "cannot assign %s result of %q to %s", have, dd.call.Callee, dd.dstT)
	}
}

// recoverSpecError converts a bailout into a recorded SpecError, and
// drops the offending function from the program so the target fails
// before any verification run.
func (p *parser) recoverSpecError() {
	r := recover()
	if r == nil {
		p.fn = nil
		return
	}
	b, ok := r.(bailout)
	if !ok {
		panic(r)
	}
	p.errs = append(p.errs, b.err)
	if b.err.Target != "" {
		delete(p.prog.Funcs, b.err.Target)
	}
	p.fn = nil
}
