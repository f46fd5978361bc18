// Package compat validates that a replacement (stub) and the subprogram
// it replaces can be substituted for one another at a concrete use site:
// matching arity, matching return and parameter types, a 1:1 resolution
// of type parameters, and resolvable dispatch for every bound-dependent
// call inside the replacement. The check is static, not merely
// syntactic, and runs before either transformer substitutes code, so an
// incompatibility is reported once per offending pairing rather than
// once per expanded instantiation.
package compat

import (
	"fmt"

	"github.com/veristub-labs/veristub/internal/ir"
)

// Verdict classifies the outcome of a compatibility check.
type Verdict int

const (
	Ok Verdict = iota
	IncompatibleArity
	IncompatibleType
	UnresolvedDispatch
)

func (v Verdict) String() string {
	switch v {
	case Ok:
		return "ok"
	case IncompatibleArity:
		return "incompatible-arity"
	case IncompatibleType:
		return "incompatible-type"
	case UnresolvedDispatch:
		return "unresolved-dispatch"
	}
	return "unknown"
}

// Finding is the result of one check: the verdict plus enough detail to
// name the offending parameter or call.
type Finding struct {
	Verdict Verdict
	Detail  string
}

func (f Finding) Error() string { return fmt.Sprintf("%s: %s", f.Verdict, f.Detail) }

func ok() Finding { return Finding{Verdict: Ok} }

// DispatchUse is a call inside a replacement body whose resolution
// depends on the instantiation of the replacement's type parameters.
type DispatchUse struct {
	Callee   string
	TypeArgs []ir.Type
}

// DispatchOracle answers whether a bound-dependent call is resolvable
// once type parameters have been substituted with concrete types. The
// checker queries it once per call site.
type DispatchOracle interface {
	Resolvable(callee string, typeArgs []ir.Type) bool
}

// Check compares an original signature against a replacement at the
// concrete type arguments used at one call site.
//
// Arity and return type must be identical; each parameter type must
// match the corresponding original parameter type; type parameters must
// resolve 1:1 in count, names free. Trait-style bounds need not match
// syntactically: instead every dispatch use inside the replacement is
// checked for resolvability at the concrete type arguments, and an
// unresolvable one is a hard error for this pairing.
func Check(orig, repl ir.Signature, typeArgs []ir.Type, uses []DispatchUse, oracle DispatchOracle) Finding {
	if len(orig.Params) != len(repl.Params) {
		return Finding{
			Verdict: IncompatibleArity,
			Detail:  fmt.Sprintf("original takes %d parameters, replacement takes %d", len(orig.Params), len(repl.Params)),
		}
	}
	if len(orig.TypeParams) != len(repl.TypeParams) {
		return Finding{
			Verdict: IncompatibleArity,
			Detail:  fmt.Sprintf("original has %d type parameters, replacement has %d", len(orig.TypeParams), len(repl.TypeParams)),
		}
	}
	if len(typeArgs) != len(repl.TypeParams) {
		return Finding{
			Verdict: IncompatibleArity,
			Detail:  fmt.Sprintf("%d type arguments supplied for %d type parameters", len(typeArgs), len(repl.TypeParams)),
		}
	}

	// type parameters resolve positionally; names may differ
	origSub := substitution(orig.TypeParams, typeArgs)
	replSub := substitution(repl.TypeParams, typeArgs)

	for i := range orig.Params {
		want := orig.Params[i].Substitute(origSub)
		have := repl.Params[i].Substitute(replSub)
		if !want.Equal(have) {
			return Finding{
				Verdict: IncompatibleType,
				Detail:  fmt.Sprintf("parameter %d: original %s, replacement %s", i+1, want, have),
			}
		}
	}

	switch {
	case orig.Result == nil && repl.Result == nil:
	case orig.Result == nil || repl.Result == nil:
		return Finding{Verdict: IncompatibleType, Detail: "return arity differs"}
	default:
		want := orig.Result.Substitute(origSub)
		have := repl.Result.Substitute(replSub)
		if !want.Equal(have) {
			return Finding{
				Verdict: IncompatibleType,
				Detail:  fmt.Sprintf("return type: original %s, replacement %s", want, have),
			}
		}
	}

	for _, use := range uses {
		concrete := make([]ir.Type, len(use.TypeArgs))
		unresolved := false
		for i, at := range use.TypeArgs {
			concrete[i] = at.Substitute(replSub)
			if concrete[i].Kind == ir.KindParam {
				unresolved = true
			}
		}
		if unresolved || oracle == nil || !oracle.Resolvable(use.Callee, concrete) {
			return Finding{
				Verdict: UnresolvedDispatch,
				Detail:  fmt.Sprintf("call to %q is not resolvable at type arguments %s", use.Callee, renderTypes(concrete)),
			}
		}
	}
	return ok()
}

// DispatchUses extracts the bound-dependent calls of a function body:
// calls whose argument types mention one of the function's type
// parameters. Monomorphic calls resolve unconditionally and are skipped.
func DispatchUses(fn *ir.Function) []DispatchUse {
	if len(fn.TypeParams) == 0 {
		return nil
	}
	params := make(map[string]bool, len(fn.TypeParams))
	for _, tp := range fn.TypeParams {
		params[tp] = true
	}
	var uses []DispatchUse
	var walk func([]ir.Stmt)
	walk = func(stmts []ir.Stmt) {
		for _, s := range stmts {
			switch n := s.(type) {
			case *ir.Call:
				if dependsOnParams(n, params) {
					uses = append(uses, DispatchUse{Callee: n.Callee, TypeArgs: append([]ir.Type(nil), n.TypeArgs...)})
				}
			case *ir.If:
				walk(n.Then)
				walk(n.Else)
			case *ir.While:
				walk(n.Body)
			case *ir.ForRange:
				walk(n.Body)
			case *ir.WithFrame:
				walk(n.Body)
			}
		}
	}
	walk(fn.Body)
	return uses
}

func dependsOnParams(c *ir.Call, params map[string]bool) bool {
	for _, ta := range c.TypeArgs {
		if mentionsParam(ta, params) {
			return true
		}
	}
	return false
}

func mentionsParam(t ir.Type, params map[string]bool) bool {
	switch t.Kind {
	case ir.KindParam:
		return params[t.Name]
	case ir.KindRef, ir.KindArray:
		return mentionsParam(*t.Elem, params)
	}
	return false
}

func substitution(names []string, args []ir.Type) map[string]ir.Type {
	sub := make(map[string]ir.Type, len(names))
	for i, n := range names {
		if i < len(args) {
			sub[n] = args[i]
		}
	}
	return sub
}

func renderTypes(ts []ir.Type) string {
	s := "["
	for i, t := range ts {
		if i > 0 {
			s += ", "
		}
		s += t.String()
	}
	return s + "]"
}
