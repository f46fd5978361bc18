package frame

import (
	"fmt"
	"strings"

	"github.com/veristub-labs/veristub/internal/ir"
)

// Resolver turns frame specifications into the canonical target sets the
// transformers havoc and enforce. It consults the alias oracle to infer
// a write set when none is supplied and to validate a supplied one.
type Resolver struct {
	oracle Oracle
}

func NewResolver(oracle Oracle) *Resolver {
	return &Resolver{oracle: oracle}
}

// InferenceError reports that a write set had to be inferred but the
// oracle could not account for every write. Failing loudly here is
// required: quietly using an under-approximated frame would make the
// abstraction unsound.
type InferenceError struct {
	Fn     string
	Reason string
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("cannot infer write set of %q: %s; supply an explicit modifies clause", e.Fn, e.Reason)
}

// ValidationError reports a supplied frame that provably misses a write
// the oracle observed.
type ValidationError struct {
	Fn      string
	Missing ir.FrameTarget
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("frame of %q does not cover inferred write target %s", e.Fn, e.Missing)
}

// ResolveFunction resolves a function contract's frame. A nil spec means
// inference via the oracle.
func (r *Resolver) ResolveFunction(fn *ir.Function, spec *ir.FrameSpec) ([]ir.FrameTarget, error) {
	if spec == nil {
		targets, complete := r.oracle.Writes(fn.Name)
		if !complete {
			return nil, &InferenceError{Fn: fn.Name, Reason: "alias oracle reports an unaccounted write"}
		}
		return Canonicalize(targets), nil
	}
	canon := Canonicalize(spec.Targets)
	if err := r.validate(fn.Name, canon); err != nil {
		return nil, err
	}
	return canon, nil
}

// ResolveLoop resolves a loop contract's frame inside fn. Inference
// walks the loop body only; function-local writes are part of a loop's
// frame.
func (r *Resolver) ResolveLoop(fn *ir.Function, body []ir.Stmt, spec *ir.FrameSpec) ([]ir.FrameTarget, error) {
	if spec == nil {
		cgo, ok := r.oracle.(*CallGraphOracle)
		if !ok {
			return nil, &InferenceError{Fn: fn.Name, Reason: "oracle cannot infer loop write sets"}
		}
		targets, complete := cgo.InferLoopWrites(fn, body)
		if !complete {
			return nil, &InferenceError{Fn: fn.Name, Reason: "alias oracle reports an unaccounted write in the loop body"}
		}
		return Canonicalize(targets), nil
	}
	return Canonicalize(spec.Targets), nil
}

// validate checks the declared frame against the oracle's inferred write
// set. Only provable misses are errors: an inferred target whose base
// variable appears nowhere in the declared frame cannot be covered by
// it. Everything subtler is left to the dynamic frame-inclusion checks,
// which are exact.
func (r *Resolver) validate(fn string, declared []ir.FrameTarget) error {
	inferred, complete := r.oracle.Writes(fn)
	if !complete {
		// dynamic checks still enforce the declared frame exactly
		return nil
	}
	declaredBases := make(map[string]bool)
	for _, t := range declared {
		declaredBases[targetBase(t)] = true
	}
	for _, t := range inferred {
		if !declaredBases[targetBase(t)] {
			return &ValidationError{Fn: fn, Missing: t}
		}
	}
	return nil
}

// Canonicalize produces the deterministic merged form of a target set:
// duplicates removed, ranges and addresses subsumed by a whole-object
// target dropped, and overlapping or adjacent constant ranges on the
// same object merged so overlaps are never double-counted.
func Canonicalize(targets []ir.FrameTarget) []ir.FrameTarget {
	merged := mergeConstantRanges(canonical(targets))
	return merged
}

// mergeConstantRanges merges Range targets over the same object whose
// base and length are integer constants. Symbolic ranges are kept as
// written; the dynamic location set unions them anyway.
func mergeConstantRanges(targets []ir.FrameTarget) []ir.FrameTarget {
	type span struct {
		lo, hi int64 // half-open
		idx    int   // first occurrence, for ordering
	}
	spans := make(map[string][]span)
	var out []ir.FrameTarget
	kept := make([]bool, len(targets))

	for i, t := range targets {
		if t.Kind != ir.TargetRange {
			kept[i] = true
			continue
		}
		base, okB := constInt(t.Base)
		length, okL := constInt(t.Len)
		if !okB || !okL {
			kept[i] = true
			continue
		}
		obj := targetBase(t)
		spans[obj] = append(spans[obj], span{lo: base, hi: base + length, idx: i})
	}

	mergedAt := make(map[int]ir.FrameTarget)
	for obj, ss := range spans {
		// merge overlapping or adjacent spans, anchored at the earliest
		// occurrence so output order stays deterministic
		for changed := true; changed; {
			changed = false
			for i := 0; i < len(ss); i++ {
				for j := i + 1; j < len(ss); j++ {
					if ss[i].lo <= ss[j].hi && ss[j].lo <= ss[i].hi {
						if ss[j].lo < ss[i].lo {
							ss[i].lo = ss[j].lo
						}
						if ss[j].hi > ss[i].hi {
							ss[i].hi = ss[j].hi
						}
						if ss[j].idx < ss[i].idx {
							ss[i].idx = ss[j].idx
						}
						ss = append(ss[:j], ss[j+1:]...)
						changed = true
						break
					}
				}
				if changed {
					break
				}
			}
		}
		for _, s := range ss {
			orig := targets[firstRangeIndex(targets, obj)]
			mergedAt[s.idx] = ir.FrameTarget{
				Kind: ir.TargetRange,
				Obj:  orig.Obj,
				Base: &ir.IntLit{V: s.lo, T: ir.Int()},
				Len:  &ir.IntLit{V: s.hi - s.lo, T: ir.Int()},
			}
		}
	}

	for i, t := range targets {
		if kept[i] {
			out = append(out, t)
		} else if m, ok := mergedAt[i]; ok {
			out = append(out, m)
		}
	}
	return out
}

func firstRangeIndex(targets []ir.FrameTarget, obj string) int {
	for i, t := range targets {
		if t.Kind == ir.TargetRange && targetBase(t) == obj {
			return i
		}
	}
	return 0
}

func constInt(e ir.Expr) (int64, bool) {
	if lit, ok := e.(*ir.IntLit); ok {
		return lit.V, true
	}
	return 0, false
}

// Render gives the canonical printable form of a target set, used in
// obligation text so identical frames render identically across runs.
func Render(targets []ir.FrameTarget) string {
	parts := make([]string, len(targets))
	for i, t := range targets {
		parts[i] = t.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
