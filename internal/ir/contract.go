package ir

import (
	"strings"

	tt "github.com/veristub-labs/veristub/internal/types"
)

// FrameTargetKind enumerates the supported frame descriptor forms.
type FrameTargetKind int

const (
	// TargetAddress is a single resolved memory location. No aliasing
	// is implied: &x covers x and nothing else.
	TargetAddress FrameTargetKind = iota
	// TargetWholeObject covers the entire allocation reachable from a
	// reference (or named array).
	TargetWholeObject
	// TargetRange covers a contiguous span of array elements, given as
	// base index and length.
	TargetRange
)

// FrameTarget is one entry of a frame clause. For TargetAddress, Addr is
// an address-valued expression (&x, &a[i]). For TargetWholeObject, Obj
// names the reference or array. For TargetRange, Obj is the array, Base
// the first index and Len the element count; both are evaluated at
// verification time.
type FrameTarget struct {
	Kind FrameTargetKind
	Addr Expr // TargetAddress
	Obj  Expr // TargetWholeObject, TargetRange: VarRef
	Base Expr // TargetRange
	Len  Expr // TargetRange
}

func (t FrameTarget) String() string {
	switch t.Kind {
	case TargetAddress:
		return t.Addr.String()
	case TargetWholeObject:
		return t.Obj.String()
	case TargetRange:
		return t.Obj.String() + "[" + t.Base.String() + " ..+ " + t.Len.String() + "]"
	}
	return "?"
}

// FrameSpec is an ordered set of frame targets. A nil *FrameSpec on a
// contract means "infer the write set from the alias oracle"; an empty
// spec means "writes nothing".
type FrameSpec struct {
	Targets []FrameTarget
	Pos     tt.Position
}

func (s *FrameSpec) String() string {
	if s == nil {
		return "<inferred>"
	}
	parts := make([]string, len(s.Targets))
	for i, t := range s.Targets {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

// Contract is the behavioral contract of a function: precondition,
// postcondition and frame. Pre or Post may be nil, meaning true. The
// postcondition type-checks against the owner's own parameter and return
// types, never against a stub's.
type Contract struct {
	Pre   Expr
	Post  Expr
	Frame *FrameSpec
	Owner string
	Pos   tt.Position
}

// PreOrTrue returns the precondition, defaulting to true.
func (c *Contract) PreOrTrue() Expr {
	if c == nil || c.Pre == nil {
		return True()
	}
	return c.Pre
}

// PostOrTrue returns the postcondition, defaulting to true.
func (c *Contract) PostOrTrue() Expr {
	if c == nil || c.Post == nil {
		return True()
	}
	return c.Post
}

// HistoricName selects which snapshot discipline a historic binding uses.
type HistoricName int

const (
	// SnapOnEntry captures once, before any abstraction-induced
	// mutation.
	SnapOnEntry HistoricName = iota
	// SnapPrev captures once per loop iteration and additionally forces
	// the loop to iterate at least once.
	SnapPrev
)

func (h HistoricName) String() string {
	if h == SnapOnEntry {
		return "on_entry"
	}
	return "prev"
}

// HistoricBinding associates a snapshot temporary with the expression it
// captures. Bindings are produced by the snapshotter, not the parser.
type HistoricBinding struct {
	Name HistoricName
	Expr Expr
	Temp string
	Type Type
}

// LoopContractSite is the annotation attached to one loop. It is created
// when the annotated loop is reached during transformation, consumed
// immediately by the loop transformer, and not retained afterward.
type LoopContractSite struct {
	Invariant Expr
	Frame     *FrameSpec
	Historic  []HistoricBinding
	Pos       tt.Position
}
