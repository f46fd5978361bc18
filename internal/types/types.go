package types

import "fmt"

// ObligationKind identifies which proof obligation an assert or assume
// pair was generated for. The bounded checker reports results tagged with
// this kind so a failure can always be traced back to the clause that
// produced it.
type ObligationKind int

const (
	BaseCase ObligationKind = iota
	InductiveStep
	Postcondition
	Precondition
	FrameInclusion
	StubCompatibility
	IteratesAtLeastOnce
	Unwinding
	Assertion
)

var kindNames = []string{
	"base-case",
	"inductive-step",
	"postcondition",
	"precondition",
	"frame-inclusion",
	"stub-compatibility",
	"iterates-at-least-once",
	"unwinding",
	"assertion",
}

func (k ObligationKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Position is a location in an annotated source program.
type Position struct {
	Filename string
	Line     int
	Column   int
}

func (p Position) String() string {
	if p.Filename == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d:%d", p.Filename, p.Line, p.Column)
}

func (p Position) IsValid() bool { return p.Line > 0 }

// Obligation is the unit of work handed to the bounded checker: one
// condition, one kind, one source site. Obligations are the only objects
// that cross the boundary between the transformers and the checker.
type Obligation struct {
	Kind   ObligationKind
	Target string // subprogram the obligation belongs to
	Expr   string // rendered condition
	Site   Position
	Note   string
}

// ID returns a stable identity for the obligation. Two transformation
// runs over the same annotated target must produce obligations with
// identical IDs.
func (o Obligation) ID() string {
	return fmt.Sprintf("%s/%s@%s{%s}", o.Target, o.Kind, o.Site, o.Expr)
}

// Status is the checker's verdict for a single obligation.
type Status int

const (
	StatusPass Status = iota
	StatusFail
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusFail:
		return "FAIL"
	case StatusTimeout:
		return "TIMEOUT"
	}
	return "unknown"
}

// Result pairs an obligation with its verdict. Witness holds a rendered
// counterexample environment when the obligation failed.
type Result struct {
	Obligation Obligation
	Status     Status
	Witness    string
}

// FrameIncomplete reports whether the failure means "your frame is
// incomplete" rather than "your contract is wrong".
func (r Result) FrameIncomplete() bool {
	return r.Obligation.Kind == FrameInclusion
}
