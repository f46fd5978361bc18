package ir

import (
	tt "github.com/veristub-labs/veristub/internal/types"
)

// Place is an assignable memory location expression.
type Place interface {
	placeNode()
	String() string
}

// VarPlace assigns a named variable.
type VarPlace struct{ Name string }

// IndexPlace assigns an array element. Arr names an array variable or a
// reference-typed variable pointing at an array.
type IndexPlace struct {
	Arr string
	I   Expr
}

// DerefPlace assigns through a reference-typed variable.
type DerefPlace struct{ Name string }

func (*VarPlace) placeNode()   {}
func (*IndexPlace) placeNode() {}
func (*DerefPlace) placeNode() {}

func (p *VarPlace) String() string   { return p.Name }
func (p *IndexPlace) String() string { return p.Arr + "[" + p.I.String() + "]" }
func (p *DerefPlace) String() string { return "*" + p.Name }

// Stmt is a statement of the block-structured IR. The transformers
// consume and produce statement sequences; the bounded checker executes
// them.
type Stmt interface{ stmtNode() }

// Assign stores the value of RHS into LHS.
type Assign struct {
	LHS Place
	RHS Expr
	Pos tt.Position
}

// If branches on a boolean condition.
type If struct {
	Cond Expr
	Then []Stmt
	Else []Stmt
	Pos  tt.Position
}

// While is a condition-guarded loop. Site is non-nil when the loop
// carries a contract; the loop transformer consumes the site and the
// rewritten body no longer contains it.
type While struct {
	Cond Expr
	Body []Stmt
	Site *LoopContractSite
	Pos  tt.Position
}

// ForRange is an enumerable loop: Var counts from 0 to the value of N
// (exclusive). Its invariant may bind the current index and the total
// length.
type ForRange struct {
	Var  string
	N    Expr
	Body []Stmt
	Site *LoopContractSite
	Pos  tt.Position
}

// Call invokes a program function. Dst is nil for void calls. TypeArgs
// instantiate the callee's type parameters at this site.
type Call struct {
	Dst      Place
	Callee   string
	Args     []Expr
	TypeArgs []Type
	Pos      tt.Position
}

// Return leaves the enclosing function. X is nil for void functions.
type Return struct {
	X   Expr
	Pos tt.Position
}

// Assume restricts further exploration to states satisfying X.
type Assume struct{ X Expr }

// Assert requires X to hold on all explored states. Ob identifies the
// proof obligation the assertion discharges.
type Assert struct {
	X  Expr
	Ob tt.Obligation
}

// Havoc assigns fully nondeterministic values to the locations the
// targets resolve to at execution time.
type Havoc struct{ Targets []FrameTarget }

// WithFrame executes Body with the resolved targets as the active write
// frame: every store inside Body, including stores inside nested frames,
// must land inside every enclosing frame. Ob is the frame-inclusion
// obligation failures are reported against.
type WithFrame struct {
	Targets []FrameTarget
	Body    []Stmt
	Ob      tt.Obligation
}

func (*Assign) stmtNode()    {}
func (*If) stmtNode()        {}
func (*While) stmtNode()     {}
func (*ForRange) stmtNode()  {}
func (*Call) stmtNode()      {}
func (*Return) stmtNode()    {}
func (*Assume) stmtNode()    {}
func (*Assert) stmtNode()    {}
func (*Havoc) stmtNode()     {}
func (*WithFrame) stmtNode() {}
