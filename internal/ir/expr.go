package ir

import (
	"strconv"
	"strings"
)

// Op is a unary or binary operator. Contract expressions are pure: the
// operator set has no side effects and no calls.
type Op int

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpImplies
	OpNot
	OpNeg
)

var opStrings = []string{
	"+", "-", "*", "/", "%",
	"==", "!=", "<", "<=", ">", ">=",
	"&&", "||", "==>", "!", "-",
}

func (o Op) String() string {
	if int(o) < len(opStrings) {
		return opStrings[o]
	}
	return "?"
}

// Expr is a typed, side-effect-free expression. Expressions appear in
// contract clauses, frame targets, and on the right-hand side of
// assignments.
type Expr interface {
	exprNode()
	String() string
}

// BoolLit is a boolean constant.
type BoolLit struct{ V bool }

// IntLit is an integer constant carrying its type (Int or Uint).
type IntLit struct {
	V int64
	T Type
}

// VarRef names a parameter, local, or snapshot temporary.
type VarRef struct {
	Name string
	T    Type
}

// Unary applies OpNot or OpNeg.
type Unary struct {
	Op Op
	X  Expr
}

// Binary applies a binary operator.
type Binary struct {
	Op   Op
	X, Y Expr
}

// Index reads an array element.
type Index struct {
	X Expr // array-valued: VarRef or Deref
	I Expr
}

// Deref reads through a reference.
type Deref struct{ X Expr }

// AddrOf takes the address of a variable or array element. It occurs in
// frame targets and as an argument to reference parameters.
type AddrOf struct{ X Expr } // X is VarRef or Index

// ResultRef denotes the subprogram's return value. Valid only inside a
// postcondition.
type ResultRef struct{ T Type }

// OnEntry denotes the value of X snapshotted once, before any
// abstraction-induced mutation of the surrounding subprogram or loop.
type OnEntry struct{ X Expr }

// Prev denotes the value of X at the previous loop iteration. Using it
// additionally obligates the loop to iterate at least once.
type Prev struct{ X Expr }

// IndexRef and LenRef are the per-site bindings of an enumerable loop:
// the current iteration index and the total iteration count. Valid only
// inside that loop's invariant.
type IndexRef struct{}
type LenRef struct{}

// SnapRef reads a snapshot temporary. It never appears in source
// programs; the snapshotter rewrites OnEntry/Prev nodes into SnapRefs.
type SnapRef struct {
	Temp string
	T    Type
}

func (*BoolLit) exprNode()   {}
func (*IntLit) exprNode()    {}
func (*VarRef) exprNode()    {}
func (*Unary) exprNode()     {}
func (*Binary) exprNode()    {}
func (*Index) exprNode()     {}
func (*Deref) exprNode()     {}
func (*AddrOf) exprNode()    {}
func (*ResultRef) exprNode() {}
func (*OnEntry) exprNode()   {}
func (*Prev) exprNode()      {}
func (*IndexRef) exprNode()  {}
func (*LenRef) exprNode()    {}
func (*SnapRef) exprNode()   {}

func (e *BoolLit) String() string { return strconv.FormatBool(e.V) }
func (e *IntLit) String() string  { return strconv.FormatInt(e.V, 10) }
func (e *VarRef) String() string  { return e.Name }
func (e *Unary) String() string   { return e.Op.String() + paren(e.X) }
func (e *Binary) String() string {
	return paren(e.X) + " " + e.Op.String() + " " + paren(e.Y)
}
func (e *Index) String() string     { return paren(e.X) + "[" + e.I.String() + "]" }
func (e *Deref) String() string     { return "*" + paren(e.X) }
func (e *AddrOf) String() string    { return "&" + paren(e.X) }
func (e *ResultRef) String() string { return "result" }
func (e *OnEntry) String() string   { return "on_entry(" + e.X.String() + ")" }
func (e *Prev) String() string      { return "prev(" + e.X.String() + ")" }
func (e *IndexRef) String() string  { return "index" }
func (e *LenRef) String() string    { return "length" }
func (e *SnapRef) String() string   { return e.Temp }

func paren(e Expr) string {
	switch e.(type) {
	case *Binary:
		return "(" + e.String() + ")"
	}
	return e.String()
}

// True is the trivial precondition or invariant.
func True() Expr { return &BoolLit{V: true} }

// False blocks a path unconditionally when assumed.
func False() Expr { return &BoolLit{V: false} }

// And conjoins two expressions, dropping trivially true operands so the
// rendered obligation text stays readable and stable.
func And(a, b Expr) Expr {
	if lit, ok := a.(*BoolLit); ok && lit.V {
		return b
	}
	if lit, ok := b.(*BoolLit); ok && lit.V {
		return a
	}
	return &Binary{Op: OpAnd, X: a, Y: b}
}

// Not negates an expression, collapsing double negation.
func Not(e Expr) Expr {
	if u, ok := e.(*Unary); ok && u.Op == OpNot {
		return u.X
	}
	return &Unary{Op: OpNot, X: e}
}

// Walk calls fn for e and every sub-expression of e, stopping the
// descent into a node when fn returns false.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch n := e.(type) {
	case *Unary:
		Walk(n.X, fn)
	case *Binary:
		Walk(n.X, fn)
		Walk(n.Y, fn)
	case *Index:
		Walk(n.X, fn)
		Walk(n.I, fn)
	case *Deref:
		Walk(n.X, fn)
	case *AddrOf:
		Walk(n.X, fn)
	case *OnEntry:
		Walk(n.X, fn)
	case *Prev:
		Walk(n.X, fn)
	}
}

// Rewrite returns a copy of e with fn applied bottom-up. fn may return
// its argument unchanged.
func Rewrite(e Expr, fn func(Expr) Expr) Expr {
	if e == nil {
		return nil
	}
	switch n := e.(type) {
	case *Unary:
		return fn(&Unary{Op: n.Op, X: Rewrite(n.X, fn)})
	case *Binary:
		return fn(&Binary{Op: n.Op, X: Rewrite(n.X, fn), Y: Rewrite(n.Y, fn)})
	case *Index:
		return fn(&Index{X: Rewrite(n.X, fn), I: Rewrite(n.I, fn)})
	case *Deref:
		return fn(&Deref{X: Rewrite(n.X, fn)})
	case *AddrOf:
		return fn(&AddrOf{X: Rewrite(n.X, fn)})
	case *OnEntry:
		return fn(&OnEntry{X: Rewrite(n.X, fn)})
	case *Prev:
		return fn(&Prev{X: Rewrite(n.X, fn)})
	}
	return fn(e)
}

// SubstituteVars replaces variable references by name. Used when a
// callee contract is instantiated at a call site.
func SubstituteVars(e Expr, bind map[string]Expr) Expr {
	return Rewrite(e, func(n Expr) Expr {
		if v, ok := n.(*VarRef); ok {
			if repl, ok := bind[v.Name]; ok {
				return repl
			}
		}
		return n
	})
}

// ReferencesPrev reports whether e contains a prev(...) node.
func ReferencesPrev(e Expr) bool {
	found := false
	Walk(e, func(n Expr) bool {
		if _, ok := n.(*Prev); ok {
			found = true
			return false
		}
		return true
	})
	return found
}

// RenderList renders expressions as a comma-separated string.
func RenderList(exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}
