package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExprString(t *testing.T) {
	t.Parallel()

	x := &VarRef{Name: "x", T: Int()}
	a := &VarRef{Name: "a", T: ArrayOf(Int(), 4)}

	tests := []struct {
		expr Expr
		want string
	}{
		{&BoolLit{V: true}, "true"},
		{&IntLit{V: -7, T: Int()}, "-7"},
		{x, "x"},
		{&Binary{Op: OpAdd, X: x, Y: &IntLit{V: 1, T: Int()}}, "x + 1"},
		{&Binary{Op: OpAnd,
			X: &Binary{Op: OpGe, X: x, Y: &IntLit{T: Int()}},
			Y: &Binary{Op: OpLt, X: x, Y: &IntLit{V: 8, T: Int()}},
		}, "(x >= 0) && (x < 8)"},
		{&Unary{Op: OpNot, X: &Binary{Op: OpEq, X: x, Y: x}}, "!(x == x)"},
		{&Index{X: a, I: x}, "a[x]"},
		{&AddrOf{X: &Index{X: a, I: x}}, "&a[x]"},
		{&Deref{X: &VarRef{Name: "p", T: RefTo(Int())}}, "*p"},
		{&OnEntry{X: x}, "on_entry(x)"},
		{&Prev{X: x}, "prev(x)"},
		{&ResultRef{T: Int()}, "result"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.expr.String())
	}
}

func TestSubstituteVars(t *testing.T) {
	t.Parallel()

	e := &Binary{Op: OpGt,
		X: &VarRef{Name: "x", T: Int()},
		Y: &VarRef{Name: "y", T: Int()},
	}
	got := SubstituteVars(e, map[string]Expr{"x": &IntLit{V: 3, T: Int()}})

	assert.Equal(t, "3 > y", got.String())
	assert.Equal(t, "x > y", e.String(), "rewrite must not mutate the original")
}

func TestAndDropsTrivialOperands(t *testing.T) {
	t.Parallel()

	x := &VarRef{Name: "x", T: Bool()}
	assert.Equal(t, "x", And(True(), x).String())
	assert.Equal(t, "x", And(x, True()).String())
	assert.Equal(t, "x && x", And(x, x).String())
}

func TestNotCollapsesDoubleNegation(t *testing.T) {
	t.Parallel()

	x := &VarRef{Name: "x", T: Bool()}
	assert.Equal(t, "!x", Not(x).String())
	assert.Equal(t, "x", Not(Not(x)).String())
}

func TestReferencesPrev(t *testing.T) {
	t.Parallel()

	x := &VarRef{Name: "x", T: Int()}
	assert.False(t, ReferencesPrev(&OnEntry{X: x}))
	assert.True(t, ReferencesPrev(&Binary{Op: OpLt, X: x, Y: &Prev{X: x}}))
}

func TestTypeOf(t *testing.T) {
	t.Parallel()

	p := &VarRef{Name: "p", T: RefTo(ArrayOf(Int(), 3))}

	assert.Equal(t, Bool(), TypeOf(&Unary{Op: OpNot, X: &BoolLit{}}))
	assert.Equal(t, Int(), TypeOf(&Binary{Op: OpAdd, X: &IntLit{T: Int()}, Y: &IntLit{T: Int()}}))
	assert.Equal(t, Bool(), TypeOf(&Binary{Op: OpLt, X: &IntLit{T: Int()}, Y: &IntLit{T: Int()}}))
	assert.Equal(t, Int(), TypeOf(&Index{X: p, I: &IntLit{T: Int()}}))
	assert.Equal(t, ArrayOf(Int(), 3), TypeOf(&Deref{X: p}))
	assert.Equal(t, RefTo(Int()), TypeOf(&AddrOf{X: &VarRef{Name: "x", T: Int()}}))
}

func TestFunctionAddLocalIsFresh(t *testing.T) {
	t.Parallel()

	fn := &Function{
		Name:   "f",
		Params: []Param{{Name: "x", Type: Int()}},
	}

	first := fn.AddLocal("x", Int())
	second := fn.AddLocal("x", Int())

	assert.NotEqual(t, "x", first)
	assert.NotEqual(t, first, second)

	_, ok := fn.LookupVar(first)
	assert.True(t, ok)
}

func TestFunctionCloneIsolatesBody(t *testing.T) {
	t.Parallel()

	fn := &Function{
		Name: "f",
		Body: []Stmt{
			&Assign{LHS: &VarPlace{Name: "x"}, RHS: &IntLit{V: 1, T: Int()}},
			&If{Cond: True(), Then: []Stmt{&Return{}}},
		},
	}

	cp := fn.Clone()
	cp.Body[0].(*Assign).RHS = &IntLit{V: 2, T: Int()}
	cp.Body = append(cp.Body, &Return{})

	require.Len(t, fn.Body, 2)
	assert.Equal(t, "1", fn.Body[0].(*Assign).RHS.String())
}

func TestProgramContractedAndHarnesses(t *testing.T) {
	t.Parallel()

	prog := NewProgram("test.vst")
	prog.Funcs["b"] = &Function{Name: "b", Contract: &Contract{Owner: "b"}}
	prog.Funcs["a"] = &Function{Name: "a", Contract: &Contract{Owner: "a"}}
	prog.Funcs["plain"] = &Function{Name: "plain"}
	prog.Funcs["h"] = &Function{Name: "h", Harness: true}

	assert.Equal(t, []string{"a", "b"}, prog.Contracted(), "sorted for determinism")
	assert.Equal(t, []string{"h"}, prog.Harnesses())
}
