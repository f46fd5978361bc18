package compat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veristub-labs/veristub/internal/ir"
	"github.com/veristub-labs/veristub/internal/parser"
)

type mapOracle map[string]bool

func (o mapOracle) Resolvable(callee string, typeArgs []ir.Type) bool { return o[callee] }

func sig(params []ir.Type, result *ir.Type, typeParams ...string) ir.Signature {
	return ir.Signature{TypeParams: typeParams, Params: params, Result: result}
}

func intp() *ir.Type {
	t := ir.Int()
	return &t
}

func TestCheckIdenticalSignatures(t *testing.T) {
	t.Parallel()

	s := sig([]ir.Type{ir.Int(), ir.RefTo(ir.Int())}, intp())
	f := Check(s, s, nil, nil, nil)
	assert.Equal(t, Ok, f.Verdict)
}

func TestCheckArityMismatch(t *testing.T) {
	t.Parallel()

	orig := sig([]ir.Type{ir.Int(), ir.Int()}, intp())
	repl := sig([]ir.Type{ir.Int()}, intp())
	f := Check(orig, repl, nil, nil, nil)
	assert.Equal(t, IncompatibleArity, f.Verdict)
	assert.Contains(t, f.Error(), "parameters")
}

func TestCheckTypeParamCountMismatch(t *testing.T) {
	t.Parallel()

	orig := sig([]ir.Type{ir.TypeParam("T")}, nil, "T")
	repl := sig([]ir.Type{ir.Int()}, nil)
	f := Check(orig, repl, []ir.Type{ir.Int()}, nil, nil)
	assert.Equal(t, IncompatibleArity, f.Verdict)
	assert.Contains(t, f.Error(), "type parameters")
}

func TestCheckParamTypeMismatch(t *testing.T) {
	t.Parallel()

	orig := sig([]ir.Type{ir.Int()}, intp())
	repl := sig([]ir.Type{ir.Bool()}, intp())
	f := Check(orig, repl, nil, nil, nil)
	assert.Equal(t, IncompatibleType, f.Verdict)
	assert.Contains(t, f.Error(), "parameter 1")
}

func TestCheckReturnMismatch(t *testing.T) {
	t.Parallel()

	orig := sig([]ir.Type{ir.Int()}, intp())
	repl := sig([]ir.Type{ir.Int()}, nil)
	f := Check(orig, repl, nil, nil, nil)
	assert.Equal(t, IncompatibleType, f.Verdict)
	assert.Contains(t, f.Error(), "return arity differs")
}

func TestCheckTypeParamNamesAreFree(t *testing.T) {
	t.Parallel()

	orig := sig([]ir.Type{ir.TypeParam("T"), ir.RefTo(ir.TypeParam("T"))}, nil, "T")
	repl := sig([]ir.Type{ir.TypeParam("U"), ir.RefTo(ir.TypeParam("U"))}, nil, "U")
	f := Check(orig, repl, []ir.Type{ir.Int()}, nil, nil)
	assert.Equal(t, Ok, f.Verdict, "positional resolution ignores names")
}

func TestCheckSubstitutedParamMismatch(t *testing.T) {
	t.Parallel()

	orig := sig([]ir.Type{ir.TypeParam("T")}, nil, "T")
	repl := sig([]ir.Type{ir.RefTo(ir.TypeParam("T"))}, nil, "T")
	f := Check(orig, repl, []ir.Type{ir.Int()}, nil, nil)
	assert.Equal(t, IncompatibleType, f.Verdict)
}

func TestCheckDispatchUsesResolvable(t *testing.T) {
	t.Parallel()

	orig := sig([]ir.Type{ir.TypeParam("T")}, nil, "T")
	repl := sig([]ir.Type{ir.TypeParam("T")}, nil, "T")
	uses := []DispatchUse{{Callee: "helper", TypeArgs: []ir.Type{ir.TypeParam("T")}}}

	f := Check(orig, repl, []ir.Type{ir.Int()}, uses, mapOracle{"helper": true})
	assert.Equal(t, Ok, f.Verdict)

	f = Check(orig, repl, []ir.Type{ir.Int()}, uses, mapOracle{"helper": false})
	assert.Equal(t, UnresolvedDispatch, f.Verdict)
	assert.Contains(t, f.Error(), `"helper"`)
}

func TestCheckDispatchUnresolvedWithoutOracle(t *testing.T) {
	t.Parallel()

	s := sig([]ir.Type{ir.TypeParam("T")}, nil, "T")
	uses := []DispatchUse{{Callee: "helper", TypeArgs: []ir.Type{ir.TypeParam("T")}}}
	f := Check(s, s, []ir.Type{ir.Int()}, uses, nil)
	assert.Equal(t, UnresolvedDispatch, f.Verdict)
}

func TestDispatchUsesExtraction(t *testing.T) {
	t.Parallel()

	prog, specErrs, err := parser.Parse("test.vst", `
fn helper[T](x T) T
requires true
ensures true
{
	return x
}

fn mono(x int) int
requires true
ensures true
{
	return x
}

fn outer[T](x T, y int)
requires true
ensures true
{
	var a T
	var b int
	a = helper[T](x)
	b = mono(y)
}
`)
	require.NoError(t, err)
	require.Empty(t, specErrs)

	outer, ok := prog.Func("outer")
	require.True(t, ok)

	uses := DispatchUses(outer)
	require.Len(t, uses, 1, "monomorphic calls resolve unconditionally")
	assert.Equal(t, "helper", uses[0].Callee)
	require.Len(t, uses[0].TypeArgs, 1)
	assert.Equal(t, ir.KindParam, uses[0].TypeArgs[0].Kind)
}

func TestDispatchUsesMonomorphicFunction(t *testing.T) {
	t.Parallel()

	prog, specErrs, err := parser.Parse("test.vst", `
fn mono(x int) int
requires true
ensures true
{
	return x
}
`)
	require.NoError(t, err)
	require.Empty(t, specErrs)

	fn, ok := prog.Func("mono")
	require.True(t, ok)
	assert.Nil(t, DispatchUses(fn))
}
