package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veristub-labs/veristub/internal/ir"
	"github.com/veristub-labs/veristub/internal/parser"
)

func load(t *testing.T, src string) *ir.Program {
	t.Helper()
	prog, specErrs, err := parser.Parse("test.vst", src)
	require.NoError(t, err)
	require.Empty(t, specErrs)
	return prog
}

func TestOracleInfersRefParamWrites(t *testing.T) {
	t.Parallel()

	prog := load(t, `
fn bump(p &int, q &int)
ensures true
{
	*p = *p + 1
	var tmp int
	tmp = *q
}
`)
	oracle := NewCallGraphOracle(prog)

	targets, complete := oracle.Writes("bump")
	require.True(t, complete)
	require.Len(t, targets, 1, "reads and local writes are not caller-visible")
	assert.Equal(t, "p", targets[0].String())
}

func TestOracleComposesThroughCalls(t *testing.T) {
	t.Parallel()

	prog := load(t, `
fn inner(p &int)
ensures true
{
	*p = 0
}

fn outer(q &int)
ensures true
{
	inner(q)
}
`)
	oracle := NewCallGraphOracle(prog)

	targets, complete := oracle.Writes("outer")
	require.True(t, complete)
	require.Len(t, targets, 1)
	assert.Equal(t, "q", targets[0].String())
}

func TestOracleIncompleteOnRecursion(t *testing.T) {
	t.Parallel()

	prog := load(t, `
fn loopy(p &int)
ensures true
{
	*p = 1
	loopy(p)
}
`)
	oracle := NewCallGraphOracle(prog)

	_, complete := oracle.Writes("loopy")
	assert.False(t, complete)
}

func TestResolveFunctionInfersWhenSpecOmitted(t *testing.T) {
	t.Parallel()

	prog := load(t, `
fn set(p &int)
ensures *p == 1
{
	*p = 1
}
`)
	res := NewResolver(NewCallGraphOracle(prog))
	fn, _ := prog.Func("set")

	targets, err := res.ResolveFunction(fn, nil)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "p", targets[0].String())
}

func TestResolveFunctionRejectsMissingTarget(t *testing.T) {
	t.Parallel()

	prog := load(t, `
fn set_both(p &int, q &int)
modifies p
ensures true
{
	*p = 1
	*q = 2
}
`)
	res := NewResolver(NewCallGraphOracle(prog))
	fn, _ := prog.Func("set_both")

	_, err := res.ResolveFunction(fn, fn.Contract.Frame)
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "q", ve.Missing.String())
}

func TestResolveLoopInfersLocals(t *testing.T) {
	t.Parallel()

	prog := load(t, `
fn count(n int) int
ensures true
{
	var i int
	var s int
	while i < n
	invariant true
	{
		i = i + 1
		s = s + i
	}
	return s
}
`)
	res := NewResolver(NewCallGraphOracle(prog))
	fn, _ := prog.Func("count")
	loop := fn.Body[0].(*ir.While)

	targets, err := res.ResolveLoop(fn, loop.Body, nil)
	require.NoError(t, err)
	assert.Equal(t, "{&i, &s}", Render(targets))
}

func TestCanonicalizeMergesRanges(t *testing.T) {
	t.Parallel()

	arr := &ir.VarRef{Name: "a", T: ir.RefTo(ir.ArrayOf(ir.Int(), 8))}
	lit := func(v int64) ir.Expr { return &ir.IntLit{V: v, T: ir.Int()} }

	targets := []ir.FrameTarget{
		{Kind: ir.TargetRange, Obj: arr, Base: lit(0), Len: lit(2)},
		{Kind: ir.TargetRange, Obj: arr, Base: lit(2), Len: lit(3)},
		{Kind: ir.TargetRange, Obj: arr, Base: lit(1), Len: lit(1)},
	}

	merged := Canonicalize(targets)
	require.Len(t, merged, 1)
	assert.Equal(t, "a[0 ..+ 5]", merged[0].String())
}

func TestCanonicalizeWholeObjectSubsumes(t *testing.T) {
	t.Parallel()

	arr := &ir.VarRef{Name: "a", T: ir.RefTo(ir.ArrayOf(ir.Int(), 8))}
	lit := func(v int64) ir.Expr { return &ir.IntLit{V: v, T: ir.Int()} }

	targets := []ir.FrameTarget{
		{Kind: ir.TargetRange, Obj: arr, Base: lit(0), Len: lit(2)},
		{Kind: ir.TargetWholeObject, Obj: arr},
		{Kind: ir.TargetAddress, Addr: &ir.AddrOf{X: &ir.Index{X: arr, I: lit(1)}}},
	}

	merged := Canonicalize(targets)
	require.Len(t, merged, 1)
	assert.Equal(t, ir.TargetWholeObject, merged[0].Kind)
}
