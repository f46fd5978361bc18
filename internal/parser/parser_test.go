package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veristub-labs/veristub/internal/ir"
)

func parseOK(t *testing.T, src string) *ir.Program {
	t.Helper()
	prog, specErrs, err := Parse("test.vst", src)
	require.NoError(t, err)
	require.Empty(t, specErrs)
	return prog
}

func TestParseContractedFunction(t *testing.T) {
	t.Parallel()

	prog := parseOK(t, `
fn clamp_add(x int, y int) int
requires x >= 0
ensures result >= x
{
	if y < 0 {
		return x
	}
	return x + y
}
`)

	fn, ok := prog.Func("clamp_add")
	require.True(t, ok)
	require.NotNil(t, fn.Contract)
	require.NotNil(t, fn.Result)

	assert.Equal(t, "x >= 0", fn.Contract.Pre.String())
	assert.Equal(t, "result >= x", fn.Contract.Post.String())
	assert.Nil(t, fn.Contract.Frame, "omitted modifies clause means inferred")
	assert.Len(t, fn.Params, 2)
	assert.Equal(t, ir.Int(), fn.Params[0].Type)
}

func TestParseConjoinsRepeatedClauses(t *testing.T) {
	t.Parallel()

	prog := parseOK(t, `
fn f(x int) int
requires x >= 0
requires x <= 10
ensures result >= 0
ensures result <= 10
{
	return x
}
`)

	fn, _ := prog.Func("f")
	assert.Equal(t, "(x >= 0) && (x <= 10)", fn.Contract.Pre.String())
	assert.Equal(t, "(result >= 0) && (result <= 10)", fn.Contract.Post.String())
}

func TestParseFrameTargets(t *testing.T) {
	t.Parallel()

	prog := parseOK(t, `
fn writes(p &int, a &[4]int, i int)
modifies p, a[0 ..+ 2], &a[i]
ensures true
{
	*p = 1
}
`)

	fn, _ := prog.Func("writes")
	require.NotNil(t, fn.Contract.Frame)
	targets := fn.Contract.Frame.Targets
	require.Len(t, targets, 3)

	assert.Equal(t, ir.TargetWholeObject, targets[0].Kind)
	assert.Equal(t, "p", targets[0].String())
	assert.Equal(t, ir.TargetRange, targets[1].Kind)
	assert.Equal(t, "a[0 ..+ 2]", targets[1].String())
	assert.Equal(t, ir.TargetAddress, targets[2].Kind)
	assert.Equal(t, "&a[i]", targets[2].String())
}

func TestParseLoopContract(t *testing.T) {
	t.Parallel()

	prog := parseOK(t, `
fn count(n int) int
requires n >= 0
ensures result == n
{
	var i int
	while i < n
	invariant i >= 0 && i <= n
	modifies &i
	{
		i = i + 1
	}
	return i
}
`)

	fn, _ := prog.Func("count")
	loop, ok := fn.Body[0].(*ir.While)
	require.True(t, ok)
	require.NotNil(t, loop.Site)
	assert.Equal(t, "(i >= 0) && (i <= n)", loop.Site.Invariant.String())
	require.NotNil(t, loop.Site.Frame)
	assert.Len(t, loop.Site.Frame.Targets, 1)
}

func TestParseEnumerableLoop(t *testing.T) {
	t.Parallel()

	prog := parseOK(t, `
fn sum(n int) int
requires n >= 0
ensures result >= 0
{
	var s int
	for k in n
	invariant s >= 0
	{
		s = s + 1
	}
	return s
}
`)

	fn, _ := prog.Func("sum")
	_, isDecl := fn.Body[0].(*ir.ForRange)
	require.True(t, isDecl)
}

func TestParseHarness(t *testing.T) {
	t.Parallel()

	prog := parseOK(t, `
fn double(x int) int
ensures result == x + x
{
	return x + x
}

harness check_double {
	var y int
	y = double(3)
	assert y == 6
}
`)

	assert.Equal(t, []string{"check_double"}, prog.Harnesses())
	assert.Equal(t, []string{"double"}, prog.Contracted())
}

func TestParseGenericCall(t *testing.T) {
	t.Parallel()

	prog := parseOK(t, `
fn pick[T](a T, b T) T
ensures true
{
	return a
}

harness h {
	var x int
	x = pick[int](1, 2)
}
`)

	fn, _ := prog.Func("pick")
	assert.Equal(t, []string{"T"}, fn.TypeParams)
}

func TestParseSpecErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "result outside ensures",
			src: `fn f(x int) int
requires result > 0
{ return x }`,
			want: "result is only valid inside an ensures clause",
		},
		{
			name: "prev outside invariant",
			src: `fn f(x int) int
ensures prev(x) == x
{ return x }`,
			want: "prev",
		},
		{
			name: "frame target out of scope",
			src: `fn f(x int)
modifies &y
{ x = 1 }`,
			want: "out-of-scope",
		},
		{
			name: "frame target must be parameter",
			src: `fn f(x int)
modifies &x
ensures true
{
	var z int
	z = 1
}`,
			want: "",
		},
		{
			name: "loop contract without invariant",
			src: `fn f(x int)
{
	while x > 0
	modifies &x
	{ x = x - 1 }
}`,
			want: "invariant",
		},
		{
			name: "assigning enumerable loop variable",
			src: `fn f(n int)
{
	for i in n
	invariant true
	{ i = 0 }
}`,
			want: "loop variable",
		},
		{
			name: "type mismatch in condition",
			src: `fn f(x int)
{
	if x { x = 0 }
}`,
			want: "condition must be bool",
		},
		{
			name: "arity mismatch",
			src: `fn g(x int) int
ensures true
{ return x }

harness h {
	var y int
	y = g(1, 2)
}`,
			want: "",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, specErrs, err := Parse("test.vst", tc.src)
			require.NoError(t, err)
			if tc.name == "frame target must be parameter" {
				// &x is a parameter address here, which is fine
				require.Empty(t, specErrs)
				return
			}
			require.NotEmpty(t, specErrs)
			if tc.want != "" {
				assert.Contains(t, specErrs[0].Error(), tc.want)
			}
		})
	}
}

func TestParseRecoversPerDeclaration(t *testing.T) {
	t.Parallel()

	prog, specErrs, err := Parse("test.vst", `
fn bad(x int) int
requires result > 0
{ return x }

fn good(x int) int
ensures result == x
{ return x }
`)
	require.NoError(t, err)
	require.NotEmpty(t, specErrs)

	_, ok := prog.Func("good")
	assert.True(t, ok, "a bad declaration must not block later ones")
	_, ok = prog.Func("bad")
	assert.False(t, ok)
}

func TestParseLineBreaksDelimitStatements(t *testing.T) {
	t.Parallel()

	// A deref assignment followed on the next line by another must not
	// fold into a single multiplication.
	prog := parseOK(t, `
fn swapfill(p &int, q &int)
modifies p, q
ensures *p == 1 && *q == 2
{
	*p = 1
	*q = 2
}
`)

	fn, _ := prog.Func("swapfill")
	require.Len(t, fn.Body, 2)
	first, ok := fn.Body[0].(*ir.Assign)
	require.True(t, ok)
	assert.Equal(t, "1", first.RHS.String())
	second, ok := fn.Body[1].(*ir.Assign)
	require.True(t, ok)
	assert.Equal(t, "2", second.RHS.String())
}

func TestParseOperatorContinuesAcrossLines(t *testing.T) {
	t.Parallel()

	prog := parseOK(t, `
fn bounded(x int) int
requires x >= 0 &&
	x <= 10
ensures result == x
{
	return x
}
`)

	fn, _ := prog.Func("bounded")
	assert.Equal(t, "(x >= 0) && (x <= 10)", fn.Contract.Pre.String())
}

func TestParsePositions(t *testing.T) {
	t.Parallel()

	prog := parseOK(t, `fn f(x int) int
ensures result == x
{ return x }
`)
	fn, _ := prog.Func("f")
	assert.Equal(t, "test.vst", fn.Pos.Filename)
	assert.Equal(t, 1, fn.Pos.Line)
}
