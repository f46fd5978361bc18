package internal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veristub-labs/veristub/internal/exec"
	tt "github.com/veristub-labs/veristub/internal/types"
)

func newEngine(t *testing.T, src string, opts Options) *Engine {
	t.Helper()
	prog, specErrs, err := LoadSource([]byte(src))
	require.NoError(t, err)
	require.Empty(t, specErrs)
	e, err := NewEngine(prog, opts, nil)
	require.NoError(t, err)
	return e
}

func resultsByKind(results []tt.Result, kind tt.ObligationKind) []tt.Result {
	var out []tt.Result
	for _, r := range results {
		if r.Obligation.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func requireAllPass(t *testing.T, rep Report) {
	t.Helper()
	for _, r := range rep.Results {
		assert.Equal(t, tt.StatusPass, r.Status, "%s: %s", r.Obligation.ID(), r.Witness)
	}
}

func TestCheckContractValidContractPasses(t *testing.T) {
	t.Parallel()

	e := newEngine(t, `
fn max(a int, b int) int
requires true
ensures (result >= a) && (result >= b)
{
	if a >= b {
		return a
	}
	return b
}
`, Options{LoopContracts: true})

	rep, err := e.CheckContract(context.Background(), "max")
	require.NoError(t, err)
	require.NotEmpty(t, rep.Results)
	requireAllPass(t, rep)
	assert.False(t, rep.Failed())
}

func TestCheckContractPostconditionFailureCarriesWitness(t *testing.T) {
	t.Parallel()

	e := newEngine(t, `
fn ident(x int) int
requires x >= 0
ensures result == x + 1
{
	return x
}
`, Options{LoopContracts: true})

	rep, err := e.CheckContract(context.Background(), "ident")
	require.NoError(t, err)
	assert.True(t, rep.Failed())

	posts := resultsByKind(rep.Results, tt.Postcondition)
	require.Len(t, posts, 1)
	assert.Equal(t, tt.StatusFail, posts[0].Status)
	assert.NotEmpty(t, posts[0].Witness)
	assert.Contains(t, posts[0].Witness, "x")
	assert.False(t, posts[0].FrameIncomplete())
}

func TestCheckContractLoopInvariantInduction(t *testing.T) {
	t.Parallel()

	e := newEngine(t, `
fn count(n int) int
requires (n >= 0) && (n <= 3)
ensures result >= 0
{
	var s int
	var i int
	while i < n
	invariant (s >= 0) && ((i >= 0) && (i <= n))
	{
		s = s + 1
		i = i + 1
	}
	return s
}
`, Options{LoopContracts: true})

	rep, err := e.CheckContract(context.Background(), "count")
	require.NoError(t, err)
	requireAllPass(t, rep)

	require.Len(t, resultsByKind(rep.Results, tt.BaseCase), 1)
	require.Len(t, resultsByKind(rep.Results, tt.InductiveStep), 1)
}

func TestCheckContractWeakInvariantFailsInductiveStep(t *testing.T) {
	t.Parallel()

	e := newEngine(t, `
fn count(n int) int
requires (n >= 0) && (n <= 3)
ensures true
{
	var s int
	var i int
	while i < n
	invariant s <= 1
	{
		s = s + 1
		i = i + 1
	}
	return s
}
`, Options{LoopContracts: true})

	rep, err := e.CheckContract(context.Background(), "count")
	require.NoError(t, err)

	bases := resultsByKind(rep.Results, tt.BaseCase)
	require.Len(t, bases, 1)
	assert.Equal(t, tt.StatusPass, bases[0].Status, "the invariant holds on entry")

	steps := resultsByKind(rep.Results, tt.InductiveStep)
	require.Len(t, steps, 1)
	assert.Equal(t, tt.StatusFail, steps[0].Status, "an arbitrary iteration breaks it")
	assert.NotEmpty(t, steps[0].Witness)
}

func TestVerifyHarnessLoopExitKnowledge(t *testing.T) {
	t.Parallel()

	e := newEngine(t, `
harness countdown {
	var x uint
	x = 3
	while x > 1
	invariant x >= 1
	{
		x = x - 1
	}
	assert x == 1
}
`, Options{LoopContracts: true})

	rep, err := e.VerifyHarness(context.Background(), "countdown")
	require.NoError(t, err)
	requireAllPass(t, rep)
	require.Len(t, resultsByKind(rep.Results, tt.Assertion), 1)
}

func TestVerifyHarnessTrivialInvariantLosesExitKnowledge(t *testing.T) {
	t.Parallel()

	e := newEngine(t, `
harness countdown {
	var x uint
	x = 3
	while x > 1
	invariant true
	{
		x = x - 1
	}
	assert x == 1
}
`, Options{LoopContracts: true})

	rep, err := e.VerifyHarness(context.Background(), "countdown")
	require.NoError(t, err)

	asserts := resultsByKind(rep.Results, tt.Assertion)
	require.Len(t, asserts, 1)
	assert.Equal(t, tt.StatusFail, asserts[0].Status, "after the loop only invariant and negated guard are known")
}

func TestVerifyHarnessOnEntryStaysFixed(t *testing.T) {
	t.Parallel()

	e := newEngine(t, `
harness monotonic {
	var x int
	x = 3
	while x > 0
	invariant (x <= on_entry(x)) && (x >= 0)
	{
		x = x - 1
	}
	assert x == 0
}
`, Options{LoopContracts: true})

	rep, err := e.VerifyHarness(context.Background(), "monotonic")
	require.NoError(t, err)
	requireAllPass(t, rep)
}

func TestCheckContractDeclaredFrameMissingWriteIsError(t *testing.T) {
	t.Parallel()

	e := newEngine(t, `
fn sneak(p &int, q &int)
ensures true
modifies p
{
	*p = 1
	*q = 1
}
`, Options{LoopContracts: true})

	_, err := e.CheckContract(context.Background(), "sneak")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not cover")
}

func TestCheckContractRangeFrameEnforcedDynamically(t *testing.T) {
	t.Parallel()

	e := newEngine(t, `
fn fill(a &[3]int)
ensures true
modifies a[0 ..+ 1]
{
	a[0] = 1
	a[1] = 2
}
`, Options{LoopContracts: true})

	rep, err := e.CheckContract(context.Background(), "fill")
	require.NoError(t, err)

	frames := resultsByKind(rep.Results, tt.FrameInclusion)
	require.Len(t, frames, 1)
	assert.Equal(t, tt.StatusFail, frames[0].Status)
	assert.True(t, frames[0].FrameIncomplete())

	wide := newEngine(t, `
fn fill(a &[3]int)
ensures true
modifies a[0 ..+ 2]
{
	a[0] = 1
	a[1] = 2
}
`, Options{LoopContracts: true})
	rep, err = wide.CheckContract(context.Background(), "fill")
	require.NoError(t, err)
	requireAllPass(t, rep)
}

func TestCheckContractNestedLoopFrameComposition(t *testing.T) {
	t.Parallel()

	e := newEngine(t, `
fn fill(a &[3]int)
ensures true
modifies a[0 ..+ 1]
{
	var i int
	while i < 2
	invariant (i >= 0) && (i <= 2)
	modifies a[0 ..+ 2], &i
	{
		a[i] = 1
		i = i + 1
	}
}
`, Options{LoopContracts: true})

	rep, err := e.CheckContract(context.Background(), "fill")
	require.NoError(t, err)

	frames := resultsByKind(rep.Results, tt.FrameInclusion)
	require.Len(t, frames, 2)
	byExpr := make(map[string]tt.Status)
	for _, f := range frames {
		byExpr[f.Obligation.Expr] = f.Status
	}
	assert.Equal(t, tt.StatusPass, byExpr["{a[0 ..+ 2], &i}"], "the loop's own frame covers its writes")
	assert.Equal(t, tt.StatusFail, byExpr["{a[0 ..+ 1]}"], "the enclosing frame is still enforced inside the loop")
}

func TestCheckContractHistoricSnapshot(t *testing.T) {
	t.Parallel()

	e := newEngine(t, `
fn bump(p &int)
requires true
ensures *p == on_entry(*p) + 1
modifies p
{
	*p = *p + 1
}
`, Options{LoopContracts: true})

	rep, err := e.CheckContract(context.Background(), "bump")
	require.NoError(t, err)
	requireAllPass(t, rep)
}

func TestCheckContractDivisionByZeroYieldsZero(t *testing.T) {
	t.Parallel()

	e := newEngine(t, `
fn quot(x int) int
requires true
ensures result == 0
{
	return x / 0
}
`, Options{LoopContracts: true})

	rep, err := e.CheckContract(context.Background(), "quot")
	require.NoError(t, err)
	requireAllPass(t, rep)
}

func TestCheckContractUnwindingBound(t *testing.T) {
	t.Parallel()

	e := newEngine(t, `
fn spin(n int)
requires (n >= 0) && (n <= 3)
ensures true
{
	var i int
	while i < n {
		i = i + 1
	}
}
`, Options{LoopContracts: true, Exec: exec.Options{Unwind: 2}})

	rep, err := e.CheckContract(context.Background(), "spin")
	require.NoError(t, err)

	unw := resultsByKind(rep.Results, tt.Unwinding)
	require.Len(t, unw, 1, "the concrete loop outruns the bound")
	assert.Equal(t, tt.StatusFail, unw[0].Status)
	assert.Equal(t, "i < n", unw[0].Obligation.Expr)
}

func TestVerifyHarnessStubReplacement(t *testing.T) {
	t.Parallel()

	e := newEngine(t, `
fn double(x int) int
requires (x >= 0) && (x <= 1)
ensures result == x + x
{
	return x + x
}

harness run_double {
	var y int
	y = double(1)
}
`, Options{LoopContracts: true, Stubs: map[string]string{"double": "double"}})

	rep, err := e.VerifyHarness(context.Background(), "run_double")
	require.NoError(t, err)
	requireAllPass(t, rep)

	pres := resultsByKind(rep.Results, tt.Precondition)
	require.Len(t, pres, 1)
	assert.Equal(t, "requires of double", pres[0].Obligation.Note)
}

func TestVerifyHarnessStubPreconditionViolation(t *testing.T) {
	t.Parallel()

	e := newEngine(t, `
fn double(x int) int
requires x >= 0
ensures result == x + x
{
	return x + x
}

harness run_double {
	var y int
	y = double(-1)
}
`, Options{LoopContracts: true, Stubs: map[string]string{"double": "double"}})

	rep, err := e.VerifyHarness(context.Background(), "run_double")
	require.NoError(t, err)
	assert.True(t, rep.Failed())

	pres := resultsByKind(rep.Results, tt.Precondition)
	require.Len(t, pres, 1)
	assert.Equal(t, tt.StatusFail, pres[0].Status)
}

func TestIncompatibleStubFailsCallerOnly(t *testing.T) {
	t.Parallel()

	e := newEngine(t, `
fn f(x int) int
requires true
ensures result == x
{
	return x
}

fn g(x bool) int
requires true
ensures result == 0
{
	return 0
}

harness h {
	var y int
	y = f(1)
}

harness clean {
	var z int
	z = 4
	assert z == 4
}
`, Options{LoopContracts: true, Stubs: map[string]string{"f": "g"}})

	rep, err := e.VerifyHarness(context.Background(), "h")
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)
	finding := rep.Results[0]
	assert.Equal(t, tt.StubCompatibility, finding.Obligation.Kind)
	assert.Equal(t, tt.StatusFail, finding.Status)
	assert.Equal(t, "g replaces f", finding.Obligation.Expr)
	assert.Contains(t, finding.Obligation.Note, "incompatible-type")

	rep, err = e.VerifyHarness(context.Background(), "clean")
	require.NoError(t, err)
	requireAllPass(t, rep)
}

func TestNewEngineRejectsUnknownSolver(t *testing.T) {
	t.Parallel()

	prog, _, err := LoadSource([]byte(`
fn id(x int) int
requires true
ensures result == x
{
	return x
}
`))
	require.NoError(t, err)

	_, err = NewEngine(prog, Options{Solver: "cvc5"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown solver "cvc5"`)
}

func TestObligationsDeterministic(t *testing.T) {
	t.Parallel()

	e := newEngine(t, `
fn count(n int) int
requires (n >= 0) && (n <= 3)
ensures result >= 0
{
	var s int
	var i int
	while i < n
	invariant (s >= 0) && (i <= n)
	{
		s = s + 1
		i = i + 1
	}
	return s
}
`, Options{LoopContracts: true})

	first, err := e.Obligations("count")
	require.NoError(t, err)
	second, err := e.Obligations("count")
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID(), second[i].ID())
	}
}

func TestRunAllReportsSortedByTarget(t *testing.T) {
	t.Parallel()

	e := newEngine(t, `
fn zeta(x int) int
requires true
ensures result == x
{
	return x
}

fn alpha(x int) int
requires true
ensures result == x
{
	return x
}

harness mid {
	var y int
	y = alpha(1)
}
`, Options{LoopContracts: true})

	reports, err := e.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, "alpha", reports[0].Target)
	assert.Equal(t, "mid", reports[1].Target)
	assert.Equal(t, "zeta", reports[2].Target)
	for _, rep := range reports {
		assert.False(t, rep.Failed())
	}
}

func TestRunAllKeepsHealthyTargetsOnFrameError(t *testing.T) {
	t.Parallel()

	e := newEngine(t, `
fn sneak(p &int, q &int)
ensures true
modifies p
{
	*p = 1
	*q = 1
}

fn bump(p &int)
requires true
ensures *p == on_entry(*p) + 1
modifies p
{
	*p = *p + 1
}
`, Options{LoopContracts: true})

	reports, err := e.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, "bump", reports[0].Target)
	requireAllPass(t, reports[0])

	assert.Equal(t, "sneak", reports[1].Target)
	require.Len(t, reports[1].Results, 1)
	finding := reports[1].Results[0]
	assert.Equal(t, tt.FrameInclusion, finding.Obligation.Kind)
	assert.Equal(t, tt.StatusFail, finding.Status)
	assert.Contains(t, finding.Obligation.Expr, "does not cover")
}

func TestVerifyHarnessUintWrapsOnUnderflow(t *testing.T) {
	t.Parallel()

	e := newEngine(t, `
harness wrap {
	var x uint
	var y uint
	x = y - 1
	assert x >= y
	assert x > 0
}
`, Options{LoopContracts: true})

	rep, err := e.VerifyHarness(context.Background(), "wrap")
	require.NoError(t, err)
	requireAllPass(t, rep)
	require.Len(t, resultsByKind(rep.Results, tt.Assertion), 2)
}

func TestVerifyHarnessUintWitnessRendersUnsigned(t *testing.T) {
	t.Parallel()

	e := newEngine(t, `
harness wrap {
	var x uint
	x = x - 1
	assert x == 0
}
`, Options{LoopContracts: true})

	rep, err := e.VerifyHarness(context.Background(), "wrap")
	require.NoError(t, err)

	asserts := resultsByKind(rep.Results, tt.Assertion)
	require.Len(t, asserts, 1)
	assert.Equal(t, tt.StatusFail, asserts[0].Status)
	assert.Contains(t, asserts[0].Witness, "18446744073709551615")
	assert.NotContains(t, asserts[0].Witness, "-1")
}
