package formatter

import (
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veristub-labs/veristub/internal"
	tt "github.com/veristub-labs/veristub/internal/types"
)

func init() {
	color.NoColor = true
}

func snippetOf(lines ...string) *internal.SourceCode {
	return &internal.SourceCode{Lines: lines}
}

func failResult(kind tt.ObligationKind, line int, expr, note, witness string) tt.Result {
	return tt.Result{
		Obligation: tt.Obligation{
			Kind:   kind,
			Target: "count",
			Expr:   expr,
			Site:   tt.Position{Filename: "count.vst", Line: line, Column: 1},
			Note:   note,
		},
		Status:  tt.StatusFail,
		Witness: witness,
	}
}

func TestGenerateFormattedResultsFailure(t *testing.T) {
	results := []tt.Result{
		failResult(tt.Postcondition, 2, "result >= 0", "ensures of count", "n = -1"),
	}
	out := GenerateFormattedResults(results, snippetOf(
		"fn count(n int) int",
		"ensures result >= 0",
	))

	assert.Contains(t, out, "fail: postcondition in count")
	assert.Contains(t, out, "--> count.vst:2:1")
	assert.Contains(t, out, "2 | ensures result >= 0")
	assert.Contains(t, out, "condition does not hold: result >= 0")
	assert.Contains(t, out, "Counterexample:")
	assert.Contains(t, out, "n = -1")
	assert.Contains(t, out, "Note: ensures of count")
}

func TestGenerateFormattedResultsPassLine(t *testing.T) {
	results := []tt.Result{{
		Obligation: tt.Obligation{
			Kind:   tt.BaseCase,
			Target: "count",
			Expr:   "s >= 0",
			Site:   tt.Position{Filename: "count.vst", Line: 5, Column: 2},
		},
		Status: tt.StatusPass,
	}}
	out := GenerateFormattedResults(results, snippetOf("x"))

	assert.Contains(t, out, "pass: base-case s >= 0 (count.vst:5:2)")
	assert.NotContains(t, out, "condition does not hold")
}

func TestGenerateFormattedResultsTimeout(t *testing.T) {
	r := failResult(tt.Postcondition, 1, "result >= 0", "", "")
	r.Status = tt.StatusTimeout
	out := GenerateFormattedResults([]tt.Result{r}, snippetOf("ensures result >= 0"))

	assert.Contains(t, out, "timeout: postcondition in count")
}

func TestFrameInclusionNote(t *testing.T) {
	out := GenerateFormattedResults(
		[]tt.Result{failResult(tt.FrameInclusion, 1, "{p}", "", "q = 0")},
		snippetOf("modifies p"),
	)

	assert.Contains(t, out, "fail: frame-inclusion in count")
	assert.Contains(t, out, "write set is incomplete")
}

func TestInductiveStepNote(t *testing.T) {
	out := GenerateFormattedResults(
		[]tt.Result{failResult(tt.InductiveStep, 1, "s >= 0", "", "")},
		snippetOf("invariant s >= 0"),
	)

	assert.Contains(t, out, "fail: inductive-step in count")
	assert.Contains(t, out, "strengthen the invariant")
}

func TestUnwindingNote(t *testing.T) {
	out := GenerateFormattedResults(
		[]tt.Result{failResult(tt.Unwinding, 1, "i < n", "", "")},
		snippetOf("while i < n {"),
	)

	assert.Contains(t, out, "fail: unwinding in count")
	assert.Contains(t, out, "raise the unwind bound")
}

func TestFormatReportsTallyAndFolding(t *testing.T) {
	reports := []internal.Report{{
		Target: "count",
		Results: []tt.Result{
			{Obligation: tt.Obligation{Kind: tt.BaseCase, Target: "count", Expr: "s >= 0", Site: tt.Position{Filename: "count.vst", Line: 3, Column: 1}}, Status: tt.StatusPass},
			failResult(tt.InductiveStep, 3, "s >= 0", "", ""),
		},
	}}
	snippet := snippetOf("a", "b", "invariant s >= 0")

	out := FormatReports(reports, snippet, false)
	assert.Contains(t, out, "==> count")
	assert.Contains(t, out, "2 obligations: 1 passed, 1 failed")
	assert.NotContains(t, out, "pass: base-case", "passing results fold into the tally")

	out = FormatReports(reports, snippet, true)
	assert.Contains(t, out, "pass: base-case")
}

func TestFormatReportsAllPassing(t *testing.T) {
	reports := []internal.Report{{
		Target: "max",
		Results: []tt.Result{
			{Obligation: tt.Obligation{Kind: tt.Postcondition, Target: "max", Expr: "result >= a"}, Status: tt.StatusPass},
		},
	}}
	out := FormatReports(reports, snippetOf("x"), false)
	require.Contains(t, out, "==> max")
	assert.Contains(t, out, "1 obligations: 1 passed, 0 failed")
}
