package formatter

import (
	"fmt"
	"strings"

	"github.com/veristub-labs/veristub/internal"
	tt "github.com/veristub-labs/veristub/internal/types"
)

// FormatReports renders one section per checked target: the target name,
// each obligation's verdict, and a pass/fail tally. When showPassing is
// false, passing obligations are folded into the tally only.
func FormatReports(reports []internal.Report, snippet *internal.SourceCode, showPassing bool) string {
	var builder strings.Builder
	for i, report := range reports {
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(formatReportHeader(report))

		results := report.Results
		if !showPassing {
			results = failing(results)
		}
		builder.WriteString(GenerateFormattedResults(results, snippet))
		builder.WriteString(formatTally(report.Results))
	}
	return builder.String()
}

func formatReportHeader(report internal.Report) string {
	style := passStyle
	if report.Failed() {
		style = errorStyle
	}
	return style.Sprintf("==> %s\n", report.Target)
}

func formatTally(results []tt.Result) string {
	var pass, fail, timeout int
	for _, r := range results {
		switch r.Status {
		case tt.StatusPass:
			pass++
		case tt.StatusFail:
			fail++
		case tt.StatusTimeout:
			timeout++
		}
	}

	tally := fmt.Sprintf("%d obligations: %d passed, %d failed", len(results), pass, fail)
	if timeout > 0 {
		tally += fmt.Sprintf(", %d timed out", timeout)
	}

	if fail == 0 && timeout == 0 {
		return passStyle.Sprint(tally) + "\n"
	}
	return errorStyle.Sprint(tally) + "\n"
}

func failing(results []tt.Result) []tt.Result {
	out := make([]tt.Result, 0, len(results))
	for _, r := range results {
		if r.Status != tt.StatusPass {
			out = append(out, r)
		}
	}
	return out
}
