package formatter

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"unicode"

	"github.com/fatih/color"
	"github.com/veristub-labs/veristub/internal"
	tt "github.com/veristub-labs/veristub/internal/types"
)

const tabWidth = 8

var (
	errorStyle   = color.New(color.FgRed, color.Bold)
	timeoutStyle = color.New(color.FgHiYellow, color.Bold)
	passStyle    = color.New(color.FgGreen, color.Bold)
	kindStyle    = color.New(color.FgYellow, color.Bold)
	fileStyle    = color.New(color.FgCyan, color.Bold)
	lineStyle    = color.New(color.FgHiBlue, color.Bold)
	messageStyle = color.New(color.FgRed, color.Bold)
	noteStyle    = color.New(color.FgGreen, color.Bold)
)

// resultFormatter is the interface that wraps the ResultTemplate method.
// Implementations of this interface are responsible for formatting failures
// of specific obligation kinds.
type resultFormatter interface {
	ResultTemplate() string
}

// getResultFormatter is a factory function that returns the appropriate
// resultFormatter based on the obligation kind.
// If no specific formatter exists for the kind, it returns a GeneralResultFormatter.
func getResultFormatter(kind tt.ObligationKind) resultFormatter {
	switch kind {
	case tt.FrameInclusion:
		return &FrameInclusionFormatter{}
	case tt.InductiveStep:
		return &InductiveStepFormatter{}
	case tt.Unwinding:
		return &UnwindingFormatter{}
	default:
		return &GeneralResultFormatter{}
	}
}

// GenerateFormattedResults formats a slice of checker results into a
// human-readable report. Passing obligations get a one-line summary;
// failures and timeouts are rendered with a source snippet and, when the
// checker produced one, a counterexample.
func GenerateFormattedResults(results []tt.Result, snippet *internal.SourceCode) string {
	var builder strings.Builder
	for _, result := range results {
		if result.Status == tt.StatusPass {
			builder.WriteString(passLine(result))
			continue
		}
		formatter := getResultFormatter(result.Obligation.Kind)
		builder.WriteString(buildResult(result, snippet, formatter))
	}
	return builder.String()
}

func passLine(result tt.Result) string {
	ob := result.Obligation
	return passStyle.Sprint("pass: ") +
		kindStyle.Sprintf("%s ", ob.Kind) +
		fmt.Sprintf("%s ", ob.Expr) +
		lineStyle.Sprintf("(%s)\n", ob.Site)
}

/***** Result Formatter Builder *****/

type ResultData struct {
	Status          string
	Kind            string
	Target          string
	Filename        string
	Line            int
	Column          int
	Expr            string
	Witness         string
	Note            string
	Padding         string
	MaxLineNumWidth int
	SnippetLines    []string
	CommonIndent    string
}

func buildResult(result tt.Result, snippet *internal.SourceCode, formatter resultFormatter) string {
	ob := result.Obligation
	line := ob.Site.Line
	maxLineNumWidth := calculateMaxLineNumWidth(line)
	padding := strings.Repeat(" ", maxLineNumWidth+1)

	var commonIndent string
	if line >= 1 && line <= len(snippet.Lines) {
		commonIndent = findCommonIndent(snippet.Lines[line-1 : line])
	}

	data := ResultData{
		Status:          result.Status.String(),
		Kind:            ob.Kind.String(),
		Target:          ob.Target,
		Filename:        ob.Site.Filename,
		Line:            line,
		Column:          ob.Site.Column,
		Expr:            ob.Expr,
		Witness:         result.Witness,
		Note:            ob.Note,
		MaxLineNumWidth: maxLineNumWidth,
		Padding:         padding,
		CommonIndent:    commonIndent,
		SnippetLines:    snippet.Lines,
	}

	funcMap := template.FuncMap{
		"header":              header,
		"note":                note,
		"witness":             witness,
		"snippet":             codeSnippet,
		"underlineAndMessage": underlineAndMessage,
	}

	resultTemplate := formatter.ResultTemplate()
	tmpl := template.Must(template.New("result").Funcs(funcMap).Parse(resultTemplate))

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Sprintf("Error formatting result: %v", err)
	}
	return buf.String()
}

// utils functions used in the text templates

func header(status string, kind string, target string, maxLineNumWidth int, filename string, line int, column int) string {
	var endString string
	switch status {
	case "FAIL":
		endString = errorStyle.Sprint("fail: ")
	case "TIMEOUT":
		endString = timeoutStyle.Sprint("timeout: ")
	default:
		endString = messageStyle.Sprint("info: ")
	}

	endString += kindStyle.Sprintf("%s", kind)
	endString += fmt.Sprintf(" in %s\n", target)

	padding := strings.Repeat(" ", maxLineNumWidth)
	endString += lineStyle.Sprintf("%s--> ", padding)
	endString += fileStyle.Sprintf("%s:%d:%d", filename, line, column)

	return endString
}

func codeSnippet(snippetLines []string, line int, maxLineNumWidth int, commonIndent string, padding string) string {
	var endString string
	endString = lineStyle.Sprintf("%s|\n", padding)

	if line-1 < 0 || line-1 >= len(snippetLines) {
		return endString
	}

	text := strings.TrimPrefix(snippetLines[line-1], commonIndent)
	lineNum := fmt.Sprintf("%*d", maxLineNumWidth, line)
	endString += lineStyle.Sprintf("%s | %s\n", lineNum, text)

	return endString
}

func underlineAndMessage(expr string, padding string, line int, column int, snippetLines []string, commonIndent string) string {
	var endString string
	endString = lineStyle.Sprintf("%s| ", padding)

	message := fmt.Sprintf("condition does not hold: %s", expr)

	if line-1 < 0 || line-1 >= len(snippetLines) {
		endString += messageStyle.Sprintf("%s\n", message)
		return endString
	}

	source := snippetLines[line-1]
	commonIndentWidth := calculateVisualColumn(commonIndent, len(commonIndent)+1)

	underlineStart := calculateVisualColumn(source, column) - commonIndentWidth
	if underlineStart < 0 {
		underlineStart = 0
	}

	underlineEnd := calculateVisualColumn(source, len(source)+1) - commonIndentWidth
	underlineLength := underlineEnd - underlineStart
	if underlineLength < 1 {
		underlineLength = 1
	}

	endString += fmt.Sprint(strings.Repeat(" ", underlineStart))
	endString += messageStyle.Sprintf("%s\n", strings.Repeat("~", underlineLength))

	endString += lineStyle.Sprintf("%s= ", padding)
	endString += messageStyle.Sprintf("%s\n", message)

	return endString
}

func witness(witness string, padding string) string {
	if witness == "" {
		return ""
	}

	var endString string
	endString = noteStyle.Sprint("Counterexample:\n")
	for _, line := range strings.Split(witness, "\n") {
		endString += lineStyle.Sprintf("%s| ", padding)
		endString += fmt.Sprintf("%s\n", line)
	}
	return endString
}

func note(note string) string {
	if note == "" {
		return ""
	}

	var endString string
	endString = noteStyle.Sprint("Note: ")
	endString += lineStyle.Sprintf("%s\n", note)
	return endString
}

func calculateMaxLineNumWidth(endLine int) int {
	return len(fmt.Sprintf("%d", endLine))
}

// calculateVisualColumn calculates the visual column position
// in a string. taking into account tab characters.
func calculateVisualColumn(line string, column int) int {
	if column < 0 {
		return 0
	}
	visualColumn := 0
	for i, ch := range line {
		if i+1 == column {
			break
		}
		if ch == '\t' {
			visualColumn += tabWidth - (visualColumn % tabWidth)
		} else {
			visualColumn++
		}
	}
	return visualColumn
}

// findCommonIndent finds the common indent in the code snippet.
func findCommonIndent(lines []string) string {
	if len(lines) == 0 {
		return ""
	}

	// find first non-empty line's indent
	firstIndent := make([]rune, 0)
	for _, line := range lines {
		trimmed := strings.TrimLeftFunc(line, unicode.IsSpace)
		if trimmed != "" {
			firstIndent = []rune(line[:len(line)-len(trimmed)])
			break
		}
	}

	if len(firstIndent) == 0 {
		return ""
	}

	// search common indent for all non-empty lines
	for _, line := range lines {
		trimmed := strings.TrimLeftFunc(line, unicode.IsSpace)
		if trimmed == "" {
			continue
		}

		currentIndent := []rune(line[:len(line)-len(trimmed)])
		firstIndent = commonPrefix(firstIndent, currentIndent)

		if len(firstIndent) == 0 {
			break
		}
	}

	return string(firstIndent)
}

// commonPrefix finds the common prefix of two strings.
func commonPrefix(a, b []rune) []rune {
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	for i := 0; i < minLen; i++ {
		if a[i] != b[i] {
			return a[:i]
		}
	}
	return a[:minLen]
}
