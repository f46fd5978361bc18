package formatter

// FrameInclusionFormatter renders frame-inclusion failures. These point at
// the declared write set, not the contract conditions: the body modified a
// location the frame does not cover.
type FrameInclusionFormatter struct{}

func (f *FrameInclusionFormatter) ResultTemplate() string {
	return `{{header .Status .Kind .Target .MaxLineNumWidth .Filename .Line .Column}}
{{snippet .SnippetLines .Line .MaxLineNumWidth .CommonIndent .Padding -}}
{{underlineAndMessage .Expr .Padding .Line .Column .SnippetLines .CommonIndent}}
{{- if .Witness }}
{{witness .Witness .Padding}}
{{- end }}
{{note "the declared write set is incomplete, not the contract conditions; add the modified location to the frame"}}
`
}
