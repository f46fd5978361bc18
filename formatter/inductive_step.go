package formatter

type InductiveStepFormatter struct{}

func (f *InductiveStepFormatter) ResultTemplate() string {
	return `{{header .Status .Kind .Target .MaxLineNumWidth .Filename .Line .Column}}
{{snippet .SnippetLines .Line .MaxLineNumWidth .CommonIndent .Padding -}}
{{underlineAndMessage .Expr .Padding .Line .Column .SnippetLines .CommonIndent}}
{{- if .Witness }}
{{witness .Witness .Padding}}
{{- end }}
{{note "the invariant held on entry but one iteration from an arbitrary state broke it; strengthen the invariant"}}
`
}
