package formatter

type GeneralResultFormatter struct{}

func (f *GeneralResultFormatter) ResultTemplate() string {
	return `{{header .Status .Kind .Target .MaxLineNumWidth .Filename .Line .Column}}
{{snippet .SnippetLines .Line .MaxLineNumWidth .CommonIndent .Padding -}}
{{underlineAndMessage .Expr .Padding .Line .Column .SnippetLines .CommonIndent}}
{{- if .Witness }}
{{witness .Witness .Padding}}
{{- end }}

{{- if .Note }}
{{note .Note}}
{{- end }}
`
}
