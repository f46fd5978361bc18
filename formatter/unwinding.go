package formatter

type UnwindingFormatter struct{}

func (f *UnwindingFormatter) ResultTemplate() string {
	return `{{header .Status .Kind .Target .MaxLineNumWidth .Filename .Line .Column}}
{{snippet .SnippetLines .Line .MaxLineNumWidth .CommonIndent .Padding -}}
{{underlineAndMessage .Expr .Padding .Line .Column .SnippetLines .CommonIndent}}
{{note "exploration was cut off before the loop or call chain finished; raise the unwind bound or attach a loop contract"}}
`
}
