package prompt

import _ "embed"

//go:embed templates/triage.md
var triageTmpl string

//go:embed templates/research.md
var researchTmpl string

//go:embed templates/fix.md
var fixTmpl string

//go:embed templates/fix-revision.md
var fixRevisionTmpl string

//go:embed templates/review.md
var reviewTmpl string

// builtin holds the default prompt template per stage.
var builtin = map[string]string{
	"triage":       triageTmpl,
	"research":     researchTmpl,
	"fix":          fixTmpl,
	"fix-revision": fixRevisionTmpl,
	"review":       reviewTmpl,
}
