package render

const defaultTemplate = `{{.Frontmatter}}

# {{.Title}}
{{if .Authors}}
*{{range $i, $a := .Authors}}{{if $i}}, {{end}}{{$a}}{{end}}{{if .Year}} ({{.Year}}){{end}}*
{{end}}{{if .Abstract}}
## Abstract

{{.Abstract}}
{{end}}{{if .Notes}}
## Notes
{{range .Notes}}
{{.}}
{{end}}{{end}}{{if .Annotations}}
## Annotations
{{range .Annotations}}{{if .Text}}
> {{.Text}}
{{end}}{{if .Comment}}
{{.Comment}}
{{end}}{{end}}{{end}}{{if .Attachments}}
## Attachments

{{range .Attachments}}- [{{base .}}]({{.}})
{{end}}{{end}}
{{.UserZone}}
`
