// Package render turns a remote record and its children into document text.
package render

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"
	"text/template"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"gopkg.in/yaml.v3"

	"github.com/starford/refsync/internal/document"
	"github.com/starford/refsync/internal/models"
)

// Context carries values the engine computed for this render.
type Context struct {
	// Tags is the merged tag set in document form.
	Tags []string
	// Attachments are vault-relative paths of materialized assets.
	Attachments []string
}

// Renderer produces document text. Render is pure: identical inputs give
// byte-identical output.
type Renderer struct {
	tmpl   *template.Template
	md     *converter.Converter
	policy *bluemonday.Policy
}

// New builds a Renderer. An empty templatePath selects the built-in layout.
func New(templatePath string) (*Renderer, error) {
	src := defaultTemplate
	if templatePath != "" {
		data, err := os.ReadFile(templatePath)
		if err != nil {
			return nil, fmt.Errorf("render: read template: %w", err)
		}
		src = string(data)
	}
	tmpl, err := template.New("document").Funcs(template.FuncMap{
		"base": path.Base,
	}).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("render: parse template: %w", err)
	}
	return &Renderer{
		tmpl: tmpl,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		policy: bluemonday.UGCPolicy(),
	}, nil
}

type frontmatter struct {
	Key         string   `yaml:"item-key"`
	Title       string   `yaml:"title,omitempty"`
	ItemType    string   `yaml:"item-type,omitempty"`
	Authors     []string `yaml:"authors,omitempty"`
	Year        string   `yaml:"year,omitempty"`
	DOI         string   `yaml:"doi,omitempty"`
	URL         string   `yaml:"url,omitempty"`
	Tags        []string `yaml:"tags"`
	Attachments []string `yaml:"attachments,omitempty"`
}

// Annotation is a highlight or comment attached to a record's file.
type Annotation struct {
	Text    string
	Comment string
}

// View is the data handed to the document template.
type View struct {
	Frontmatter string
	Key         string
	Title       string
	ItemType    string
	Authors     []string
	Year        string
	DOI         string
	URL         string
	Abstract    string
	Tags        []string
	Notes       []string
	Annotations []Annotation
	Attachments []string
	UserZone    string
}

var yearRe = regexp.MustCompile(`\b(\d{4})\b`)

// Render returns the full text of the document for rec.
func (r *Renderer) Render(rec models.Record, children []models.Record, ctx Context) (string, error) {
	if rec.Key == "" {
		return "", fmt.Errorf("render: record without key")
	}
	title := rec.Title
	if title == "" {
		title = rec.Key
	}
	view := View{
		Key:         rec.Key,
		Title:       title,
		ItemType:    rec.ItemType,
		Authors:     authors(rec.Data["creators"]),
		Year:        year(rec.String("date")),
		DOI:         rec.String("DOI"),
		URL:         rec.String("url"),
		Abstract:    strings.TrimSpace(rec.String("abstractNote")),
		Tags:        nonNil(ctx.Tags),
		Attachments: ctx.Attachments,
		UserZone:    document.EmptyZone,
	}

	for _, child := range children {
		switch child.ItemType {
		case models.ItemTypeNote:
			note, err := r.noteMarkdown(child.String("note"))
			if err != nil {
				return "", fmt.Errorf("render: note %s: %w", child.Key, err)
			}
			if note != "" {
				view.Notes = append(view.Notes, note)
			}
		case models.ItemTypeAnnotation:
			a := Annotation{
				Text:    strings.TrimSpace(child.String("annotationText")),
				Comment: strings.TrimSpace(child.String("annotationComment")),
			}
			if a.Text != "" || a.Comment != "" {
				view.Annotations = append(view.Annotations, a)
			}
		}
	}

	fm, err := yaml.Marshal(frontmatter{
		Key:         view.Key,
		Title:       rec.Title,
		ItemType:    view.ItemType,
		Authors:     view.Authors,
		Year:        view.Year,
		DOI:         view.DOI,
		URL:         view.URL,
		Tags:        view.Tags,
		Attachments: view.Attachments,
	})
	if err != nil {
		return "", fmt.Errorf("render: frontmatter: %w", err)
	}
	view.Frontmatter = "---\n" + string(fm) + "---"

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render: execute template: %w", err)
	}
	return buf.String(), nil
}

func (r *Renderer) noteMarkdown(html string) (string, error) {
	html = strings.TrimSpace(html)
	if html == "" {
		return "", nil
	}
	clean := r.policy.Sanitize(html)
	out, err := r.md.ConvertString(clean)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func authors(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, c := range list {
		m, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if name, _ := m["name"].(string); strings.TrimSpace(name) != "" {
			out = append(out, strings.TrimSpace(name))
			continue
		}
		first, _ := m["firstName"].(string)
		last, _ := m["lastName"].(string)
		full := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
		if full != "" {
			out = append(out, full)
		}
	}
	return out
}

func year(date string) string {
	m := yearRe.FindStringSubmatch(date)
	if m == nil {
		return ""
	}
	return m[1]
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
