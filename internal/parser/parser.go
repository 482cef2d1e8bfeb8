// Package parser reads the structured YAML header of a synced document.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Header field names written by the renderer.
const (
	FieldKey         = "item-key"
	FieldTags        = "tags"
	FieldAttachments = "attachments"
	FieldTitle       = "title"
)

var (
	// ErrNoHeader means the document has no leading frontmatter block.
	ErrNoHeader = errors.New("parser: no frontmatter header")
	// ErrInvalidHeader means the frontmatter is present but not valid YAML
	// or has a field of the wrong shape.
	ErrInvalidHeader = errors.New("parser: invalid frontmatter header")
)

// Header is the typed view of a document's frontmatter.
type Header struct {
	Key         string
	Title       string
	Tags        []string
	Attachments []string
	Fields      map[string]any
}

// ParseHeader extracts the typed header from raw document bytes.
func ParseHeader(data []byte) (*Header, error) {
	block, _, ok := SplitFrontmatter(data)
	if !ok {
		return nil, ErrNoHeader
	}

	var fm map[string]any
	if err := yaml.Unmarshal(block, &fm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if fm == nil {
		fm = map[string]any{}
	}

	h := &Header{Fields: fm}
	if v, ok := fm[FieldKey]; ok {
		s, isStr := v.(string)
		if !isStr {
			return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidHeader, FieldKey)
		}
		h.Key = strings.TrimSpace(s)
	}
	if s, ok := fm[FieldTitle].(string); ok {
		h.Title = s
	}

	tags, err := stringList(fm[FieldTags], true)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidHeader, FieldTags, err)
	}
	h.Tags = tags

	atts, err := stringList(fm[FieldAttachments], false)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidHeader, FieldAttachments, err)
	}
	h.Attachments = atts

	return h, nil
}

// SplitFrontmatter separates the YAML block (between leading --- delimiters)
// from the body. ok is false when no complete block is present.
func SplitFrontmatter(data []byte) (block []byte, body string, ok bool) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), false
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), false
	}

	block = rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body = strings.TrimLeft(string(afterDelim), "\n\r")
	return block, body, true
}

// stringList accepts a YAML sequence of scalars or, when splitScalar is set,
// a single comma or space separated string.
func stringList(raw any, splitScalar bool) ([]string, error) {
	var items []string
	switch v := raw.(type) {
	case nil:
		return []string{}, nil
	case []any:
		for _, item := range v {
			switch s := item.(type) {
			case string:
				items = append(items, s)
			case int, int64, float64, bool:
				items = append(items, fmt.Sprint(s))
			case nil:
			default:
				return nil, fmt.Errorf("unsupported item %T", item)
			}
		}
	case string:
		if !splitScalar {
			items = []string{v}
			break
		}
		items = strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
	default:
		return nil, fmt.Errorf("unsupported value %T", raw)
	}

	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		s = strings.TrimLeft(strings.TrimSpace(s), "#")
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}
