// Package tagmerge reconciles a record's tag set between the local document
// and the remote library using the last reconciled set as the common base.
package tagmerge

import (
	"regexp"
	"strings"
)

var (
	separatorRe  = regexp.MustCompile(`[\s_\-]+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Normalize returns the comparison form of a tag: lowercase, without a
// leading '#', with runs of spaces, hyphens and underscores collapsed to a
// single hyphen.
func Normalize(tag string) string {
	t := strings.TrimSpace(tag)
	t = strings.TrimLeft(t, "#")
	t = strings.ToLower(t)
	t = separatorRe.ReplaceAllString(t, "-")
	return strings.Trim(t, "-")
}

// ToDocumentForm converts a tag to the document convention, where tags
// cannot contain whitespace. Case is preserved.
func ToDocumentForm(tag string) string {
	t := strings.TrimSpace(tag)
	t = strings.TrimLeft(t, "#")
	return whitespaceRe.ReplaceAllString(t, "-")
}

// Equal reports whether a and b hold the same tags after normalization.
func Equal(a, b []string) bool {
	sa, sb := newSet(a), newSet(b)
	if len(sa) != len(sb) {
		return false
	}
	for k := range sa {
		if _, ok := sb[k]; !ok {
			return false
		}
	}
	return true
}

// Without returns tags minus every entry normalizing to the same form as tag.
func Without(tags []string, tag string) []string {
	drop := Normalize(tag)
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if Normalize(t) == drop {
			continue
		}
		out = append(out, t)
	}
	return out
}

type set map[string]struct{}

func newSet(tags []string) set {
	s := make(set, len(tags))
	for _, t := range tags {
		if n := Normalize(t); n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

func (s set) has(tag string) bool {
	_, ok := s[Normalize(tag)]
	return ok
}

// dedupe drops empty tags and later duplicates by normalized form.
func dedupe(tags []string) []string {
	seen := make(set, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		n := Normalize(t)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, strings.TrimSpace(t))
	}
	return out
}
