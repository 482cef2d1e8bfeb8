// Package document composes regenerated document text while keeping the
// user-editable zone of the previous version intact.
package document

import "strings"

// Markers delimiting the user-editable zone. Everything between them,
// markers included, is carried over verbatim on regeneration.
const (
	UserBegin = "<!-- refsync:user:begin -->"
	UserEnd   = "<!-- refsync:user:end -->"
)

// LegacyHeading introduced user content in documents written before the
// zone markers existed.
const LegacyHeading = "## My Notes"

// EmptyZone is the zone a renderer emits for a fresh document.
const EmptyZone = UserBegin + "\n\n" + UserEnd

// ExtractUserZone returns the marked zone of text, markers included.
func ExtractUserZone(text string) (string, bool) {
	start := strings.Index(text, UserBegin)
	if start < 0 {
		return "", false
	}
	rel := strings.Index(text[start:], UserEnd)
	if rel < 0 {
		// Unterminated: the user zone runs to the end of the document.
		return strings.TrimRight(text[start:], "\n") + "\n" + UserEnd, true
	}
	return text[start : start+rel+len(UserEnd)], true
}

// legacyZone wraps content following LegacyHeading into markers.
func legacyZone(text string) (string, bool) {
	idx := headingIndex(text, LegacyHeading)
	if idx < 0 {
		return "", false
	}
	content := strings.Trim(text[idx:], "\n")
	return UserBegin + "\n" + content + "\n" + UserEnd, true
}

// headingIndex finds heading at the start of a line.
func headingIndex(text, heading string) int {
	for off := 0; off < len(text); {
		i := strings.Index(text[off:], heading)
		if i < 0 {
			return -1
		}
		pos := off + i
		atLineStart := pos == 0 || text[pos-1] == '\n'
		end := pos + len(heading)
		atLineEnd := end == len(text) || text[end] == '\n' || text[end] == '\r'
		if atLineStart && atLineEnd {
			return pos
		}
		off = end
	}
	return -1
}

// Compose merges rendered output with the existing document. A marked zone
// in existing replaces the zone in rendered; unmarked legacy content is
// wrapped into markers first. If rendered has no zone the preserved zone is
// appended.
func Compose(existing, rendered string) string {
	if existing == "" {
		return rendered
	}
	zone, ok := ExtractUserZone(existing)
	if !ok {
		zone, ok = legacyZone(existing)
	}
	if !ok {
		return rendered
	}

	start := strings.Index(rendered, UserBegin)
	if start < 0 {
		return strings.TrimRight(rendered, "\n") + "\n\n" + zone + "\n"
	}
	rel := strings.Index(rendered[start:], UserEnd)
	end := len(rendered)
	if rel >= 0 {
		end = start + rel + len(UserEnd)
	}
	return rendered[:start] + zone + rendered[end:]
}
