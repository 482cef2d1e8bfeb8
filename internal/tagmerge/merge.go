package tagmerge

import "fmt"

// Policy selects how tags are combined when a record has no baseline yet.
type Policy string

const (
	// PolicyAdditive keeps every document tag and appends remote-only tags.
	PolicyAdditive Policy = "additive"
	// PolicyRemoteWins replaces the document tags with the remote tags.
	PolicyRemoteWins Policy = "remote-wins"
	// PolicyIntersection keeps only tags present on both sides.
	PolicyIntersection Policy = "intersection"
)

// ParsePolicy validates a configured policy name. Empty means additive.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return PolicyAdditive, nil
	case PolicyAdditive, PolicyRemoteWins, PolicyIntersection:
		return p, nil
	default:
		return "", fmt.Errorf("tagmerge: unknown first-sync policy %q", s)
	}
}

// Result is the outcome of a merge.
type Result struct {
	// Tags is the reconciled set in document form: document order first,
	// remote additions appended in remote order.
	Tags []string
	// Push is true when the remote set differs from Tags.
	Push bool
}

// Merger computes reconciled tag sets.
type Merger struct {
	Policy Policy
}

// Merge reconciles remote and document tags against the last reconciled
// baseline. hasBaseline distinguishes "never reconciled" from an empty set.
//
// With a baseline, tags the remote dropped since the baseline are removed
// from the document side, and tags the remote added since the baseline are
// appended. Document-only additions survive and are pushed.
func (m Merger) Merge(remote, document, baseline []string, hasBaseline bool) Result {
	remote = dedupe(remote)
	document = dedupe(document)

	var merged []string
	if !hasBaseline {
		merged = m.firstSight(remote, document)
	} else {
		merged = threeWay(remote, document, dedupe(baseline))
	}

	return Result{
		Tags: merged,
		Push: !Equal(merged, remote),
	}
}

func (m Merger) firstSight(remote, document []string) []string {
	remoteSet := newSet(remote)
	switch m.Policy {
	case PolicyRemoteWins:
		out := make([]string, 0, len(remote))
		for _, t := range remote {
			out = append(out, ToDocumentForm(t))
		}
		return out
	case PolicyIntersection:
		out := make([]string, 0, len(document))
		for _, t := range document {
			if remoteSet.has(t) {
				out = append(out, t)
			}
		}
		return out
	default:
		return appendMissing(document, remote)
	}
}

func threeWay(remote, document, baseline []string) []string {
	remoteSet := newSet(remote)
	baseSet := newSet(baseline)

	removedInRemote := make(set)
	for n := range baseSet {
		if _, ok := remoteSet[n]; !ok {
			removedInRemote[n] = struct{}{}
		}
	}

	out := make([]string, 0, len(document)+len(remote))
	for _, t := range document {
		if removedInRemote.has(t) {
			continue
		}
		out = append(out, t)
	}

	var addedInRemote []string
	for _, t := range remote {
		if !baseSet.has(t) {
			addedInRemote = append(addedInRemote, t)
		}
	}
	return appendMissing(out, addedInRemote)
}

// appendMissing appends every tag of extra not already in base, converted to
// document form.
func appendMissing(base, extra []string) []string {
	present := newSet(base)
	out := append([]string(nil), base...)
	for _, t := range extra {
		if present.has(t) {
			continue
		}
		dt := ToDocumentForm(t)
		present[Normalize(dt)] = struct{}{}
		out = append(out, dt)
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// PushPayload builds the tag list sent to the remote: the merged tags, using
// the remote's existing spelling where one normalizes equal, plus the
// sentinel tag that keeps the record in sync scope.
func PushPayload(merged, remote []string, sentinel string) []string {
	spelling := make(map[string]string, len(remote))
	for _, t := range remote {
		n := Normalize(t)
		if _, ok := spelling[n]; !ok && n != "" {
			spelling[n] = t
		}
	}

	seen := make(set, len(merged)+1)
	out := make([]string, 0, len(merged)+1)
	add := func(t string) {
		n := Normalize(t)
		if n == "" {
			return
		}
		if _, dup := seen[n]; dup {
			return
		}
		seen[n] = struct{}{}
		if s, ok := spelling[n]; ok {
			t = s
		}
		out = append(out, t)
	}
	for _, t := range merged {
		add(t)
	}
	add(sentinel)
	return out
}
