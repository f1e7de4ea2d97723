// Package marker detects the four built-in marker categories in turn
// content and computes the recall-time marker boost for a candidate.
// Detection is a small set of compiled-once regexes over a fixed
// vocabulary per category.
package marker

import (
	"regexp"
	"strings"

	"github.com/Saket-Kr/acms"
)

// vocabulary holds the alternation pattern for each built-in marker type,
// matched case-insensitively, anchored at the start of the content or
// right after a newline with optional leading whitespace, followed by a
// colon.
var vocabulary = map[acms.MarkerType]string{
	acms.MarkerDecision:   `decision|decided|choosing|selected|chose|picked|going with`,
	acms.MarkerConstraint: `constraint|requirement|must|cannot|can't|won't|budget|limit|restriction`,
	acms.MarkerFailure:    `failed|error|didn't work|didn't succeed|tried but|couldn't|could not`,
	acms.MarkerGoal:       `goal|objective|task|need to|want to|trying to|aim`,
}

// detectionOrder fixes a stable order for first-appearance tie-breaking
// across marker types (otherwise Go map iteration would be unstable).
var detectionOrder = []acms.MarkerType{
	acms.MarkerDecision,
	acms.MarkerConstraint,
	acms.MarkerFailure,
	acms.MarkerGoal,
}

type compiledMatcher struct {
	markerType acms.MarkerType
	re         *regexp.Regexp
}

var matchers = buildMatchers()

func buildMatchers() []compiledMatcher {
	out := make([]compiledMatcher, 0, len(detectionOrder))
	for _, mt := range detectionOrder {
		pattern := `(?im)(?:^|\n[ \t]*)(?:` + vocabulary[mt] + `)[ \t]*:`
		out = append(out, compiledMatcher{markerType: mt, re: regexp.MustCompile(pattern)})
	}
	return out
}

// match carries a marker's first occurrence offset, used to order
// detected markers by first appearance.
type match struct {
	marker string
	offset int
}

// Detect returns the built-in markers found in content, deduplicated and
// ordered by first appearance.
func Detect(content string) []string {
	var found []match
	seen := make(map[string]bool)
	for _, m := range matchers {
		loc := m.re.FindStringIndex(content)
		if loc == nil {
			continue
		}
		name := string(m.markerType)
		if seen[name] {
			continue
		}
		seen[name] = true
		found = append(found, match{marker: name, offset: loc[0]})
	}
	// Stable sort by first-appearance offset; matchers are already
	// iterated in a fixed order so equal offsets keep that order.
	for i := 1; i < len(found); i++ {
		j := i
		for j > 0 && found[j-1].offset > found[j].offset {
			found[j-1], found[j] = found[j], found[j-1]
			j--
		}
	}
	if len(found) == 0 {
		return nil
	}
	result := make([]string, len(found))
	for i, m := range found {
		result[i] = m.marker
	}
	return result
}

// Merge resolves the marker source for a turn: if explicit is non-empty,
// it is deduplicated (order-preserving) and used verbatim; auto-detected
// markers are ignored in that case. Otherwise, when autoDetect is true,
// Detect(content) is used.
func Merge(content string, explicit []string, autoDetect bool) []string {
	if len(explicit) > 0 {
		return dedupePreserveOrder(explicit)
	}
	if autoDetect {
		return Detect(content)
	}
	return nil
}

func dedupePreserveOrder(markers []string) []string {
	seen := make(map[string]bool, len(markers))
	out := make([]string, 0, len(markers))
	for _, m := range markers {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// Boost sums the configured weight for each of markers, using weightFor
// to resolve a marker's weight (including the custom:* fallback handled
// by acms.MarkerWeights.WeightFor).
func Boost(markers []string, weightFor func(marker string) float64) float64 {
	var total float64
	for _, m := range markers {
		total += weightFor(m)
	}
	return total
}

// IsBuiltin reports whether marker names one of the four built-in types.
func IsBuiltin(marker string) bool {
	switch acms.MarkerType(marker) {
	case acms.MarkerDecision, acms.MarkerConstraint, acms.MarkerFailure, acms.MarkerGoal:
		return true
	default:
		return false
	}
}

// Normalize trims whitespace from a caller-supplied marker string. Custom
// markers must carry the "custom:" prefix and a non-empty name; this does
// not enforce that shape (validation does), it only tidies input.
func Normalize(marker string) string {
	return strings.TrimSpace(marker)
}
