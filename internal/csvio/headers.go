package csvio

import (
	"fmt"

	"github.com/agnivade/levenshtein"
)

// maxHintDistance bounds how far a present header may be from an expected
// one and still be offered as a suggestion.
const maxHintDistance = 2

// HeaderIssue describes an expected column the file does not carry.
type HeaderIssue struct {
	Want    []string `json:"want"`
	Closest string   `json:"closest,omitempty"`
}

func (h HeaderIssue) String() string {
	if h.Closest != "" {
		return fmt.Sprintf("missing column %q (closest: %q)", h.Want[0], h.Closest)
	}
	return fmt.Sprintf("missing column %q", h.Want[0])
}

// MissingColumns checks each group of acceptable spellings against the
// table header. A group is satisfied when any spelling is present.
func MissingColumns(t *Table, groups ...[]string) []HeaderIssue {
	var issues []HeaderIssue
	for _, group := range groups {
		if len(group) == 0 || hasAny(t, group) {
			continue
		}
		issues = append(issues, HeaderIssue{
			Want:    group,
			Closest: closestHeader(t.Header, group),
		})
	}
	return issues
}

func hasAny(t *Table, names []string) bool {
	for _, name := range names {
		if t.Column(name) >= 0 {
			return true
		}
	}
	return false
}

func closestHeader(header []string, want []string) string {
	best, bestDist := "", maxHintDistance+1
	for _, h := range header {
		for _, w := range want {
			if d := levenshtein.ComputeDistance(h, w); d < bestDist {
				best, bestDist = h, d
			}
		}
	}
	return best
}
