package eligibility

import (
	"strings"
	"unicode"

	pstrings "github.com/myx-labs/api-mecs/pkg/platform/strings"
)

// NormalizeReason turns a raw slash-delimited blacklist reason into a clean
// display string. Fragments that merely repeat the candidate's own name are
// dropped so "alt of <name>" style reasons don't echo the candidate back at
// themselves — unless the fragment explicitly says "alt", which is the part
// worth keeping.
func NormalizeReason(raw, candidateName string) string {
	fragments := strings.Split(raw, "/")
	kept := make([]string, 0, len(fragments))
	for _, fragment := range fragments {
		fragment = strings.TrimSpace(fragment)
		if fragment == "" {
			continue
		}
		if nameMatches(fragment, candidateName) && !strings.Contains(strings.ToLower(fragment), "alt") {
			continue
		}
		kept = append(kept, fragment)
	}

	kept = pstrings.DedupeAndTrimFold(kept)
	if len(kept) == 0 {
		return ""
	}
	return capitalize(strings.Join(kept, " / "))
}

// nameMatches reports whether a reason fragment is, or contains, the
// candidate's name, ignoring case and surrounding whitespace.
func nameMatches(fragment, name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	fragment = strings.ToLower(strings.TrimSpace(fragment))
	return fragment == name || strings.Contains(fragment, name)
}

func capitalize(s string) string {
	runes := []rune(s)
	if len(runes) == 0 {
		return s
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
