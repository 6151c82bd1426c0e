package mentions

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/otherjamesbrown/teamdesk/pkg/profiles"
)

// DefaultSuggestionLimit caps the suggestion list.
const DefaultSuggestionLimit = 5

// Suggest returns up to limit profiles whose name contains query,
// ignoring case, in list order. An empty query matches everyone.
// limit <= 0 uses DefaultSuggestionLimit.
func Suggest(list []profiles.Profile, query string, limit int) []profiles.Profile {
	if limit <= 0 {
		limit = DefaultSuggestionLimit
	}
	q := fold(query)

	out := make([]profiles.Profile, 0, limit)
	for _, p := range list {
		if len(out) == limit {
			break
		}
		if strings.Contains(fold(p.Name), q) {
			out = append(out, p)
		}
	}
	return out
}

// fold case-folds s for comparison. A cases.Caser holds state, so each
// call gets its own.
func fold(s string) string {
	return cases.Fold().String(s)
}
