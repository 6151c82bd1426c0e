package mentions

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/otherjamesbrown/teamdesk/pkg/profiles"
)

// tokenPattern is the save-time grammar: '@' then one or more non-space,
// non-'@' runs joined by whitespace.
var tokenPattern = regexp.MustCompile(`@([^@\s]+(?:\s+[^@\s]+)*)`)

// Tokens returns the mention tokens of text without the leading '@',
// trimmed, in order of appearance.
func Tokens(text string) []string {
	matches := tokenPattern.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if tok := strings.TrimSpace(m[1]); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// Match finds the profile a token refers to, ignoring case:
//  1. a name equal to the token;
//  2. otherwise the longest name the token starts with, followed by
//     whitespace (greedy tokens like "Anna see you" resolve to "Anna");
//  3. otherwise the first name containing the token.
//
// Ties go to list order. ok is false when nothing matches.
func Match(list []profiles.Profile, token string) (p profiles.Profile, ok bool) {
	t := fold(strings.TrimSpace(strings.TrimPrefix(token, "@")))
	if t == "" {
		return profiles.Profile{}, false
	}

	folded := make([]string, len(list))
	for i, candidate := range list {
		folded[i] = fold(candidate.Name)
		if folded[i] != "" && folded[i] == t {
			return candidate, true
		}
	}

	best := -1
	for i, name := range folded {
		if name == "" || !strings.HasPrefix(t, name) {
			continue
		}
		next, _ := utf8.DecodeRuneInString(t[len(name):])
		if !unicode.IsSpace(next) {
			continue
		}
		if best < 0 || len(name) > len(folded[best]) {
			best = i
		}
	}
	if best >= 0 {
		return list[best], true
	}

	for i, name := range folded {
		if strings.Contains(name, t) {
			return list[i], true
		}
	}
	return profiles.Profile{}, false
}

// Resolve returns the distinct profile ids mentioned in text and the
// tokens that matched nobody.
func Resolve(text string, list []profiles.Profile) Resolution {
	res := Resolution{UserIDs: []string{}}
	seen := make(map[string]struct{})
	for _, tok := range Tokens(text) {
		p, ok := Match(list, tok)
		if !ok {
			res.Unmatched = append(res.Unmatched, tok)
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		res.UserIDs = append(res.UserIDs, p.ID)
	}
	return res
}

// ResolveAll resolves several texts of one entity (a note's title and
// content) into a single distinct id set.
func ResolveAll(list []profiles.Profile, texts ...string) Resolution {
	res := Resolution{UserIDs: []string{}}
	seen := make(map[string]struct{})
	for _, text := range texts {
		r := Resolve(text, list)
		for _, id := range r.UserIDs {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				res.UserIDs = append(res.UserIDs, id)
			}
		}
		res.Unmatched = append(res.Unmatched, r.Unmatched...)
	}
	return res
}
