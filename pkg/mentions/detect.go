package mentions

import (
	"fmt"
	"unicode"

	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
	"github.com/otherjamesbrown/teamdesk/pkg/profiles"
)

// Offsets throughout this package count runes, not bytes.

// Detect reports whether the caret sits inside an in-progress mention.
// It scans backward from the caret: whitespace before any '@' means no
// mention; the nearest '@' starts one. The caret is clamped to the text.
func Detect(text string, caret int) Detection {
	runes := []rune(text)
	caret = clamp(caret, len(runes))

	for i := caret - 1; i >= 0; i-- {
		r := runes[i]
		if unicode.IsSpace(r) {
			break
		}
		if r == '@' {
			return Detection{Active: true, Query: string(runes[i+1 : caret]), TriggerOffset: i}
		}
	}
	return Detection{TriggerOffset: -1}
}

// Insert replaces text[trigger:caret] with "@" + name + " " and returns the
// new text and the caret just after the trailing space.
func Insert(text string, trigger, caret int, name string) (Insertion, error) {
	runes := []rune(text)
	if trigger < 0 || trigger > caret || caret > len(runes) {
		return Insertion{}, fmt.Errorf("trigger %d and caret %d outside text of length %d: %w",
			trigger, caret, len(runes), tderrors.ErrValidation)
	}
	if name == "" {
		return Insertion{}, fmt.Errorf("empty profile name: %w", tderrors.ErrValidation)
	}

	nameRunes := []rune(name)
	out := make([]rune, 0, len(runes)+len(nameRunes)+2)
	out = append(out, runes[:trigger]...)
	out = append(out, '@')
	out = append(out, nameRunes...)
	out = append(out, ' ')
	out = append(out, runes[caret:]...)

	return Insertion{Text: string(out), Caret: trigger + 2 + len(nameRunes)}, nil
}

// Complete selects p for the mention in progress at caret. It fails with
// ErrInvalidState when no mention is active there.
func Complete(text string, caret int, p profiles.Profile) (Insertion, error) {
	d := Detect(text, caret)
	if !d.Active {
		return Insertion{}, fmt.Errorf("no mention at caret %d: %w", caret, tderrors.ErrInvalidState)
	}
	return Insert(text, d.TriggerOffset, clamp(caret, len([]rune(text))), p.Name)
}

func clamp(n, max int) int {
	if n < 0 {
		return 0
	}
	if n > max {
		return max
	}
	return n
}
