package bot

import (
	"strings"
	"unicode"
)

var (
	affirmativeWords = map[string]bool{
		"yes": true, "y": true, "yeah": true, "yep": true,
		"confirm": true, "confirmed": true, "sure": true,
		"ok": true, "okay": true,
	}
	negativeWords = map[string]bool{
		"no": true, "not": true, "don't": true, "dont": true,
		"cancel": true, "stop": true, "never": true, "nope": true,
	}
)

// IsAffirmative reports whether a reply to a confirmation prompt agrees to
// the action. It looks at whole words, and any negative word wins, so
// "yes" and "ok, go ahead" confirm while "yes, but not now" and
// "eyes" do not.
func IsAffirmative(text string) bool {
	text = strings.ReplaceAll(strings.ToLower(text), "’", "'")
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})

	affirmative := false
	for _, w := range words {
		w = strings.Trim(w, "'")
		if negativeWords[w] {
			return false
		}
		if affirmativeWords[w] {
			affirmative = true
		}
	}
	return affirmative
}
