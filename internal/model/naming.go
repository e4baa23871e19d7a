package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Normalize maps a logical model name to its storage identifier.
//
// The name is NFC normalized, split into words at case changes
// ("accessToken", "XMLHttp"), at letter/digit boundaries and at any rune
// that is neither letter nor digit, then lowercased and joined with "_":
//
//	Normalize("AccessToken")                == "access_token"
//	Normalize("PushedAuthorizationRequest") == "pushed_authorization_request"
//	Normalize("refresh-token")              == "refresh_token"
//
// Names that are already snake_case map to themselves.
func Normalize(name string) string {
	runes := []rune(norm.NFC.String(name))

	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}

	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(cur) > 0 {
			prev := cur[len(cur)-1]
			switch {
			case unicode.IsDigit(r) != unicode.IsDigit(prev):
				flush()
			case unicode.IsUpper(r) && unicode.IsLower(prev):
				flush()
			case unicode.IsUpper(r) && unicode.IsUpper(prev) &&
				i+1 < len(runes) && unicode.IsLower(runes[i+1]):
				// "XMLHttp": the last capital starts the next word
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()

	// A Caser is stateful; one per call keeps Normalize safe for concurrent use.
	return cases.Lower(language.Und).String(strings.Join(words, "_"))
}
