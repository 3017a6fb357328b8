package attendance

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldText lowercases s and strips diacritics ("Jiří" -> "jiri").
func foldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// MatchesQuery reports whether the student's name or student id contains
// query, ignoring case and diacritics.
func MatchesQuery(st Student, query string) bool {
	q := foldText(query)
	if q == "" {
		return true
	}
	return strings.Contains(foldText(st.Name), q) || strings.Contains(foldText(st.StudentID), q)
}
