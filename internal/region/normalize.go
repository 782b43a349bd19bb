package region

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldMarks strips combining diacritical marks, so "Côte d'Ivoire" and
// "Cote d'Ivoire" normalize to the same key.
var foldMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize folds a country name into its matching key: diacritics removed,
// curly apostrophes straightened, lowercased, inner whitespace collapsed.
func Normalize(name string) string {
	folded, _, err := transform.String(foldMarks, name)
	if err != nil {
		folded = name
	}
	folded = strings.ReplaceAll(folded, "’", "'")
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
