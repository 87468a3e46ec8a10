package xray

import (
	"sort"
	"unicode"
)

// AvailableLetters lists the distinct upper-cased leading letters of the
// patient names in images, ascending. Only Latin letters qualify, which keeps
// accented vowels and Ñ while dropping digits and symbols.
func (e *Engine) AvailableLetters(images []ImageRecord) []rune {
	seen := make(map[rune]struct{})
	for _, img := range images {
		r := leadingLetter(img.PatientName)
		if !isFacetLetter(r) {
			continue
		}
		seen[r] = struct{}{}
	}

	letters := make([]rune, 0, len(seen))
	for r := range seen {
		letters = append(letters, r)
	}
	sort.Slice(letters, func(i, j int) bool { return letters[i] < letters[j] })
	return letters
}

func isFacetLetter(r rune) bool {
	return r != 0 && unicode.IsLetter(r) && unicode.Is(unicode.Latin, r)
}

// LetterStrings renders letters as one-character strings for JSON output.
func LetterStrings(letters []rune) []string {
	out := make([]string, len(letters))
	for i, r := range letters {
		out[i] = string(r)
	}
	return out
}
