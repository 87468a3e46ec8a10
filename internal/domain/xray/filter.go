package xray

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Filter narrows images by free text and by the leading letter of the patient
// name. Both stages are optional and combine with AND. The result keeps the
// input order and never aliases the input slice.
func (e *Engine) Filter(images []ImageRecord, c Criteria) []ImageRecord {
	match := e.matcher(c)
	out := make([]ImageRecord, 0, len(images))
	for _, img := range images {
		if match(img.PatientName, img.PatientDNI, img.Description) {
			out = append(out, img)
		}
	}
	return out
}

// FilterFiles applies the same criteria to aggregated patient files. Files
// carry no description, so the text query is matched against name and key.
func (e *Engine) FilterFiles(files []PatientFile, c Criteria) []PatientFile {
	match := e.matcher(c)
	out := make([]PatientFile, 0, len(files))
	for _, f := range files {
		if match(f.PatientName, f.PatientDNI, "") {
			out = append(out, f)
		}
	}
	return out
}

type matchFunc func(name, dni, description string) bool

// matcher compiles c into a predicate. The returned func is not safe for
// concurrent use because it owns a cases.Caser.
func (e *Engine) matcher(c Criteria) matchFunc {
	textActive := strings.TrimSpace(c.Search) != ""
	lower := cases.Lower(e.tag)
	var query string
	if textActive {
		query = lower.String(c.Search)
	}

	return func(name, dni, description string) bool {
		if textActive && !containsAny(lower, query, name, dni, description) {
			return false
		}
		if c.Letter != 0 && leadingLetter(name) != c.Letter {
			return false
		}
		return true
	}
}

// containsAny reports whether query occurs in any of the fields after case
// mapping. Empty fields never match.
func containsAny(lower cases.Caser, query string, fields ...string) bool {
	for _, field := range fields {
		if field == "" {
			continue
		}
		if strings.Contains(lower.String(field), query) {
			return true
		}
	}
	return false
}

// leadingLetter upper-cases the first rune of name. It returns 0 for an empty
// or invalid name.
func leadingLetter(name string) rune {
	r, size := utf8.DecodeRuneInString(name)
	if size == 0 || r == utf8.RuneError {
		return 0
	}
	return unicode.ToUpper(r)
}
