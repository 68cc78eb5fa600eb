// Copyright 2025 Swixixle
//
// PHI pattern guard
//
// Defense-in-depth, not a PHI scanner: requests whose note text carries
// obviously identifying patterns are rejected before any hashing runs. The
// error names only the matched pattern categories, never the matched text.

package certificate

import (
	"fmt"
	"regexp"
	"strings"
)

var phiPatterns = []struct {
	category string
	re       *regexp.Regexp
}{
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"phone", regexp.MustCompile(`\b(?:\+?1[-. ]?)?\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`)},
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
}

// PHIError reports which pattern categories matched. Its message never
// contains the matched substrings.
type PHIError struct {
	Categories []string
}

func (e *PHIError) Error() string {
	return fmt.Sprintf("phi_detected_in_note_text: %s", strings.Join(e.Categories, ", "))
}

// CheckNoteText scans note text for direct PHI patterns and returns a
// *PHIError naming the matched categories, or nil.
func CheckNoteText(noteText string) error {
	var matched []string
	for _, p := range phiPatterns {
		if p.re.MatchString(noteText) {
			matched = append(matched, p.category)
		}
	}
	if len(matched) > 0 {
		return &PHIError{Categories: matched}
	}
	return nil
}
