package value

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FoldMode selects the normalisations applied by Fold.
type FoldMode int

const (
	// FoldCase compares strings case-insensitively.
	FoldCase FoldMode = 1 << iota
	// FoldDiacritics compares strings ignoring combining marks ("é" == "e").
	FoldDiacritics
)

// Fold normalises s for comparison under mode.
// The result is always NFC so that equal text compares equal bytewise.
//
// Transformers and casers are stateful, so a fresh chain is built per call.
func Fold(s string, mode FoldMode) string {
	if mode&FoldDiacritics != 0 {
		t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
		if out, _, err := transform.String(t, s); err == nil {
			s = out
		}
	} else {
		s = norm.NFC.String(s)
	}
	if mode&FoldCase != 0 {
		s = cases.Fold().String(s)
	}
	return s
}

// HasPrefixFold reports whether s begins with prefix under mode.
func HasPrefixFold(s, prefix string, mode FoldMode) bool {
	return strings.HasPrefix(Fold(s, mode), Fold(prefix, mode))
}

// HasSuffixFold reports whether s ends with suffix under mode.
func HasSuffixFold(s, suffix string, mode FoldMode) bool {
	return strings.HasSuffix(Fold(s, mode), Fold(suffix, mode))
}

// ContainsFold reports whether substr is within s under mode.
func ContainsFold(s, substr string, mode FoldMode) bool {
	return strings.Contains(Fold(s, mode), Fold(substr, mode))
}
