// Package catalog reads the movie catalog and ratings files and parses the
// "Title (Year)" convention used by MovieLens-style catalogs.
package catalog

import "strings"

const minYearDigits = 4

// ParseTitle splits a raw catalog title into its title and release year.
//
// A trailing parenthesized segment counts as the year only when it is all
// ASCII digits and at least four characters long. Anything else is kept as
// part of the title and the year is nil.
func ParseTitle(raw string) (string, *int) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasSuffix(trimmed, ")") {
		return trimmed, nil
	}

	open := strings.LastIndex(trimmed, " (")
	if open < 0 {
		return trimmed, nil
	}

	inner := trimmed[open+2 : len(trimmed)-1]
	year, ok := parseYearDigits(inner)
	if !ok {
		return trimmed, nil
	}

	return strings.TrimSpace(trimmed[:open]), &year
}

func parseYearDigits(s string) (int, bool) {
	if len(s) < minYearDigits {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
		// Guard against absurdly long digit runs overflowing int.
		if n > 1_000_000_000 {
			return 0, false
		}
	}
	return n, true
}
