package omdb

import (
	"regexp"
	"strconv"
	"strings"
)

// noData is OMDb's marker for a missing attribute.
const noData = "N/A"

var runtimePattern = regexp.MustCompile(`(?i)^\s*(\d+)\s*min\s*$`)

// Normalize converts a raw response into a Record. Fields holding the
// "N/A" marker or nothing become absent, and a runtime is only accepted in
// the "<n> min" form.
func Normalize(resp *Response) Record {
	if resp == nil {
		return Record{}
	}

	return Record{
		ImdbID:    optional(resp.ImdbID),
		Plot:      optional(resp.Plot),
		BoxOffice: optional(resp.BoxOffice),
		Runtime:   ParseRuntime(resp.Runtime),
		Directors: SplitDirectors(resp.Director),
	}
}

// ParseRuntime returns the minutes in a "<n> min" string, or nil.
func ParseRuntime(s string) *int {
	m := runtimePattern.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

// SplitDirectors splits OMDb's comma-separated director list.
func SplitDirectors(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == noData {
		return nil
	}

	var names []string
	for _, part := range strings.Split(s, ",") {
		name := strings.TrimSpace(part)
		if name == "" || name == noData {
			continue
		}
		names = append(names, name)
	}
	return names
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" || s == noData {
		return nil
	}
	return &s
}
