package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// LocationRef is a parsed file-path-plus-line(s) reference extracted from
// text, e.g. "src/parser.go:42", "src/parser.go:42-50" or
// "src/parser.go:42:7". Refs are ephemeral: recomputed on every render and
// never persisted.
type LocationRef struct {
	Path    string
	Line    int
	Col     int // 1 when the reference carries no column
	EndLine int // 0 when the reference spans a single line
}

// Key returns the canonical allow-list key for the reference:
// "path:line" for single-line refs, "path:start-end" for ranges.
func (r LocationRef) Key() string {
	if r.EndLine > 0 && r.EndLine != r.Line {
		return fmt.Sprintf("%s:%d-%d", r.Path, r.Line, r.EndLine)
	}
	return fmt.Sprintf("%s:%d", r.Path, r.Line)
}

// Display returns the canonical display text for the reference. Columns are
// not part of the display form.
func (r LocationRef) Display() string {
	return r.Key()
}

// ParseLocationRef parses "path:line", "path:start-end" and "path:line:col"
// forms. It returns false when s does not match any of those shapes.
func ParseLocationRef(s string) (LocationRef, bool) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return LocationRef{}, false
	}

	head, tail := s[:i], s[i+1:]

	// "path:line:col": the tail is a column and head holds "path:line".
	if j := strings.LastIndex(head, ":"); j > 0 {
		if line, ok := parseLineRange(head[j+1:]); ok {
			col, err := strconv.Atoi(tail)
			if err != nil || col < 1 {
				return LocationRef{}, false
			}
			line.Path = head[:j]
			line.Col = col
			return line, line.Path != ""
		}
	}

	ref, ok := parseLineRange(tail)
	if !ok {
		return LocationRef{}, false
	}
	ref.Path = head
	return ref, true
}

// parseLineRange parses "N" or "N-M" into a pathless LocationRef.
func parseLineRange(s string) (LocationRef, bool) {
	start, end, ranged := strings.Cut(s, "-")
	line, err := strconv.Atoi(start)
	if err != nil || line < 1 {
		return LocationRef{}, false
	}
	ref := LocationRef{Line: line, Col: 1}
	if ranged {
		endLine, err := strconv.Atoi(end)
		if err != nil || endLine < line {
			return LocationRef{}, false
		}
		ref.EndLine = endLine
	}
	return ref, true
}

// AllowedLinkSet is the set of canonical location keys the caller has
// certified as safe to make navigable. Immutable for the duration of one
// render call.
type AllowedLinkSet map[string]struct{}

// NewAllowedLinkSet builds a set from canonical "path:line" /
// "path:start-end" keys.
func NewAllowedLinkSet(keys ...string) AllowedLinkSet {
	set := make(AllowedLinkSet, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// Contains reports whether ref's canonical key is in the set.
func (s AllowedLinkSet) Contains(ref LocationRef) bool {
	if s == nil {
		return false
	}
	_, ok := s[ref.Key()]
	return ok
}
