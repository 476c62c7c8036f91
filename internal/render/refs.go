package render

import (
	"regexp"
	"strings"

	"gloss/internal/domain"
)

// refExtractor scans free text for code-location references and rewrites
// them into markdown links ahead of markup rendering. Two independent
// passes: back-tick-wrapped references and bare references between code
// spans. Content inside fenced code blocks is never rewritten.
type refExtractor struct {
	aliases *aliasTable
}

var (
	codeSpanRe = regexp.MustCompile("`[^`\n]+`")
	mdLinkRe   = regexp.MustCompile(`\[[^\]\n]*\]\([^)\n]*\)`)
	// A path-like token with a required file extension, immediately followed
	// by :N[-M][:C].
	bareRefRe = regexp.MustCompile(`(^|[\s([{"'])([A-Za-z0-9_~][\w./-]*\.[A-Za-z][A-Za-z0-9]*:\d+(?:-\d+)?(?::\d+)?)`)
)

// Rewrite returns text with location references converted to markdown links.
func (e *refExtractor) Rewrite(text string) string {
	lines := strings.Split(text, "\n")
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		lines[i] = e.rewriteLine(line)
	}
	return strings.Join(lines, "\n")
}

func (e *refExtractor) rewriteLine(line string) string {
	// Bare pass first, scanning only the segments between back-tick spans
	// so inline code is not double-processed. Existing markdown links are
	// protected the same way.
	var out strings.Builder
	rest := line
	for rest != "" {
		loc := codeSpanRe.FindStringIndex(rest)
		if loc == nil {
			out.WriteString(e.rewriteBare(rest))
			break
		}
		out.WriteString(e.rewriteBare(rest[:loc[0]]))
		out.WriteString(e.rewriteSpan(rest[loc[0]:loc[1]]))
		rest = rest[loc[1]:]
	}
	return out.String()
}

// rewriteSpan converts one back-tick span of the shape `path:N[-M][:C]`
// into a markdown link whose target and display are the literal reference.
// Spans that already carry a URI scheme are left untouched.
func (e *refExtractor) rewriteSpan(span string) string {
	inner := strings.Trim(span, "`")
	if strings.Contains(inner, "://") || strings.ContainsAny(inner, " \t") {
		return span
	}
	ref, ok := domain.ParseLocationRef(inner)
	if !ok || !hasFileExtension(ref.Path) {
		return span
	}
	return "[" + span + "](" + e.target(inner, ref) + ")"
}

// rewriteBare converts bare references in a text segment that contains no
// back-tick spans. Segments inside existing markdown links are skipped.
func (e *refExtractor) rewriteBare(segment string) string {
	var out strings.Builder
	rest := segment
	for rest != "" {
		loc := mdLinkRe.FindStringIndex(rest)
		if loc == nil {
			out.WriteString(e.linkBareRefs(rest))
			break
		}
		out.WriteString(e.linkBareRefs(rest[:loc[0]]))
		out.WriteString(rest[loc[0]:loc[1]])
		rest = rest[loc[1]:]
	}
	return out.String()
}

func (e *refExtractor) linkBareRefs(s string) string {
	return bareRefRe.ReplaceAllStringFunc(s, func(m string) string {
		groups := bareRefRe.FindStringSubmatch(m)
		lead, raw := groups[1], groups[2]
		ref, ok := domain.ParseLocationRef(raw)
		if !ok {
			return m
		}
		return lead + "[" + raw + "](" + e.target(raw, ref) + ")"
	})
}

// target finalizes the link destination, collapsing legacy path prefixes to
// their canonical form. The display text keeps the literal reference.
func (e *refExtractor) target(raw string, ref domain.LocationRef) string {
	canonical := e.aliases.Canonical(ref.Path)
	if canonical == ref.Path {
		return raw
	}
	return canonical + raw[len(ref.Path):]
}

func hasFileExtension(path string) bool {
	i := strings.LastIndex(path, ".")
	if i <= 0 || i == len(path)-1 {
		return false
	}
	ext := path[i+1:]
	for _, r := range ext {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
