package render

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"

	"gloss/internal/domain"
)

// aliasTable canonicalizes legacy path prefixes. Longest prefix wins.
type aliasTable struct {
	prefixes []string
	targets  map[string]string
}

func newAliasTable(aliases map[string]string) *aliasTable {
	t := &aliasTable{targets: aliases}
	for prefix := range aliases {
		t.prefixes = append(t.prefixes, prefix)
	}
	sort.Slice(t.prefixes, func(i, j int) bool {
		return len(t.prefixes[i]) > len(t.prefixes[j])
	})
	return t
}

// Canonical rewrites one legacy prefix of path, if any matches.
func (t *aliasTable) Canonical(path string) string {
	for _, prefix := range t.prefixes {
		if strings.HasPrefix(path, prefix) {
			return t.targets[prefix] + path[len(prefix):]
		}
	}
	return path
}

// LinkOutcome is how one link target is ultimately treated.
type LinkOutcome int

const (
	// LinkExternal is an ordinary web link, passed through to the sanitizer.
	LinkExternal LinkOutcome = iota
	// LinkActive is an allow-listed location, emitted as a navigable anchor.
	LinkActive
	// LinkPlain is a location not on the allow-list (or an unusable target),
	// degraded to display text with no anchor.
	LinkPlain
	// LinkSymbol is an identifier-shaped target with no file association,
	// emitted as a non-navigating placeholder. Never allow-list checked.
	LinkSymbol
)

// Authorization is the rewrite decision for one link target.
type Authorization struct {
	Outcome LinkOutcome
	Ref     domain.LocationRef // set for LinkActive / location-shaped LinkPlain
	Symbol  string             // set for LinkSymbol
	Display string             // canonical display text for non-external outcomes
}

// linkFilter authorizes link targets against the caller-supplied allow-list.
// This is the core defense against the renderer turning model-hallucinated
// or out-of-scope locations into clickable navigation.
type linkFilter struct {
	allowed domain.AllowedLinkSet
	aliases *aliasTable
}

var symbolRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]{0,63}$`)

// Authorize classifies and authorizes one link destination.
func (f *linkFilter) Authorize(dest string) Authorization {
	if i := strings.Index(dest, "://"); i >= 0 {
		switch dest[:i] {
		case "http", "https":
			return Authorization{Outcome: LinkExternal}
		case "file":
			if ref, ok := parseFileURL(dest); ok {
				return f.authorizeRef(ref)
			}
			return Authorization{Outcome: LinkPlain, Display: dest}
		default:
			// Unknown scheme: never navigable.
			return Authorization{Outcome: LinkPlain, Display: dest}
		}
	}

	if ref, ok := domain.ParseLocationRef(dest); ok {
		return f.authorizeRef(ref)
	}

	if symbolRe.MatchString(dest) {
		return Authorization{Outcome: LinkSymbol, Symbol: dest, Display: dest}
	}

	return Authorization{Outcome: LinkPlain, Display: dest}
}

// authorizeRef consults the allow-list. The path is canonicalized first so
// every reference form of the same location checks the same key.
func (f *linkFilter) authorizeRef(ref domain.LocationRef) Authorization {
	ref.Path = f.aliases.Canonical(ref.Path)
	a := Authorization{Ref: ref, Display: ref.Display()}
	if f.allowed.Contains(ref) {
		a.Outcome = LinkActive
	} else {
		a.Outcome = LinkPlain
	}
	return a
}

// parseFileURL resolves "file://path#L10" / "file:///abs/path#L10-12" forms.
func parseFileURL(dest string) (domain.LocationRef, bool) {
	rest := strings.TrimPrefix(dest, "file://")
	path, frag, _ := strings.Cut(rest, "#")
	if path == "" {
		return domain.LocationRef{}, false
	}

	lineSpec, ok := strings.CutPrefix(frag, "L")
	if !ok {
		return domain.LocationRef{}, false
	}
	ref, ok := domain.ParseLocationRef(path + ":" + lineSpec)
	if !ok {
		return domain.LocationRef{}, false
	}
	return ref, true
}

// anchorHTML renders an authorized location as a navigable anchor carrying
// structured data attributes, so the display layer can navigate without
// re-parsing the link text. The trailing line suffix of the display text is
// visually distinguished from the path portion.
func anchorHTML(ref domain.LocationRef) string {
	var b strings.Builder
	b.WriteString(`<a href="#" class="loc-link"`)
	fmt.Fprintf(&b, ` data-path="%s"`, html.EscapeString(ref.Path))
	fmt.Fprintf(&b, ` data-line="%d"`, ref.Line)
	fmt.Fprintf(&b, ` data-col="%d"`, ref.Col)
	if ref.EndLine > 0 && ref.EndLine != ref.Line {
		fmt.Fprintf(&b, ` data-end-line="%d"`, ref.EndLine)
	}
	b.WriteString(">")

	display := ref.Display()
	if i := strings.Index(display, ":"); i > 0 {
		b.WriteString(html.EscapeString(display[:i]))
		b.WriteString(`<span class="loc-suffix">`)
		b.WriteString(html.EscapeString(display[i:]))
		b.WriteString(`</span>`)
	} else {
		b.WriteString(html.EscapeString(display))
	}

	b.WriteString("</a>")
	return b.String()
}

// symbolHTML renders a symbol reference as a no-navigation placeholder. The
// raw symbol text rides along for a secondary best-effort lookup.
func symbolHTML(symbol string) string {
	return fmt.Sprintf(`<span class="symbol-ref" data-symbol="%s">%s</span>`,
		html.EscapeString(symbol), html.EscapeString(symbol))
}
