package render

import (
	"github.com/microcosm-cc/bluemonday"
)

// newPolicy builds the HTML sanitization policy applied to every rendered
// markup string. The allow-list is fixed: text structure, class-styled code
// spans, and the data attributes the panel's link handler reads. Everything
// else, scripts and event handlers included, is stripped.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "hr",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"em", "strong", "del", "s",
		"ul", "ol", "li",
		"blockquote",
		"table", "thead", "tbody", "tr", "th", "td",
		"pre", "code", "span",
	)

	// Syntax highlighting emits class-based styling only, so class is the
	// single presentational attribute allowed through.
	p.AllowAttrs("class").OnElements("span", "code", "pre", "a")

	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("data-path", "data-line", "data-col", "data-end-line").OnElements("a")
	p.AllowAttrs("data-symbol").OnElements("span")

	p.AllowURLSchemes("http", "https")
	p.AllowRelativeURLs(true)

	return p
}

// Sanitize filters markup through the fixed policy. The policy is
// idempotent: sanitizing already-sanitized markup returns it unchanged.
func (r *Renderer) Sanitize(markup string) string {
	return r.policy.Sanitize(markup)
}
