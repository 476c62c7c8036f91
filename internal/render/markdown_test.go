package render

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"gloss/internal/domain"
)

func newTestRenderer(aliases map[string]string) *Renderer {
	return NewRenderer(aliases, "github", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRenderAuthorizedLink(t *testing.T) {
	r := newTestRenderer(nil)
	allowed := domain.NewAllowedLinkSet("src/a.ts:10-12")

	out := r.RenderMarkdown("the bug is in `src/a.ts:10-12` somewhere", Options{AllowedLinks: allowed})

	for _, want := range []string{
		`class="loc-link"`,
		`data-path="src/a.ts"`,
		`data-line="10"`,
		`data-end-line="12"`,
		`class="loc-suffix"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderUnauthorizedLinkDegrades(t *testing.T) {
	r := newTestRenderer(nil)

	out := r.RenderMarkdown("the bug is in `src/a.ts:10-12` somewhere", Options{})

	if strings.Contains(out, "<a") {
		t.Errorf("unauthorized link produced an anchor:\n%s", out)
	}
	if !strings.Contains(out, "src/a.ts:10-12") {
		t.Errorf("display text lost:\n%s", out)
	}
}

func TestRenderNeverLinksInsideFences(t *testing.T) {
	r := newTestRenderer(nil)
	allowed := domain.NewAllowedLinkSet("src/b.ts:7")

	in := "look at src/b.ts:7\n\n```\nsrc/b.ts:7\n```\n"
	out := r.RenderMarkdown(in, Options{AllowedLinks: allowed})

	if got := strings.Count(out, `class="loc-link"`); got != 1 {
		t.Errorf("loc-link count = %d, want 1:\n%s", got, out)
	}
	if !strings.Contains(out, "<pre") {
		t.Errorf("fenced block missing:\n%s", out)
	}
}

func TestRenderExternalLink(t *testing.T) {
	r := newTestRenderer(nil)

	out := r.RenderMarkdown("read [the docs](https://example.com/docs)", Options{})

	if !strings.Contains(out, `href="https://example.com/docs"`) {
		t.Errorf("external link missing:\n%s", out)
	}
	if !strings.Contains(out, "the docs") {
		t.Errorf("link text missing:\n%s", out)
	}
}

func TestRenderSymbolRef(t *testing.T) {
	r := newTestRenderer(nil)

	out := r.RenderMarkdown("see [Parser.parse](Parser.parse) for details", Options{})

	if !strings.Contains(out, `data-symbol="Parser.parse"`) {
		t.Errorf("symbol ref missing:\n%s", out)
	}
	if strings.Contains(out, "<a") {
		t.Errorf("symbol ref produced an anchor:\n%s", out)
	}
}

func TestRenderHighlightsFencedCode(t *testing.T) {
	r := newTestRenderer(nil)

	out := r.RenderMarkdown("```go\nfunc main() {}\n```\n", Options{})

	if !strings.Contains(out, "chroma") {
		t.Errorf("highlighted block missing chroma classes:\n%s", out)
	}
	if !strings.Contains(out, "main") {
		t.Errorf("code text lost:\n%s", out)
	}
}

func TestRenderStripsScripts(t *testing.T) {
	r := newTestRenderer(nil)

	out := r.RenderMarkdown("hi <script>alert(1)</script>hello", Options{})

	if strings.Contains(out, "<script") {
		t.Errorf("script survived rendering:\n%s", out)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("text lost:\n%s", out)
	}
}

func TestRenderAliasedRefAuthorizedUnderCanonicalPath(t *testing.T) {
	r := newTestRenderer(map[string]string{"old/": "src/"})
	allowed := domain.NewAllowedLinkSet("src/a.ts:3")

	out := r.RenderMarkdown("see `old/a.ts:3`", Options{AllowedLinks: allowed})

	if !strings.Contains(out, `data-path="src/a.ts"`) {
		t.Errorf("aliased ref not canonicalized:\n%s", out)
	}
}
