package render

import (
	"bytes"
	"html"
	"log/slog"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"

	"gloss/internal/domain"
)

// Renderer converts streamed completion text into sanitized display markup.
// It is safe for reuse across requests; per-request state (the link
// allow-list) comes in through Options.
type Renderer struct {
	policy  *bluemonday.Policy
	aliases *aliasTable
	style   string
	logger  *slog.Logger
}

// Options carries the per-request rendering inputs.
type Options struct {
	// AllowedLinks is the set of location references the current response
	// may link to. Links outside the set degrade to plain text.
	AllowedLinks domain.AllowedLinkSet
}

func NewRenderer(aliases map[string]string, highlightStyle string, logger *slog.Logger) *Renderer {
	return &Renderer{
		policy:  newPolicy(),
		aliases: newAliasTable(aliases),
		style:   highlightStyle,
		logger:  logger,
	}
}

// RenderMarkdown runs the full pipeline: reference extraction, markdown
// conversion with link authorization and syntax highlighting, then
// sanitization. It never fails; any rendering error or panic degrades to
// the input escaped as a single paragraph.
func (r *Renderer) RenderMarkdown(text string, opts Options) (markup string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("markup rendering failed", "panic", rec)
			markup = fallbackHTML(text)
		}
	}()

	extractor := &refExtractor{aliases: r.aliases}
	rewritten := extractor.Rewrite(text)

	filter := &linkFilter{allowed: opts.AllowedLinks, aliases: r.aliases}
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			renderer.WithNodeRenderers(
				util.Prioritized(&linkNodeRenderer{filter: filter}, 200),
				util.Prioritized(&codeNodeRenderer{style: r.style}, 200),
			),
		),
	)

	var buf bytes.Buffer
	if err := md.Convert([]byte(rewritten), &buf); err != nil {
		r.logger.Error("markup rendering failed", "error", err)
		return fallbackHTML(text)
	}
	return r.Sanitize(buf.String())
}

func fallbackHTML(text string) string {
	return "<p>" + html.EscapeString(text) + "</p>"
}

// linkNodeRenderer replaces goldmark's link and autolink rendering with
// authorization-aware output. Every destination passes through the link
// filter; only explicit outcomes produce anchors.
type linkNodeRenderer struct {
	filter *linkFilter
}

func (r *linkNodeRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindLink, r.renderLink)
	reg.Register(ast.KindAutoLink, r.renderAutoLink)
}

func (r *linkNodeRenderer) renderLink(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*ast.Link)
	auth := r.filter.Authorize(string(n.Destination))

	if !entering {
		if auth.Outcome == LinkExternal {
			_, _ = w.WriteString("</a>")
		}
		return ast.WalkContinue, nil
	}

	switch auth.Outcome {
	case LinkExternal:
		_, _ = w.WriteString(`<a href="` + html.EscapeString(string(n.Destination)) + `">`)
		return ast.WalkContinue, nil
	case LinkActive:
		_, _ = w.WriteString(anchorHTML(auth.Ref))
		return ast.WalkSkipChildren, nil
	case LinkSymbol:
		_, _ = w.WriteString(symbolHTML(auth.Symbol))
		return ast.WalkSkipChildren, nil
	default:
		// Unauthorized: keep the display text, drop the link.
		return ast.WalkContinue, nil
	}
}

func (r *linkNodeRenderer) renderAutoLink(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.AutoLink)
	url := string(n.URL(source))
	label := html.EscapeString(string(n.Label(source)))

	auth := r.filter.Authorize(url)
	switch auth.Outcome {
	case LinkExternal:
		_, _ = w.WriteString(`<a href="` + html.EscapeString(url) + `">` + label + "</a>")
	case LinkActive:
		_, _ = w.WriteString(anchorHTML(auth.Ref))
	case LinkSymbol:
		_, _ = w.WriteString(symbolHTML(auth.Symbol))
	default:
		_, _ = w.WriteString(label)
	}
	return ast.WalkContinue, nil
}

// codeNodeRenderer renders fenced code blocks through chroma with
// class-based styling so the output survives sanitization.
type codeNodeRenderer struct {
	style string
}

func (r *codeNodeRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, r.renderFencedCode)
}

func (r *codeNodeRenderer) renderFencedCode(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.FencedCodeBlock)

	var code bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		code.Write(seg.Value(source))
	}
	lang := string(n.Language(source))

	if err := highlight(w, code.String(), lang, r.style); err != nil {
		_, _ = w.WriteString("<pre><code>" + html.EscapeString(code.String()) + "</code></pre>")
	}
	return ast.WalkContinue, nil
}

func highlight(w util.BufWriter, code, lang, styleName string) error {
	lexer := lexers.Get(lang)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := styles.Get(styleName)
	if style == nil {
		style = styles.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return err
	}
	formatter := chromahtml.New(chromahtml.WithClasses(true))
	return formatter.Format(w, style, iterator)
}
