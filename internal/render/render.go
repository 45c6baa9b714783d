// Package render converts rewritten markdown to HTML.
package render

import (
	"bytes"
	"fmt"
	"regexp"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// Options configures the renderer.
type Options struct {
	HighlightStyle string
	LineNumbers    bool
	HardWraps      bool
}

// Renderer wraps a configured goldmark instance. It is safe for concurrent use.
type Renderer struct {
	md goldmark.Markdown
}

// New builds a Renderer. An empty style falls back to "github".
func New(opts Options) *Renderer {
	style := opts.HighlightStyle
	if style == "" {
		style = "github"
	}
	htmlOpts := []renderer.Option{gmhtml.WithUnsafe()}
	if opts.HardWraps {
		htmlOpts = append(htmlOpts, gmhtml.WithHardWraps())
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
			highlighting.NewHighlighting(
				highlighting.WithStyle(style),
				highlighting.WithFormatOptions(
					chromahtml.WithLineNumbers(opts.LineNumbers),
				),
			),
		),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(htmlOpts...),
	)
	return &Renderer{md: md}
}

// Render returns the HTML body for src.
func (r *Renderer) Render(src string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("render: convert: %w", err)
	}
	return buf.String(), nil
}

var (
	mermaidRe     = regexp.MustCompile("(?m)^\\s*(```|~~~)\\s*mermaid\\b")
	infographicRe = regexp.MustCompile("(?m)^\\s*(```|~~~)\\s*infographic\\b")
	mathBlockRe   = regexp.MustCompile(`(?s)\$\$.+?\$\$`)
	mathInlineRe  = regexp.MustCompile(`(^|[^\\$])\$[^\s$][^$\n]*\$`)
)

// Warnings names content the renderer passes through without support.
func Warnings(markdown string) []string {
	var out []string
	if mermaidRe.MatchString(markdown) {
		out = append(out, "mermaid diagrams are rendered as plain code blocks")
	}
	if mathBlockRe.MatchString(markdown) || mathInlineRe.MatchString(markdown) {
		out = append(out, "math formulas are not typeset")
	}
	if infographicRe.MatchString(markdown) {
		out = append(out, "infographic blocks are rendered as plain code blocks")
	}
	return out
}
