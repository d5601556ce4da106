package ai

import (
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// memoFlags drop raw HTML and non-http link targets. The memo is model
// output grounded in an uploaded deck, so it is untrusted.
const memoFlags = html.CommonFlags | html.HrefTargetBlank | html.SkipHTML | html.Safelink |
	html.NofollowLinks | html.NoreferrerLinks | html.NoopenerLinks

// RenderMemoHTML converts a Markdown memo to HTML
func RenderMemoHTML(md string) string {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse([]byte(md))
	renderer := html.NewRenderer(html.RendererOptions{Flags: memoFlags})
	return string(markdown.Render(doc, renderer))
}
