package snapshot

import (
	"log/slog"
	nurl "net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// minArticleLength is the minimum readability TextContent length (in
// characters) for the extraction to be considered valid. Below it we assume
// the algorithm missed the main content and fall back to plain DOM text.
const minArticleLength = 50

// newMarkdownConverter creates a reusable, goroutine-safe Converter:
//
//   - base plugin: strips script, style, iframe, noscript, head, meta, link,
//     input, textarea, HTML comments.
//   - commonmark plugin: standard Markdown rendering.
//   - table plugin: preserves table structure with minimal cell padding.
func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(
				table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
			),
		),
	)
}

// toMarkdown converts HTML to Markdown. The sourceURL resolves relative
// <a> and <img> URLs into absolute ones so the output is self-contained.
func toMarkdown(conv *converter.Converter, htmlContent, sourceURL string) (string, error) {
	return conv.ConvertString(htmlContent, converter.WithDomain(sourceURL))
}

// toText extracts readable plain text. Readability finds the main article;
// when it fails or extracts almost nothing, the whole DOM's text is used.
func toText(htmlContent, sourceURL string) string {
	if u, err := nurl.Parse(sourceURL); err == nil {
		article, err := readability.FromReader(strings.NewReader(htmlContent), u)
		if err == nil {
			if txt := strings.TrimSpace(article.TextContent); len(txt) >= minArticleLength {
				return txt
			}
		} else {
			slog.Debug("snapshot: readability extraction failed, using DOM text",
				"url", sourceURL, "error", err,
			)
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return htmlContent
	}
	return strings.TrimSpace(doc.Text())
}
