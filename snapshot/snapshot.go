// Package snapshot processes captured page HTML into the compact,
// truncation-aware form embedded in capture_snapshot results.
package snapshot

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/enact/models"
)

var (
	commentRe    = regexp.MustCompile(`(?s)<!--.*?-->`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Options controls one snapshot's processing.
type Options struct {
	// MaxLength caps the returned content, in characters.
	MaxLength int

	// Clean strips script/style/noscript elements and HTML comments, then
	// collapses runs of whitespace.
	Clean bool

	// Format selects the output rendering: "html" (default), "text"
	// (readability article text), or "markdown".
	Format string

	// Selector optionally scopes the snapshot to the matching elements'
	// outer HTML before any other processing.
	Selector string

	// SourceURL is the page URL, used to resolve relative links in
	// markdown output and to seed readability.
	SourceURL string
}

// Result is a processed snapshot.
type Result struct {
	// Content is the processed output, clipped to MaxLength.
	Content string

	// Truncated reports whether clipping discarded content.
	Truncated bool

	// OriginalLength is the character length of the raw captured HTML,
	// before any processing. Lets the caller judge how much of the page
	// the clipped content represents.
	OriginalLength int
}

// Processor renders snapshots. The markdown converter is created once and
// reused; it is goroutine-safe.
type Processor struct {
	mdConverter *converter.Converter
}

// NewProcessor initialises a Processor with a pre-configured converter.
func NewProcessor() *Processor {
	return &Processor{mdConverter: newMarkdownConverter()}
}

// Process runs scope → clean → format → clip over the raw page HTML.
func (p *Processor) Process(rawHTML string, opts Options) (*Result, error) {
	content := rawHTML

	if opts.Selector != "" {
		scoped, err := Scope(content, opts.Selector)
		if err != nil {
			return nil, models.NewActionError(
				models.ErrCodeInvalidInput,
				"invalid snapshot selector",
				err,
			)
		}
		content = scoped
	}

	if opts.Clean {
		content = clean(content)
	}

	switch opts.Format {
	case "", "html":
		// Processed HTML as-is.
	case "text":
		content = toText(content, opts.SourceURL)
	case "markdown":
		md, err := toMarkdown(p.mdConverter, content, opts.SourceURL)
		if err != nil {
			return nil, models.NewActionError(
				models.ErrCodeInternal,
				"markdown conversion failed",
				err,
			)
		}
		content = md
	default:
		return nil, models.NewActionError(
			models.ErrCodeInvalidInput,
			"unknown snapshot format: '"+opts.Format+"' (supported: html, text, markdown)",
			nil,
		)
	}

	clipped, truncated := models.ClipRunes(content, opts.MaxLength)
	return &Result{
		Content:        clipped,
		Truncated:      truncated,
		OriginalLength: len([]rune(rawHTML)),
	}, nil
}

// clean removes the elements that carry no visible content and collapses
// whitespace. Falls back to the input when the HTML does not parse; a
// snapshot must never fail just because a page's markup is broken.
func clean(rawHTML string) string {
	out := rawHTML

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err == nil {
		doc.Find("script, style, noscript").Remove()
		if h, err := doc.Html(); err == nil {
			out = h
		}
	} else {
		slog.Debug("snapshot: HTML parse failed, cleaning raw text", "error", err)
	}

	out = commentRe.ReplaceAllString(out, "")
	out = whitespaceRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}
