// Package extract pulls the readable main text out of a fetched HTML page.
//
// The pipeline: raw HTML → parse → locate the main content region (semantic
// landmarks first, text-density scoring as fallback) → sanitize → render as
// markdown-ish plain text. Callers treat it as a single "extract readable
// text" step; classification of fetch outcomes lives with the fetch worker.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrEmptyDocument is returned when the page parses but yields no text.
var ErrEmptyDocument = errors.New("extract: empty document")

// Result is the output of readability extraction.
type Result struct {
	Title    string // page <title> text, if any
	Text     string // readable text (markdown rendering of the content region)
	HTML     string // sanitized HTML of the content region
	CharFrom int    // length of the raw input, for logging ratios
}

// Options controls extraction behaviour.
type Options struct {
	// MinTextLen is the minimum text length for a region to count as
	// content. Default: 50.
	MinTextLen int
}

func (o *Options) defaults() {
	if o.MinTextLen <= 0 {
		o.MinTextLen = 50
	}
}

var sanitizer = bluemonday.UGCPolicy()

var mdConverter = htmlmd.NewConverter(
	htmlmd.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
	),
)

// Readable extracts the main text of an HTML page.
// Returns ErrEmptyDocument when the page has no usable text at all.
func Readable(rawHTML []byte, opts Options) (*Result, error) {
	opts.defaults()

	doc, err := html.Parse(bytes.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("extract: parse HTML: %w", err)
	}

	title := findTitle(doc)

	region := findContentRegion(doc, opts.MinTextLen)
	if region == nil {
		// Last resort: all non-boilerplate body text.
		body := findBody(doc)
		if body == nil {
			body = doc
		}
		text := CleanText(collectCleanText(body))
		if text == "" {
			return nil, ErrEmptyDocument
		}
		return &Result{Title: title, Text: text, CharFrom: len(rawHTML)}, nil
	}

	regionHTML := sanitizer.Sanitize(renderNode(region))
	text := htmlToText(regionHTML, CleanText(collectText(region)))
	if text == "" {
		return nil, ErrEmptyDocument
	}

	return &Result{
		Title:    title,
		Text:     text,
		HTML:     regionHTML,
		CharFrom: len(rawHTML),
	}, nil
}

// htmlToText renders sanitized HTML as markdown text. Falls back to the
// plain collected text when the conversion fails or comes out empty.
func htmlToText(sanitizedHTML, fallback string) string {
	md, err := mdConverter.ConvertString(sanitizedHTML)
	if err != nil || strings.TrimSpace(md) == "" {
		return fallback
	}
	return strings.TrimSpace(md)
}

// findContentRegion picks the main content node: semantic landmarks
// (<main>, <article>) first, density scoring on the body as fallback.
func findContentRegion(doc *html.Node, minLen int) *html.Node {
	for _, tag := range []atom.Atom{atom.Main, atom.Article} {
		for _, n := range findAllByTag(doc, tag) {
			if isBoilerplate(n) {
				continue
			}
			if len(collectText(n)) >= minLen {
				return n
			}
		}
	}

	body := findBody(doc)
	if body == nil {
		body = doc
	}
	return findDensestNode(body, minLen)
}

// findTitle extracts the page <title> text.
func findTitle(doc *html.Node) string {
	var title string
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Title {
			if n.FirstChild != nil {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(doc)
	return title
}

// renderNode serialises an HTML node subtree back to a string.
func renderNode(n *html.Node) string {
	var buf bytes.Buffer
	html.Render(&buf, n)
	return buf.String()
}

// collectText extracts all visible text from a node subtree.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}

// collectCleanText extracts text excluding boilerplate regions.
func collectCleanText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if isBoilerplate(n) {
				return
			}
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}

// findBody returns the <body> element from a parsed document.
func findBody(doc *html.Node) *html.Node {
	var body *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			body = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return body
}

// findAllByTag finds all elements with a specific tag.
func findAllByTag(root *html.Node, tag atom.Atom) []*html.Node {
	var results []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == tag {
			results = append(results, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results
}
