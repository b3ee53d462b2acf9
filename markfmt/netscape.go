package markfmt

import (
	"bytes"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// netscapeDoctype is the literal token that opens both HTML export flavours.
const netscapeDoctype = "<!DOCTYPE NETSCAPE-Bookmark-file-1"

var h3Re = regexp.MustCompile(`(?i)<h3[\s>]`)

// hasNetscapeDoctype reports whether the first non-whitespace bytes are the
// Netscape bookmark doctype.
func hasNetscapeDoctype(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) < len(netscapeDoctype) {
		return false
	}
	return strings.EqualFold(string(trimmed[:len(netscapeDoctype)]), netscapeDoctype)
}

// hasHeadings reports whether the document contains <h3> elements — the
// discriminator between the flat and the tag-grouped flavour.
func hasHeadings(data []byte) bool {
	return h3Re.Match(data)
}

// NetscapeHTML parses the flat Netscape bookmark export: one <dl> of
// <dt><a href add_date tags>title</a> entries with optional <dd> notes.
type NetscapeHTML struct{}

func (*NetscapeHTML) Name() string { return "netscape-html" }

func (*NetscapeHTML) Detect(data []byte) bool {
	return hasNetscapeDoctype(data) && !hasHeadings(data)
}

func (*NetscapeHTML) Parse(data []byte, log *slog.Logger) ([]RawBookmark, error) {
	var entries []RawBookmark
	scanNetscape(data, log, func(e RawBookmark, _ string) {
		entries = append(entries, e)
	})
	return entries, nil
}

// GroupedHTML parses the tag-grouped export: each <h3> is a tag name and
// every link inside the <dl> that follows it carries that tag. A URL that
// appears under several headings yields one entry with the tags unioned,
// never one entry per heading.
type GroupedHTML struct{}

func (*GroupedHTML) Name() string { return "grouped-html" }

func (*GroupedHTML) Detect(data []byte) bool {
	return hasNetscapeDoctype(data) && hasHeadings(data)
}

func (*GroupedHTML) Parse(data []byte, log *slog.Logger) ([]RawBookmark, error) {
	byURL := make(map[string]*RawBookmark)
	var order []string

	scanNetscape(data, log, func(e RawBookmark, heading string) {
		agg, ok := byURL[e.URL]
		if !ok {
			agg = &e
			byURL[e.URL] = agg
			order = append(order, e.URL)
		}
		tags := make(map[string]bool)
		for _, t := range agg.Tags() {
			tags[t] = true
		}
		for _, t := range e.Tags() {
			tags[t] = true
		}
		if heading != "" {
			tags[normaliseTag(heading)] = true
		}
		agg.TagString = joinTagSet(tags)
		if agg.Description == "" {
			agg.Description = e.Description
		}
		if agg.Extended == "" {
			agg.Extended = e.Extended
		}
		if agg.CreatedAt.IsZero() {
			agg.CreatedAt = e.CreatedAt
		}
	})

	entries := make([]RawBookmark, 0, len(order))
	for _, u := range order {
		entries = append(entries, *byURL[u])
	}
	return entries, nil
}

// normaliseTag turns a heading name into a single tag token.
func normaliseTag(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "-")
}

func joinTagSet(set map[string]bool) string {
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return strings.Join(tags, " ")
}

// scanNetscape tokenizes a Netscape-flavoured bookmark file and calls visit
// for every complete link entry. heading is the innermost <h3> text the
// entry sits under, or "" in the flat flavour. Entries without an href are
// skipped and logged.
func scanNetscape(data []byte, log *slog.Logger, visit func(e RawBookmark, heading string)) {
	z := html.NewTokenizer(bytes.NewReader(data))

	var (
		headingStack []string
		pending      string // most recent <h3> text awaiting its <dl>
		inH3         bool
		inDD         bool
		current      *RawBookmark
		currentHead  string
		skipped      int
	)

	topHeading := func() string {
		for i := len(headingStack) - 1; i >= 0; i-- {
			if headingStack[i] != "" {
				return headingStack[i]
			}
		}
		return ""
	}

	flush := func() {
		if current == nil {
			return
		}
		if current.URL == "" {
			skipped++
			log.Warn("markfmt: skipping link without href", "description", current.Description)
		} else {
			visit(*current, currentHead)
		}
		current = nil
		inDD = false
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			flush()
			if skipped > 0 {
				log.Info("markfmt: skipped malformed entries", "count", skipped)
			}
			return

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.H3:
				flush()
				inH3 = true
				pending = ""
			case atom.Dl:
				headingStack = append(headingStack, pending)
				pending = ""
			case atom.Dt:
				flush()
			case atom.Dd:
				inDD = true
			case atom.A:
				flush()
				current = &RawBookmark{}
				currentHead = topHeading()
				for _, a := range tok.Attr {
					switch strings.ToLower(a.Key) {
					case "href":
						current.URL = strings.TrimSpace(a.Val)
					case "add_date":
						current.CreatedAt = parseEpoch(a.Val)
					case "tags":
						current.TagString = strings.Join(
							strings.FieldsFunc(a.Val, func(r rune) bool { return r == ',' || r == ' ' }), " ")
					}
				}
			}

		case html.EndTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.H3:
				inH3 = false
			case atom.Dl:
				flush()
				if len(headingStack) > 0 {
					headingStack = headingStack[:len(headingStack)-1]
				}
			case atom.Dd:
				inDD = false
			}

		case html.TextToken:
			text := strings.TrimSpace(string(z.Text()))
			if text == "" {
				continue
			}
			switch {
			case inH3:
				if pending != "" {
					pending += " "
				}
				pending += text
			case current != nil && inDD:
				if current.Extended != "" {
					current.Extended += " "
				}
				current.Extended += text
			case current != nil:
				if current.Description != "" {
					current.Description += " "
				}
				current.Description += text
			}
		}
	}
}

// parseEpoch parses a unix-seconds timestamp attribute. Returns the zero
// time for anything unparseable.
func parseEpoch(s string) time.Time {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}
